package message

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Interval is a half-open [Start, End) range of base positions
type Interval struct {
	Start int
	End   int
}

// Len returns the number of positions covered
func (i Interval) Len() int {
	if i.End < i.Start {
		return 0
	}
	return i.End - i.Start
}

// ModBaseInfo describes the channels of a mod-base probability table
type ModBaseInfo struct {
	Alphabet string // one channel per symbol, canonical bases first
	Motif    string
	Model    string
}

// BarcodeResult is the outcome of barcode classification
type BarcodeResult struct {
	Kit              string
	Barcode          string
	Score            float64
	TopFlankScore    float64
	BottomFlankScore float64
	TopPos           Interval
	BottomPos        Interval
	UseTop           bool
	DoubleEnds       bool
}

// Alignment is a reference placement of a read
type Alignment struct {
	RefName   string
	RefStart  int
	RefEnd    int
	Reverse   bool
	MapQ      int
	Cigar     string
	Matches   int
	EditCount int
}

// Read is a single sequencing read moving through the basecall chain
type Read struct {
	ReadID     string
	RunID      string
	ReadGroup  string
	Channel    int
	StartTime  time.Time
	SampleRate float64

	Signal []float32 // raw, then scaled in place

	Shift             float32
	Scale             float32
	NumTrimmedSamples int
	ModelStride       int
	Moves             []uint8
	Seq               string
	Qual              string // phred+33
	ModBaseInfo       *ModBaseInfo
	ModBaseProbs      []uint8
	PreTrimSeqLength  int
	Barcode           string
	BarcodeResult     *BarcodeResult
	BarcodeTrim       Interval
	PolyTailLength    int
	IsRNA             bool
	Alignments        []Alignment
	CalledBy          string
	BasecallDuration  time.Duration
}

func (*Read) Kind() Kind { return KindRead }
func (*Read) sealed()    {}

// MeanQScore returns the mean per-base quality, ignoring the first 60 bases
// when the read is long enough to have them.
func (r *Read) MeanQScore() float64 {
	qual := r.Qual
	const skip = 60
	if len(qual) > skip {
		qual = qual[skip:]
	}
	if len(qual) == 0 {
		return 0
	}
	scores := make([]float64, len(qual))
	for i := 0; i < len(qual); i++ {
		scores[i] = float64(PhredToErrorProb(qual[i]))
	}
	return ErrorProbToPhred(stat.Mean(scores, nil))
}

// SeqLen returns the number of called bases
func (r *Read) SeqLen() int {
	return len(r.Seq)
}
