package model

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

var (
	ErrArityMismatch = errors.New("model returned a different number of results than inputs")
	ErrEmptyInput    = errors.New("empty model input")
	ErrRemoteStatus  = errors.New("model service returned an error status")
)

// Basecaller turns chunks of scaled signal into bases. Results are returned
// in input order, one per chunk.
type Basecaller interface {
	Name() string
	// Stride is the number of signal samples per move table entry
	Stride() int
	Call(ctx context.Context, chunks [][]float32) ([]CallResult, error)
}

// CallResult is the basecall of one chunk. Moves has one entry per stride
// block and Seq has one base per set move.
type CallResult struct {
	Seq   string  `json:"seq"`
	Qual  string  `json:"qual"`
	Moves []uint8 `json:"moves"`
}

// ModBaseCaller estimates base modification probabilities for called reads
type ModBaseCaller interface {
	Info() message.ModBaseInfo
	// CallMods returns, per input, len(Seq)*len(Info().Alphabet) probabilities
	// scaled to 0..255.
	CallMods(ctx context.Context, batch []ModBaseInput) ([][]uint8, error)
}

// ModBaseInput is one read presented to a ModBaseCaller
type ModBaseInput struct {
	Seq    string    `json:"seq"`
	Signal []float32 `json:"signal"`
	Moves  []uint8   `json:"moves"`
	Stride int       `json:"stride"`
}

// Corrector predicts a consensus base per column of a correction window
type Corrector interface {
	Infer(ctx context.Context, batch []Features) ([]Prediction, error)
}

// Features is a pileup of Rows reads over Cols target columns in row-major
// order. Row 0 is the target read.
type Features struct {
	Bases []int32   `json:"bases"`
	Quals []float32 `json:"quals"`
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols"`
}

// At returns the base code and confidence at row r, column c
func (f Features) At(r, c int) (int32, float32) {
	i := r*f.Cols + c
	return f.Bases[i], f.Quals[i]
}

// Prediction is the corrected base code and its probability per column
type Prediction struct {
	Bases []int32   `json:"bases"`
	Probs []float32 `json:"probs"`
}

// Base codes used in correction features
const (
	BasePad int32 = iota // no coverage
	BaseA
	BaseC
	BaseG
	BaseT
	BaseGap // deletion relative to the target
	BaseN   // ambiguous or unknown base
	NumBaseCodes
)

// EncodeBase maps a nucleotide to its feature code
func EncodeBase(b byte) int32 {
	switch b {
	case 'A', 'a':
		return BaseA
	case 'C', 'c':
		return BaseC
	case 'G', 'g':
		return BaseG
	case 'T', 't', 'U', 'u':
		return BaseT
	case '*', '-':
		return BaseGap
	default:
		return BaseN
	}
}

// DecodeBase maps a feature code back to a nucleotide. Gaps decode to 0 and
// must be skipped by the caller; any other code without a nucleotide,
// including pad, decodes to 'N' so no column is lost.
func DecodeBase(code int32) byte {
	switch code {
	case BaseA:
		return 'A'
	case BaseC:
		return 'C'
	case BaseG:
		return 'G'
	case BaseT:
		return 'T'
	case BaseGap:
		return 0
	default:
		return 'N'
	}
}
