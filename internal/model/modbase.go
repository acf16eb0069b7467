package model

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

const canonicalBases = "ACGT"

// MotifModCaller marks one position of a sequence motif as possibly
// modified, with a probability derived from the signal under that base.
type MotifModCaller struct {
	motif  string
	offset int
	code   byte
	model  string
}

// NewMotifModCaller creates a caller for motif, modifying the base at offset
// and reporting it as channel code, e.g. ("CG", 0, 'm') for 5mC in CpG.
func NewMotifModCaller(model, motif string, offset int, code byte) (*MotifModCaller, error) {
	motif = strings.ToUpper(motif)
	if motif == "" || offset < 0 || offset >= len(motif) {
		return nil, fmt.Errorf("modbase model %s: invalid motif %q offset %d", model, motif, offset)
	}
	if strings.IndexByte(canonicalBases, motif[offset]) < 0 {
		return nil, fmt.Errorf("modbase model %s: motif base %q is not canonical", model, motif[offset])
	}
	return &MotifModCaller{motif: motif, offset: offset, code: code, model: model}, nil
}

// Info describes the probability channels
func (m *MotifModCaller) Info() message.ModBaseInfo {
	return message.ModBaseInfo{
		Alphabet: canonicalBases + string(m.code),
		Motif:    fmt.Sprintf("%s:%d", m.motif, m.offset),
		Model:    m.model,
	}
}

// CallMods scores every motif hit in each read
func (m *MotifModCaller) CallMods(ctx context.Context, batch []ModBaseInput) ([][]uint8, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]uint8, len(batch))
	for i, in := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.call(in)
	}
	return out, nil
}

func (m *MotifModCaller) call(in ModBaseInput) []uint8 {
	channels := len(canonicalBases) + 1
	probs := make([]uint8, len(in.Seq)*channels)
	spans := message.BaseSpans(in.Moves, in.Stride, len(in.Signal))

	for i := 0; i < len(in.Seq); i++ {
		row := probs[i*channels : (i+1)*channels]
		canon := strings.IndexByte(canonicalBases, upper(in.Seq[i]))
		if canon < 0 {
			continue
		}
		if !m.hit(in.Seq, i) || i >= len(spans) {
			row[canon] = 255
			continue
		}
		span := spans[i]
		p := sigmoid(2 * mean(in.Signal[span.Start:span.End]))
		mod := uint8(math.Round(255 * p))
		row[canon] = 255 - mod
		row[channels-1] = mod
	}
	return probs
}

func (m *MotifModCaller) hit(seq string, i int) bool {
	start := i - m.offset
	if start < 0 || start+len(m.motif) > len(seq) {
		return false
	}
	for j := 0; j < len(m.motif); j++ {
		if upper(seq[start+j]) != m.motif[j] {
			return false
		}
	}
	return true
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
