package model

import (
	"context"
	"fmt"
)

// MajorityCorrector predicts each column as the confidence-weighted majority
// of the pileup. Ties keep the target base.
type MajorityCorrector struct{}

// NewMajorityCorrector returns the local corrector
func NewMajorityCorrector() *MajorityCorrector {
	return &MajorityCorrector{}
}

// Infer predicts every window of the batch
func (MajorityCorrector) Infer(ctx context.Context, batch []Features) ([]Prediction, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]Prediction, len(batch))
	for i, f := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Rows <= 0 || f.Cols <= 0 || len(f.Bases) < f.Rows*f.Cols || len(f.Quals) < f.Rows*f.Cols {
			return nil, fmt.Errorf("window %d: malformed features %dx%d", i, f.Rows, f.Cols)
		}
		out[i] = vote(f)
	}
	return out, nil
}

func vote(f Features) Prediction {
	p := Prediction{
		Bases: make([]int32, f.Cols),
		Probs: make([]float32, f.Cols),
	}
	var weights [NumBaseCodes]float32
	for c := 0; c < f.Cols; c++ {
		weights = [NumBaseCodes]float32{}
		var total float32
		for r := 0; r < f.Rows; r++ {
			b, q := f.At(r, c)
			if b <= BasePad || b >= BaseN {
				continue
			}
			weights[b] += q
			total += q
		}

		// unsupported columns keep the target base, N when it has none
		best, _ := f.At(0, c)
		if best <= BasePad || best >= NumBaseCodes {
			best = BaseN
		}
		for code := BaseA; code < BaseN; code++ {
			if weights[code] > weights[best] {
				best = code
			}
		}
		p.Bases[c] = best
		if total > 0 {
			p.Probs[c] = weights[best] / total
		}
	}
	return p
}
