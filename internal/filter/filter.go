package filter

import (
	"github.com/GriffinCanCode/readpipe/internal/message"
)

// Reason names why a read was rejected.
type Reason string

const (
	Pass         Reason = ""
	LowQScore    Reason = "qscore"
	TooShort     Reason = "length"
	NotListed    Reason = "read_list"
	Excluded     Reason = "excluded"
	ExprRejected Reason = "expression"
)

// Criteria selects the reads to keep. Zero values disable a check.
type Criteria struct {
	MinQScore float64
	MinLength int
	Include   map[string]struct{} // keep only these ids
	Exclude   map[string]struct{}
	Expr      *Expression
}

// Check returns Pass when r meets every criterion. An expression error is
// returned alongside Pass so that the caller keeps the read and counts it.
func (c *Criteria) Check(r *message.Read) (Reason, error) {
	if c.Include != nil {
		if _, ok := c.Include[r.ReadID]; !ok {
			return NotListed, nil
		}
	}
	if _, ok := c.Exclude[r.ReadID]; ok {
		return Excluded, nil
	}
	if c.MinLength > 0 && len(r.Seq) < c.MinLength {
		return TooShort, nil
	}
	if c.MinQScore > 0 && r.MeanQScore() < c.MinQScore {
		return LowQScore, nil
	}
	if c.Expr != nil {
		ok, err := c.Expr.Eval(NewView(r))
		if err != nil {
			return Pass, err
		}
		if !ok {
			return ExprRejected, nil
		}
	}
	return Pass, nil
}

// NewView projects a read into the fields visible to expressions.
func NewView(r *message.Read) View {
	v := View{
		ID:         r.ReadID,
		Length:     len(r.Seq),
		QScore:     r.MeanQScore(),
		Channel:    r.Channel,
		RunID:      r.RunID,
		Barcode:    r.Barcode,
		PolyTail:   r.PolyTailLength,
		DurationMS: float64(r.BasecallDuration.Microseconds()) / 1000,
	}
	if len(r.Alignments) > 0 {
		v.Mapped = true
		v.RefName = r.Alignments[0].RefName
		v.MapQ = r.Alignments[0].MapQ
	}
	return v
}
