package filter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

var (
	ErrCompile = errors.New("filter expression does not compile")
	ErrEval    = errors.New("filter expression failed")
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 50 * time.Millisecond

// View is the read as seen by an expression, bound to the name "read".
type View struct {
	ID         string  `json:"id"`
	Length     int     `json:"length"`
	QScore     float64 `json:"qscore"`
	Channel    int     `json:"channel"`
	RunID      string  `json:"run_id"`
	Barcode    string  `json:"barcode"`
	PolyTail   int     `json:"poly_tail"`
	Mapped     bool    `json:"mapped"`
	RefName    string  `json:"ref_name"`
	MapQ       int     `json:"mapq"`
	DurationMS float64 `json:"duration_ms"`
}

// Expression is a compiled JavaScript predicate. Evaluation is safe for
// concurrent use; each caller borrows its own VM.
type Expression struct {
	src     string
	prog    *goja.Program
	timeout time.Duration
	vms     sync.Pool
}

type vm struct {
	rt   *goja.Runtime
	pred goja.Callable
}

// Compile parses src, a boolean JavaScript expression over read, e.g.
// "read.length > 500 && read.qscore >= 9".
func Compile(src string, timeout time.Duration) (*Expression, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	prog, err := goja.Compile("filter", "(function(read) { return ("+src+"); })", true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	e := &Expression{src: src, prog: prog, timeout: timeout}
	// surface runtime setup problems at compile time
	v, err := e.newVM()
	if err != nil {
		return nil, err
	}
	e.vms.Put(v)
	return e, nil
}

func (e *Expression) newVM() (*vm, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	rt.Set("require", goja.Undefined())
	rt.Set("process", goja.Undefined())

	val, err := rt.RunProgram(e.prog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	pred, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("%w: not a function", ErrCompile)
	}
	return &vm{rt: rt, pred: pred}, nil
}

// String returns the source expression.
func (e *Expression) String() string { return e.src }

// Eval runs the predicate against v.
func (e *Expression) Eval(v View) (bool, error) {
	m, _ := e.vms.Get().(*vm)
	if m == nil {
		var err error
		if m, err = e.newVM(); err != nil {
			return false, err
		}
	}

	timer := time.AfterFunc(e.timeout, func() { m.rt.Interrupt("filter timeout") })
	res, err := m.pred(goja.Undefined(), m.rt.ToValue(v))
	// a VM whose timer already fired may still receive the interrupt
	if timer.Stop() {
		m.rt.ClearInterrupt()
		e.vms.Put(m)
	}

	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEval, err)
	}
	return res.ToBoolean(), nil
}
