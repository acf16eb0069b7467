package nodes

import (
	"math"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// madToSigma makes the median absolute deviation a consistent estimate of
// the standard deviation for normally distributed levels.
const madToSigma = 1.4826

// TrimOptions locates the open pore and adapter signal at the start of a
// read. Levels are in scaled units.
type TrimOptions struct {
	Threshold   float32
	Window      int
	MinElements int
	MaxSamples  int
	MinTrim     int
}

// DefaultTrimOptions returns the trimming used for DNA reads
func DefaultTrimOptions() TrimOptions {
	return TrimOptions{
		Threshold:   2.4,
		Window:      40,
		MinElements: 3,
		MaxSamples:  8000,
		MinTrim:     10,
	}
}

// Scaler normalises raw signal to zero median and unit spread, then drops
// the leading samples recorded before the read entered the pore. RNA reads
// are scaled but not trimmed.
type Scaler struct {
	trim TrimOptions

	scaled  atomic.Int64
	skipped atomic.Int64
	trimmed atomic.Int64
}

// NewScaler creates a scaler
func NewScaler(trim TrimOptions) *Scaler {
	return &Scaler{trim: trim}
}

// Process scales reads carrying signal and forwards everything
func (s *Scaler) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok || len(r.Signal) == 0 {
		if ok {
			s.skipped.Add(1)
		}
		emit.Emit(msg)
		return
	}

	r.Shift, r.Scale = MedianMAD(r.Signal)
	for i, v := range r.Signal {
		r.Signal[i] = (v - r.Shift) / r.Scale
	}
	if !r.IsRNA {
		n := TrimStart(r.Signal, s.trim)
		r.Signal = r.Signal[n:]
		r.NumTrimmedSamples += n
		s.trimmed.Add(int64(n))
	}
	s.scaled.Add(1)
	emit.Emit(r)
}

// Stats reports scaling counters
func (s *Scaler) Stats() map[string]float64 {
	return map[string]float64{
		"reads_scaled":    float64(s.scaled.Load()),
		"reads_no_signal": float64(s.skipped.Load()),
		"samples_trimmed": float64(s.trimmed.Load()),
	}
}

// MedianMAD returns the median of signal and its scaled median absolute
// deviation. A flat signal scales by one.
func MedianMAD(signal []float32) (shift, scale float32) {
	xs := make([]float64, len(signal))
	for i, v := range signal {
		xs[i] = float64(v)
	}
	sort.Float64s(xs)
	med := stat.Quantile(0.5, stat.Empirical, xs, nil)

	for i := range xs {
		xs[i] = math.Abs(xs[i] - med)
	}
	sort.Float64s(xs)
	mad := stat.Quantile(0.5, stat.Empirical, xs, nil) * madToSigma
	if mad == 0 {
		mad = 1
	}
	return float32(med), float32(mad)
}

// TrimStart returns the number of leading samples to drop. It looks for the
// first window with enough samples above the threshold, then for the end of
// that high stretch. Without one it trims opts.MinTrim samples.
func TrimStart(signal []float32, opts TrimOptions) int {
	if opts.Window <= 0 || len(signal) < 2*opts.Window {
		return 0
	}
	limit := min(len(signal), opts.MaxSamples)
	seenPeak := false
	for start := 0; start+opts.Window <= limit; start += opts.Window {
		end := start + opts.Window
		high := 0
		for _, v := range signal[start:end] {
			if v > opts.Threshold {
				high++
			}
		}
		if high <= opts.MinElements && !seenPeak {
			continue
		}
		seenPeak = true
		if signal[end-1] > opts.Threshold {
			continue
		}
		return min(end, len(signal))
	}
	return min(opts.MinTrim, len(signal))
}
