package nodes

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/filter"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// ReadFilter drops reads failing the criteria. Dropped reads are counted
// per reason; they are not forwarded.
type ReadFilter struct {
	criteria filter.Criteria
	logger   *logging.Logger

	passed   atomic.Int64
	filtered atomic.Int64
	errs     atomic.Int64

	mu       sync.Mutex
	byReason map[filter.Reason]int64
}

// NewReadFilter creates a filter stage
func NewReadFilter(criteria filter.Criteria) *ReadFilter {
	return &ReadFilter{
		criteria: criteria,
		logger:   logging.NewNop(),
		byReason: make(map[filter.Reason]int64),
	}
}

func (f *ReadFilter) Start(rt pipeline.Runtime) error {
	if rt.Logger != nil {
		f.logger = rt.Logger
	}
	return nil
}

func (f *ReadFilter) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok {
		emit.Emit(msg)
		return
	}
	reason, err := f.criteria.Check(r)
	if err != nil {
		f.errs.Add(1)
		f.logger.Debug("filter expression failed", logging.ReadID(r.ReadID), zap.Error(err))
	}
	if reason != filter.Pass {
		f.filtered.Add(1)
		f.mu.Lock()
		f.byReason[reason]++
		f.mu.Unlock()
		return
	}
	f.passed.Add(1)
	emit.Emit(r)
}

// Stats reports pass and drop counts, split by reason
func (f *ReadFilter) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_passed":   float64(f.passed.Load()),
		"reads_filtered": float64(f.filtered.Load()),
		"filter_errors":  float64(f.errs.Load()),
	}
	f.mu.Lock()
	for reason, n := range f.byReason {
		stats["filtered_"+string(reason)] = float64(n)
	}
	f.mu.Unlock()
	return stats
}
