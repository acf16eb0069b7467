package nodes

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/hts"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// ReadToRecord serialises reads and corrected reads into output records.
// Records and other kinds pass through.
type ReadToRecord struct {
	format message.Format
	opts   hts.EncodeOptions
	logger *logging.Logger

	encoded atomic.Int64
	errs    atomic.Int64
}

// NewReadToRecord creates an encoder stage for format
func NewReadToRecord(format message.Format, opts hts.EncodeOptions) *ReadToRecord {
	return &ReadToRecord{format: format, opts: opts, logger: logging.NewNop()}
}

func (c *ReadToRecord) Start(rt pipeline.Runtime) error {
	if rt.Logger != nil {
		c.logger = rt.Logger
	}
	return nil
}

func (c *ReadToRecord) Process(msg message.Message, emit pipeline.Emitter) {
	var (
		data []byte
		err  error
	)
	switch m := msg.(type) {
	case *message.Read:
		data, err = hts.EncodeRead(m, c.format, c.opts)
	case *message.CorrectedRead:
		data, err = hts.EncodeCorrected(m, c.format)
	default:
		emit.Emit(msg)
		return
	}

	id := message.ReadID(msg)
	if err != nil {
		c.errs.Add(1)
		c.logger.Error("cannot encode read", logging.ReadID(id), zap.Error(err))
		return
	}
	c.encoded.Add(1)
	emit.Emit(&message.Record{ReadID: id, Format: c.format, Data: data})
}

func (c *ReadToRecord) Stats() map[string]float64 {
	return map[string]float64{
		"records_encoded": float64(c.encoded.Load()),
		"encode_errors":   float64(c.errs.Load()),
	}
}
