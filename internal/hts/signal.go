package hts

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/shared/id"
)

// SignalRecord is one raw read in the JSONL signal format, one object per line.
type SignalRecord struct {
	ReadID     string    `json:"read_id"`
	RunID      string    `json:"run_id,omitempty"`
	Channel    int       `json:"channel,omitempty"`
	StartTime  time.Time `json:"start_time,omitempty"`
	SampleRate float64   `json:"sample_rate,omitempty"`
	Signal     []float32 `json:"signal"`
}

// ToRead converts the record into a pipeline read.
func (s *SignalRecord) ToRead() *message.Read {
	return &message.Read{
		ReadID:     s.ReadID,
		RunID:      s.RunID,
		Channel:    s.Channel,
		StartTime:  s.StartTime,
		SampleRate: s.SampleRate,
		Signal:     s.Signal,
	}
}

// StreamSignals decodes JSONL signal records from r and emits them as reads.
// Blank lines are skipped; a malformed line is an error naming its number.
// Records without a read_id are named from their position in the stream.
func StreamSignals(ctx context.Context, r io.Reader, emit func(*message.Read) error) error {
	return streamSignals(ctx, r, "-", emit)
}

func streamSignals(ctx context.Context, r io.Reader, source string, emit func(*message.Read) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), maxLine)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec SignalRecord
		if err := sonic.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrFormat, lineNo, err)
		}
		if len(rec.Signal) == 0 {
			return fmt.Errorf("%w: line %d: signal is required", ErrFormat, lineNo)
		}
		if rec.ReadID == "" {
			rec.ReadID = id.DeriveReadID(source, strconv.Itoa(lineNo))
		}
		if err := emit(rec.ToRead()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("signal scan: %w", err)
	}
	return nil
}

// StreamSignalsPath opens path (plain or compressed) and streams its reads.
func StreamSignalsPath(ctx context.Context, path string, emit func(*message.Read) error) error {
	rc, err := Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return streamSignals(ctx, rc, path, emit)
}

// EncodeSignal renders a read's raw signal as one JSONL line.
func EncodeSignal(r *message.Read) ([]byte, error) {
	rec := SignalRecord{
		ReadID:     r.ReadID,
		RunID:      r.RunID,
		Channel:    r.Channel,
		StartTime:  r.StartTime,
		SampleRate: r.SampleRate,
		Signal:     r.Signal,
	}
	data, err := sonic.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
