package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/correction"
	"github.com/GriffinCanCode/readpipe/internal/hts"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/nodes"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// Correct overlaps every read of input against the others and corrects it
// from its supporting reads. With ToPAF set the overlaps are written
// instead.
func (a *App) Correct(ctx context.Context, input string) (pipeline.NamedStats, error) {
	var reads []hts.Record
	err := hts.StreamFastxPath(ctx, input, func(rec hts.Record) error {
		reads = append(reads, rec)
		a.metrics.RecordRead(monitoring.ReadLoaded)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrConfig, input, err)
	}
	if len(reads) == 0 {
		return nil, fmt.Errorf("%w: %s holds no reads", ErrNoInput, input)
	}

	desc, err := a.correctionChain(reads)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Correcting",
		zap.String("run_id", a.runID.String()),
		zap.Int("reads", len(reads)),
		zap.Bool("to_paf", a.cfg.Correction.ToPAF),
		zap.String("output", a.cfg.Output.Path),
	)

	return a.execute(ctx, desc, func(ctx context.Context, p *pipeline.Pipeline) error {
		for _, rec := range reads {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := rec.ToRead()
			r.RunID = a.runID.String()
			if err := p.PushMessage(r); err != nil {
				a.metrics.RecordRead(monitoring.ReadRejected)
				return err
			}
		}
		return nil
	})
}

// correctionConfig derives the correction stage sizes
func (a *App) correctionConfig() correction.Config {
	c := a.cfg.Correction
	return correction.Config{
		WindowSize:     c.WindowSize,
		MinDepth:       c.MinDepth,
		MaxDepth:       c.MaxDepth,
		MinReadLength:  c.MinReadLength,
		BatchSize:      c.BatchSize,
		BatchTimeout:   c.BatchTimeout,
		FeatureThreads: a.cfg.Pipeline.Threads,
		InferThreads:   c.InferThreads,
		DecodeThreads:  c.DecodeThreads,
		Devices:        a.devices(),
		FeatureQueue:   c.FeatureQueue,
		InferredQueue:  c.InferredQueue,
		PoolSlots:      c.PoolSlots,
	}
}

// correctionChain builds, leaves first:
// mapper → paf writer, or mapper → correction → record → writer
func (a *App) correctionChain(reads []hts.Record) (*pipeline.Descriptor, error) {
	c := a.cfg.Correction
	threads := a.cfg.Pipeline.Threads
	desc := pipeline.NewDescriptor()

	mapper, err := nodes.NewCorrectionMapper(reads, c.KmerSize, align.OverlapOptions{
		Options:     align.DefaultOptions(),
		MinOverlap:  c.MinOverlap,
		MaxOverlaps: c.MaxDepth - 1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var last pipeline.NodeHandle
	if c.ToPAF {
		if last, err = a.add(desc, "paf_writer", nodes.NewPafWriter(a.opener()), 1); err != nil {
			return nil, err
		}
	} else {
		if last, err = a.add(desc, "writer", nodes.NewWriter(a.opener(), nil), 1); err != nil {
			return nil, err
		}
		if last, err = a.add(desc, "read_to_record", nodes.NewReadToRecord(a.format(), hts.EncodeOptions{}), threads, last); err != nil {
			return nil, err
		}

		corrector, err := a.corrector()
		if err != nil {
			return nil, err
		}
		last, err = a.correctionNode(desc, corrector, last)
		if err != nil {
			return nil, err
		}
	}

	if _, err = a.add(desc, "correction_mapper", mapper, threads, last); err != nil {
		return nil, err
	}
	return desc, nil
}

func (a *App) correctionNode(desc *pipeline.Descriptor, corrector model.Corrector, sink pipeline.NodeHandle) (pipeline.NodeHandle, error) {
	n, err := correction.NewNode("correction", a.correctionConfig(), corrector, correction.WithLocks(a.locks))
	if err != nil {
		return pipeline.InvalidHandle, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return desc.AddNode(n, sink), nil
}
