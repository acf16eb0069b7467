package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/barcode"
	"github.com/GriffinCanCode/readpipe/internal/filter"
	"github.com/GriffinCanCode/readpipe/internal/hts"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/nodes"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
	"github.com/GriffinCanCode/readpipe/internal/polytail"
	"github.com/GriffinCanCode/readpipe/internal/shared/id"
)

// Basecall runs the basecall chain over every read found under inputs and
// returns the final stage stats
func (a *App) Basecall(ctx context.Context, inputs []string) (pipeline.NamedStats, error) {
	b := a.cfg.Basecall
	files, err := hts.Discover(ctx, inputs, hts.DiscoverOptions{
		Recursive: a.cfg.Pipeline.Recursive,
		Pattern:   a.cfg.Pipeline.Glob,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInput, strings.Join(inputs, ", "))
	}

	var include map[string]struct{}
	if b.ReadIDsFile != "" {
		if include, err = hts.LoadReadList(b.ReadIDsFile); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	caller, err := a.basecaller()
	if err != nil {
		return nil, err
	}
	mods, err := a.modBaseCaller()
	if err != nil {
		return nil, err
	}
	desc, err := a.basecallChain(caller, mods)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Basecalling",
		zap.String("run_id", a.runID.String()),
		zap.String("model", caller.Name()),
		zap.Int("files", len(files)),
		zap.String("output", a.cfg.Output.Path),
	)

	stamp := readStamp{
		run:     a.runID.String(),
		group:   id.ReadGroup(a.runID, caller.Name()),
		rna:     b.RNA,
		include: include,
	}
	return a.execute(ctx, desc, func(ctx context.Context, p *pipeline.Pipeline) error {
		for _, path := range files {
			if err := a.loadFile(ctx, p, path, stamp); err != nil {
				return err
			}
		}
		return nil
	})
}

// readStamp carries the per-run fields set on every loaded read
type readStamp struct {
	run     string
	group   string
	rna     bool
	include map[string]struct{}
}

type inputKind int

const (
	inputUnknown inputKind = iota
	inputSignal
	inputFastx
)

// classifyInput picks a reader by extension, ignoring compression suffixes.
// Stdin carries signal records.
func classifyInput(path string) inputKind {
	if path == "-" {
		return inputSignal
	}
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range []string{".gz", ".zst", ".zstd"} {
		name = strings.TrimSuffix(name, ext)
	}
	switch filepath.Ext(name) {
	case ".jsonl", ".ndjson", ".json":
		return inputSignal
	case ".fa", ".fasta", ".fna", ".fq", ".fastq":
		return inputFastx
	}
	return inputUnknown
}

func (a *App) loadFile(ctx context.Context, p *pipeline.Pipeline, path string, stamp readStamp) error {
	push := func(r *message.Read) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stamp.include != nil {
			if _, ok := stamp.include[r.ReadID]; !ok {
				a.metrics.RecordRead(monitoring.ReadSkipped)
				return nil
			}
		}
		if r.RunID == "" {
			r.RunID = stamp.run
		}
		r.ReadGroup = stamp.group
		r.IsRNA = stamp.rna
		if err := p.PushMessage(r); err != nil {
			a.metrics.RecordRead(monitoring.ReadRejected)
			return err
		}
		a.metrics.RecordRead(monitoring.ReadLoaded)
		return nil
	}

	var err error
	switch classifyInput(path) {
	case inputSignal:
		err = hts.StreamSignalsPath(ctx, path, push)
	case inputFastx:
		err = hts.StreamFastxPath(ctx, path, func(rec hts.Record) error {
			return push(rec.ToRead())
		})
	default:
		a.logger.Warn("Skipping input of unknown type", zap.String("path", path))
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	a.logger.Debug("Loaded input", zap.String("path", path))
	return nil
}

// basecallChain builds, leaves first:
// scaler → basecaller → [modbase] → filter → [poly tail] → [barcode] → [aligner] → record → writer
func (a *App) basecallChain(caller model.Basecaller, mods model.ModBaseCaller) (*pipeline.Descriptor, error) {
	b := a.cfg.Basecall
	threads := a.cfg.Pipeline.Threads
	format := a.format()
	devices := a.devices()
	desc := pipeline.NewDescriptor()

	var contigs []hts.Contig
	if b.Reference != "" {
		var err error
		if contigs, err = hts.LoadReference(b.Reference); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	var header []byte
	if format == message.FormatSAM {
		header = hts.SAMHeader(contigs, "readpipe", a.command)
	}
	last, err := a.add(desc, "writer", nodes.NewWriter(a.opener(), header), 1)
	if err != nil {
		return nil, err
	}
	if last, err = a.add(desc, "read_to_record", nodes.NewReadToRecord(format, hts.EncodeOptions{EmitMoves: a.cfg.Output.EmitMoves}), threads, last); err != nil {
		return nil, err
	}

	if len(contigs) > 0 {
		targets := make([]align.Target, len(contigs))
		for i, c := range contigs {
			targets[i] = align.Target{Name: c.Name, Seq: c.Seq}
		}
		idx, err := align.NewIndex(targets, b.AlignKmer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if last, err = a.add(desc, "aligner", nodes.NewAligner(idx, align.DefaultOptions()), threads, last); err != nil {
			return nil, err
		}
	}

	if a.cfg.Barcode.Kit != "" {
		proc, err := a.barcodeClassifier()
		if err != nil {
			return nil, err
		}
		if last, err = a.add(desc, "barcode_classifier", proc, threads, last); err != nil {
			return nil, err
		}
	}

	if a.cfg.PolyTail.Enabled {
		pcfg := polytail.DefaultConfig()
		if a.cfg.PolyTail.ConfigFile != "" {
			if pcfg, err = polytail.LoadConfig(a.cfg.PolyTail.ConfigFile); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfig, err)
			}
		}
		if last, err = a.add(desc, "poly_tail", nodes.NewPolyTail(pcfg, b.RNA), threads, last); err != nil {
			return nil, err
		}
	}

	criteria, err := a.criteria()
	if err != nil {
		return nil, err
	}
	if last, err = a.add(desc, "read_filter", nodes.NewReadFilter(criteria), threads, last); err != nil {
		return nil, err
	}

	if mods != nil {
		proc, err := nodes.NewModBaseCaller(mods, nodes.ModBaseOptions{
			BatchSize:    b.BatchSize,
			BatchTimeout: b.BatchTimeout,
			Devices:      devices,
			Locks:        a.locks,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if last, err = a.add(desc, "modbase_caller", proc, 1, last); err != nil {
			return nil, err
		}
	}

	bc, err := nodes.NewBasecaller(caller, nodes.BasecallerOptions{
		ChunkSize:    b.ChunkSize,
		Overlap:      b.Overlap,
		BatchSize:    b.BatchSize,
		BatchTimeout: b.BatchTimeout,
		Devices:      devices,
		Locks:        a.locks,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if last, err = a.add(desc, "basecaller", bc, 2, last); err != nil {
		return nil, err
	}

	if _, err = a.add(desc, "scaler", nodes.NewScaler(nodes.DefaultTrimOptions()), threads, last); err != nil {
		return nil, err
	}
	return desc, nil
}

func (a *App) add(desc *pipeline.Descriptor, name string, proc pipeline.Processor, threads int, sinks ...pipeline.NodeHandle) (pipeline.NodeHandle, error) {
	n, err := a.node(name, proc, threads)
	if err != nil {
		return pipeline.InvalidHandle, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return desc.AddNode(n, sinks...), nil
}

func (a *App) opener() nodes.Opener {
	return nodes.FileOpener(a.cfg.Output.Path, hts.Compression(a.cfg.Output.Compression))
}

func (a *App) criteria() (filter.Criteria, error) {
	b := a.cfg.Basecall
	c := filter.Criteria{MinQScore: b.MinQScore, MinLength: b.MinLength}
	if b.ExcludeIDs != "" {
		exclude, err := hts.LoadReadList(b.ExcludeIDs)
		if err != nil {
			return c, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		c.Exclude = exclude
	}
	if b.FilterExpr != "" {
		expr, err := filter.Compile(b.FilterExpr, filter.DefaultTimeout)
		if err != nil {
			return c, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		c.Expr = expr
	}
	return c, nil
}

// barcodeClassifier resolves the kit, from the kit file when one is given
func (a *App) barcodeClassifier() (*nodes.BarcodeClassifier, error) {
	bc := a.cfg.Barcode
	var extra []*barcode.Kit
	if bc.KitFile != "" {
		kits, err := barcode.LoadKitFile(bc.KitFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		extra = kits
	}
	registry, err := barcode.NewRegistry(extra...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	kit, err := registry.Get(bc.Kit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	opts := barcode.Options{BothEnds: bc.BothEnds}
	if len(bc.Allowed) > 0 {
		opts.Allowed = make(map[string]struct{}, len(bc.Allowed))
		for _, name := range bc.Allowed {
			opts.Allowed[barcode.StandardName(kit.Name, name)] = struct{}{}
		}
	}
	noTrim := bc.NoTrim || !a.cfg.Basecall.TrimPrimers
	return nodes.NewBarcodeClassifier(kit, opts, noTrim), nil
}
