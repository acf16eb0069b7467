package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
)

// Version is set at build time
var Version = "dev"

const usage = `usage: readpipe <command> [flags] <inputs...>

commands:
  basecall   basecall raw signal (JSONL) or re-process FASTA/FASTQ reads
  correct    correct the reads of one FASTA/FASTQ file against each other
  version    print the version

Run "readpipe <command> -h" for the flags of a command.
`

// stringList is a comma separated flag value
type stringList struct{ dst *[]string }

func (s stringList) String() string {
	if s.dst == nil {
		return ""
	}
	return strings.Join(*s.dst, ",")
}

func (s stringList) Set(v string) error {
	*s.dst = nil
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s.dst = append(*s.dst, part)
		}
	}
	return nil
}

// bindCommon registers the flags shared by every command onto cfg
func bindCommon(fs *flag.FlagSet, cfg *config.Config) {
	fs.IntVar(&cfg.Pipeline.Threads, "threads", cfg.Pipeline.Threads, "worker threads per stage")
	fs.IntVar(&cfg.Pipeline.QueueCapacity, "queue", cfg.Pipeline.QueueCapacity, "input queue capacity per stage")
	fs.StringVar(&cfg.Pipeline.Device, "device", cfg.Pipeline.Device, `accelerators: "cpu", "cuda:all" or "cuda:0,1"`)
	fs.StringVar(&cfg.Output.Path, "output", cfg.Output.Path, `output file, "-" for stdout`)
	fs.StringVar(&cfg.Output.Format, "format", cfg.Output.Format, "output format: fastq, fasta, sam or jsonl")
	fs.StringVar(&cfg.Output.Compression, "compression", cfg.Output.Compression, "output compression: none, gzip or zstd")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "debug, info, warn or error")
	fs.BoolVar(&cfg.Logging.Development, "log-dev", cfg.Logging.Development, "human readable logs")
	fs.StringVar(&cfg.Server.Addr, "status-addr", cfg.Server.Addr, "serve run status on this address")
	fs.DurationVar(&cfg.Server.StreamInterval, "status-interval", cfg.Server.StreamInterval, "status stream push interval")
	fs.Var(stringList{&cfg.Server.Origins}, "status-origins", "comma separated origins allowed to read run status")
	fs.StringVar(&cfg.Model.URL, "model-url", cfg.Model.URL, "remote model service; local models when empty")
	fs.DurationVar(&cfg.Model.Timeout, "model-timeout", cfg.Model.Timeout, "remote model call timeout")
}

func bindBasecall(fs *flag.FlagSet, cfg *config.Config) {
	b := &cfg.Basecall
	fs.BoolVar(&cfg.Pipeline.Recursive, "recursive", cfg.Pipeline.Recursive, "search input directories recursively")
	fs.StringVar(&cfg.Pipeline.Glob, "glob", cfg.Pipeline.Glob, "only load directory entries matching this pattern")
	fs.StringVar(&b.Model, "model", b.Model, "basecall model")
	fs.IntVar(&b.Stride, "stride", b.Stride, "local model stride in samples")
	fs.IntVar(&b.ChunkSize, "chunk-size", b.ChunkSize, "signal samples per chunk")
	fs.IntVar(&b.Overlap, "overlap", b.Overlap, "samples shared by neighbouring chunks")
	fs.IntVar(&b.BatchSize, "batch-size", b.BatchSize, "chunks per model call")
	fs.DurationVar(&b.BatchTimeout, "batch-timeout", b.BatchTimeout, "longest wait for a full batch")
	fs.StringVar(&b.ModBaseModel, "modified-bases", b.ModBaseModel, "modified base model")
	fs.StringVar(&b.ModBaseMotif, "modified-bases-motif", b.ModBaseMotif, "motif of the local modified base model")
	fs.Float64Var(&b.MinQScore, "min-qscore", b.MinQScore, "drop reads below this mean quality")
	fs.IntVar(&b.MinLength, "min-length", b.MinLength, "drop reads shorter than this")
	fs.StringVar(&b.ReadIDsFile, "read-ids", b.ReadIDsFile, "only load the read ids listed in this file")
	fs.StringVar(&b.ExcludeIDs, "exclude-read-ids", b.ExcludeIDs, "drop the read ids listed in this file")
	fs.StringVar(&b.FilterExpr, "filter", b.FilterExpr, `keep reads matching this expression, e.g. "read.length > 500"`)
	fs.BoolVar(&b.RNA, "rna", b.RNA, "reads are direct RNA")
	fs.StringVar(&b.Reference, "reference", b.Reference, "align reads to this FASTA reference")
	fs.StringVar(&cfg.Barcode.Kit, "kit-name", cfg.Barcode.Kit, "classify barcodes of this kit")
	fs.StringVar(&cfg.Barcode.KitFile, "barcode-arrangement", cfg.Barcode.KitFile, "YAML file of custom kits")
	fs.BoolVar(&cfg.Barcode.BothEnds, "barcode-both-ends", cfg.Barcode.BothEnds, "require the barcode at both ends")
	fs.BoolVar(&cfg.Barcode.NoTrim, "no-trim", cfg.Barcode.NoTrim, "classify barcodes without trimming them")
	fs.Var(stringList{&cfg.Barcode.Allowed}, "barcodes", "comma separated barcodes to keep")
	fs.BoolVar(&cfg.PolyTail.Enabled, "estimate-poly-a", cfg.PolyTail.Enabled, "estimate poly(A)/poly(T) tail lengths")
	fs.StringVar(&cfg.PolyTail.ConfigFile, "poly-a-config", cfg.PolyTail.ConfigFile, "TOML poly tail configuration")
	fs.BoolVar(&cfg.Output.EmitMoves, "emit-moves", cfg.Output.EmitMoves, "write move tables")
}

func bindCorrect(fs *flag.FlagSet, cfg *config.Config) {
	c := &cfg.Correction
	fs.IntVar(&c.WindowSize, "window-size", c.WindowSize, "bases per correction window")
	fs.IntVar(&c.MinDepth, "min-depth", c.MinDepth, "supporting reads a window needs")
	fs.IntVar(&c.MaxDepth, "max-depth", c.MaxDepth, "pileup rows per window including the target")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "windows per model call")
	fs.IntVar(&c.InferThreads, "infer-threads", c.InferThreads, "inference workers per device")
	fs.IntVar(&c.KmerSize, "kmer-size", c.KmerSize, "overlap seed length")
	fs.IntVar(&c.MinOverlap, "min-overlap", c.MinOverlap, "bases two reads must share")
	fs.BoolVar(&c.ToPAF, "to-paf", c.ToPAF, "write overlaps as PAF instead of correcting")
}

// parse loads the environment, binds flags over it and, if -config names a
// file, overlays the file beneath flags given explicitly
func parse(name string, args []string, stderr io.Writer, bind func(*flag.FlagSet, *config.Config)) (*config.Config, []string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "TOML or YAML configuration file")
	bindCommon(fs, cfg)
	bind(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if *path != "" {
		set := map[string]string{}
		fs.Visit(func(f *flag.Flag) {
			if f.Name != "config" {
				set[f.Name] = f.Value.String()
			}
		})
		fileCfg, err := config.LoadFile(*path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		*cfg = *fileCfg
		for k, v := range set {
			if err := fs.Set(k, v); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrConfig, err)
			}
		}
	}
	return cfg, fs.Args(), nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Development = cfg.Logging.Development
	return logging.New(lc)
}

// Main runs the command named by args[0] and returns the process exit code
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return ExitConfig
	}

	var bind func(*flag.FlagSet, *config.Config)
	switch args[0] {
	case "basecall":
		bind = bindBasecall
	case "correct":
		bind = bindCorrect
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "readpipe %s\n", Version)
		return ExitOK
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return ExitOK
	default:
		fmt.Fprintf(stderr, "readpipe: unknown command %q\n\n%s", args[0], usage)
		return ExitConfig
	}

	cfg, inputs, err := parse(args[0], args[1:], stderr, bind)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		fmt.Fprintf(stderr, "readpipe: %v\n", err)
		return ExitConfig
	}
	if len(inputs) == 0 {
		fmt.Fprintf(stderr, "readpipe %s: no inputs given\n", args[0])
		return ExitConfig
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "readpipe: %v\n", err)
		return ExitConfig
	}
	defer func() { _ = logger.Sync() }()

	err = run(ctx, args, cfg, inputs, logger)
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
	}
	return ExitCode(err)
}

func run(ctx context.Context, args []string, cfg *config.Config, inputs []string, logger *logging.Logger) error {
	a, err := New(cfg, WithLogger(logger), WithCommandLine("readpipe "+strings.Join(args, " ")))
	if err != nil {
		return err
	}

	start := time.Now()
	switch args[0] {
	case "correct":
		if len(inputs) != 1 {
			return fmt.Errorf("%w: correct takes exactly one reads file", ErrConfig)
		}
		_, err = a.Correct(ctx, inputs[0])
	default:
		_, err = a.Basecall(ctx, inputs)
	}
	if err == nil {
		logger.Info("Done", zap.String("run_id", a.RunID().String()), logging.Elapsed(time.Since(start)))
	}
	return err
}
