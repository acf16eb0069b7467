package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Pipeline   PipelineConfig   `toml:"pipeline" yaml:"pipeline"`
	Basecall   BasecallConfig   `toml:"basecall" yaml:"basecall"`
	Correction CorrectionConfig `toml:"correction" yaml:"correction"`
	Model      ModelConfig      `toml:"model" yaml:"model"`
	Barcode    BarcodeConfig    `toml:"barcode" yaml:"barcode"`
	PolyTail   PolyTailConfig   `toml:"polytail" yaml:"polytail"`
	Output     OutputConfig     `toml:"output" yaml:"output"`
	Logging    LogConfig        `toml:"logging" yaml:"logging"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	RateLimit  RateLimitConfig  `toml:"rate_limit" yaml:"rate_limit"`
}

// PipelineConfig holds settings shared by every stage.
type PipelineConfig struct {
	Threads       int    `envconfig:"READPIPE_THREADS" default:"4" toml:"threads" yaml:"threads"`
	QueueCapacity int    `envconfig:"READPIPE_QUEUE" default:"1000" toml:"queue_capacity" yaml:"queue_capacity"`
	Device        string `envconfig:"READPIPE_DEVICE" default:"cpu" toml:"device" yaml:"device"`
	Recursive     bool   `envconfig:"READPIPE_RECURSIVE" default:"false" toml:"recursive" yaml:"recursive"`
	Glob          string `envconfig:"READPIPE_GLOB" default:"" toml:"glob" yaml:"glob"`
}

// BasecallConfig holds basecall chain configuration.
type BasecallConfig struct {
	Model         string        `envconfig:"BASECALL_MODEL" default:"level@v1" toml:"model" yaml:"model"`
	Stride        int           `envconfig:"BASECALL_STRIDE" default:"5" toml:"stride" yaml:"stride"`
	ChunkSize     int           `envconfig:"BASECALL_CHUNK" default:"4000" toml:"chunk_size" yaml:"chunk_size"`
	Overlap       int           `envconfig:"BASECALL_OVERLAP" default:"500" toml:"overlap" yaml:"overlap"`
	BatchSize     int           `envconfig:"BASECALL_BATCH" default:"64" toml:"batch_size" yaml:"batch_size"`
	BatchTimeout  time.Duration `envconfig:"BASECALL_BATCH_TIMEOUT" default:"100ms" toml:"batch_timeout" yaml:"batch_timeout"`
	ModBaseModel  string        `envconfig:"MODBASE_MODEL" default:"" toml:"modbase_model" yaml:"modbase_model"`
	ModBaseMotif  string        `envconfig:"MODBASE_MOTIF" default:"CG" toml:"modbase_motif" yaml:"modbase_motif"`
	ModBaseOffset int           `envconfig:"MODBASE_OFFSET" default:"0" toml:"modbase_offset" yaml:"modbase_offset"`
	ModBaseCode   string        `envconfig:"MODBASE_CODE" default:"m" toml:"modbase_code" yaml:"modbase_code"`
	MinQScore     float64       `envconfig:"MIN_QSCORE" default:"0" toml:"min_qscore" yaml:"min_qscore"`
	MinLength     int           `envconfig:"MIN_LENGTH" default:"0" toml:"min_length" yaml:"min_length"`
	ReadIDsFile   string        `envconfig:"READ_IDS" default:"" toml:"read_ids" yaml:"read_ids"`
	ExcludeIDs    string        `envconfig:"EXCLUDE_READ_IDS" default:"" toml:"exclude_read_ids" yaml:"exclude_read_ids"`
	FilterExpr    string        `envconfig:"FILTER_EXPR" default:"" toml:"filter" yaml:"filter"`
	RNA           bool          `envconfig:"RNA" default:"false" toml:"rna" yaml:"rna"`
	Reference     string        `envconfig:"REFERENCE" default:"" toml:"reference" yaml:"reference"`
	AlignKmer     int           `envconfig:"ALIGN_KMER" default:"15" toml:"align_kmer" yaml:"align_kmer"`
	TrimPrimers   bool          `envconfig:"TRIM_PRIMERS" default:"true" toml:"trim_primers" yaml:"trim_primers"`
}

// CorrectionConfig holds read correction configuration.
type CorrectionConfig struct {
	WindowSize    int           `envconfig:"CORRECT_WINDOW" default:"4096" toml:"window_size" yaml:"window_size"`
	MinDepth      int           `envconfig:"CORRECT_MIN_DEPTH" default:"1" toml:"min_depth" yaml:"min_depth"`
	MaxDepth      int           `envconfig:"CORRECT_MAX_DEPTH" default:"30" toml:"max_depth" yaml:"max_depth"`
	MinReadLength int           `envconfig:"CORRECT_MIN_LENGTH" default:"100" toml:"min_read_length" yaml:"min_read_length"`
	BatchSize     int           `envconfig:"CORRECT_BATCH" default:"32" toml:"batch_size" yaml:"batch_size"`
	BatchTimeout  time.Duration `envconfig:"CORRECT_BATCH_TIMEOUT" default:"100ms" toml:"batch_timeout" yaml:"batch_timeout"`
	InferThreads  int           `envconfig:"CORRECT_INFER_THREADS" default:"1" toml:"infer_threads" yaml:"infer_threads"`
	DecodeThreads int           `envconfig:"CORRECT_DECODE_THREADS" default:"2" toml:"decode_threads" yaml:"decode_threads"`
	FeatureQueue  int           `envconfig:"CORRECT_FEATURE_QUEUE" default:"64" toml:"feature_queue" yaml:"feature_queue"`
	InferredQueue int           `envconfig:"CORRECT_INFERRED_QUEUE" default:"64" toml:"inferred_queue" yaml:"inferred_queue"`
	PoolSlots     int           `envconfig:"CORRECT_POOL_SLOTS" default:"0" toml:"pool_slots" yaml:"pool_slots"`
	KmerSize      int           `envconfig:"CORRECT_KMER" default:"15" toml:"kmer_size" yaml:"kmer_size"`
	MinOverlap    int           `envconfig:"CORRECT_MIN_OVERLAP" default:"500" toml:"min_overlap" yaml:"min_overlap"`
	ToPAF         bool          `envconfig:"CORRECT_TO_PAF" default:"false" toml:"to_paf" yaml:"to_paf"`
}

// ModelConfig selects a remote model service. An empty URL runs the local models.
type ModelConfig struct {
	URL        string        `envconfig:"MODEL_URL" default:"" toml:"url" yaml:"url"`
	Token      string        `envconfig:"MODEL_TOKEN" default:"" toml:"token" yaml:"token"`
	Timeout    time.Duration `envconfig:"MODEL_TIMEOUT" default:"30s" toml:"timeout" yaml:"timeout"`
	MaxRetries int           `envconfig:"MODEL_RETRIES" default:"3" toml:"max_retries" yaml:"max_retries"`
	RateLimit  float64       `envconfig:"MODEL_RPS" default:"0" toml:"rate_limit" yaml:"rate_limit"`
}

// BarcodeConfig holds demultiplexing configuration.
type BarcodeConfig struct {
	Kit      string   `envconfig:"BARCODE_KIT" default:"" toml:"kit" yaml:"kit"`
	KitFile  string   `envconfig:"BARCODE_KIT_FILE" default:"" toml:"kit_file" yaml:"kit_file"`
	BothEnds bool     `envconfig:"BARCODE_BOTH_ENDS" default:"false" toml:"both_ends" yaml:"both_ends"`
	NoTrim   bool     `envconfig:"BARCODE_NO_TRIM" default:"false" toml:"no_trim" yaml:"no_trim"`
	Allowed  []string `envconfig:"BARCODE_ALLOWED" toml:"allowed" yaml:"allowed"`
}

// PolyTailConfig holds poly(A)/poly(T) estimation configuration.
type PolyTailConfig struct {
	Enabled    bool   `envconfig:"POLYA" default:"false" toml:"enabled" yaml:"enabled"`
	ConfigFile string `envconfig:"POLYA_CONFIG" default:"" toml:"config_file" yaml:"config_file"`
}

// OutputConfig holds record output configuration.
type OutputConfig struct {
	Format      string `envconfig:"OUTPUT_FORMAT" default:"fastq" toml:"format" yaml:"format"`
	Path        string `envconfig:"OUTPUT_PATH" default:"-" toml:"path" yaml:"path"`
	Compression string `envconfig:"OUTPUT_COMPRESSION" default:"none" toml:"compression" yaml:"compression"`
	EmitMoves   bool   `envconfig:"EMIT_MOVES" default:"false" toml:"emit_moves" yaml:"emit_moves"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development" yaml:"development"`
}

// ServerConfig holds status server configuration. An empty Addr disables it.
type ServerConfig struct {
	Addr           string        `envconfig:"STATUS_ADDR" default:"" toml:"addr" yaml:"addr"`
	StreamInterval time.Duration `envconfig:"STATUS_INTERVAL" default:"1s" toml:"stream_interval" yaml:"stream_interval"`
	Origins        []string      `envconfig:"STATUS_ORIGINS" toml:"origins" yaml:"origins"` // empty allows any origin
}

// RateLimitConfig holds status server rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" toml:"rps" yaml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" toml:"burst" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment and then overlays a TOML or YAML file,
// chosen by extension. Keys missing from the file keep their values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported config file type %q", ErrInvalid, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Threads:       4,
			QueueCapacity: 1000,
			Device:        "cpu",
		},
		Basecall: BasecallConfig{
			Model:        "level@v1",
			Stride:       5,
			ChunkSize:    4000,
			Overlap:      500,
			BatchSize:    64,
			BatchTimeout: 100 * time.Millisecond,
			ModBaseMotif: "CG",
			ModBaseCode:  "m",
			AlignKmer:    15,
			TrimPrimers:  true,
		},
		Correction: CorrectionConfig{
			WindowSize:    4096,
			MinDepth:      1,
			MaxDepth:      30,
			MinReadLength: 100,
			BatchSize:     32,
			BatchTimeout:  100 * time.Millisecond,
			InferThreads:  1,
			DecodeThreads: 2,
			FeatureQueue:  64,
			InferredQueue: 64,
			KmerSize:      15,
			MinOverlap:    500,
		},
		Model: ModelConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Output: OutputConfig{
			Format:      "fastq",
			Path:        "-",
			Compression: "none",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Server: ServerConfig{
			StreamInterval: time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate normalizes derived values and rejects incompatible settings.
// Chunk size and overlap are rounded down to multiples of the model stride.
func (c *Config) Validate() error {
	if c.Pipeline.Threads < 1 || c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("%w: threads and queue capacity must be positive", ErrInvalid)
	}
	if _, err := accel.ParseDevices(c.Pipeline.Device); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	format, ok := message.ParseFormat(c.Output.Format)
	if !ok {
		return fmt.Errorf("%w: unknown output format %q", ErrInvalid, c.Output.Format)
	}
	switch c.Output.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalid, c.Output.Compression)
	}

	b := &c.Basecall
	if b.Stride < 1 || b.BatchSize < 1 || b.BatchTimeout <= 0 {
		return fmt.Errorf("%w: basecall stride, batch size and batch timeout must be positive", ErrInvalid)
	}
	b.ChunkSize -= b.ChunkSize % b.Stride
	b.Overlap -= b.Overlap % b.Stride
	if b.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must hold at least one stride of %d samples", ErrInvalid, b.Stride)
	}
	if b.Overlap < 0 || b.Overlap >= b.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalid, b.Overlap, b.ChunkSize)
	}
	if b.ModBaseModel != "" && format == message.FormatFASTQ {
		return fmt.Errorf("%w: modified base models cannot be used with FASTQ output", ErrInvalid)
	}
	if b.Reference != "" && format == message.FormatFASTQ {
		return fmt.Errorf("%w: alignment to a reference cannot be used with FASTQ output", ErrInvalid)
	}
	if b.ModBaseModel != "" && len(b.ModBaseCode) != 1 {
		return fmt.Errorf("%w: modbase code must be a single character", ErrInvalid)
	}
	if b.Reference != "" && b.AlignKmer < 4 {
		return fmt.Errorf("%w: alignment k-mer size must be at least 4", ErrInvalid)
	}

	if c.Barcode.KitFile != "" && c.Barcode.Kit == "" {
		return fmt.Errorf("%w: a barcode kit file needs a kit name", ErrInvalid)
	}

	corr := c.Correction
	if corr.WindowSize < 1 || corr.MaxDepth < 2 || corr.KmerSize < 4 || corr.MinOverlap < 1 {
		return fmt.Errorf("%w: correction window, depth, k-mer size and overlap must be positive", ErrInvalid)
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func parseLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level), nil
	}
	return "", fmt.Errorf("unknown log level %q", level)
}
