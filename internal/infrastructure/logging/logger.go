package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the zap logger handed to pipeline stages.
type Logger struct {
	*zap.Logger
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
	// SamplePerSecond caps identical entries per second in production
	// output, 0 disables sampling
	SamplePerSecond int
}

// DefaultConfig returns production logger configuration.
// Records may go to stdout, so logs default to stderr.
func DefaultConfig() Config {
	return Config{
		Level:           "info",
		OutputPaths:     []string{"stderr"},
		SamplePerSecond: 100,
	}
}

// New builds a logger. Development output is coloured console text with
// callers; production output is sampled JSON.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
	}
	if cfg.Development {
		zc.Encoding = "console"
	} else if cfg.SamplePerSecond > 0 {
		zc.Sampling = &zap.SamplingConfig{Initial: cfg.SamplePerSecond, Thereafter: cfg.SamplePerSecond}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger, e.g. one from zaptest.
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{Logger: l}
}

// Stage returns a child logger for one pipeline stage.
func (l *Logger) Stage(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// ReadID tags an entry with the read it concerns.
func ReadID(id string) zap.Field {
	return zap.String("read_id", id)
}

// Elapsed reports a duration in seconds regardless of encoder.
func Elapsed(d time.Duration) zap.Field {
	return zap.Float64("elapsed_s", d.Seconds())
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "stage",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeDuration = zapcore.StringDurationEncoder
	}
	return ec
}
