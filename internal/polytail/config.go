package polytail

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid poly tail config")

// Config locates the tail relative to the library's primers.
type Config struct {
	Anchors Anchors `toml:"anchors"`
	Tail    Tail    `toml:"tail"`
}

// Anchors are the cDNA primers used to determine strand.
type Anchors struct {
	FrontPrimer string `toml:"front_primer"`
	RearPrimer  string `toml:"rear_primer"`
	// SearchWindow bounds the primer search at each end of the read.
	SearchWindow int `toml:"search_window"`
}

// Tail tunes the tail scan itself.
type Tail struct {
	// InterruptLength merges tail runs separated by at most this many bases.
	InterruptLength int `toml:"tail_interrupt_length"`
	// MinBases is the shortest tail reported.
	MinBases int `toml:"min_bases"`
	// MaxGap is how far from the anchor the tail may start.
	MaxGap int `toml:"max_gap"`
	// PrimerScore is the lowest accepted primer match score.
	PrimerScore float64 `toml:"primer_score"`
}

// DefaultConfig matches the standard cDNA kit primers.
func DefaultConfig() Config {
	return Config{
		Anchors: Anchors{
			FrontPrimer:  "TTTCTGTTGGTGCTGATATTGCTTT",
			RearPrimer:   "ACTTGCCTGTCGCTCTATCTTCAGAGGAGAGTCCGCCGCCCGCAAGTTTT",
			SearchWindow: 150,
		},
		Tail: Tail{
			InterruptLength: 0,
			MinBases:        10,
			MaxGap:          30,
			PrimerScore:     0.7,
		},
	}
}

// ParseConfig decodes a TOML document over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a TOML config file. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read poly tail config: %w", err)
	}
	return ParseConfig(data)
}

func (c *Config) validate() error {
	c.Anchors.FrontPrimer = strings.ToUpper(c.Anchors.FrontPrimer)
	c.Anchors.RearPrimer = strings.ToUpper(c.Anchors.RearPrimer)
	if c.Anchors.FrontPrimer == "" || c.Anchors.RearPrimer == "" {
		return fmt.Errorf("%w: both primers are required", ErrInvalidConfig)
	}
	if c.Anchors.SearchWindow < len(c.Anchors.FrontPrimer) || c.Anchors.SearchWindow < len(c.Anchors.RearPrimer) {
		return fmt.Errorf("%w: search window is shorter than a primer", ErrInvalidConfig)
	}
	if c.Tail.InterruptLength < 0 || c.Tail.MinBases < 1 || c.Tail.MaxGap < 0 {
		return fmt.Errorf("%w: tail lengths must be positive", ErrInvalidConfig)
	}
	if c.Tail.PrimerScore <= 0 || c.Tail.PrimerScore > 1 {
		return fmt.Errorf("%w: primer score must be in (0, 1]", ErrInvalidConfig)
	}
	return nil
}
