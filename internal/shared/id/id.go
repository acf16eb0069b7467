// Package id generates and validates the identifiers a run attaches to its
// output.
//
// Run IDs are prefixed ULIDs ("run_01J..."), so runs sort by start time and
// read groups built from them stay readable in SAM headers. Read IDs are
// UUIDs, the form sequencers assign; reads arriving without one get a
// random UUID, and reads derived from another read get a name-based UUID
// that is stable across runs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RunID identifies one pipeline run
type RunID string

// RunPrefix starts every run ID
const RunPrefix = "run"

// Generator hands out ULIDs that increase strictly, even within one
// millisecond
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

var runs = NewGenerator(rand.Reader)

// NewGenerator creates a generator drawing randomness from entropy
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0), now: time.Now}
}

// Generate returns the next ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// RunID returns a new prefixed run ID
func (g *Generator) RunID() RunID {
	return RunID(RunPrefix + "_" + g.Generate().String())
}

// NewRunID generates a new run ID
func NewRunID() RunID {
	return runs.RunID()
}

func (id RunID) String() string { return string(id) }

// Time returns when the run ID was generated
func (id RunID) Time() (time.Time, error) {
	parsed, err := ParseRunID(string(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ParseRunID validates a run ID and returns its ULID
func ParseRunID(s string) (ulid.ULID, error) {
	prefix, rest, ok := strings.Cut(s, "_")
	if !ok || prefix != RunPrefix {
		return ulid.ULID{}, fmt.Errorf("run id %q: missing %s_ prefix", s, RunPrefix)
	}
	return ulid.Parse(rest)
}

// ReadGroup names the read group of reads called in run by model
func ReadGroup(run RunID, model string) string {
	if model == "" {
		return string(run)
	}
	return string(run) + "_" + model
}

// NewReadID returns a random read ID
func NewReadID() string {
	return uuid.NewString()
}

// IsReadID reports whether s is a UUID read ID
func IsReadID(s string) bool {
	return uuid.Validate(s) == nil
}

// readNamespace roots derived read IDs
var readNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("readpipe:read"))

// DeriveReadID returns a stable read ID for the part of parent named by
// suffix
func DeriveReadID(parent, suffix string) string {
	return uuid.NewSHA1(readNamespace, []byte(parent+"/"+suffix)).String()
}
