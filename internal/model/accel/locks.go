package accel

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// NumLocks is the size of the shared accelerator lock table
const NumLocks = 32

// Locks serializes model calls per accelerator. Device indices share a
// mutex when they are equal modulo NumLocks.
type Locks struct {
	mu [NumLocks]sync.Mutex
}

var shared Locks

// Shared returns the process-wide lock table
func Shared() *Locks {
	return &shared
}

// For returns the mutex guarding device
func (l *Locks) For(device int) *sync.Mutex {
	idx := device % NumLocks
	if idx < 0 {
		idx += NumLocks
	}
	return &l.mu[idx]
}

// Do runs fn while holding the lock for device
func (l *Locks) Do(device int, fn func() error) error {
	m := l.For(device)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// ParseDevices parses a device string such as "cpu", "cuda:0" or "cuda:0,2".
// "cpu" maps to a single device with index 0.
func ParseDevices(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "cpu" {
		return []int{0}, nil
	}

	kind, list, ok := strings.Cut(spec, ":")
	if !ok || (kind != "cuda" && kind != "metal") || list == "" {
		return nil, fmt.Errorf("invalid device %q", spec)
	}

	seen := make(map[int]bool)
	var devices []int
	for _, part := range strings.Split(list, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid device index %q in %q", part, spec)
		}
		if !seen[idx] {
			seen[idx] = true
			devices = append(devices, idx)
		}
	}
	return devices, nil
}
