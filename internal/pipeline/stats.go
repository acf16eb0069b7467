package pipeline

import (
	"sort"
	"strings"
)

// NamedStats is a flat name to value statistics snapshot
type NamedStats map[string]float64

// Merge copies other into s, prefixing each key with prefix and a dot.
// An empty prefix copies keys unchanged.
func (s NamedStats) Merge(prefix string, other map[string]float64) {
	for k, v := range other {
		if prefix != "" {
			k = prefix + "." + k
		}
		s[k] = v
	}
}

// Keys returns the stat names in sorted order
func (s NamedStats) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Split breaks a "node.stat" key into its node and stat parts
func Split(key string) (node, stat string) {
	i := strings.IndexByte(key, '.')
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}
