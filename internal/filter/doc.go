// Package filter decides which reads leave the basecall chain: quality and
// length thresholds, read id lists and an optional JavaScript predicate
// evaluated with goja.
package filter
