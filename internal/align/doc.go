// Package align places reads by k-mer seeding followed by banded edit
// distance alignment. Aligner maps reads onto a reference; Overlapper finds
// overlaps between the reads of one set for correction.
package align
