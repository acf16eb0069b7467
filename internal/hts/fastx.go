package hts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

// maxLine allows very long single-line sequences.
const maxLine = 256 * 1024 * 1024

// Record is a parsed FASTA or FASTQ entry. Qual is empty for FASTA.
type Record struct {
	ID   string
	Desc string
	Seq  string
	Qual string
}

// FastxReader streams records from FASTA or FASTQ text. The flavour is
// chosen per record from its header character.
type FastxReader struct {
	sc     *bufio.Scanner
	line   []byte
	peeked bool
	lineNo int
}

// NewFastxReader returns a reader over r.
func NewFastxReader(r io.Reader) *FastxReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &FastxReader{sc: sc}
}

func (f *FastxReader) next() ([]byte, bool) {
	if f.peeked {
		f.peeked = false
		return f.line, true
	}
	for f.sc.Scan() {
		f.lineNo++
		line := bytes.TrimRight(f.sc.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		f.line = line
		return line, true
	}
	return nil, false
}

func (f *FastxReader) unread() { f.peeked = true }

// Next returns the next record, or io.EOF when the input is exhausted.
func (f *FastxReader) Next() (Record, error) {
	header, ok := f.next()
	if !ok {
		if err := f.sc.Err(); err != nil {
			return Record{}, fmt.Errorf("fastx scan: %w", err)
		}
		return Record{}, io.EOF
	}

	switch header[0] {
	case '>':
		rec := parseHeader(header[1:])
		var seq []byte
		for {
			line, ok := f.next()
			if !ok {
				break
			}
			if line[0] == '>' || line[0] == '@' {
				f.unread()
				break
			}
			seq = append(seq, bytes.TrimSpace(line)...)
		}
		rec.Seq = string(seq)
		return rec, f.sc.Err()
	case '@':
		rec := parseHeader(header[1:])
		seq, ok := f.next()
		if !ok {
			return Record{}, fmt.Errorf("%w: record %q truncated at line %d", ErrFormat, rec.ID, f.lineNo)
		}
		rec.Seq = string(seq)
		plus, ok := f.next()
		if !ok || plus[0] != '+' {
			return Record{}, fmt.Errorf("%w: record %q missing '+' at line %d", ErrFormat, rec.ID, f.lineNo)
		}
		qual, ok := f.next()
		if !ok {
			return Record{}, fmt.Errorf("%w: record %q missing quality at line %d", ErrFormat, rec.ID, f.lineNo)
		}
		if len(qual) != len(seq) {
			return Record{}, fmt.Errorf("%w: record %q has %d bases and %d qualities", ErrFormat, rec.ID, len(seq), len(qual))
		}
		rec.Qual = string(qual)
		return rec, nil
	default:
		return Record{}, fmt.Errorf("%w: unexpected %q at line %d", ErrFormat, header[0], f.lineNo)
	}
}

func parseHeader(hdr []byte) Record {
	hdr = bytes.TrimSpace(hdr)
	if i := bytes.IndexAny(hdr, " \t"); i >= 0 {
		return Record{ID: string(hdr[:i]), Desc: string(bytes.TrimSpace(hdr[i+1:]))}
	}
	return Record{ID: string(hdr)}
}

// StreamFastx calls emit for every record in r. It is cancelable between
// records.
func StreamFastx(ctx context.Context, r io.Reader, emit func(Record) error) error {
	fr := NewFastxReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

// StreamFastxPath opens path (plain or compressed) and streams its records.
func StreamFastxPath(ctx context.Context, path string, emit func(Record) error) error {
	rc, err := Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return StreamFastx(ctx, rc, emit)
}

// Contig is a named reference sequence.
type Contig struct {
	Name string
	Seq  string
}

// LoadReference reads every sequence of a FASTA file, upper-cased.
func LoadReference(path string) ([]Contig, error) {
	var contigs []Contig
	err := StreamFastxPath(context.Background(), path, func(rec Record) error {
		contigs = append(contigs, Contig{Name: rec.ID, Seq: string(bytes.ToUpper([]byte(rec.Seq)))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load reference %s: %w", path, err)
	}
	if len(contigs) == 0 {
		return nil, fmt.Errorf("load reference %s: %w: no sequences", path, ErrFormat)
	}
	return contigs, nil
}

// ToRead converts a record into an already-called read. Missing qualities
// are left empty.
func (r Record) ToRead() *message.Read {
	return &message.Read{ReadID: r.ID, Seq: r.Seq, Qual: r.Qual}
}
