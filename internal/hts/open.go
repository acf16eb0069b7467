package hts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrFormat reports input that is not a recognised record file.
var ErrFormat = errors.New("unrecognised input format")

// sniffLen is how many bytes are peeked to detect compression.
const sniffLen = 3072

// Compression names a stream codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// multiReadCloser closes every layer of a decoded stream.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open opens path for reading, transparently decompressing gzip and zstd.
// "-" reads stdin.
func Open(path string) (io.ReadCloser, error) {
	var src io.ReadCloser
	if path == "-" {
		src = io.NopCloser(os.Stdin)
	} else {
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		src = fh
	}
	rc, err := Decode(src, path)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return rc, nil
}

// Decode wraps src in a decompressor chosen by content. Closing the result
// closes src.
func Decode(src io.ReadCloser, name string) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("sniff %s: %w", name, err)
	}

	switch DetectCompression(head) {
	case CompressionGzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		return &multiReadCloser{Reader: gr, closers: []io.Closer{gr, src}}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", name, err)
		}
		release := closerFunc(func() error { zr.Close(); return nil })
		return &multiReadCloser{Reader: zr, closers: []io.Closer{release, src}}, nil
	default:
		return &multiReadCloser{Reader: br, closers: []io.Closer{src}}, nil
	}
}

// DetectCompression inspects the leading bytes of a stream.
func DetectCompression(head []byte) Compression {
	mtype := mimetype.Detect(head)
	switch {
	case mtype.Is("application/gzip"):
		return CompressionGzip
	case mtype.Is("application/zstd"):
		return CompressionZstd
	}
	return CompressionNone
}

// CompressionForPath guesses an output codec from a file suffix.
func CompressionForPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	}
	return CompressionNone
}
