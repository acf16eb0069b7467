package hts

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// NewWriter wraps w in the named codec. Closing the result flushes the codec
// but never closes w.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrFormat, c)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Output is an encoded destination file, or stdout for "-".
type Output struct {
	codec io.WriteCloser
	file  *os.File
}

// Create opens path for writing through codec c.
func Create(path string, c Compression) (*Output, error) {
	if path == "-" {
		codec, err := NewWriter(os.Stdout, c)
		if err != nil {
			return nil, err
		}
		return &Output{codec: codec}, nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	codec, err := NewWriter(fh, c)
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	return &Output{codec: codec, file: fh}, nil
}

func (o *Output) Write(p []byte) (int, error) {
	return o.codec.Write(p)
}

// Flush pushes buffered compressed data to the file.
func (o *Output) Flush() error {
	if f, ok := o.codec.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if o.file != nil {
		return o.file.Sync()
	}
	return nil
}

// Close finishes the codec stream and closes the file. Stdout stays open.
func (o *Output) Close() error {
	err := o.codec.Close()
	if o.file != nil {
		if cerr := o.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
