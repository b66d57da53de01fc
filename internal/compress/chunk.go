// Package compress writes an event stream as a sequence of independently
// flushed transfer units, optionally gzip-compressed, so a client can start
// decoding before the response ends.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
)

var ErrClosed = errors.New("chunk writer closed")

// ChunkWriter emits every Write as one transfer unit.
type ChunkWriter interface {
	io.Writer
	// Close finalizes the stream. It does not close the destination.
	Close() error
	// Encoding is the Content-Encoding value, empty for identity.
	Encoding() string
}

// GzipChunkWriter compresses each chunk, sync-flushes the deflate stream and
// hands the compressed bytes to the destination before the next chunk.
type GzipChunkWriter struct {
	dst     io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
	gz      *gzip.Writer
	closed  bool
}

// NewGzipChunkWriter wraps dst. flusher may be nil when dst does not buffer.
func NewGzipChunkWriter(dst io.Writer, flusher http.Flusher, level int) (*GzipChunkWriter, error) {
	w := &GzipChunkWriter{dst: dst, flusher: flusher}
	gz, err := gzip.NewWriterLevel(&w.buf, level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	w.gz = gz
	return w, nil
}

func (w *GzipChunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if _, err := w.gz.Write(p); err != nil {
		return 0, fmt.Errorf("compress chunk: %w", err)
	}
	if err := w.gz.Flush(); err != nil {
		return 0, fmt.Errorf("flush compressor: %w", err)
	}
	if err := w.emit(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close writes the gzip trailer as the final unit.
func (w *GzipChunkWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip stream: %w", err)
	}
	return w.emit()
}

func (w *GzipChunkWriter) Encoding() string {
	return "gzip"
}

// emit moves the buffered compressed bytes to the destination and resets
// the buffer.
func (w *GzipChunkWriter) emit() error {
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.dst.Write(w.buf.Bytes())
	w.buf.Reset()
	if err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// PlainChunkWriter passes chunks through unchanged with the same flush
// framing as GzipChunkWriter.
type PlainChunkWriter struct {
	dst     io.Writer
	flusher http.Flusher
	closed  bool
}

func NewPlainChunkWriter(dst io.Writer, flusher http.Flusher) *PlainChunkWriter {
	return &PlainChunkWriter{dst: dst, flusher: flusher}
}

func (w *PlainChunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	n, err := w.dst.Write(p)
	if err != nil {
		return n, err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return n, nil
}

func (w *PlainChunkWriter) Close() error {
	w.closed = true
	return nil
}

func (w *PlainChunkWriter) Encoding() string {
	return ""
}

// New picks the writer for the negotiated encoding.
func New(dst io.Writer, flusher http.Flusher, useGzip bool, level int) (ChunkWriter, error) {
	if useGzip {
		return NewGzipChunkWriter(dst, flusher, level)
	}
	return NewPlainChunkWriter(dst, flusher), nil
}
