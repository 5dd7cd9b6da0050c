// Package output writes retrieved page sides to their destination. The
// image payload is treated as opaque bytes; only the PDF sink uses the
// device-reported pixel dimensions, and even then without decoding.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mzyy94/kvscan/internal/session"
)

// Sink receives page sides in scan order. Close flushes anything the
// sink buffered.
type Sink interface {
	Write(p session.Page) error
	Close() error
}

// FileSink writes each page side to "<base>-NNN-S.<ext>", where NNN is
// the zero-padded page number and S the side letter.
type FileSink struct {
	base string
	ext  string
}

// NewFileSink creates a sink writing one file per page side. ext
// defaults to "jpeg".
func NewFileSink(base, ext string) *FileSink {
	if ext == "" {
		ext = "jpeg"
	}
	return &FileSink{base: base, ext: ext}
}

// Name returns the file name a page side lands in.
func (s *FileSink) Name(p session.Page) string {
	return fmt.Sprintf("%s-%03d-%s.%s", s.base, p.Number, p.Side.Letter(), s.ext)
}

func (s *FileSink) Write(p session.Page) error {
	name := s.Name(p)
	if err := os.WriteFile(name, p.Data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (s *FileSink) Close() error { return nil }

// StreamSink concatenates every page side onto one writer, typically
// stdout.
type StreamSink struct {
	w io.Writer
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Write(p session.Page) error {
	if _, err := s.w.Write(p.Data); err != nil {
		return fmt.Errorf("writing page %d: %w", p.Number, err)
	}
	return nil
}

func (s *StreamSink) Close() error { return nil }
