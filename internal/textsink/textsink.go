// Package textsink writes decoded samples as tab-separated rows, matching
// the original driver's "decode frame -> emit row" text output.
package textsink

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"eegaudio/internal/frame"
)

const header = "eeg1\teeg2\teeg3\teeg4\teeg5\teeg6\teeg7\teeg8\taccel1\taccel2\taccel3\tgyro1\tgyro2\tgyro3\tbattery\tcounter\n"

// Sink appends one TSV row per sample to an underlying writer.
type Sink struct {
	w     *bufio.Writer
	close func() error
	count uint64
}

// New wraps w with buffering and writes the header row immediately.
func New(w io.Writer) (*Sink, error) {
	s := &Sink{w: bufio.NewWriter(w)}
	if _, err := s.w.WriteString(header); err != nil {
		return nil, fmt.Errorf("textsink: failed to write header: %w", err)
	}
	return s, nil
}

// Open opens path in truncate mode and returns a Sink writing to it. An
// empty path writes to stdout instead, matching the reference driver's
// "Output file [stdout]" default.
func Open(path string) (*Sink, error) {
	if path == "" {
		s, err := New(os.Stdout)
		if err != nil {
			return nil, err
		}
		s.close = func() error { return s.w.Flush() }
		return s, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("textsink: failed to open %s: %w", path, err)
	}
	s, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.close = func() error {
		if err := s.w.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return s, nil
}

// Write appends one row for sample. Every 250th sample (~once per second at
// source rate) logs a running count.
func (s *Sink) Write(sample frame.Sample) error {
	for i := 0; i < frame.EEGChannels+3+3; i++ {
		if _, err := fmt.Fprintf(s.w, "%f\t", sample[i]); err != nil {
			return fmt.Errorf("textsink: write failed: %w", err)
		}
	}
	if _, err := fmt.Fprintf(s.w, "%.2f\t%d\n", sample[14], uint64(sample[15])); err != nil {
		return fmt.Errorf("textsink: write failed: %w", err)
	}

	s.count++
	if s.count%250 == 0 {
		log.Printf("[textsink] wrote %d samples", s.count)
	}
	return nil
}

// Close flushes buffered output and closes the underlying file, if any.
func (s *Sink) Close() error {
	if s.close != nil {
		return s.close()
	}
	return s.w.Flush()
}
