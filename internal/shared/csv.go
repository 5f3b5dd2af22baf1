package shared

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

// CSVStreamer writes large CSV exports incrementally: CRLF line endings,
// `#` comment lines for report metadata, periodic flushes so the response
// streams instead of buffering whole result sets.
type CSVStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

// NewCSVStreamer wraps w for streamed CSV output.
func NewCSVStreamer(w io.Writer) *CSVStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &CSVStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

// WriteComment emits a raw metadata line above or between CSV rows.
func (s *CSVStreamer) WriteComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	if _, err := s.buf.WriteString(line); err != nil {
		return err
	}
	return nil
}

// WriteRow emits one CSV record, flushing every flushEvery rows.
func (s *CSVStreamer) WriteRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

// Flush drains both the csv writer and the buffered writer.
func (s *CSVStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// Close flushes any pending output.
func (s *CSVStreamer) Close() error {
	return s.Flush()
}
