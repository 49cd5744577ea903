package loader

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/dropload/internal/csvread"
	"github.com/JonMunkholm/dropload/internal/format"
)

// rowSource streams the data records of a file: preamble lines and the header
// are consumed on open, blank records are skipped and a flagged trailer is
// held back and never returned.
type rowSource struct {
	file    *csvread.File
	spec    format.Spec
	header  []string
	pending []string
	line    int // data records returned so far
}

func openRows(path string, spec format.Spec) (*rowSource, error) {
	f, err := csvread.Open(path, spec.Dialect(), spec.Encoding)
	if err != nil {
		return nil, err
	}
	f.TrimSpace = spec.StripWhitespace

	src := &rowSource{file: f, spec: spec}
	for i := 0; i < spec.SkipLines; i++ {
		if _, err := f.ReadLine(); err != nil {
			if errors.Is(err, io.EOF) {
				return src, nil
			}
			f.Close()
			return nil, fmt.Errorf("skip preamble: %w", err)
		}
	}

	if spec.HasHeader {
		for {
			line, err := f.ReadLine()
			if errors.Is(err, io.EOF) {
				return src, nil
			}
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("read header: %w", err)
			}
			rec := csvread.ParseLine(line, spec.HeaderDialect())
			if csvread.IsBlank(rec) {
				continue
			}
			if spec.StripWhitespace {
				for i := range rec {
					rec[i] = strings.Trim(rec[i], " \t")
				}
			}
			src.header = rec
			break
		}
	}
	return src, nil
}

// Header returns the raw header cells, or nil when the file has none.
func (s *rowSource) Header() []string { return s.header }

// Next returns the next data record or io.EOF.
func (s *rowSource) Next() ([]string, error) {
	for {
		rec, err := s.file.Read()
		if errors.Is(err, io.EOF) {
			// A held-back record is the trailer.
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", s.line+1, err)
		}
		if csvread.IsBlank(rec) && (s.spec.SkipBlankLines || len(rec) == 1) {
			continue
		}
		if !s.spec.HasTrailer {
			s.line++
			return rec, nil
		}
		if s.pending == nil {
			s.pending = rec
			continue
		}
		out := s.pending
		s.pending = rec
		s.line++
		return out, nil
	}
}

// Progress reports how much of the raw file has been consumed, 0-100.
func (s *rowSource) Progress() int {
	return s.file.Counter.Progress()
}

func (s *rowSource) Close() error {
	return s.file.Close()
}

// rawNames returns header, or positional names for width columns when the
// file has none.
func rawNames(header []string, width int) []string {
	if header != nil {
		return header
	}
	names := make([]string, width)
	for i := range names {
		names[i] = fmt.Sprintf("column_%d", i+1)
	}
	return names
}
