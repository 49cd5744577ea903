// Package format detects the CSV dialect of dropped files and persists it
// next to the file as a JSON sidecar.
package format

import (
	"fmt"
	"unicode/utf8"

	"github.com/JonMunkholm/dropload/internal/csvread"
)

// Spec describes the dialect of one file.
type Spec struct {
	ColumnDelimiter string  `json:"column_delimiter"`
	HeaderDelimiter string  `json:"header_delimiter"`
	RowDelimiter    string  `json:"row_delimiter"`
	TextQualifier   string  `json:"text_qualifier"`
	SkipLines       int     `json:"skip_lines"`
	HasHeader       bool    `json:"has_header"`
	HasTrailer      bool    `json:"has_trailer"`
	TrailerLine     string  `json:"trailer_line"`
	Encoding        string  `json:"encoding"`
	Confidence      float64 `json:"confidence"`
	SkipBlankLines  bool    `json:"skip_blank_lines"`
	StripWhitespace bool    `json:"strip_whitespace"`

	// Degraded is set when detection could not run and defaults were used.
	Degraded bool   `json:"degraded,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Default returns the conservative dialect used when nothing is known:
// comma, LF, double quote, header present, no trailer.
func Default() Spec {
	return Spec{
		ColumnDelimiter: ",",
		HeaderDelimiter: ",",
		RowDelimiter:    csvread.LF,
		TextQualifier:   `"`,
		HasHeader:       true,
		Encoding:        csvread.DefaultEncoding,
		SkipBlankLines:  true,
		StripWhitespace: true,
	}
}

// Degraded returns Default with zero confidence and note attached.
func Degraded(note string) Spec {
	s := Default()
	s.Degraded = true
	s.Note = note
	return s
}

// Dialect returns the record dialect for data rows.
func (s Spec) Dialect() csvread.Dialect {
	return csvread.Dialect{
		Delimiter:    firstRune(s.ColumnDelimiter, ','),
		Qualifier:    firstRune(s.TextQualifier, 0),
		RowDelimiter: s.RowDelimiter,
	}
}

// HeaderDialect returns the dialect for the header row.
func (s Spec) HeaderDialect() csvread.Dialect {
	d := s.Dialect()
	if s.HeaderDelimiter != "" {
		d.Delimiter = firstRune(s.HeaderDelimiter, d.Delimiter)
	}
	return d
}

func firstRune(s string, fallback rune) rune {
	if s == "" {
		return fallback
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// Validate checks the single-character invariants of the dialect.
func (s Spec) Validate() error {
	if utf8.RuneCountInString(s.ColumnDelimiter) > 1 {
		return fmt.Errorf("column delimiter %q must be a single character", s.ColumnDelimiter)
	}
	if utf8.RuneCountInString(s.HeaderDelimiter) > 1 {
		return fmt.Errorf("header delimiter %q must be a single character", s.HeaderDelimiter)
	}
	if utf8.RuneCountInString(s.TextQualifier) > 1 {
		return fmt.Errorf("text qualifier %q must be empty or a single character", s.TextQualifier)
	}
	switch s.RowDelimiter {
	case "", csvread.LF, csvread.CRLF, csvread.CR:
	default:
		return fmt.Errorf("row delimiter %q must be LF, CRLF or CR", s.RowDelimiter)
	}
	if s.SkipLines < 0 {
		return fmt.Errorf("skip lines must not be negative")
	}
	return nil
}
