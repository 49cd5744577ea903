// Package csvread parses delimited text with a configurable dialect.
//
// encoding/csv only supports the double quote as qualifier and always treats
// LF/CRLF as the record terminator. Dropped files also arrive with single
// quotes, no qualifier at all, or bare CR line endings, so records are parsed
// here with the dialect detected for each file.
package csvread

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Row delimiters.
const (
	LF   = "\n"
	CRLF = "\r\n"
	CR   = "\r"
)

// Dialect describes how a file separates fields and records.
type Dialect struct {
	Delimiter    rune   // field separator, ',' if zero
	Qualifier    rune   // text qualifier, 0 for none
	RowDelimiter string // LF, CRLF or CR; LF if empty
}

func (d Dialect) delimiter() rune {
	if d.Delimiter == 0 {
		return ','
	}
	return d.Delimiter
}

// bareCR reports whether records end with a lone CR.
func (d Dialect) bareCR() bool {
	return d.RowDelimiter == CR
}

// Reader reads records from a stream.
//
// A qualified field may span several physical lines; an unqualified field
// containing a stray qualifier keeps it literally.
type Reader struct {
	Dialect Dialect

	// TrimSpace strips surrounding whitespace from unqualified fields.
	TrimSpace bool

	br     *bufio.Reader
	record int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader, d Dialect) *Reader {
	return &Reader{Dialect: d, br: bufio.NewReaderSize(r, 64*1024)}
}

// Record returns the number of records read so far.
func (r *Reader) Record() int {
	return r.record
}

// ReadLine returns the next raw line without parsing it, used to skip
// preamble lines. It returns io.EOF when the stream is exhausted.
func (r *Reader) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		c, _, err := r.br.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if r.isRowEnd(c) {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		sb.WriteRune(c)
	}
}

// Read returns the next record. It returns io.EOF at the end of input.
func (r *Reader) Read() ([]string, error) {
	delim := r.Dialect.delimiter()
	qual := r.Dialect.Qualifier

	var (
		fields    []string
		field     strings.Builder
		quoted    bool // current field started with a qualifier
		inQuotes  bool // inside an open qualifier
		started   bool // any rune consumed for this record
		fieldOpen bool // current field has content or a qualifier
	)

	finishField := func() {
		v := field.String()
		if !quoted && r.TrimSpace {
			v = strings.TrimSpace(v)
		}
		fields = append(fields, v)
		field.Reset()
		quoted = false
		fieldOpen = false
	}

	for {
		c, _, err := r.br.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !started {
					return nil, io.EOF
				}
				finishField()
				r.record++
				return fields, nil
			}
			return nil, err
		}
		started = true

		if inQuotes {
			if c == qual {
				next, _, perr := r.br.ReadRune()
				if perr == nil && next == qual {
					field.WriteRune(qual)
					continue
				}
				if perr == nil {
					_ = r.br.UnreadRune()
				}
				inQuotes = false
				continue
			}
			field.WriteRune(c)
			continue
		}

		switch {
		case c == delim:
			finishField()
		case r.isRowEnd(c):
			finishField()
			r.record++
			return fields, nil
		case qual != 0 && c == qual && !fieldOpen:
			quoted = true
			inQuotes = true
			fieldOpen = true
		default:
			if c == '\r' && !r.Dialect.bareCR() {
				if next, err := r.br.Peek(1); err == nil && next[0] == '\n' {
					continue
				}
			}
			if quoted {
				// Text after a closing qualifier is kept as-is.
				if r.TrimSpace && (c == ' ' || c == '\t') {
					continue
				}
				field.WriteRune(c)
				continue
			}
			if r.TrimSpace && !fieldOpen && (c == ' ' || c == '\t') {
				continue
			}
			field.WriteRune(c)
			fieldOpen = true
		}
	}
}

func (r *Reader) isRowEnd(c rune) bool {
	if r.Dialect.bareCR() {
		return c == '\r'
	}
	return c == '\n'
}

// ReadAll reads all remaining records.
func (r *Reader) ReadAll() ([][]string, error) {
	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ParseLine parses a single physical line with the dialect.
func ParseLine(line string, d Dialect) []string {
	if d.RowDelimiter != CR {
		d.RowDelimiter = LF
	}
	rec, err := NewReader(strings.NewReader(line), d).Read()
	if err != nil {
		return []string{""}
	}
	return rec
}

// IsBlank reports whether every field of rec is empty after trimming.
func IsBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
