package csvread

// streaming.go wraps raw file readers so the record parser always sees clean
// UTF-8 text:
//
//   - CountingReader: tracks raw bytes read for progress reporting
//   - the encoding decoder (golang.org/x/text) for non UTF-8 files
//   - bomSkipper: drops a leading UTF-8 byte order mark
//   - utf8Sanitizer: replaces invalid UTF-8 bytes with '?' on the fly
//
// Use Wrap to apply them in the right order.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CountingReader counts the raw bytes read from the underlying reader.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100), or 0 if the
// total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// bomSkipper drops a UTF-8 BOM at the start of the stream.
type bomSkipper struct {
	br      *bufio.Reader
	checked bool
}

func newBOMSkipper(r io.Reader) *bomSkipper {
	return &bomSkipper{br: bufio.NewReader(r)}
}

func (b *bomSkipper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.br.Peek(len(utf8BOM))
		if err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = b.br.Discard(len(utf8BOM))
		}
	}
	return b.br.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?'. A multi-byte sequence
// split across two reads is carried over in pending.
type utf8Sanitizer struct {
	reader  io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	data := p[:n]
	atEOF := err == io.EOF
	write := 0
	for read := 0; read < len(data); {
		if data[read] < utf8.RuneSelf {
			data[write] = data[read]
			write++
			read++
			continue
		}
		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			break
		}
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}

	if write == 0 && len(s.pending) > 0 && err == nil {
		// Only a partial rune arrived; read again so callers never see (0, nil).
		return s.Read(p)
	}
	return write, err
}

// Wrap returns a reader producing sanitized UTF-8 text from r, decoded from
// the named encoding, together with the raw byte counter.
func Wrap(r io.Reader, total int64, encodingName string) (io.Reader, *CountingReader, error) {
	counter := NewCountingReader(r, total)

	if IsUTF8(encodingName) {
		return newUTF8Sanitizer(newBOMSkipper(counter)), counter, nil
	}

	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, nil, err
	}
	decoded := transform.NewReader(counter, enc.NewDecoder())
	return newUTF8Sanitizer(newBOMSkipper(decoded)), counter, nil
}
