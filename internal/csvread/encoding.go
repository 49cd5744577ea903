package csvread

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when no encoding is known or detection is unsure.
const DefaultEncoding = "utf-8"

// ErrUnknownEncoding is returned for encoding names x/text cannot resolve.
var ErrUnknownEncoding = errors.New("unknown encoding")

// IsUTF8 reports whether name denotes UTF-8 (or is empty).
func IsUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		return true
	}
	return false
}

// LookupEncoding resolves an encoding name as reported by a charset detector
// or stored in a sidecar file.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if IsUTF8(name) {
		return unicode.UTF8, nil
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	// Detector spellings that neither index knows, e.g. "GB-18030".
	if enc, err := htmlindex.Get(strings.ReplaceAll(name, "-", "")); err == nil {
		return enc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
}

// DecodeBytes converts data from the named encoding to UTF-8. Invalid input
// is replaced rather than rejected; an unknown encoding falls back to UTF-8.
func DecodeBytes(data []byte, encodingName string) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !IsUTF8(encodingName) {
		if enc, err := LookupEncoding(encodingName); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				return string(bytes.TrimPrefix(out, utf8BOM))
			}
		}
	}
	return strings.ToValidUTF8(string(data), "�")
}
