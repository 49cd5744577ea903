package csvread

import (
	"fmt"
	"os"
)

// File is a Reader bound to an open file.
type File struct {
	*Reader
	Counter *CountingReader
	f       *os.File
}

// Open opens path for reading with the given dialect and encoding.
func Open(path string, d Dialect, encodingName string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	text, counter, err := Wrap(f, size, encodingName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return &File{Reader: NewReader(text, d), Counter: counter, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
