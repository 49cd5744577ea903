package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/dropload/internal/format"
)

// archiveFile moves path (and its sidecar, if any) into dir. An existing file
// of the same name is never overwritten: the archived copy gets a timestamp
// and, if needed, a counter.
func archiveFile(path, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dest := archiveName(dir, filepath.Base(path), now)
	if err := moveFile(path, dest); err != nil {
		return "", err
	}

	sidecar := format.SidecarPath(path)
	if _, err := os.Stat(sidecar); err == nil {
		if err := moveFile(sidecar, format.SidecarPath(dest)); err != nil {
			return dest, err
		}
	}
	return dest, nil
}

func archiveName(dir, base string, now time.Time) string {
	dest := filepath.Join(dir, base)
	if !exists(dest) && !exists(format.SidecarPath(dest)) {
		return dest
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext) + "_" + now.Format("20060102_150405")
	dest = filepath.Join(dir, stem+ext)
	for n := 1; exists(dest) || exists(format.SidecarPath(dest)); n++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
	return dest
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// moveFile renames src to dst, copying across filesystems when a rename is
// not possible.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	in.Close()
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && strings.Contains(linkErr.Err.Error(), "cross-device")
}
