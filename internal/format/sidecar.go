package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/dropload/internal/csvread"
)

// FormatVersion is written into every sidecar.
const FormatVersion = "1.0"

const sidecarSuffix = ".format.json"

type sidecarFile struct {
	FileInfo struct {
		OriginalFilename string `json:"original_filename"`
		UploadTimestamp  string `json:"upload_timestamp"`
		FormatVersion    string `json:"format_version"`
	} `json:"file_info"`
	CSVFormat struct {
		HeaderDelimiter string `json:"header_delimiter"`
		ColumnDelimiter string `json:"column_delimiter"`
		RowDelimiter    string `json:"row_delimiter"`
		TextQualifier   string `json:"text_qualifier"`
		SkipLines       int    `json:"skip_lines"`
		HasHeader       bool   `json:"has_header"`
		HasTrailer      bool   `json:"has_trailer"`
		TrailerLine     string `json:"trailer_line"`
	} `json:"csv_format"`
	ProcessingOptions struct {
		Encoding        string `json:"encoding"`
		SkipBlankLines  bool   `json:"skip_blank_lines"`
		StripWhitespace bool   `json:"strip_whitespace"`
	} `json:"processing_options"`
}

// SidecarPath returns the sidecar location for a CSV file.
func SidecarPath(csvPath string) string {
	return csvPath + sidecarSuffix
}

// IsSidecar reports whether path names a sidecar file.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, sidecarSuffix)
}

// WriteSidecar stores spec next to csvPath. The file is written to a
// temporary name first so readers never see a partial document.
func WriteSidecar(csvPath string, spec Spec, uploaded time.Time) error {
	var sc sidecarFile
	sc.FileInfo.OriginalFilename = filepath.Base(csvPath)
	sc.FileInfo.UploadTimestamp = uploaded.UTC().Format(time.RFC3339)
	sc.FileInfo.FormatVersion = FormatVersion

	sc.CSVFormat.HeaderDelimiter = spec.HeaderDelimiter
	sc.CSVFormat.ColumnDelimiter = spec.ColumnDelimiter
	sc.CSVFormat.RowDelimiter = spec.RowDelimiter
	sc.CSVFormat.TextQualifier = spec.TextQualifier
	sc.CSVFormat.SkipLines = spec.SkipLines
	sc.CSVFormat.HasHeader = spec.HasHeader
	sc.CSVFormat.HasTrailer = spec.HasTrailer
	sc.CSVFormat.TrailerLine = spec.TrailerLine

	sc.ProcessingOptions.Encoding = spec.Encoding
	sc.ProcessingOptions.SkipBlankLines = spec.SkipBlankLines
	sc.ProcessingOptions.StripWhitespace = spec.StripWhitespace

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}

	path := SidecarPath(csvPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads the sidecar for csvPath. A missing sidecar returns an
// error matching os.ErrNotExist.
func ReadSidecar(csvPath string) (Spec, error) {
	data, err := os.ReadFile(SidecarPath(csvPath))
	if err != nil {
		return Spec{}, fmt.Errorf("read sidecar: %w", err)
	}

	var sc sidecarFile
	if err := json.Unmarshal(data, &sc); err != nil {
		return Spec{}, fmt.Errorf("parse sidecar: %w", err)
	}
	if sc.FileInfo.FormatVersion != "" && sc.FileInfo.FormatVersion != FormatVersion {
		return Spec{}, fmt.Errorf("unsupported sidecar format_version %q", sc.FileInfo.FormatVersion)
	}

	spec := Spec{
		ColumnDelimiter: sc.CSVFormat.ColumnDelimiter,
		HeaderDelimiter: sc.CSVFormat.HeaderDelimiter,
		RowDelimiter:    sc.CSVFormat.RowDelimiter,
		TextQualifier:   sc.CSVFormat.TextQualifier,
		SkipLines:       sc.CSVFormat.SkipLines,
		HasHeader:       sc.CSVFormat.HasHeader,
		HasTrailer:      sc.CSVFormat.HasTrailer,
		TrailerLine:     sc.CSVFormat.TrailerLine,
		Encoding:        sc.ProcessingOptions.Encoding,
		SkipBlankLines:  sc.ProcessingOptions.SkipBlankLines,
		StripWhitespace: sc.ProcessingOptions.StripWhitespace,
		Confidence:      1,
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	if spec.ColumnDelimiter == "" {
		spec.ColumnDelimiter = ","
	}
	if spec.HeaderDelimiter == "" {
		spec.HeaderDelimiter = spec.ColumnDelimiter
	}
	if spec.RowDelimiter == "" {
		spec.RowDelimiter = csvread.LF
	}
	if spec.Encoding == "" {
		spec.Encoding = csvread.DefaultEncoding
	}
	return spec, nil
}

// ForFile returns the dialect of csvPath. An existing sidecar wins;
// otherwise the file is detected and the result saved as its sidecar. The
// Spec is always usable. The error reports a sidecar that could not be read
// or written.
func ForFile(csvPath string, sampleBytes int, now time.Time) (Spec, error) {
	spec, err := ReadSidecar(csvPath)
	if err == nil {
		return spec, nil
	}
	var problem error
	if !errors.Is(err, os.ErrNotExist) {
		problem = err
	}

	spec = Detect(csvPath, sampleBytes)
	if err := WriteSidecar(csvPath, spec, now); err != nil {
		problem = errors.Join(problem, err)
	}
	return spec, problem
}
