package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/dropload/internal/schema"
)

// Preview is what a load of a file would do to its target, computed from
// the head of the file.
type Preview struct {
	Request  Request         `json:"request"`
	Sampled  int             `json:"sampled_rows"`
	Columns  []schema.Column `json:"columns"`
	Exists   bool            `json:"exists"`
	Existing []schema.Column `json:"existing,omitempty"`
	Diff     schema.Diff     `json:"diff"`
}

// Preview resolves req, infers column types from up to SampleRows records
// and diffs them against the target table. It only reads from the database
// and never touches the file's sidecar or location.
func (l *Loader) Preview(ctx context.Context, req Request) (*Preview, error) {
	req, err := l.Resolve(req)
	if err != nil {
		return nil, err
	}
	if err := req.Format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: format: %v", ErrInvalidRequest, err)
	}

	names, sample, err := l.sample(req)
	if err != nil {
		return nil, err
	}
	p := &Preview{
		Request: req,
		Sampled: len(sample),
		Columns: schema.InferColumns(sample, names, l.opts.SampleRows, l.opts.DateThreshold),
	}

	sess, err := l.gateway.Acquire(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer sess.Release()

	target := req.Target()
	if p.Exists, err = sess.TableExists(ctx, target); err != nil {
		return nil, fmt.Errorf("check table: %w", err)
	}
	if !p.Exists {
		p.Diff = schema.Diff{Added: p.Columns}
		return p, nil
	}
	existing, err := sess.TableColumns(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	p.Existing = businessColumns(existing)
	p.Diff = schema.SyncSchema(existing, p.Columns)
	return p, nil
}

// sample reads the column names and the first SampleRows records of
// req.Path.
func (l *Loader) sample(req Request) ([]string, [][]string, error) {
	src, err := openRows(req.Path, req.Format)
	if err != nil {
		return nil, nil, &IOError{Path: req.Path, Err: err}
	}
	defer src.Close()

	header := src.Header()
	width := len(header)
	var sample [][]string
	for len(sample) < l.opts.SampleRows {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, &IOError{Path: req.Path, Err: err}
		}
		if header != nil {
			if rec, _ = fitRecord(rec, len(header)); rec == nil {
				return nil, nil, &IOError{
					Path: req.Path,
					Err:  fmt.Errorf("record %d has more fields than the header", len(sample)+1),
				}
			}
		} else if len(rec) > width {
			width = len(rec)
		}
		sample = append(sample, rec)
	}

	return columnNames(rawNames(header, width)), sample, nil
}
