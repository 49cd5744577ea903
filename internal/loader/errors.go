package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/dropload/internal/schema"
	"github.com/JonMunkholm/dropload/internal/storage"
)

// ErrCanceled is returned when a job stops at a checkpoint because a cancel
// was requested. It is reported separately from failures.
var ErrCanceled = errors.New("canceled by user")

// ErrInvalidRequest is returned by Resolve for requests that cannot run.
var ErrInvalidRequest = errors.New("invalid load request")

// ValidationError is returned when the validation routine flags stage rows.
// The rows stay in the stage table for review.
type ValidationError struct {
	Stage  storage.Table
	Issues []storage.Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d invalid row(s) kept in %s", len(e.Issues), e.Stage)
}

// ConflictError is returned when schema conflicts abort a load.
type ConflictError struct {
	Table     storage.Table
	Conflicts []schema.Change
}

func (e *ConflictError) Error() string {
	cols := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		cols[i] = fmt.Sprintf("%s (%s -> %s)", c.Column, c.From, c.To)
	}
	return fmt.Sprintf("schema conflict on %s: %s", e.Table, strings.Join(cols, ", "))
}

// ConnectionError wraps a failure to reach the database.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "database connection: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError wraps a failure reading or moving the source file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
