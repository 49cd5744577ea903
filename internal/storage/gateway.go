// Package storage is the database side of a load: schema inspection, DDL,
// batched staging inserts, validation and the stage-to-target transfer.
//
// A Gateway hands out Sessions. Each job holds one Session (one pooled
// connection) for its whole run and releases it when done.
package storage

import (
	"context"
	"time"

	"github.com/JonMunkholm/dropload/internal/schema"
)

// Table is a schema-qualified table name.
type Table struct {
	Schema string
	Name   string
}

// String returns the quoted, qualified name.
func (t Table) String() string {
	if t.Schema == "" {
		return QuoteIdentifier(t.Name)
	}
	return QuoteIdentifier(t.Schema) + "." + QuoteIdentifier(t.Name)
}

// Issue is one row the validation routine rejected.
type Issue struct {
	Seq    int64  `json:"seq"`
	Detail string `json:"detail"`
}

// TransferRequest moves one job's validated stage rows into the target.
type TransferRequest struct {
	Stage    Table
	Target   Table
	Columns  []schema.Column // target columns also present in the stage table
	JobID    string
	LoadType string
	LoadedAt time.Time
}

// Gateway acquires database sessions.
type Gateway interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session is a single connection used by one job.
type Session interface {
	// SetSearchPath puts schema first on the search path until
	// ResetSearchPath or Release.
	SetSearchPath(ctx context.Context, schema string) error
	ResetSearchPath(ctx context.Context) error

	EnsureSchema(ctx context.Context, schema string) error
	TableExists(ctx context.Context, t Table) (bool, error)
	TableColumns(ctx context.Context, t Table) ([]schema.Column, error)
	CreateTable(ctx context.Context, t Table, cols []schema.Column) error
	AddColumns(ctx context.Context, t Table, cols []schema.Column) error
	WidenColumns(ctx context.Context, t Table, changes []schema.Change) error
	EnsureMetadataColumns(ctx context.Context, t Table) error

	EnsureStageTable(ctx context.Context, stage Table, columns []string) error
	InsertBatch(ctx context.Context, stage Table, columns []string, rows [][]string, jobID string, firstSeq int64) (int64, error)
	RunValidation(ctx context.Context, procedure string, stage Table, jobID string) ([]Issue, error)

	CountRows(ctx context.Context, t Table) (int64, error)
	BackupRows(ctx context.Context, t Table, at time.Time) (string, int64, error)
	Truncate(ctx context.Context, t Table) error
	Transfer(ctx context.Context, req TransferRequest) (int64, error)

	Release()
}
