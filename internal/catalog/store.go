// Package catalog records the tables dropload has discovered in a local
// SQLite database, so operators can see where each table came from.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JonMunkholm/dropload/internal/schema"
)

// ErrNotFound is returned by Get for unknown tables.
var ErrNotFound = errors.New("catalog entry not found")

// Entry describes one registered table.
type Entry struct {
	Schema     string          `json:"schema"`
	Table      string          `json:"table"`
	SourceFile string          `json:"source_file"`
	Reference  bool            `json:"reference"`
	Columns    []schema.Column `json:"columns"`
	FirstSeen  time.Time       `json:"first_seen"`
	LastSeen   time.Time       `json:"last_seen"`
}

type tableRow struct {
	ID         int64     `db:"id"`
	SchemaName string    `db:"schema_name"`
	TableName  string    `db:"table_name"`
	SourceFile string    `db:"source_file"`
	Reference  bool      `db:"is_reference"`
	FirstSeen  time.Time `db:"first_seen"`
	LastSeen   time.Time `db:"last_seen"`
}

type columnRow struct {
	Name    string `db:"name"`
	Type    string `db:"type"`
	Ordinal int    `db:"ordinal"`
}

// Store wraps a sqlx.DB connection to the SQLite catalog.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the catalog database at path and migrates
// its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", abs)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// SQLite allows one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS catalog_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		source_file TEXT NOT NULL DEFAULT '',
		is_reference BOOLEAN NOT NULL DEFAULT 0,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		UNIQUE (schema_name, table_name)
	);`,
	`CREATE TABLE IF NOT EXISTS catalog_columns (
		table_id INTEGER NOT NULL REFERENCES catalog_tables(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		PRIMARY KEY (table_id, name)
	);`,
}

func (s *Store) migrate(ctx context.Context) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute catalog statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// Register inserts or refreshes a table entry and replaces its columns.
// FirstSeen is kept from the original registration.
func (s *Store) Register(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Table) == "" {
		return errors.New("catalog entry needs a table name")
	}
	now := s.now().UTC()

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_tables (schema_name, table_name, source_file, is_reference, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (schema_name, table_name) DO UPDATE SET
				source_file = excluded.source_file,
				is_reference = excluded.is_reference,
				last_seen = excluded.last_seen`,
			e.Schema, e.Table, e.SourceFile, e.Reference, now, now)
		if err != nil {
			return fmt.Errorf("upsert catalog table: %w", err)
		}

		var id int64
		if err := tx.GetContext(ctx, &id, `SELECT id FROM catalog_tables WHERE schema_name = ? AND table_name = ?`, e.Schema, e.Table); err != nil {
			return fmt.Errorf("lookup catalog table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_columns WHERE table_id = ?`, id); err != nil {
			return fmt.Errorf("clear catalog columns: %w", err)
		}
		for _, c := range e.Columns {
			if _, err := tx.ExecContext(ctx, `INSERT INTO catalog_columns (table_id, name, type, ordinal) VALUES (?, ?, ?, ?)`,
				id, c.Name, c.Type, c.Ordinal); err != nil {
				return fmt.Errorf("insert catalog column %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// Get returns the entry for schema.table.
func (s *Store) Get(ctx context.Context, schemaName, table string) (*Entry, error) {
	var row tableRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM catalog_tables WHERE schema_name = ? AND table_name = ?`, schemaName, table)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, schemaName, table)
	}
	if err != nil {
		return nil, fmt.Errorf("select catalog table: %w", err)
	}
	return s.entry(ctx, row)
}

// List returns all entries ordered by schema and table.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows := []tableRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM catalog_tables ORDER BY schema_name, table_name`); err != nil {
		return nil, fmt.Errorf("select catalog tables: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := s.entry(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *Store) entry(ctx context.Context, row tableRow) (*Entry, error) {
	cols := []columnRow{}
	if err := s.db.SelectContext(ctx, &cols, `SELECT name, type, ordinal FROM catalog_columns WHERE table_id = ? ORDER BY ordinal`, row.ID); err != nil {
		return nil, fmt.Errorf("select catalog columns: %w", err)
	}
	e := &Entry{
		Schema:     row.SchemaName,
		Table:      row.TableName,
		SourceFile: row.SourceFile,
		Reference:  row.Reference,
		FirstSeen:  row.FirstSeen,
		LastSeen:   row.LastSeen,
		Columns:    make([]schema.Column, len(cols)),
	}
	for i, c := range cols {
		e.Columns[i] = schema.Column{Name: c.Name, Type: c.Type, Ordinal: c.Ordinal}
	}
	return e, nil
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
