package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"

	"github.com/JonMunkholm/dropload/internal/config"
	"github.com/JonMunkholm/dropload/internal/schema"
)

// DBTX is the subset of pgx used by the session helpers.
// Satisfied by *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Postgres is a Gateway backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Acquire takes a connection from the pool for one job.
func (p *Postgres) Acquire(ctx context.Context) (Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, acquireError(err)
	}
	return &pgSession{conn: conn}, nil
}

// acquireError maps a pool acquire failure onto the package sentinels.
// pgxpool hands back puddle's closed-pool error as is.
func acquireError(err error) error {
	if errors.Is(err, puddle.ErrClosedPool) {
		return ErrPoolClosed
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}

type pgSession struct {
	conn *pgxpool.Conn

	// savedPath is the search_path before SetSearchPath; empty when no
	// override is active.
	savedPath string
}

func (s *pgSession) SetSearchPath(ctx context.Context, schemaName string) error {
	if schemaName == "" {
		return nil
	}
	if s.savedPath == "" {
		var current string
		if err := s.conn.QueryRow(ctx, "SHOW search_path").Scan(&current); err != nil {
			return fmt.Errorf("read search_path: %w", err)
		}
		s.savedPath = current
	}
	path := QuoteIdentifier(schemaName) + ", public"
	if _, err := s.conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", path); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	return nil
}

func (s *pgSession) ResetSearchPath(ctx context.Context) error {
	if s.savedPath == "" {
		return nil
	}
	if _, err := s.conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", s.savedPath); err != nil {
		return fmt.Errorf("restore search_path: %w", err)
	}
	s.savedPath = ""
	return nil
}

func (s *pgSession) EnsureSchema(ctx context.Context, schemaName string) error {
	if schemaName == "" {
		return nil
	}
	if _, err := s.conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdentifier(schemaName)); err != nil {
		return fmt.Errorf("create schema %s: %w", schemaName, err)
	}
	return nil
}

func (s *pgSession) TableExists(ctx context.Context, t Table) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, t.Schema, t.Name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", t, err)
	}
	return exists, nil
}

func (s *pgSession) TableColumns(ctx context.Context, t Table) ([]schema.Column, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT column_name, data_type,
		       COALESCE(character_maximum_length, -1),
		       COALESCE(numeric_precision, 0),
		       COALESCE(numeric_scale, 0),
		       ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", t, err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			name, dataType           string
			length, precision, scale int
			ordinal                  int
		)
		if err := rows.Scan(&name, &dataType, &length, &precision, &scale, &ordinal); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", t, err)
		}
		cols = append(cols, schema.Column{
			Name:    name,
			Type:    schema.NormalizeType(dataType, length, precision, scale),
			Ordinal: ordinal,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", t, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t)
	}
	return cols, nil
}

func (s *pgSession) CreateTable(ctx context.Context, t Table, cols []schema.Column) error {
	sql, err := createTableSQL(t, cols)
	if err != nil {
		return err
	}
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", t, err)
	}
	return nil
}

func (s *pgSession) AddColumns(ctx context.Context, t Table, cols []schema.Column) error {
	if len(cols) == 0 {
		return nil
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdentifier(c.Name) + " " + PostgresType(c.Type)
	}
	if _, err := s.conn.Exec(ctx, addColumnsSQL(t, defs)); err != nil {
		return fmt.Errorf("add columns to %s: %w", t, err)
	}
	return nil
}

func (s *pgSession) WidenColumns(ctx context.Context, t Table, changes []schema.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if _, err := s.conn.Exec(ctx, widenColumnsSQL(t, changes)); err != nil {
		return fmt.Errorf("widen columns of %s: %w", t, err)
	}
	return nil
}

func (s *pgSession) EnsureMetadataColumns(ctx context.Context, t Table) error {
	if _, err := s.conn.Exec(ctx, addColumnsSQL(t, metadataColumnDefs())); err != nil {
		return fmt.Errorf("add metadata columns to %s: %w", t, err)
	}
	return nil
}

func (s *pgSession) EnsureStageTable(ctx context.Context, stage Table, columns []string) error {
	if _, err := s.conn.Exec(ctx, stageTableSQL(stage)); err != nil {
		return fmt.Errorf("create stage table %s: %w", stage, err)
	}
	if _, err := s.conn.Exec(ctx, stageIndexSQL(stage)); err != nil {
		return fmt.Errorf("index stage table %s: %w", stage, err)
	}
	if len(columns) == 0 {
		return nil
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = QuoteIdentifier(c) + " text"
	}
	if _, err := s.conn.Exec(ctx, addColumnsSQL(stage, defs)); err != nil {
		return fmt.Errorf("add stage columns to %s: %w", stage, err)
	}
	return nil
}

func (s *pgSession) InsertBatch(ctx context.Context, stage Table, columns []string, rows [][]string, jobID string, firstSeq int64) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args, err := insertBatchSQL(stage, columns, rows, jobID, firstSeq)
	if err != nil {
		return 0, err
	}
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert batch into %s at row %d: %w", stage, firstSeq, err)
	}
	return tag.RowsAffected(), nil
}

// RunValidation calls procedure(stage_schema, stage_table, job_id) when one
// is configured, then returns the rows it marked invalid.
func (s *pgSession) RunValidation(ctx context.Context, procedure string, stage Table, jobID string) ([]Issue, error) {
	if procedure != "" {
		call := fmt.Sprintf("CALL %s($1, $2, $3)", QuoteQualified(procedure))
		if _, err := s.conn.Exec(ctx, call, stage.Schema, stage.Name, jobID); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidationProcedure, procedure, err)
		}
	}

	query := fmt.Sprintf(`SELECT %s, COALESCE(%s, '') FROM %s WHERE %s = $1 AND %s = $2 ORDER BY %s`,
		QuoteIdentifier(ColSeq), QuoteIdentifier(ColValidationDetail), stage,
		QuoteIdentifier(ColJobID), QuoteIdentifier(ColValidationStatus), QuoteIdentifier(ColSeq))
	rows, err := s.conn.Query(ctx, query, jobID, StatusInvalid)
	if err != nil {
		return nil, fmt.Errorf("query validation issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var is Issue
		if err := rows.Scan(&is.Seq, &is.Detail); err != nil {
			return nil, fmt.Errorf("scan validation issue: %w", err)
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

func (s *pgSession) CountRows(ctx context.Context, t Table) (int64, error) {
	var n int64
	if err := s.conn.QueryRow(ctx, "SELECT count(*) FROM "+t.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", t, err)
	}
	return n, nil
}

// BackupRows copies t into a timestamped table in the same schema.
func (s *pgSession) BackupRows(ctx context.Context, t Table, at time.Time) (string, int64, error) {
	backup := Table{Schema: t.Schema, Name: BackupName(t.Name, at)}
	tag, err := s.conn.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS TABLE %s", backup, t))
	if err != nil {
		return "", 0, fmt.Errorf("backup %s: %w", t, err)
	}
	return backup.Name, tag.RowsAffected(), nil
}

func (s *pgSession) Truncate(ctx context.Context, t Table) error {
	if _, err := s.conn.Exec(ctx, "TRUNCATE TABLE "+t.String()); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// Transfer inserts the job's stage rows into the target and removes them from
// the stage in one transaction.
func (s *pgSession) Transfer(ctx context.Context, req TransferRequest) (int64, error) {
	var moved int64
	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		n, err := transfer(ctx, tx, req)
		moved = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func transfer(ctx context.Context, db DBTX, req TransferRequest) (int64, error) {
	tag, err := db.Exec(ctx, transferSQL(req), req.LoadedAt, req.LoadType, req.JobID)
	if err != nil {
		return 0, fmt.Errorf("transfer %s to %s: %w", req.Stage, req.Target, err)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", req.Stage, QuoteIdentifier(ColJobID))
	if _, err := db.Exec(ctx, del, req.JobID); err != nil {
		return 0, fmt.Errorf("clear stage rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Release restores any search_path override and returns the connection.
func (s *pgSession) Release() {
	if s.savedPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.ResetSearchPath(ctx); err != nil {
			slog.Warn("failed to restore search_path, closing connection", "error", err)
			// A connection with a foreign search_path must not be reused.
			_ = s.conn.Conn().Close(ctx)
		}
		cancel()
	}
	s.conn.Release()
}
