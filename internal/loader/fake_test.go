package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/dropload/internal/catalog"
	"github.com/JonMunkholm/dropload/internal/schema"
	"github.com/JonMunkholm/dropload/internal/storage"
)

// fakeDB is an in-memory stand-in for PostgreSQL that records every call.
type fakeDB struct {
	mu sync.Mutex

	tables   map[string][]schema.Column
	rowCount map[string]int64
	staged   map[string][][]string
	issues   []storage.Issue

	acquireErr error
	failOn     map[string]error
	onInsert   func(batch int)

	calls      []string
	searchPath string
	released   int
	transfers  []storage.TransferRequest
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tables:   make(map[string][]schema.Column),
		rowCount: make(map[string]int64),
		staged:   make(map[string][][]string),
		failOn:   make(map[string]error),
	}
}

func (db *fakeDB) Acquire(ctx context.Context) (storage.Session, error) {
	if db.acquireErr != nil {
		return nil, db.acquireErr
	}
	return &fakeSession{db: db}, nil
}

func (db *fakeDB) called(name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range db.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (db *fakeDB) callOrder() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.calls...)
}

// seedTable creates a table with rows already in it.
func (db *fakeDB) seedTable(t storage.Table, rows int64, cols ...schema.Column) {
	db.tables[t.String()] = cols
	db.rowCount[t.String()] = rows
}

type fakeSession struct {
	db *fakeDB
}

func (s *fakeSession) record(name string) error {
	s.db.calls = append(s.db.calls, name)
	return s.db.failOn[name]
}

func (s *fakeSession) SetSearchPath(ctx context.Context, schemaName string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("SetSearchPath"); err != nil {
		return err
	}
	s.db.searchPath = schemaName
	return nil
}

func (s *fakeSession) ResetSearchPath(ctx context.Context) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.searchPath = ""
	return s.record("ResetSearchPath")
}

func (s *fakeSession) EnsureSchema(ctx context.Context, schemaName string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.record("EnsureSchema")
}

func (s *fakeSession) TableExists(ctx context.Context, t storage.Table) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("TableExists"); err != nil {
		return false, err
	}
	_, ok := s.db.tables[t.String()]
	return ok, nil
}

func (s *fakeSession) TableColumns(ctx context.Context, t storage.Table) ([]schema.Column, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("TableColumns"); err != nil {
		return nil, err
	}
	cols, ok := s.db.tables[t.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, t)
	}
	return append([]schema.Column(nil), cols...), nil
}

func (s *fakeSession) CreateTable(ctx context.Context, t storage.Table, cols []schema.Column) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("CreateTable"); err != nil {
		return err
	}
	created := make([]schema.Column, len(cols))
	for i, c := range cols {
		c.Name = pgName(c.Name)
		created[i] = c
	}
	s.db.tables[pgTable(t)] = withMetadata(created)
	return nil
}

func (s *fakeSession) AddColumns(ctx context.Context, t storage.Table, cols []schema.Column) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("AddColumns"); err != nil {
		return err
	}
	for _, c := range cols {
		c.Name = pgName(c.Name)
		s.db.tables[pgTable(t)] = append(s.db.tables[pgTable(t)], c)
	}
	return nil
}

func (s *fakeSession) WidenColumns(ctx context.Context, t storage.Table, changes []schema.Change) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("WidenColumns"); err != nil {
		return err
	}
	cols := s.db.tables[t.String()]
	for _, ch := range changes {
		for i := range cols {
			if strings.EqualFold(cols[i].Name, ch.Column) {
				cols[i].Type = ch.To
			}
		}
	}
	return nil
}

func (s *fakeSession) EnsureMetadataColumns(ctx context.Context, t storage.Table) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("EnsureMetadataColumns"); err != nil {
		return err
	}
	s.db.tables[t.String()] = withMetadata(s.db.tables[t.String()])
	return nil
}

func (s *fakeSession) EnsureStageTable(ctx context.Context, stage storage.Table, columns []string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.record("EnsureStageTable")
}

func (s *fakeSession) InsertBatch(ctx context.Context, stage storage.Table, columns []string, rows [][]string, jobID string, firstSeq int64) (int64, error) {
	s.db.mu.Lock()
	if err := s.record("InsertBatch"); err != nil {
		s.db.mu.Unlock()
		return 0, err
	}
	key := stage.String() + "/" + jobID
	s.db.staged[key] = append(s.db.staged[key], rows...)
	batch := len(s.db.staged[key])
	hook := s.db.onInsert
	s.db.mu.Unlock()

	if hook != nil {
		hook(batch)
	}
	return int64(len(rows)), nil
}

func (s *fakeSession) RunValidation(ctx context.Context, procedure string, stage storage.Table, jobID string) ([]storage.Issue, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("RunValidation"); err != nil {
		return nil, err
	}
	return s.db.issues, nil
}

func (s *fakeSession) CountRows(ctx context.Context, t storage.Table) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("CountRows"); err != nil {
		return 0, err
	}
	return s.db.rowCount[t.String()], nil
}

func (s *fakeSession) BackupRows(ctx context.Context, t storage.Table, at time.Time) (string, int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("BackupRows"); err != nil {
		return "", 0, err
	}
	return storage.BackupName(t.Name, at), s.db.rowCount[t.String()], nil
}

func (s *fakeSession) Truncate(ctx context.Context, t storage.Table) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("Truncate"); err != nil {
		return err
	}
	s.db.rowCount[t.String()] = 0
	return nil
}

func (s *fakeSession) Transfer(ctx context.Context, req storage.TransferRequest) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.record("Transfer"); err != nil {
		return 0, err
	}
	key := req.Stage.String() + "/" + req.JobID
	n := int64(len(s.db.staged[key]))
	delete(s.db.staged, key)
	s.db.rowCount[req.Target.String()] += n
	s.db.transfers = append(s.db.transfers, req)
	return n, nil
}

func (s *fakeSession) Release() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.released++
}

// pgName cuts an identifier the way PostgreSQL does on CREATE and ALTER.
// Lookups through information_schema compare the full literal, so a name
// longer than 63 bytes is created under one name and searched under another.
func pgName(name string) string {
	if len(name) > 63 {
		return name[:63]
	}
	return name
}

func pgTable(t storage.Table) string {
	return storage.Table{Schema: t.Schema, Name: pgName(t.Name)}.String()
}

func withMetadata(cols []schema.Column) []schema.Column {
	out := append([]schema.Column(nil), cols...)
	have := make(map[string]bool, len(out))
	for _, c := range out {
		have[c.Name] = true
	}
	for _, name := range []string{storage.ColLoadTimestamp, storage.ColLoadType, storage.ColJobID} {
		if !have[name] {
			out = append(out, schema.Column{Name: name, Type: "varchar(max)", Ordinal: len(out) + 1})
		}
	}
	return out
}

type fakeRegistrar struct {
	mu      sync.Mutex
	entries []catalog.Entry
	err     error
}

func (r *fakeRegistrar) Register(ctx context.Context, e catalog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}
