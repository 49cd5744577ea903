// Package loader runs one file through the staged load pipeline:
// read, prepare the target schema, stage, validate, back up, transfer and
// archive.
//
// Every phase commits on its own. A failure or cancel after STAGING leaves
// the job's rows in the stage table; they are removed by the transfer of a
// later successful run or can be inspected by hand.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/dropload/internal/catalog"
	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/logging"
	"github.com/JonMunkholm/dropload/internal/progress"
	"github.com/JonMunkholm/dropload/internal/rules"
	"github.com/JonMunkholm/dropload/internal/schema"
	"github.com/JonMunkholm/dropload/internal/storage"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultSchema        = "public"
	DefaultSampleRows    = 1000
	DefaultDateThreshold = 0.8
	DefaultProgressEvery = 10

	maxReportedIssues = 20
	readCheckEvery    = 1000
	readReportStep    = 25 // percent of file bytes between READING messages
)

// Options configures a Loader.
type Options struct {
	DefaultSchema       string
	DefaultMode         Mode
	BatchSize           int // rows per INSERT, capped by storage.BatchRows
	ProgressEvery       int // batches between progress messages
	SampleRows          int
	DateThreshold       float64
	ValidationProcedure string // empty skips the CALL
	FailOnConflict      bool
	ArchiveDir          string // empty leaves loaded files in place
	FailedDir           string // empty leaves failed files in place
	Rules               *rules.Set
}

// Registrar records tables the loader creates or loads into.
type Registrar interface {
	Register(ctx context.Context, e catalog.Entry) error
}

// Request describes one load. Empty fields are resolved from the rules and
// the loader defaults.
type Request struct {
	Key       string // progress key, also stamped as the job id
	Path      string
	Format    format.Spec
	Mode      Mode
	Schema    string
	Table     string
	Reference bool
}

// Target returns the resolved destination table.
func (r Request) Target() storage.Table {
	return storage.Table{Schema: r.Schema, Name: r.Table}
}

// Message is one line of a job's progress stream.
type Message struct {
	Time  time.Time `json:"time"`
	Phase Phase     `json:"phase"`
	Text  string    `json:"text"`
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s", m.Phase, m.Text)
}

// Result summarizes a finished job. On failure it holds whatever the job
// completed before stopping.
type Result struct {
	Key         string        `json:"key"`
	JobID       string        `json:"job_id"`
	File        string        `json:"file"`
	Target      string        `json:"target"`
	Mode        Mode          `json:"mode"`
	Created     bool          `json:"created"`
	Diff        schema.Diff   `json:"diff"`
	TotalRows   int64         `json:"total_rows"`
	Staged      int64         `json:"staged"`
	Transferred int64         `json:"transferred"`
	BackupTable string        `json:"backup_table,omitempty"`
	BackedUp    int64         `json:"backed_up"`
	ArchivedTo  string        `json:"archived_to,omitempty"`
	FailedTo    string        `json:"failed_to,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Loader runs load jobs against a storage gateway.
type Loader struct {
	gateway   storage.Gateway
	tracker   *progress.Tracker
	registrar Registrar
	opts      Options
	now       func() time.Time
}

// New creates a Loader. registrar may be nil.
func New(gw storage.Gateway, tracker *progress.Tracker, registrar Registrar, opts Options) *Loader {
	if opts.DefaultSchema == "" {
		opts.DefaultSchema = DefaultSchema
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeAppend
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultSampleRows
	}
	if opts.DateThreshold <= 0 {
		opts.DateThreshold = DefaultDateThreshold
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Loader{
		gateway:   gw,
		tracker:   tracker,
		registrar: registrar,
		opts:      opts,
		now:       time.Now,
	}
}

// Resolve fills the table, schema and mode of req from the request itself,
// the first matching rule and the loader defaults, in that order.
func (l *Loader) Resolve(req Request) (Request, error) {
	rule, _ := l.opts.Rules.Match(req.Path)

	switch {
	case req.Table != "":
		req.Table = strings.ToLower(schema.SanitizeHeaders([]string{req.Table})[0])
	case rule.Table != "":
		req.Table = strings.ToLower(schema.SanitizeHeaders([]string{rule.Table})[0])
	default:
		req.Table = schema.TableNameFromFile(req.Path)
	}

	switch {
	case req.Schema != "":
	case rule.Schema != "":
		req.Schema = rule.Schema
	default:
		req.Schema = l.opts.DefaultSchema
	}

	if req.Mode == "" {
		req.Mode = Mode(rule.Mode)
	}
	if req.Mode == "" {
		req.Mode = l.opts.DefaultMode
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Mode = mode
	req.Reference = req.Reference || rule.Reference
	return req, nil
}

// Run executes one job. Messages are passed to emit as the job progresses;
// the last message of a failed job starts with "ERROR: ". The tracker entry
// for req.Key ends done, errored or canceled.
//
// When FailedDir is set, the file of a failed or user-canceled job is moved
// there with its sidecar. Connection failures and a canceled ctx leave it
// in place for the next attempt.
func (l *Loader) Run(ctx context.Context, req Request, emit func(Message)) (res *Result, err error) {
	if req.Key == "" {
		req.Key = uuid.NewString()
	}
	if emit == nil {
		emit = func(Message) {}
	}
	l.tracker.Init(req.Key)

	j := &job{
		l:       l,
		req:     req,
		key:     req.Key,
		emit:    emit,
		started: l.now(),
		res: &Result{
			Key:  req.Key,
			File: filepath.Base(req.Path),
		},
	}
	j.jobID = req.Key
	if len(j.jobID) > 36 {
		j.jobID = uuid.NewString()
	}
	j.res.JobID = j.jobID
	j.log = logging.Category(ctx, logging.CategoryLoader).With("job", req.Key, "file", j.res.File)

	defer func() {
		if r := recover(); r != nil {
			j.log.Error("panic in load job", "phase", j.phase, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
		if err != nil {
			j.quarantine(err)
		}
		j.res.Duration = l.now().Sub(j.started)
		j.finish(err)
		res = j.res
	}()

	if err := j.enter(ctx, PhaseInitializing); err != nil {
		return nil, err
	}
	if req, err = l.Resolve(req); err != nil {
		return nil, err
	}
	if err := req.Format.Validate(); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	j.req = req
	j.res.Target = req.Target().String()
	j.res.Mode = req.Mode
	j.log = j.log.With("table", req.Target().String())
	j.say("loading %s into %s (%s)", j.res.File, req.Target(), req.Mode)

	return nil, j.run(ctx)
}

type job struct {
	l       *Loader
	req     Request
	key     string
	jobID   string
	phase   Phase
	emit    func(Message)
	log     *slog.Logger
	started time.Time
	res     *Result
}

// plan is the column layout decided in SCHEMA PREP.
type plan struct {
	stageCols []string        // stage column per file column
	types     []string        // target type per file column, for value normalization
	transfer  []schema.Column // target columns fed from the stage
}

func (j *job) run(ctx context.Context) (err error) {
	target := j.req.Target()

	if err := j.enter(ctx, PhaseConnecting); err != nil {
		return err
	}
	sess, err := j.l.gateway.Acquire(ctx)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	overridden := false
	defer func() {
		if overridden && err != nil {
			if rerr := sess.ResetSearchPath(context.WithoutCancel(ctx)); rerr != nil {
				j.log.Warn("restore search path", "error", rerr)
			}
		}
		sess.Release()
	}()

	if err := sess.EnsureSchema(ctx, target.Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := sess.SetSearchPath(ctx, target.Schema); err != nil {
		return fmt.Errorf("set search path: %w", err)
	}
	overridden = true

	if err := j.enter(ctx, PhaseReading); err != nil {
		return err
	}
	names, sample, err := j.read(ctx)
	if err != nil {
		return err
	}
	if j.res.TotalRows == 0 {
		j.say("no data rows in file, nothing to load")
		return j.finalize(ctx)
	}

	if err := j.enter(ctx, PhaseSchemaPrep); err != nil {
		return err
	}
	p, err := j.prepareSchema(ctx, sess, names, sample)
	if err != nil {
		return err
	}

	if err := j.enter(ctx, PhaseStaging); err != nil {
		return err
	}
	stage := storage.Table{Schema: target.Schema, Name: storage.StageName(target.Name)}
	if err := j.stage(ctx, sess, stage, p); err != nil {
		return err
	}

	if err := j.enter(ctx, PhaseValidating); err != nil {
		return err
	}
	if err := j.validate(ctx, sess, stage); err != nil {
		return err
	}

	if j.req.Mode == ModeFull && !j.res.Created {
		if err := j.backup(ctx, sess); err != nil {
			return err
		}
	}

	if err := j.enter(ctx, PhaseTransferring); err != nil {
		return err
	}
	n, err := sess.Transfer(ctx, storage.TransferRequest{
		Stage:    stage,
		Target:   target,
		Columns:  p.transfer,
		JobID:    j.jobID,
		LoadType: string(j.req.Mode),
		LoadedAt: j.started,
	})
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	j.res.Transferred = n
	j.l.tracker.Update(j.key, progress.Fields{Inserted: progress.Int64(n)})
	j.say("transferred %d rows into %s", n, target)

	return j.finalize(ctx)
}

// read scans the whole file once: it counts data rows, keeps the inference
// sample and settles the column names.
func (j *job) read(ctx context.Context) ([]string, [][]string, error) {
	src, err := openRows(j.req.Path, j.req.Format)
	if err != nil {
		return nil, nil, &IOError{Path: j.req.Path, Err: err}
	}
	defer src.Close()

	header := src.Header()
	var (
		sample   [][]string
		total    int64
		width    = len(header)
		reported int
	)
	for {
		if total%readCheckEvery == 0 {
			if err := j.checkpoint(ctx); err != nil {
				return nil, nil, err
			}
			if pct := src.Progress(); total > 0 && pct >= reported+readReportStep {
				reported = pct - pct%readReportStep
				j.l.tracker.Update(j.key, progress.Fields{Percent: progress.Float64(float64(pct))})
				j.say("read %d rows, %d%% of file", total, pct)
			}
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, &IOError{Path: j.req.Path, Err: err}
		}
		total++

		if header != nil {
			if _, ok := fitRecord(rec, len(header)); !ok {
				return nil, nil, &IOError{
					Path: j.req.Path,
					Err:  fmt.Errorf("record %d has %d fields, header has %d", total, len(rec), len(header)),
				}
			}
		} else if len(rec) > width {
			width = len(rec)
		}
		if len(sample) < j.l.opts.SampleRows {
			sample = append(sample, rec)
		}
	}

	j.res.TotalRows = total
	j.l.tracker.Update(j.key, progress.Fields{Total: progress.Int64(total)})
	j.say("read %d data rows", total)

	return columnNames(rawNames(header, width)), sample, nil
}

// columnNames sanitizes raw headers and makes them unique, keeping clear of
// the workflow metadata columns.
func columnNames(raw []string) []string {
	names := append(append([]string{}, storage.ReservedColumns...), schema.SanitizeHeaders(raw)...)
	return schema.DeduplicateHeaders(names)[len(storage.ReservedColumns):]
}

// fitRecord pads rec to n fields or drops surplus trailing fields, which must
// be blank.
func fitRecord(rec []string, n int) ([]string, bool) {
	if len(rec) > n {
		for _, v := range rec[n:] {
			if strings.TrimSpace(v) != "" {
				return nil, false
			}
		}
		return rec[:n], true
	}
	for len(rec) < n {
		rec = append(rec, "")
	}
	return rec, true
}

func (j *job) prepareSchema(ctx context.Context, sess storage.Session, names []string, sample [][]string) (*plan, error) {
	target := j.req.Target()
	expected := schema.InferColumns(sample, names, j.l.opts.SampleRows, j.l.opts.DateThreshold)

	exists, err := sess.TableExists(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("check table: %w", err)
	}

	if !exists {
		if err := sess.CreateTable(ctx, target, expected); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
		j.res.Created = true
		j.res.Diff = schema.Diff{Added: expected}
		j.say("created table %s with %d columns", target, len(expected))
	} else {
		existing, err := sess.TableColumns(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("read columns: %w", err)
		}
		diff := schema.SyncSchema(existing, expected)
		j.res.Diff = diff

		for _, c := range diff.Conflicts {
			j.say("schema conflict: %s is %s, file suggests %s (%s); keeping %s", c.Column, c.From, c.To, c.Reason, c.From)
			j.log.Warn("schema conflict", "column", c.Column, "from", c.From, "to", c.To)
		}
		if len(diff.Conflicts) > 0 && j.l.opts.FailOnConflict {
			return nil, &ConflictError{Table: target, Conflicts: diff.Conflicts}
		}
		// A full load truncates before the transfer casts; a column the file
		// cannot fill would leave the table empty.
		if risks := diff.CastRisks(); j.req.Mode == ModeFull && len(risks) > 0 {
			j.say("full load stopped before staging, %s left untouched", target)
			return nil, &ConflictError{Table: target, Conflicts: risks}
		}

		if len(diff.Added) > 0 {
			if err := sess.AddColumns(ctx, target, diff.Added); err != nil {
				return nil, fmt.Errorf("add columns: %w", err)
			}
			j.say("added %d column(s) to %s", len(diff.Added), target)
		}
		if len(diff.Widened) > 0 {
			if err := sess.WidenColumns(ctx, target, diff.Widened); err != nil {
				return nil, fmt.Errorf("widen columns: %w", err)
			}
			for _, c := range diff.Widened {
				j.say("widened %s from %s to %s", c.Column, c.From, c.To)
			}
		}
		if err := sess.EnsureMetadataColumns(ctx, target); err != nil {
			return nil, fmt.Errorf("metadata columns: %w", err)
		}
	}

	current, err := sess.TableColumns(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	business := businessColumns(current)
	j.register(ctx, business)

	byName := make(map[string]schema.Column, len(business))
	for _, c := range business {
		byName[strings.ToLower(c.Name)] = c
	}

	p := &plan{
		stageCols: make([]string, len(names)),
		types:     make([]string, len(names)),
	}
	for i, n := range names {
		c, ok := byName[strings.ToLower(n)]
		if !ok {
			p.stageCols[i] = n
			continue
		}
		p.stageCols[i] = c.Name
		p.types[i] = c.Type
		p.transfer = append(p.transfer, c)
	}
	return p, nil
}

func businessColumns(cols []schema.Column) []schema.Column {
	reserved := make(map[string]bool, len(storage.ReservedColumns))
	for _, r := range storage.ReservedColumns {
		reserved[r] = true
	}
	out := make([]schema.Column, 0, len(cols))
	for _, c := range cols {
		if !reserved[strings.ToLower(c.Name)] {
			out = append(out, c)
		}
	}
	return out
}

// register records the table in the catalog. Catalog failures never fail
// the load.
func (j *job) register(ctx context.Context, cols []schema.Column) {
	if j.l.registrar == nil {
		return
	}
	err := j.l.registrar.Register(ctx, catalog.Entry{
		Schema:     j.req.Schema,
		Table:      j.req.Table,
		SourceFile: j.res.File,
		Reference:  j.req.Reference,
		Columns:    cols,
	})
	if err != nil {
		j.log.Warn("catalog registration failed", "error", err)
		j.say("warning: catalog registration failed: %v", err)
	}
}

func (j *job) stage(ctx context.Context, sess storage.Session, stage storage.Table, p *plan) error {
	if err := sess.EnsureStageTable(ctx, stage, p.stageCols); err != nil {
		return fmt.Errorf("stage table: %w", err)
	}

	src, err := openRows(j.req.Path, j.req.Format)
	if err != nil {
		return &IOError{Path: j.req.Path, Err: err}
	}
	defer src.Close()

	var (
		size    = storage.BatchRows(len(p.stageCols), j.l.opts.BatchSize)
		batch   = make([][]string, 0, size)
		seq     = int64(1)
		batches int
	)
	flush := func() error {
		if err := j.checkpoint(ctx); err != nil {
			return err
		}
		n, err := sess.InsertBatch(ctx, stage, p.stageCols, batch, j.jobID, seq)
		if err != nil {
			return fmt.Errorf("insert batch at row %d: %w", seq, err)
		}
		j.res.Staged += n
		seq += int64(len(batch))
		batch = batch[:0]
		batches++
		if batches%j.l.opts.ProgressEvery == 0 {
			j.l.tracker.Update(j.key, progress.Fields{Inserted: progress.Int64(j.res.Staged)})
			j.say("staged %d of %d rows", j.res.Staged, j.res.TotalRows)
		}
		return nil
	}

	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &IOError{Path: j.req.Path, Err: err}
		}
		rec, ok := fitRecord(rec, len(p.stageCols))
		if !ok {
			return &IOError{Path: j.req.Path, Err: fmt.Errorf("record %d has too many fields", seq+int64(len(batch)))}
		}
		row := make([]string, len(rec))
		for i, v := range rec {
			row[i] = schema.NormalizeValue(v, p.types[i])
		}
		batch = append(batch, row)
		if len(batch) == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return err
		}
	}

	j.l.tracker.Update(j.key, progress.Fields{Inserted: progress.Int64(j.res.Staged)})
	j.say("staged %d rows in %d batch(es) into %s", j.res.Staged, batches, stage)
	return nil
}

func (j *job) validate(ctx context.Context, sess storage.Session, stage storage.Table) error {
	issues, err := sess.RunValidation(ctx, j.l.opts.ValidationProcedure, stage, j.jobID)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if len(issues) == 0 {
		j.say("validation passed")
		return nil
	}

	for i, is := range issues {
		if i == maxReportedIssues {
			j.say("... and %d more invalid row(s)", len(issues)-maxReportedIssues)
			break
		}
		j.say("invalid row %d: %s", is.Seq, is.Detail)
	}
	return &ValidationError{Stage: stage, Issues: issues}
}

func (j *job) backup(ctx context.Context, sess storage.Session) error {
	target := j.req.Target()
	n, err := sess.CountRows(ctx, target)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if n == 0 {
		return nil
	}

	if err := j.enter(ctx, PhaseBackingUp); err != nil {
		return err
	}
	name, copied, err := sess.BackupRows(ctx, target, j.l.now())
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	j.res.BackupTable = name
	j.res.BackedUp = copied
	j.say("backed up %d rows to %s", copied, name)

	if err := sess.Truncate(ctx, target); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (j *job) finalize(ctx context.Context) error {
	if err := j.enter(ctx, PhaseFinalizing); err != nil {
		return err
	}
	if j.l.opts.ArchiveDir == "" {
		return nil
	}
	dest, err := archiveFile(j.req.Path, j.l.opts.ArchiveDir, j.l.now())
	if err != nil {
		return &IOError{Path: j.req.Path, Err: err}
	}
	j.res.ArchivedTo = dest
	j.say("archived to %s", dest)
	return nil
}

// quarantine moves the file of a failed job out of the drop folder so an
// unchanged file is not loaded again and again.
func (j *job) quarantine(err error) {
	var cerr *ConnectionError
	switch {
	case j.l.opts.FailedDir == "" || j.res.ArchivedTo != "":
		return
	case errors.As(err, &cerr):
		return
	case errors.Is(err, ErrCanceled) && !j.l.tracker.IsCanceled(j.key):
		return
	}
	if _, serr := os.Stat(j.req.Path); serr != nil {
		return
	}

	dest, merr := archiveFile(j.req.Path, j.l.opts.FailedDir, j.l.now())
	if merr != nil {
		j.log.Warn("move failed file", "error", merr)
		j.say("warning: could not move failed file: %v", merr)
		return
	}
	j.res.FailedTo = dest
	j.say("moved failed file to %s", dest)
}

// checkpoint stops the job when a cancel was requested or ctx is done.
func (j *job) checkpoint(ctx context.Context) error {
	if j.l.tracker.IsCanceled(j.key) {
		return ErrCanceled
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrCanceled
		}
		return fmt.Errorf("%s: %w", j.phase, err)
	}
	return nil
}

func (j *job) enter(ctx context.Context, p Phase) error {
	if err := j.checkpoint(ctx); err != nil {
		return err
	}
	j.phase = p
	j.l.tracker.Update(j.key, progress.Fields{Stage: progress.String(p.String())})
	j.log.Debug("phase", "phase", p.String())
	j.say("%s", p)
	return nil
}

func (j *job) say(format string, args ...any) {
	j.emit(Message{Time: j.l.now(), Phase: j.phase, Text: fmt.Sprintf(format, args...)})
}

func (j *job) finish(err error) {
	switch {
	case err == nil:
		j.l.tracker.MarkDone(j.key)
		j.say("done: %d rows loaded in %s", j.res.Transferred, j.res.Duration.Round(time.Millisecond))
		j.log.Info("load completed", "rows", j.res.Transferred, "duration", j.res.Duration)
	case errors.Is(err, ErrCanceled):
		j.l.tracker.MarkCanceled(j.key)
		j.say("CANCELED: %v", err)
		j.log.Info("load canceled", "phase", j.phase.String())
	default:
		j.l.tracker.MarkError(j.key, err.Error())
		j.say("ERROR: %v", err)
		j.log.Error("load failed", "phase", j.phase.String(), "error", err)
	}
}
