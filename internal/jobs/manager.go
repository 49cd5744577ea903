// Package jobs runs load jobs in the background. It is the control surface
// used by the watcher, the HTTP API and the CLI: start a job, follow its
// messages, read its progress and cancel it.
//
// The manager caps concurrent jobs, runs jobs for the same target table one
// at a time and refuses a second job for a file that is already loading.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/logging"
	"github.com/JonMunkholm/dropload/internal/progress"
)

var (
	// ErrJobNotFound is returned for unknown or expired job keys.
	ErrJobNotFound = errors.New("job not found")
	// ErrAlreadyActive is returned when the file already has a running job.
	ErrAlreadyActive = errors.New("file is already being loaded")

	errAborted = errors.New("canceled while waiting for the target table")
)

// Defaults for zero Options fields.
const (
	DefaultTimeout   = 2 * time.Hour
	DefaultRetention = time.Hour

	maxHistory     = 1000
	listenerBuffer = 64
)

// Runner executes a single load. *loader.Loader implements it.
type Runner interface {
	Resolve(req loader.Request) (loader.Request, error)
	Run(ctx context.Context, req loader.Request, emit func(loader.Message)) (*loader.Result, error)
}

// Options configures a Manager.
type Options struct {
	MaxConcurrent int
	MaxWait       time.Duration // wait for a free slot before ErrTooManyJobs
	Timeout       time.Duration // per job
	Retention     time.Duration // how long finished jobs stay queryable
}

// Info summarizes a job for listings.
type Info struct {
	Key      string         `json:"key"`
	File     string         `json:"file"`
	Target   string         `json:"target"`
	Mode     loader.Mode    `json:"mode"`
	Started  time.Time      `json:"started"`
	Finished *time.Time     `json:"finished,omitempty"`
	Progress progress.State `json:"progress"`
	Error    string         `json:"error,omitempty"`
	Result   *loader.Result `json:"result,omitempty"`
}

// Manager owns the running and recently finished jobs.
type Manager struct {
	runner  Runner
	tracker *progress.Tracker
	limiter *Limiter
	locks   *tableLocks
	opts    Options
	now     func() time.Time

	mu    sync.RWMutex
	jobs  map[string]*activeJob
	paths map[string]string // claimed file path -> job key
}

type activeJob struct {
	key     string
	req     loader.Request
	cancel  context.CancelFunc
	started time.Time

	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	history   []loader.Message
	listeners []chan loader.Message
	closed    bool
	finished  time.Time
	result    *loader.Result
	err       error
}

// NewManager creates a Manager.
func NewManager(runner Runner, tracker *progress.Tracker, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Manager{
		runner:  runner,
		tracker: tracker,
		limiter: NewLimiter(opts.MaxConcurrent, opts.MaxWait),
		locks:   newTableLocks(),
		opts:    opts,
		now:     time.Now,
		jobs:    make(map[string]*activeJob),
		paths:   make(map[string]string),
	}
}

// StartJob starts loading req.Path in the background and returns the job key
// and a channel of progress messages. When its reader falls behind, the
// channel drops the oldest unread messages, never the final one. It is
// closed when the job ends.
//
// Returns ErrAlreadyActive if the file is already loading and ErrTooManyJobs
// if no slot frees up in time.
func (m *Manager) StartJob(ctx context.Context, req loader.Request) (string, <-chan loader.Message, error) {
	req, err := m.runner.Resolve(req)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Clean(req.Path)
	key := uuid.NewString()

	m.mu.Lock()
	if owner, ok := m.paths[path]; ok {
		m.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s (job %s)", ErrAlreadyActive, path, owner)
	}
	m.paths[path] = key
	m.mu.Unlock()

	if err := m.limiter.Acquire(ctx); err != nil {
		m.unclaim(path, key)
		return "", nil, err
	}

	req.Key = key
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.Timeout)
	j := &activeJob{
		key:     key,
		req:     req,
		cancel:  cancel,
		started: m.now(),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	ch := j.subscribe()

	m.tracker.Init(key)
	m.mu.Lock()
	m.jobs[key] = j
	m.mu.Unlock()

	go m.run(jobCtx, j)
	return key, ch, nil
}

func (m *Manager) run(ctx context.Context, j *activeJob) {
	log := logging.Category(ctx, logging.CategoryJobs).With("job", j.key, "file", j.req.Path)

	var (
		res *loader.Result
		err error
	)
	// finish runs last so Result and Wait observe a released slot.
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in load job", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
			m.tracker.MarkError(j.key, err.Error())
			j.notify(loader.Message{Time: m.now(), Text: "ERROR: " + err.Error()})
		}
		m.finish(j, res, err)
	}()
	defer m.limiter.Release()
	defer j.cancel()

	table := j.req.Target().String()
	if m.locks.Held(table) {
		j.notify(loader.Message{Time: m.now(), Text: "waiting for another job loading " + table})
	}
	if err = m.locks.Lock(ctx, table, j.abort); err != nil {
		if errors.Is(err, errAborted) || errors.Is(err, context.Canceled) {
			err = loader.ErrCanceled
			m.tracker.MarkCanceled(j.key)
			j.notify(loader.Message{Time: m.now(), Text: "CANCELED: " + err.Error()})
			return
		}
		m.tracker.MarkError(j.key, err.Error())
		j.notify(loader.Message{Time: m.now(), Text: "ERROR: " + err.Error()})
		return
	}
	defer m.locks.Unlock(table)

	log.Info("job started", "table", table)
	res, err = m.runner.Run(ctx, j.req, j.notify)
}

func (m *Manager) finish(j *activeJob, res *loader.Result, err error) {
	j.mu.Lock()
	j.result = res
	j.err = err
	j.finished = m.now()
	j.mu.Unlock()

	j.closeListeners()
	close(j.done)
	m.unclaim(filepath.Clean(j.req.Path), j.key)
	m.cleanup(j.key, m.opts.Retention)
}

// cleanup forgets the job after a delay.
func (m *Manager) cleanup(key string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.jobs, key)
		m.mu.Unlock()
		m.tracker.Remove(key)
	})
}

func (m *Manager) unclaim(path, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths[path] == key {
		delete(m.paths, path)
	}
}

func (m *Manager) job(key string) (*activeJob, error) {
	m.mu.RLock()
	j, ok := m.jobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	return j, nil
}

// Progress returns the tracker state of a job.
func (m *Manager) Progress(key string) progress.Snapshot {
	return m.tracker.Get(key)
}

// Cancel asks a job to stop at its next checkpoint. A job still waiting for
// its table stops right away.
func (m *Manager) Cancel(key string) error {
	j, err := m.job(key)
	if err != nil {
		return err
	}
	m.tracker.RequestCancel(key)
	j.abortOnce.Do(func() { close(j.abort) })
	return nil
}

// Subscribe returns a channel that replays the job's messages so far and
// then follows new ones. It is closed when the job ends.
func (m *Manager) Subscribe(key string) (<-chan loader.Message, error) {
	j, err := m.job(key)
	if err != nil {
		return nil, err
	}
	return j.subscribe(), nil
}

// Result blocks until the job ends and returns its result and error.
func (m *Manager) Result(ctx context.Context, key string) (*loader.Result, error) {
	j, err := m.job(key)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// IsActive reports whether path is claimed by a job that has not finished.
func (m *Manager) IsActive(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.paths[filepath.Clean(path)]
	return ok
}

// Jobs lists known jobs, oldest first.
func (m *Manager) Jobs() []Info {
	m.mu.RLock()
	jobs := make([]*activeJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, m.info(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Started.Equal(out[b].Started) {
			return out[a].Key < out[b].Key
		}
		return out[a].Started.Before(out[b].Started)
	})
	return out
}

// Job returns the listing entry of one job.
func (m *Manager) Job(key string) (Info, error) {
	j, err := m.job(key)
	if err != nil {
		return Info{}, err
	}
	return m.info(j), nil
}

func (m *Manager) info(j *activeJob) Info {
	info := Info{
		Key:      j.key,
		File:     filepath.Base(j.req.Path),
		Target:   j.req.Target().String(),
		Mode:     j.req.Mode,
		Started:  j.started,
		Progress: m.tracker.Get(j.key).State,
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.finished.IsZero() {
		finished := j.finished
		info.Finished = &finished
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	info.Result = j.result
	return info
}

// Status returns the concurrency limiter state.
func (m *Manager) Status() LimiterStatus {
	return m.limiter.Status()
}

// Wait blocks until every running job has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	return m.limiter.WaitForDrain(ctx)
}

// notify records msg and sends it to every listener.
func (j *activeJob) notify(msg loader.Message) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	if len(j.history) == maxHistory {
		j.history = append(j.history[:0], j.history[1:]...)
	}
	j.history = append(j.history, msg)

	for _, ch := range j.listeners {
		send(ch, msg)
	}
}

// send delivers msg without blocking. A full listener loses its oldest
// unread message instead, so the last message of a job always arrives.
// Callers hold j.mu, which makes them the only sender.
func send(ch chan loader.Message, msg loader.Message) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (j *activeJob) subscribe() <-chan loader.Message {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan loader.Message, len(j.history)+listenerBuffer)
	for _, msg := range j.history {
		ch <- msg
	}
	if j.closed {
		close(ch)
		return ch
	}
	j.listeners = append(j.listeners, ch)
	return ch
}

// closeListeners closes all listener channels.
func (j *activeJob) closeListeners() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
}
