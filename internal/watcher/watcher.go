// Package watcher polls the drop directory and starts a load for every CSV
// file that has stopped changing.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/logging"
)

// Defaults for zero Options fields.
const (
	DefaultInterval    = 15 * time.Second
	DefaultThreshold   = 6
	DefaultIdleHorizon = time.Hour
)

// Dispatcher starts load jobs. *jobs.Manager implements it.
type Dispatcher interface {
	StartJob(ctx context.Context, req loader.Request) (string, <-chan loader.Message, error)
	IsActive(path string) bool
}

// Options configures a Watcher.
type Options struct {
	DropDir     string
	Interval    time.Duration
	Threshold   int           // consecutive unchanged polls before dispatch
	IdleHorizon time.Duration // drop entries unchanged this long without reaching Threshold
	SampleBytes int           // detection sample size, 0 uses the format default
}

// Watcher scans DropDir on every poll.
type Watcher struct {
	jobs    Dispatcher
	opts    Options
	tracker *Tracker
	now     func() time.Time
}

// New creates a Watcher.
func New(jobs Dispatcher, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.IdleHorizon <= 0 {
		opts.IdleHorizon = DefaultIdleHorizon
	}
	return &Watcher{
		jobs:    jobs,
		opts:    opts,
		tracker: NewTracker(),
		now:     time.Now,
	}
}

// Tracked returns the files currently being watched.
func (w *Watcher) Tracked() []Entry {
	return w.tracker.Entries()
}

// Run polls until ctx is done. A failed poll is logged and the loop goes on.
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.Category(ctx, logging.CategoryWatcher)
	log.Info("watching drop directory",
		"dir", w.opts.DropDir,
		"interval", w.opts.Interval,
		"threshold", w.opts.Threshold,
	)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.safePoll(ctx); err != nil {
			log.Error("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) safePoll(ctx context.Context) (started []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during poll: %v", r)
		}
	}()
	return w.Poll(ctx, w.now())
}

// Poll scans the drop directory once and returns the keys of the jobs it
// started.
func (w *Watcher) Poll(ctx context.Context, now time.Time) ([]string, error) {
	log := logging.Category(ctx, logging.CategoryWatcher)

	dirEntries, err := os.ReadDir(w.opts.DropDir)
	if err != nil {
		return nil, fmt.Errorf("scan drop directory: %w", err)
	}

	seen := make(map[string]bool, len(dirEntries))
	var started []string

	for _, de := range dirEntries {
		if de.IsDir() || !isCSV(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		path := filepath.Join(w.opts.DropDir, de.Name())
		seen[path] = true

		if w.jobs.IsActive(path) {
			w.tracker.Remove(path)
			continue
		}

		curr := Observation{Size: info.Size(), ModTime: info.ModTime()}
		entry := w.tracker.Observe(path, curr, now)

		if Stable(entry.StableCount, w.opts.Threshold) {
			key, err := w.dispatch(ctx, path, now)
			if err != nil {
				// Stay tracked; the next poll tries again.
				log.Warn("could not start load", "file", path, "error", err)
				continue
			}
			w.tracker.Remove(path)
			started = append(started, key)
			continue
		}

		if now.Sub(entry.LastChange) > w.opts.IdleHorizon {
			log.Warn("file never settled, dropping it", "file", path, "last_change", entry.LastChange)
			w.tracker.Remove(path)
		}
	}

	w.tracker.Retain(seen)
	return started, nil
}

// dispatch starts the job for path using its sidecar, detecting and
// saving one first when needed.
func (w *Watcher) dispatch(ctx context.Context, path string, now time.Time) (string, error) {
	log := logging.Category(ctx, logging.CategoryWatcher).With("file", path)

	spec, err := format.ForFile(path, w.opts.SampleBytes, now)
	if err != nil {
		log.Warn("sidecar problem", "error", err)
	}
	if spec.Degraded {
		log.Warn("format detection degraded", "note", spec.Note)
	}

	key, _, err := w.jobs.StartJob(ctx, loader.Request{Path: path, Format: spec})
	if err != nil {
		return "", err
	}
	log.Info("load started", "job", key, "delimiter", spec.ColumnDelimiter, "encoding", spec.Encoding)
	return key, nil
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv") && !format.IsSidecar(name)
}

// Observation is what one poll sees of a file.
type Observation struct {
	Size    int64
	ModTime time.Time
}

// Observe applies a new observation to a stability count. An unchanged file
// gains one; a changed file starts over at one. The second result reports
// whether the file changed.
func Observe(prev, curr Observation, count int) (int, bool) {
	if prev.Size == curr.Size && prev.ModTime.Equal(curr.ModTime) {
		return count + 1, false
	}
	return 1, true
}

// Stable reports whether count has reached threshold.
func Stable(count, threshold int) bool {
	return count >= threshold
}

// Entry is the tracking state of one file.
type Entry struct {
	Path string
	Observation
	StableCount int
	FirstSeen   time.Time
	LastChange  time.Time
	LastCheck   time.Time
}

// Tracker holds the files seen by recent polls.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// Observe records curr for path and returns the updated entry. A path seen
// for the first time starts with a count of one.
func (t *Tracker) Observe(path string, curr Observation, now time.Time) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[path]
	if !ok {
		e = &Entry{
			Path:        path,
			Observation: curr,
			StableCount: 1,
			FirstSeen:   now,
			LastChange:  now,
			LastCheck:   now,
		}
		t.entries[path] = e
		return *e
	}

	count, changed := Observe(e.Observation, curr, e.StableCount)
	e.StableCount = count
	e.LastCheck = now
	if changed {
		e.Observation = curr
		e.LastChange = now
	}
	return *e
}

// Remove stops tracking path.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, path)
}

// Retain drops every entry whose path is not in keep.
func (t *Tracker) Retain(keep map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path := range t.entries {
		if !keep[path] {
			delete(t.entries, path)
		}
	}
}

// Get returns the entry for path.
func (t *Tracker) Get(path string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a copy of all entries sorted by path.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	t.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out
}
