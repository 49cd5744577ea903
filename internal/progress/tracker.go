// Package progress tracks the state of running ingestion jobs.
//
// A Tracker is created once by the host process and shared by every job and
// every status caller. Jobs report through Update and the terminal helpers;
// status callers read through Get. Cancellation is cooperative: RequestCancel
// only raises a flag, and the job polls IsCanceled at its own checkpoints.
package progress

import (
	"sort"
	"sync"
)

// Stage labels used by the terminal helpers.
const (
	StageStarting  = "starting"
	StageCompleted = "completed"
	StageError     = "error"
	StageCanceled  = "canceled"
)

// State is the progress of one job.
type State struct {
	Inserted int64   `json:"inserted"`
	Total    *int64  `json:"total"`
	Percent  float64 `json:"percent"`
	Stage    string  `json:"stage"`
	Done     bool    `json:"done"`
	Error    *string `json:"error"`
	Canceled bool    `json:"canceled"`
}

// Snapshot is the result of Get. Found is false for unknown keys, in which
// case State holds zero values.
type Snapshot struct {
	Found bool `json:"found"`
	State
}

// Fields is a partial update. Nil fields are left untouched.
type Fields struct {
	Inserted *int64
	Total    *int64
	Percent  *float64
	Stage    *string
	Done     *bool
	Error    *string
}

// Int64 returns a pointer to v, for building Fields.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v, for building Fields.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v, for building Fields.
func String(v string) *string { return &v }

// Tracker is a mutex-guarded keyed store of job states and cancel flags.
// The zero value is not usable; create one with NewTracker.
type Tracker struct {
	mu       sync.Mutex
	states   map[string]*State
	canceled map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states:   make(map[string]*State),
		canceled: make(map[string]bool),
	}
}

func newState() *State {
	return &State{Stage: StageStarting}
}

// Init resets key to the zeroed starting state. A pending cancel request for
// the key is kept so that a cancel issued before the job starts still applies.
func (t *Tracker) Init(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := newState()
	st.Canceled = t.canceled[key]
	t.states[key] = st
}

// Update merges fields into the state for key, creating it if needed.
//
// Percent is recomputed as inserted/total*100 only when both are known and
// total is positive; otherwise the previous percent is kept.
func (t *Tracker) Update(key string, f Fields) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(key)
	if f.Inserted != nil {
		st.Inserted = *f.Inserted
	}
	if f.Total != nil {
		total := *f.Total
		st.Total = &total
	}
	if f.Percent != nil {
		st.Percent = *f.Percent
	}
	if f.Stage != nil {
		st.Stage = *f.Stage
	}
	if f.Done != nil {
		st.Done = *f.Done
	}
	if f.Error != nil {
		msg := *f.Error
		st.Error = &msg
	}
	if st.Total != nil && *st.Total > 0 {
		st.Percent = float64(st.Inserted) / float64(*st.Total) * 100
	}
	st.Canceled = t.canceled[key]
}

// Get returns a copy of the state for key.
func (t *Tracker) Get(key string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[key]
	if !ok {
		return Snapshot{}
	}
	cp := *st
	if st.Total != nil {
		total := *st.Total
		cp.Total = &total
	}
	if st.Error != nil {
		msg := *st.Error
		cp.Error = &msg
	}
	return Snapshot{Found: true, State: cp}
}

// MarkError records a terminal failure.
func (t *Tracker) MarkError(key, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(key)
	st.Done = true
	st.Stage = StageError
	st.Error = &message
	st.Canceled = t.canceled[key]
}

// MarkDone records successful completion.
func (t *Tracker) MarkDone(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(key)
	st.Done = true
	st.Stage = StageCompleted
	st.Percent = 100
	st.Canceled = t.canceled[key]
}

// MarkCanceled records that the job stopped because of a cancel request.
func (t *Tracker) MarkCanceled(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.canceled[key] = true
	st := t.stateLocked(key)
	st.Done = true
	st.Stage = StageCanceled
	st.Canceled = true
}

// RequestCancel raises the cancel flag for key. It never interrupts the job.
func (t *Tracker) RequestCancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.canceled[key] = true
	if st, ok := t.states[key]; ok {
		st.Canceled = true
	}
}

// IsCanceled reports whether a cancel was requested for key.
func (t *Tracker) IsCanceled(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled[key]
}

// Remove forgets key entirely.
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
	delete(t.canceled, key)
}

// Keys returns all tracked keys in sorted order.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.states))
	for k := range t.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Tracker) stateLocked(key string) *State {
	st, ok := t.states[key]
	if !ok {
		st = newState()
		t.states[key] = st
	}
	return st
}
