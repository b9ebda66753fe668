// Package task implements the gateway's async task manager: the
// long-running counterpart to driver calls that return instead of
// blocking a request, grounded on the teacher's fs/rc/jobs (an
// ID-keyed job map with Stop funcs and timed expiry) and generalized
// with pause/resume, progress/speed/ETA tracking, parent/child tasks
// and a bounded per-driver worker pool the way
// original_source/src/task/manager.rs's TaskManager does.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Kind identifies what an async task does.
type Kind string

const (
	KindUpload  Kind = "upload"
	KindCopy    Kind = "copy"
	KindMove    Kind = "move"
	KindDelete  Kind = "delete"
	KindExtract Kind = "extract"
)

// State is a task's position in its lifecycle state machine:
// Pending -> Running -> (Paused <-> Running)* -> terminal.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether s is one of the end states.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// CancelCleanupError is what a RunFunc should return when it was
// cancelled and the cleanup it ran in response (aborting or deleting a
// partial write) itself failed. A cancelled task only reaches
// StateCancelled once its cleanup has succeeded; a cleanup failure
// must surface as StateFailed instead, since the driver may have been
// left holding a partial file the caller never asked for.
type CancelCleanupError struct {
	Err error
}

func (e *CancelCleanupError) Error() string {
	return fmt.Sprintf("cancel cleanup failed: %v", e.Err)
}

func (e *CancelCleanupError) Unwrap() error { return e.Err }

// Progress is a snapshot of bytes transferred. The byte counters follow
// every report; Speed/ETA are recomputed and the snapshot is broadcast
// at most at the coalescing rate (~10Hz).
type Progress struct {
	BytesDone  uint64
	BytesTotal uint64
	// FilesDone/FilesTotal are meaningful for directory-recursive tasks.
	FilesDone  uint64
	FilesTotal uint64
	Speed      float64 // bytes/sec, exponentially smoothed
	ETASeconds int64   // -1 if unknown
}

// Task is the externally visible record of one async operation.
type Task struct {
	mu sync.Mutex

	ID         string
	Kind       Kind
	State      State
	Progress   Progress
	Created    time.Time
	Started    *time.Time
	Finished   *time.Time
	LastError  string
	SourceRef  string
	DestRef    string
	OwnerID    string
	Pausable   bool
	Cancelable bool
	ChildIDs   []string

	lastSpeedAt   time.Time
	lastSpeedSize uint64
	lastBroadcast time.Time
}

// Snapshot returns a value copy of t safe to hand to callers outside
// the manager's lock.
func (t *Task) Snapshot() Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t
	cp.ChildIDs = append([]string(nil), t.ChildIDs...)
	return cp
}

// Control is the cooperative cancel/pause gate a runner function
// checks at chunk and item boundaries, mirrored from the teacher's
// Job.Stop (a cancel func plus context) and generalized with a pause
// gate the way original_source's TaskControl (tokio::Notify-backed)
// does, expressed here with a channel that Resume closes and replaces.
type Control struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	ctx      context.Context
	paused   bool
	resumeCh chan struct{}
}

func newControl(parent context.Context) *Control {
	ctx, cancel := context.WithCancel(parent)
	return &Control{ctx: ctx, cancel: cancel, resumeCh: make(chan struct{})}
}

// Context is cancelled when Cancel is called.
func (c *Control) Context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// Cancel requests cooperative cancellation.
func (c *Control) Cancel() { c.cancel() }

// Cancelled reports whether Cancel has been called.
func (c *Control) Cancelled() bool {
	select {
	case <-c.Context().Done():
		return true
	default:
		return false
	}
}

// Pause blocks future WaitIfPaused callers until Resume is called.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
}

// Resume releases any goroutine blocked in WaitIfPaused.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
}

// WaitIfPaused blocks the calling runner at a safe boundary while the
// task is paused, returning early if the task is cancelled first.
func (c *Control) WaitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	paused, ch := c.paused, c.resumeCh
	c.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// metrics mirrors the teacher's prometheus wiring pattern seen in
// fs/accounting/stats.go's counters, scoped to the task manager.
type metrics struct {
	running    prometheus.Gauge
	succeeded  prometheus.Counter
	failed     prometheus.Counter
	cancelled  prometheus.Counter
	bytesMoved prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayfs_tasks_running",
			Help: "Number of tasks currently in the running state.",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewayfs_tasks_succeeded_total",
			Help: "Total tasks that reached the succeeded state.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewayfs_tasks_failed_total",
			Help: "Total tasks that reached the failed state.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewayfs_tasks_cancelled_total",
			Help: "Total tasks that reached the cancelled state.",
		}),
		bytesMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewayfs_bytes_transferred_total",
			Help: "Total bytes moved across all tasks.",
		}),
	}
}

// Register registers m's collectors with reg, mirroring the teacher's
// deferred-registration style (backend/s3 et al. register lazily too).
func (m *metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.running, m.succeeded, m.failed, m.cancelled, m.bytesMoved)
}

// EventKind distinguishes the notifications Manager broadcasts.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDone    EventKind = "done"
)

// Event is a coalesced progress/state notification for subscribers
// (the admin UI's live task list, a WebSocket bridge, etc).
type Event struct {
	Kind EventKind
	Task Task
}

// RunFunc is the body of a task, invoked on its own goroutine. It
// must honor ctrl.Context().Done() and call ctrl.WaitIfPaused at
// chunk/item boundaries, and report progress via report.
type RunFunc func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error

const (
	// coalesceInterval bounds how often a task's speed/ETA is
	// recomputed and its Progress broadcast, per spec's ~10Hz
	// coalescing requirement.
	coalesceInterval = 100 * time.Millisecond
	// retentionGrace is how long a terminal task is kept for clients
	// to observe its final state before the janitor evicts it.
	retentionGrace = time.Hour
	// defaultConcurrency bounds total simultaneously running tasks.
	defaultConcurrency = 4
	// defaultPerDriverConcurrency sub-limits how many tasks may run
	// against a single driver instance at once, so one slow backend
	// can't starve the global pool.
	defaultPerDriverConcurrency = 2
)

// Manager owns all tasks, their control handles, a bounded scheduler,
// and retention sweeping, generalizing the teacher's package-level
// Jobs map into an injectable, per-gateway component.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	controls map[string]*Control

	subMu sync.Mutex
	subs  []chan Event

	sem                  chan struct{}
	driverSem            map[string]chan struct{}
	driverMu             sync.Mutex
	perDriverConcurrency int

	metrics *metrics

	stopJanitor chan struct{}
}

// NewManager builds a Manager with the default global and per-driver
// concurrency limits and starts its retention janitor.
func NewManager() *Manager {
	return NewManagerWithLimits(defaultConcurrency, defaultPerDriverConcurrency)
}

// NewManagerWithLimits builds a Manager with caller-supplied global and
// per-driver concurrency limits, so the gateway's config knobs
// (spec §6 GATEWAYFS_CONCURRENT_TASK_CAP / _PER_DRIVER_TASK_CAP) can
// size the scheduler instead of the hardcoded defaults.
func NewManagerWithLimits(globalCap, perDriverCap int) *Manager {
	if globalCap <= 0 {
		globalCap = defaultConcurrency
	}
	if perDriverCap <= 0 {
		perDriverCap = defaultPerDriverConcurrency
	}
	m := &Manager{
		tasks:                map[string]*Task{},
		controls:             map[string]*Control{},
		sem:                  make(chan struct{}, globalCap),
		driverSem:            map[string]chan struct{}{},
		perDriverConcurrency: perDriverCap,
		metrics:              newMetrics(),
		stopJanitor:          make(chan struct{}),
	}
	go m.janitor()
	return m
}

// RegisterMetrics wires m's Prometheus collectors into reg.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) {
	m.metrics.Register(reg)
}

// Subscribe returns a channel of events; the caller must keep reading
// it or call Unsubscribe, never block forever, since broadcasting is
// best-effort/non-blocking and a full channel drops events for that
// subscriber.
func (m *Manager) Subscribe() chan Event {
	ch := make(chan Event, 64)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i, c := range m.subs {
		if c == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) broadcast(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) driverSemFor(driverName string) chan struct{} {
	m.driverMu.Lock()
	defer m.driverMu.Unlock()
	s, ok := m.driverSem[driverName]
	if !ok {
		limit := m.perDriverConcurrency
		if limit <= 0 {
			limit = defaultPerDriverConcurrency
		}
		s = make(chan struct{}, limit)
		m.driverSem[driverName] = s
	}
	return s
}

// Spec describes a task about to be submitted.
type Spec struct {
	Kind       Kind
	SourceRef  string
	DestRef    string
	OwnerID    string
	DriverName string // used for the per-driver sub-limit; "" means unlimited
	Pausable   bool
	Cancelable bool
	ParentID   string // non-empty marks this as a child task
}

// Submit creates a Task in Pending state and schedules run to execute
// it asynchronously once a global and (if DriverName is set) per-driver
// slot is free. It returns immediately with the new task's id.
func (m *Manager) Submit(ctx context.Context, spec Spec, run RunFunc) string {
	t := &Task{
		ID:         uuid.NewString(),
		Kind:       spec.Kind,
		State:      StatePending,
		Created:    time.Now(),
		SourceRef:  spec.SourceRef,
		DestRef:    spec.DestRef,
		OwnerID:    spec.OwnerID,
		Pausable:   spec.Pausable,
		Cancelable: spec.Cancelable,
		Progress:   Progress{ETASeconds: -1},
	}
	ctrl := newControl(ctx)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.controls[t.ID] = ctrl
	if spec.ParentID != "" {
		if parent, ok := m.tasks[spec.ParentID]; ok {
			parent.mu.Lock()
			parent.ChildIDs = append(parent.ChildIDs, t.ID)
			parent.mu.Unlock()
		}
	}
	m.mu.Unlock()

	m.broadcast(Event{Kind: EventCreated, Task: t.Snapshot()})

	go m.run(t, ctrl, spec.DriverName, run)
	return t.ID
}

func (m *Manager) run(t *Task, ctrl *Control, driverName string, run RunFunc) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	var driverSem chan struct{}
	if driverName != "" {
		driverSem = m.driverSemFor(driverName)
		driverSem <- struct{}{}
		defer func() { <-driverSem }()
	}

	t.mu.Lock()
	now := time.Now()
	t.State = StateRunning
	t.Started = &now
	t.lastSpeedAt = now
	t.mu.Unlock()
	m.metrics.running.Inc()
	m.broadcast(Event{Kind: EventUpdated, Task: t.Snapshot()})

	report := func(done, total uint64) { m.reportProgress(t, done, total) }

	err := run(ctrl.Context(), ctrl, report)

	m.metrics.running.Dec()
	finish := time.Now()
	t.mu.Lock()
	t.Finished = &finish
	var cleanupErr *CancelCleanupError
	switch {
	case errors.As(err, &cleanupErr):
		t.State = StateFailed
		t.LastError = cleanupErr.Error()
		m.metrics.failed.Inc()
	case ctrl.Cancelled():
		t.State = StateCancelled
		m.metrics.cancelled.Inc()
	case err != nil:
		t.State = StateFailed
		t.LastError = err.Error()
		m.metrics.failed.Inc()
	default:
		t.State = StateSucceeded
		t.Progress.BytesDone = t.Progress.BytesTotal
		m.metrics.succeeded.Inc()
	}
	t.mu.Unlock()
	m.broadcast(Event{Kind: EventDone, Task: t.Snapshot()})
}

// reportProgress is the RunFunc-facing progress callback: it updates
// the task's byte counters unconditionally but only smooths speed/ETA
// and broadcasts at the coalescing interval, mirroring the teacher's
// accounting package's rate limiting of UI-facing updates.
func (m *Manager) reportProgress(t *Task, done, total uint64) {
	t.mu.Lock()
	t.Progress.BytesDone = done
	t.Progress.BytesTotal = total
	now := time.Now()
	due := now.Sub(t.lastBroadcast) >= coalesceInterval
	if due {
		elapsed := now.Sub(t.lastSpeedAt).Seconds()
		if elapsed > 0 {
			instSpeed := float64(done-t.lastSpeedSize) / elapsed
			if t.Progress.Speed == 0 {
				t.Progress.Speed = instSpeed
			} else {
				t.Progress.Speed = 0.7*t.Progress.Speed + 0.3*instSpeed
			}
			t.lastSpeedAt = now
			t.lastSpeedSize = done
		}
		if t.Progress.Speed > 0 && total > done {
			t.Progress.ETASeconds = int64(float64(total-done) / t.Progress.Speed)
		}
		t.lastBroadcast = now
	}
	snap := *t
	snap.ChildIDs = append([]string(nil), t.ChildIDs...)
	t.mu.Unlock()
	m.metrics.bytesMoved.Add(0) // bytes are added by the caller via AddBytesMoved
	if due {
		m.broadcast(Event{Kind: EventUpdated, Task: snap})
	}
}

// AddBytesMoved increments the cumulative bytes-transferred counter;
// call this once per chunk actually written, not per progress report
// (which may re-report the same cumulative total).
func (m *Manager) AddBytesMoved(n uint64) {
	m.metrics.bytesMoved.Add(float64(n))
}

// Get returns a snapshot of a task, or ok=false if unknown.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return Task{}, false
	}
	return t.Snapshot(), true
}

// List returns snapshots of all tasks, optionally filtered by owner
// (empty ownerID means "all").
func (m *Manager) List(ownerID string) []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		out = append(out, t.Snapshot())
	}
	return out
}

// Cancel requests cancellation of a running or pending task.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	ctrl, ok := m.controls[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	ctrl.Cancel()
	return true
}

// Pause pauses a running, pausable task at its next safe boundary.
func (m *Manager) Pause(id string) bool {
	m.mu.RLock()
	t, tok := m.tasks[id]
	ctrl, cok := m.controls[id]
	m.mu.RUnlock()
	if !tok || !cok || !t.Pausable {
		return false
	}
	t.mu.Lock()
	if t.State != StateRunning {
		t.mu.Unlock()
		return false
	}
	t.State = StatePaused
	t.mu.Unlock()
	ctrl.Pause()
	m.broadcast(Event{Kind: EventUpdated, Task: t.Snapshot()})
	return true
}

// Resume resumes a paused task.
func (m *Manager) Resume(id string) bool {
	m.mu.RLock()
	t, tok := m.tasks[id]
	ctrl, cok := m.controls[id]
	m.mu.RUnlock()
	if !tok || !cok {
		return false
	}
	t.mu.Lock()
	if t.State != StatePaused {
		t.mu.Unlock()
		return false
	}
	t.State = StateRunning
	t.mu.Unlock()
	ctrl.Resume()
	m.broadcast(Event{Kind: EventUpdated, Task: t.Snapshot()})
	return true
}

// janitor evicts terminal tasks past their retention grace window,
// mirroring the teacher's jobs.Expire timer loop.
func (m *Manager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopJanitor:
			return
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		t.mu.Lock()
		expired := t.Finished != nil && now.Sub(*t.Finished) > retentionGrace
		t.mu.Unlock()
		if expired {
			delete(m.tasks, id)
			delete(m.controls, id)
		}
	}
}

// Close stops the retention janitor. Tasks already running are left
// to finish; it does not cancel them.
func (m *Manager) Close() {
	close(m.stopJanitor)
}
