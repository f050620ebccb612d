// Package dumb serializes a project's index-update tasks and tracks
// whether the project's index may be used.
//
// While a gating task is queued or running the project is in dumb mode:
// index readers wait (RunWhenSmart) or fail fast (Use). An admitted reader
// holds a lease until it returns, and a gating task does not start while
// any lease is held. Tasks run one at a time per project, in queue order,
// each with its own progress indicator.
package dumb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/telemetry"
)

// State of a project's index.
type State int

const (
	// Usable means no gating task is queued or running.
	Usable State = iota
	// Rebuilding means readers must wait for the index.
	Rebuilding
)

func (s State) String() string {
	if s == Rebuilding {
		return "rebuilding"
	}
	return "usable"
}

// Task is a unit of work run by the per-project executor.
type Task interface {
	Perform(ctx context.Context, ind *progress.Indicator) error
	String() string
}

// Keyed tasks with equal keys coalesce while queued: the newer task
// replaces the queued one in its position.
type Keyed interface {
	Key() string
}

// Gating reports whether a task puts the project into dumb mode. Tasks
// that do not implement it are gating.
type Gating interface {
	Gating() bool
}

// Listener is notified of dumb-mode transitions and finished tasks. Nil
// fields are skipped. Callbacks run outside the service's locks.
type Listener struct {
	EnterDumbMode func()
	ExitDumbMode  func()
	TaskFinished  func(task Task, err error)
}

// Options configure a Service.
type Options struct {
	// LockRetry bounds the wait for a rebuild lock held by another
	// process.
	LockRetry amanerrors.RetryConfig
	// DisableLock skips the cross-process rebuild lock.
	DisableLock bool
}

// Service owns one gate per project.
type Service struct {
	opts  Options
	gates *xsync.MapOf[string, *gate]
}

// NewService creates a service with default options.
func NewService() *Service {
	return NewServiceWithOptions(Options{LockRetry: amanerrors.DefaultRetryConfig()})
}

// NewServiceWithOptions creates a service.
func NewServiceWithOptions(opts Options) *Service {
	return &Service{
		opts:  opts,
		gates: xsync.NewMapOf[string, *gate](),
	}
}

func (s *Service) gate(p *project.Project) *gate {
	g, _ := s.gates.LoadOrCompute(p.ID, func() *gate {
		return newGate(p, s.opts)
	})
	g.start()
	return g
}

func (s *Service) lookup(p *project.Project) (*gate, bool) {
	return s.gates.Load(p.ID)
}

// QueueTask appends task to the project's queue. It returns false when
// the project is closed.
func (s *Service) QueueTask(p *project.Project, task Task) bool {
	if p.IsClosed() {
		return false
	}
	return s.gate(p).enqueue(task)
}

// State returns the project's current state.
func (s *Service) State(p *project.Project) State {
	g, ok := s.lookup(p)
	if !ok {
		return Usable
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsDumb reports whether the project is rebuilding.
func (s *Service) IsDumb(p *project.Project) bool {
	return s.State(p) == Rebuilding
}

// Pending returns the number of queued tasks, excluding the running one.
func (s *Service) Pending(p *project.Project) int {
	g, ok := s.lookup(p)
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Progress returns a snapshot of the running task's indicator and the
// task's description. ok is false when nothing runs.
func (s *Service) Progress(p *project.Project) (snap progress.Snapshot, task string, ok bool) {
	g, found := s.lookup(p)
	if !found {
		return progress.Snapshot{}, "", false
	}
	g.mu.Lock()
	running, ind := g.running, g.runningInd
	g.mu.Unlock()
	if running == nil {
		return progress.Snapshot{}, "", false
	}
	return ind.Snapshot(), running.task.String(), true
}

// WaitForSmartMode blocks until the project is usable or ctx is done.
func (s *Service) WaitForSmartMode(ctx context.Context, p *project.Project) error {
	g, ok := s.lookup(p)
	if !ok {
		return nil
	}
	for {
		g.mu.Lock()
		state, changed := g.state, g.changed
		g.mu.Unlock()
		if state == Usable {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitIdle blocks until the project has neither a running nor a queued
// task, gating or not, or ctx is done.
func (s *Service) WaitIdle(ctx context.Context, p *project.Project) error {
	g, ok := s.lookup(p)
	if !ok {
		return nil
	}
	for {
		g.mu.Lock()
		idle := g.closed || (g.running == nil && len(g.queue) == 0)
		settled := g.settled
		g.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunWhenSmart waits for smart mode and runs fn under a read lease. A
// gating task queued while fn runs does not start before fn returned.
func (s *Service) RunWhenSmart(ctx context.Context, p *project.Project, fn func() error) error {
	if p.IsClosed() {
		return amanerrors.ErrProjectClosed
	}
	g := s.gate(p)
	for {
		if err := s.WaitForSmartMode(ctx, p); err != nil {
			return err
		}
		release, err := g.lease()
		if errors.Is(err, amanerrors.ErrIndexNotReady) {
			// A gating task was queued in between.
			continue
		}
		if err != nil {
			return err
		}
		defer release()
		return fn()
	}
}

// Use runs fn under a read lease, or returns ErrIndexNotReady at once
// while the project is rebuilding.
func (s *Service) Use(p *project.Project, fn func() error) error {
	if p.IsClosed() {
		return amanerrors.ErrProjectClosed
	}
	release, err := s.gate(p).lease()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// TryUse returns ErrIndexNotReady while the project is rebuilding. The
// answer may be stale by the time the caller reads the index; use Use to
// keep gating tasks out while reading.
func (s *Service) TryUse(p *project.Project) error {
	if !s.IsDumb(p) {
		return nil
	}
	return notReady(p)
}

func notReady(p *project.Project) error {
	return amanerrors.New(amanerrors.ErrCodeIndexNotReady,
		fmt.Sprintf("index of %s is being rebuilt", p.Name), nil).
		WithSuggestion("Retry when indexing has finished, or wait with 'amanidx status --wait'")
}

// CancelAllTasks drops queued tasks and cancels the running one.
func (s *Service) CancelAllTasks(p *project.Project) {
	if g, ok := s.lookup(p); ok {
		g.cancelAll()
	}
}

// Subscribe registers l for the project's events.
func (s *Service) Subscribe(p *project.Project, l Listener) project.Subscription {
	g := s.gate(p)
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = l
	g.mu.Unlock()

	return project.NewSubscription(func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	})
}

// Close cancels the project's tasks and waits for the executor to stop,
// or for ctx. Closing twice is a no-op.
func (s *Service) Close(ctx context.Context, p *project.Project) error {
	g, ok := s.gates.LoadAndDelete(p.ID)
	if !ok {
		return nil
	}
	return g.close(ctx)
}

// CloseAll closes every project's gate.
func (s *Service) CloseAll(ctx context.Context) error {
	var errs []error
	s.gates.Range(func(id string, g *gate) bool {
		if _, ok := s.gates.LoadAndDelete(id); ok {
			errs = append(errs, g.close(ctx))
		}
		return true
	})
	return errors.Join(errs...)
}

// queuedTask is a task with its resolved key and gating flag.
type queuedTask struct {
	task   Task
	key    string
	gating bool
}

func newQueuedTask(t Task) *queuedTask {
	q := &queuedTask{task: t, gating: true}
	if k, ok := t.(Keyed); ok {
		q.key = k.Key()
	}
	if g, ok := t.(Gating); ok {
		q.gating = g.Gating()
	}
	return q
}

// gate is the per-project queue, state and executor.
type gate struct {
	project *project.Project
	opts    Options

	mu         sync.Mutex
	state      State
	queue      []*queuedTask
	running    *queuedTask
	runningInd *progress.Indicator
	// changed is closed and replaced on every state change.
	changed chan struct{}
	// settled is closed and replaced each time a task finishes.
	settled   chan struct{}
	listeners map[uint64]Listener
	nextID    uint64
	closed    bool
	// readers counts the held read leases; drained is closed and replaced
	// each time the count drops to zero.
	readers int
	drained chan struct{}

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
}

func newGate(p *project.Project, opts Options) *gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &gate{
		project:   p,
		opts:      opts,
		changed:   make(chan struct{}),
		settled:   make(chan struct{}),
		drained:   make(chan struct{}),
		listeners: make(map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (g *gate) start() {
	g.startOnce.Do(func() { go g.loop() })
}

// lease admits a reader while the project is usable. The returned func
// ends the lease; calling it more than once is a no-op.
func (g *gate) lease() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, amanerrors.ErrProjectClosed
	}
	if g.state == Rebuilding {
		return nil, notReady(g.project)
	}
	g.readers++
	var once sync.Once
	return func() { once.Do(g.release) }, nil
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readers--
	if g.readers == 0 {
		close(g.drained)
		g.drained = make(chan struct{})
	}
}

// waitReaders blocks until no read lease is held. No new lease is granted
// meanwhile since a gating task keeps the project rebuilding.
func (g *gate) waitReaders(ctx context.Context, ind *progress.Indicator) error {
	for {
		g.mu.Lock()
		n, drained := g.readers, g.drained
		g.mu.Unlock()
		if n == 0 {
			return nil
		}
		slog.Debug("dumb_task_waiting_for_readers",
			slog.String("project", g.project.Name),
			slog.Int("readers", n))
		select {
		case <-drained:
		case <-ind.Done():
			return progress.ErrCanceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *gate) enqueue(t Task) bool {
	qt := newQueuedTask(t)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	coalesced := false
	if qt.key != "" {
		for i, queued := range g.queue {
			if queued.key == qt.key {
				qt.gating = qt.gating || queued.gating
				g.queue[i] = qt
				coalesced = true
				break
			}
		}
	}
	if !coalesced {
		g.queue = append(g.queue, qt)
	}
	entered := false
	if qt.gating && g.state == Usable {
		g.setStateLocked(Rebuilding)
		entered = true
	}
	listeners := g.listenersLocked()
	pending := len(g.queue)
	g.mu.Unlock()

	telemetry.QueuedTasks.WithLabelValues(g.project.Name).Set(float64(pending))
	if coalesced {
		telemetry.TaskResults.WithLabelValues(telemetry.ResultCoalesced).Inc()
		slog.Debug("dumb_task_coalesced",
			slog.String("project", g.project.Name),
			slog.String("key", qt.key))
	}
	if entered {
		g.notifyEnter(listeners)
	}

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return true
}

func (g *gate) loop() {
	defer close(g.done)
	for {
		qt, ind := g.next()
		if qt == nil {
			return
		}
		g.run(qt, ind)
	}
}

// next blocks until a task is queued and marks it running. It returns
// nil once the gate is closed.
func (g *gate) next() (*queuedTask, *progress.Indicator) {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return nil, nil
		}
		if len(g.queue) > 0 {
			qt := g.queue[0]
			g.queue[0] = nil
			g.queue = g.queue[1:]
			ind := progress.NewIndicator()
			g.running, g.runningInd = qt, ind
			pending := len(g.queue)
			g.mu.Unlock()
			telemetry.QueuedTasks.WithLabelValues(g.project.Name).Set(float64(pending))
			return qt, ind
		}
		g.mu.Unlock()

		select {
		case <-g.wake:
		case <-g.ctx.Done():
			return nil, nil
		}
	}
}

func (g *gate) run(qt *queuedTask, ind *progress.Indicator) {
	err := g.perform(qt, ind)

	result := telemetry.ResultCompleted
	switch {
	case err == nil:
		slog.Debug("dumb_task_completed",
			slog.String("project", g.project.Name),
			slog.String("task", qt.task.String()))
	case errors.Is(err, amanerrors.ErrRebuildLocked):
		result = telemetry.ResultLocked
		slog.Warn("dumb_task_skipped",
			slog.String("project", g.project.Name),
			slog.String("task", qt.task.String()),
			slog.String("reason", "rebuild lock held by another process"))
	case isCancellation(err):
		result = telemetry.ResultInterrupted
		slog.Info("dumb_task_cancelled",
			slog.String("project", g.project.Name),
			slog.String("task", qt.task.String()))
	default:
		result = telemetry.ResultFailed
		attrs := append([]any{
			slog.String("project", g.project.Name),
			slog.String("task", qt.task.String()),
		}, amanerrors.LogAttrs(err)...)
		slog.Error("dumb_task_failed", attrs...)
	}
	telemetry.TaskResults.WithLabelValues(result).Inc()

	g.mu.Lock()
	g.running, g.runningInd = nil, nil
	close(g.settled)
	g.settled = make(chan struct{})
	exited := false
	if g.state == Rebuilding && !g.hasGatingLocked() {
		g.setStateLocked(Usable)
		exited = true
	}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	for _, l := range listeners {
		if l.TaskFinished != nil {
			l.TaskFinished(qt.task, err)
		}
	}
	if exited {
		g.notifyExit(listeners)
	}
}

func (g *gate) perform(qt *queuedTask, ind *progress.Indicator) (err error) {
	ctx, cancel := context.WithCancel(g.ctx)
	defer cancel()

	if qt.gating {
		if err := g.waitReaders(ctx, ind); err != nil {
			return err
		}
	}
	if qt.gating && !g.opts.DisableLock {
		lock := NewRebuildLock(g.project.DataDir)
		if err := lock.Acquire(ctx, g.opts.LockRetry); err != nil {
			return err
		}
		defer func() {
			if uerr := lock.Unlock(); uerr != nil {
				slog.Warn("rebuild_lock_release_failed",
					slog.String("path", lock.Path()),
					slog.String("error", uerr.Error()))
			}
		}()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = amanerrors.UnrecoverableError(fmt.Sprintf("task %s panicked: %v", qt.task, rec), nil)
		}
	}()
	return qt.task.Perform(ctx, ind)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, progress.ErrCanceled) ||
		amanerrors.IsInterrupted(err)
}

func (g *gate) hasGatingLocked() bool {
	if g.running != nil && g.running.gating {
		return true
	}
	for _, qt := range g.queue {
		if qt.gating {
			return true
		}
	}
	return false
}

func (g *gate) setStateLocked(s State) {
	g.state = s
	close(g.changed)
	g.changed = make(chan struct{})
	telemetry.SetDumbMode(g.project.Name, s == Rebuilding)
	slog.Info("dumb_mode_changed",
		slog.String("project", g.project.Name),
		slog.String("state", s.String()))
}

func (g *gate) listenersLocked() []Listener {
	out := make([]Listener, 0, len(g.listeners))
	for _, l := range g.listeners {
		out = append(out, l)
	}
	return out
}

func (g *gate) notifyEnter(listeners []Listener) {
	for _, l := range listeners {
		if l.EnterDumbMode != nil {
			l.EnterDumbMode()
		}
	}
}

func (g *gate) notifyExit(listeners []Listener) {
	for _, l := range listeners {
		if l.ExitDumbMode != nil {
			l.ExitDumbMode()
		}
	}
}

// cancelAll drops the queue and cancels the running task. The state
// follows once the running task returned.
func (g *gate) cancelAll() {
	g.mu.Lock()
	dropped := len(g.queue)
	g.queue = nil
	ind := g.runningInd
	exited := false
	if g.running == nil && g.state == Rebuilding {
		g.setStateLocked(Usable)
		exited = true
	}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	if ind != nil {
		ind.Cancel()
	}
	telemetry.QueuedTasks.WithLabelValues(g.project.Name).Set(0)
	slog.Info("dumb_tasks_cancelled",
		slog.String("project", g.project.Name),
		slog.Int("dropped", dropped),
		slog.Bool("running_cancelled", ind != nil))
	if exited {
		g.notifyExit(listeners)
	}
}

func (g *gate) close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.cancelAll()
	g.cancel()
	g.start()

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks of %s: %w", g.project.Name, ctx.Err())
	}
}
