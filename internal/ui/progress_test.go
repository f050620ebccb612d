package ui

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanidx/internal/progress"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func determinate(task string, fraction float64, file string) ProgressEvent {
	return ProgressEvent{Task: task, Snapshot: progress.Snapshot{
		Text: "Updating indexes", Text2: file, Fraction: fraction, ProgressPct: fraction * 100,
	}}
}

func TestNewProgressTracker(t *testing.T) {
	tracker := NewProgressTracker()

	stats := tracker.Stats()
	assert.Empty(t, stats.Task)
	assert.Zero(t, stats.Progress)
	assert.Zero(t, stats.ETA)
	assert.Zero(t, stats.ErrorCount)
}

func TestProgressTracker_Update(t *testing.T) {
	// Given: a tracker
	tracker := NewProgressTracker()

	// When: a determinate observation arrives
	tracker.Update(ProgressEvent{
		Task: "Job{demo}", Pending: 2, Rebuilding: true,
		Snapshot: progress.Snapshot{Text: "Updating indexes", Text2: "src/main.go", Fraction: 0.5},
	})

	// Then: it is reflected in the stats
	stats := tracker.Stats()
	assert.Equal(t, "Job{demo}", stats.Task)
	assert.Equal(t, "Updating indexes", stats.Text)
	assert.Equal(t, "src/main.go", stats.CurrentFile)
	assert.Equal(t, 0.5, stats.Progress)
	assert.True(t, stats.Determinate)
	assert.True(t, stats.Rebuilding)
	assert.Equal(t, 2, stats.Pending)
}

func TestProgressTracker_KeepsLastFile(t *testing.T) {
	tracker := NewProgressTracker()

	tracker.Update(determinate("Job", 0.1, "a.go"))
	tracker.Update(determinate("Job", 0.2, ""))

	assert.Equal(t, "a.go", tracker.Stats().CurrentFile)
}

func TestProgressTracker_SpeedAndETA(t *testing.T) {
	// Given: a tracker on a fake clock
	clock := newFakeClock()
	tracker := newProgressTracker(clock.Now)
	tracker.Update(determinate("Job", 0, ""))

	// When: a quarter is done after one second and half after two
	clock.Advance(time.Second)
	tracker.Update(determinate("Job", 0.25, ""))
	clock.Advance(time.Second)
	tracker.Update(determinate("Job", 0.5, ""))

	// Then: speed is 25%/s and the remaining half takes about two seconds
	stats := tracker.Stats()
	assert.InDelta(t, 25.0, stats.Speed.Current, 0.001)
	assert.InDelta(t, 25.0, stats.Speed.Avg, 0.001)
	assert.InDelta(t, 25.0, stats.Speed.Peak, 0.001)
	assert.Equal(t, 2*time.Second, stats.ETA)
}

func TestProgressTracker_IgnoresFastSamplesForSpeed(t *testing.T) {
	clock := newFakeClock()
	tracker := newProgressTracker(clock.Now)

	clock.Advance(100 * time.Millisecond)
	tracker.Update(determinate("Job", 0.5, ""))

	assert.Zero(t, tracker.SpeedStats().Current)
}

func TestProgressTracker_ETA_Indeterminate(t *testing.T) {
	tracker := NewProgressTracker()

	tracker.Update(ProgressEvent{Task: "Reconcile", Snapshot: progress.Snapshot{Indeterminate: true}})

	assert.Zero(t, tracker.Stats().ETA)
	assert.False(t, tracker.Stats().Determinate)
}

func TestProgressTracker_TaskChangeResets(t *testing.T) {
	// Given: a tracker with speed samples for one task
	clock := newFakeClock()
	tracker := newProgressTracker(clock.Now)
	tracker.Update(determinate("first", 0, ""))
	clock.Advance(time.Second)
	tracker.Update(determinate("first", 0.8, "a.go"))
	assert.NotZero(t, tracker.SpeedStats().Peak)

	// When: another task is observed
	tracker.Update(determinate("second", 0.1, ""))

	// Then: rates and file start over
	stats := tracker.Stats()
	assert.Equal(t, "second", stats.Task)
	assert.Empty(t, stats.CurrentFile)
	assert.Zero(t, stats.Speed.Peak)
	assert.Equal(t, 0.1, stats.Progress)
}

func TestProgressTracker_AddError(t *testing.T) {
	tracker := NewProgressTracker()

	tracker.AddError(ErrorEvent{File: "a.go", Err: assert.AnError})
	tracker.AddError(ErrorEvent{File: "b.go", Err: assert.AnError, IsWarn: true})
	tracker.AddError(ErrorEvent{File: "c.go", Err: assert.AnError, IsWarn: true})

	stats := tracker.Stats()
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 2, stats.WarnCount)
	assert.Len(t, tracker.Errors(), 1)
	assert.Len(t, tracker.Warnings(), 2)
}

func TestProgressTracker_ElapsedTime(t *testing.T) {
	clock := newFakeClock()
	tracker := newProgressTracker(clock.Now)

	clock.Advance(3 * time.Second)

	assert.Equal(t, 3*time.Second, tracker.Elapsed())
}

func TestProgressTracker_ThreadSafety(t *testing.T) {
	tracker := NewProgressTracker()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			tracker.Update(determinate("Job", float64(i)/50, "f.go"))
		}()
		go func() {
			defer wg.Done()
			_ = tracker.Stats()
		}()
		go func() {
			defer wg.Done()
			tracker.AddError(ErrorEvent{Err: assert.AnError})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.Stats().ErrorCount)
}
