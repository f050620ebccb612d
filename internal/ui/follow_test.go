package ui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
)

type fakeSource struct {
	mu      sync.Mutex
	running bool
	snap    progress.Snapshot
}

func (s *fakeSource) IsDumb(*project.Project) bool { return true }

func (s *fakeSource) Pending(*project.Project) int { return 1 }

func (s *fakeSource) Progress(*project.Project) (progress.Snapshot, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return progress.Snapshot{}, "", false
	}
	return s.snap, "Job{demo}", true
}

type recordingRenderer struct {
	PlainRenderer
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.New(t.TempDir(), config.NewConfig())
	require.NoError(t, err)
	return p
}

func TestSample(t *testing.T) {
	p := testProject(t)

	t.Run("idle", func(t *testing.T) {
		_, ok := Sample(&fakeSource{}, p)
		assert.False(t, ok)
	})

	t.Run("running", func(t *testing.T) {
		src := &fakeSource{running: true, snap: progress.Snapshot{Text: "Updating indexes", Fraction: 0.3}}

		ev, ok := Sample(src, p)

		require.True(t, ok)
		assert.Equal(t, "Job{demo}", ev.Task)
		assert.Equal(t, 0.3, ev.Snapshot.Fraction)
		assert.Equal(t, 1, ev.Pending)
		assert.True(t, ev.Rebuilding)
	})
}

func TestFollow_FeedsRendererUntilCancelled(t *testing.T) {
	// Given: a source with a running task
	p := testProject(t)
	src := &fakeSource{running: true, snap: progress.Snapshot{Text: "x"}}
	r := &recordingRenderer{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		Follow(ctx, r, src, p, 5*time.Millisecond)
	}()

	// When: a few samples were taken and the context is cancelled
	require.Eventually(t, func() bool { return r.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	// Then: Follow returns
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return")
	}
}

func TestFollow_SkipsIdleSamples(t *testing.T) {
	p := testProject(t)
	r := &recordingRenderer{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	Follow(ctx, r, &fakeSource{}, p, 5*time.Millisecond)

	assert.Zero(t, r.count())
}
