package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Aman-CERP/amanidx/internal/config"
	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// Subscription is returned by every Subscribe call. Unsubscribe is
// idempotent.
type Subscription interface {
	Unsubscribe()
}

// ClosingListener is notified before a project is marked closed.
type ClosingListener func(ctx context.Context, p *Project)

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// NewSubscription wraps cancel so that it runs at most once.
func NewSubscription(cancel func()) Subscription {
	return &subscription{cancel: cancel}
}

// Manager tracks open projects and publishes their closing events.
type Manager struct {
	mu        sync.Mutex
	projects  map[string]*Project
	listeners map[uint64]ClosingListener
	nextID    uint64
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		projects:  make(map[string]*Project),
		listeners: make(map[uint64]ClosingListener),
	}
}

// Open opens the project rooted at basePath, or returns the already open
// one. The data directory is created on demand.
func (m *Manager) Open(basePath string, cfg *config.Config) (*Project, error) {
	p, err := New(basePath, cfg)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidPath, "invalid project path", err)
	}
	if info, err := os.Stat(p.BasePath); err != nil || !info.IsDir() {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidPath,
			fmt.Sprintf("project path is not a directory: %s", p.BasePath), err)
	}
	if err := os.MkdirAll(p.DataDir, 0o755); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeFilePermission, "failed to create data directory", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.projects[p.ID]; ok {
		return existing, nil
	}
	m.projects[p.ID] = p

	slog.Info("project_opened",
		slog.String("project", p.Name),
		slog.String("id", p.ID),
		slog.String("path", p.BasePath))
	return p, nil
}

// Get returns the open project with id.
func (m *Manager) Get(id string) (*Project, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok
}

// Projects returns the open projects.
func (m *Manager) Projects() []*Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out
}

// SubscribeClosing registers fn for closing events of every project.
func (m *Manager) SubscribeClosing(fn ClosingListener) Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return NewSubscription(func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	})
}

// Close publishes the closing event, runs the project's disposers and
// forgets the project. Closing twice is a no-op.
func (m *Manager) Close(ctx context.Context, p *Project) {
	m.mu.Lock()
	listeners := make([]ClosingListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	if p.IsClosed() {
		return
	}

	for _, l := range listeners {
		l(ctx, p)
	}

	disposers, ok := p.markClosed()
	if !ok {
		return
	}
	for i := len(disposers) - 1; i >= 0; i-- {
		disposers[i]()
	}

	m.mu.Lock()
	delete(m.projects, p.ID)
	m.mu.Unlock()

	slog.Info("project_closed", slog.String("project", p.Name))
}

// CloseAll closes every open project.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, p := range m.Projects() {
		m.Close(ctx, p)
	}
}
