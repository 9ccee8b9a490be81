// Package session implements §4.9's in-memory session registry: at most one
// active crawl per session_id, with terminal results handed off to the
// repository and the in-memory entry evicted. Grounded on engine.Engine's
// own bookkeeping idiom (atomic.Bool started flag, atomic.Value for the
// last-observed health snapshot) — here an atomic.Value publishes the
// latest *models.Session snapshot lock-free for readers while the owning
// actor goroutine mutates its canonical copy independently.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mattercertis/internal/actor"
	"mattercertis/internal/repository"
	"mattercertis/models"
)

// pollInterval bounds how stale a Get()/List() snapshot can be while a
// session is running; the session's own goroutine still owns the canonical
// state, this only controls how often the registry mirrors it.
const pollInterval = 200 * time.Millisecond

// entry is one registry row: the live actor plus a lock-free snapshot slot
// refreshed by the poller goroutine started alongside the actor.
type entry struct {
	sess *actor.Session
	snap atomic.Value // *models.Session
}

// Manager is the session registry. All exported methods are safe for
// concurrent use; mutating a given session always happens inside that
// session's own actor goroutine, never across the registry lock.
type Manager struct {
	mu   sync.RWMutex
	byID map[string]*entry

	repo repository.Repository
}

// New constructs a Manager backed by repo for terminal-result persistence.
func New(repo repository.Repository) *Manager {
	return &Manager{byID: make(map[string]*entry), repo: repo}
}

// Start launches a new Session actor and registers it under its own id. It
// returns immediately; the actor runs on its own goroutine until it reaches
// a terminal state, at which point its CrawlingResult is persisted and the
// registry entry is evicted.
func (m *Manager) Start(deps actor.Deps, cfg actor.Config) (string, error) {
	sess := actor.New(deps, cfg)
	id := sess.ID()

	e := &entry{sess: sess}
	e.snap.Store(sess.Snapshot())

	if err := m.register(id, e); err != nil {
		return "", err
	}

	poll := make(chan struct{})
	go m.pollSnapshots(id, e, poll)

	go func() {
		result := sess.Run(context.Background())
		close(poll)
		m.finish(id, result)
	}()

	return id, nil
}

// register inserts e under id, rejecting a collision with an already-active
// session of the same id per §4.6's "at most one active session per
// session_id" rule.
func (m *Manager) register(id string, e *entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[id]; exists {
		return fmt.Errorf("session %s: %w", id, models.ErrSessionAlreadyRuns)
	}
	m.byID[id] = e
	return nil
}

// pollSnapshots refreshes e.snap while the session runs. Run blocks on the
// actor's own goroutine, so the registry lock is never held across it; this
// goroutine just gives Get() a recent value without talking to the actor
// goroutine directly.
func (m *Manager) pollSnapshots(id string, e *entry, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		e.snap.Store(e.sess.Snapshot())
		select {
		case <-done:
			return
		case <-time.After(pollInterval):
		}
	}
}

func (m *Manager) finish(id string, result *models.CrawlingResult) {
	ctx := context.Background()
	if m.repo != nil {
		_ = m.repo.SaveCrawlingResult(ctx, result)
	}
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
}

// Get returns the most recent snapshot for an active session, or
// ErrSessionNotFound once the session has reached a terminal state and been
// evicted (callers should fall back to the repository's CrawlingResult for
// history).
func (m *Manager) Get(id string) (*models.Session, error) {
	m.mu.RLock()
	e, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return e.snap.Load().(*models.Session), nil
}

// List returns a snapshot of every currently active session.
func (m *Manager) List() []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Session, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e.snap.Load().(*models.Session))
	}
	return out
}

func (m *Manager) lookup(id string) (*actor.Session, error) {
	m.mu.RLock()
	e, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return e.sess, nil
}

// Pause requests a pause on the named session.
func (m *Manager) Pause(ctx context.Context, id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	return sess.Pause(ctx)
}

// Resume requests a resume on the named session.
func (m *Manager) Resume(ctx context.Context, id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	return sess.Resume(ctx)
}

// Cancel requests cancellation of the named session.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	return sess.Cancel(ctx)
}
