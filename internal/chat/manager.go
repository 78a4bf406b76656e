package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tfiber/tera-assist/internal/domain"
)

// ErrClosed is returned by a Manager after Close.
var ErrClosed = errors.New("chat manager closed")

// ManagerOptions configures session lifetime.
type ManagerOptions struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Manager owns the live sessions. Each session runs on its own worker
// goroutine fed through an unbuffered channel, so turns for one session
// never overlap while different sessions proceed independently.
type Manager struct {
	deps   Deps
	opts   ManagerOptions
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context, *Session)
	done chan struct{}
}

type worker struct {
	session  *Session
	jobs     chan job
	quit     chan struct{}
	lastUsed time.Time
	active   int
}

// NewManager creates a manager and starts its idle sweeper.
func NewManager(deps Deps, opts ManagerOptions) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		workers: make(map[string]*worker),
		stop:    make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Do runs fn on the session's worker and waits for it to finish. ctx bounds
// the wait for the worker only: once started, fn runs under a context that
// keeps ctx's values but not its cancellation, so a client that disconnects
// mid-turn does not abandon a half-applied turn. Store and oracle calls
// inside fn carry their own timeouts.
func (m *Manager) Do(ctx context.Context, sessionID string, fn func(context.Context, *Session)) error {
	w, err := m.acquire(sessionID)
	if err != nil {
		return err
	}
	defer m.release(w)

	j := job{ctx: context.WithoutCancel(ctx), fn: fn, done: make(chan struct{})}
	select {
	case w.jobs <- j:
	case <-w.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-j.done
	return nil
}

// Start opens the session's chat.
func (m *Manager) Start(ctx context.Context, sessionID string, lang domain.Language) (Turn, error) {
	var turn Turn
	err := m.Do(ctx, sessionID, func(ctx context.Context, s *Session) {
		turn = s.Start(ctx, lang)
	})
	return turn, err
}

// Send delivers a visitor message.
func (m *Manager) Send(ctx context.Context, sessionID, text string) (Turn, error) {
	var turn Turn
	var sendErr error
	err := m.Do(ctx, sessionID, func(ctx context.Context, s *Session) {
		turn, sendErr = s.Send(ctx, text)
	})
	if err != nil {
		return Turn{}, err
	}
	return turn, sendErr
}

// SetLanguage switches the session language.
func (m *Manager) SetLanguage(ctx context.Context, sessionID string, lang domain.Language) (Turn, error) {
	var turn Turn
	err := m.Do(ctx, sessionID, func(ctx context.Context, s *Session) {
		turn = s.SetLanguage(ctx, lang)
	})
	return turn, err
}

// Snapshot returns the session state without changing it.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (Turn, error) {
	var turn Turn
	err := m.Do(ctx, sessionID, func(_ context.Context, s *Session) {
		turn = s.Snapshot()
	})
	return turn, err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close stops every worker and the sweeper and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stop)
	for id, w := range m.workers {
		close(w.quit)
		delete(m.workers, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Chat manager stopped")
}

func (m *Manager) acquire(sessionID string) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	w, ok := m.workers[sessionID]
	if !ok {
		w = &worker{
			session: NewSession(sessionID, m.deps),
			jobs:    make(chan job),
			quit:    make(chan struct{}),
		}
		m.workers[sessionID] = w
		m.wg.Add(1)
		go m.run(w)
		m.logger.Debug("Chat session worker started", "session_id", sessionID)
	}
	w.active++
	w.lastUsed = m.now()
	return w, nil
}

func (m *Manager) release(w *worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.active--
	w.lastUsed = m.now()
}

func (m *Manager) run(w *worker) {
	defer m.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			j.fn(j.ctx, w.session)
			close(j.done)
		case <-w.quit:
			return
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("Session sweeper started", "interval", m.opts.SweepInterval, "idle_ttl", m.opts.IdleTTL)
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep evicts sessions idle longer than the TTL. Sessions with a call in
// flight are never evicted.
func (m *Manager) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.IdleTTL)
	evicted := 0
	for id, w := range m.workers {
		if w.active > 0 || w.lastUsed.After(cutoff) {
			continue
		}
		close(w.quit)
		delete(m.workers, id)
		evicted++
	}
	if evicted > 0 {
		m.logger.Info("Evicted idle chat sessions", "count", evicted, "remaining", len(m.workers))
	}
	return evicted
}
