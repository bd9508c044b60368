package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/reconciler"
	"github.com/syvkst/curia/internal/store"
)

// Config contains session settings.
type Config struct {
	// PollInterval applies when the store has no push change feed.
	PollInterval time.Duration
}

// Manager keeps at most one open session. Opening a listing closes the
// session that was open before.
type Manager struct {
	store     store.Store
	submitter Submitter
	cfg       Config
	log       zerolog.Logger
	onUpdate  reconciler.UpdateFunc
	poll      *metrics.Poll
	newCaseID func() string

	mu      sync.Mutex
	current *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithUpdateFunc observes every view published by the open session.
func WithUpdateFunc(fn reconciler.UpdateFunc) Option {
	return func(m *Manager) {
		m.onUpdate = fn
	}
}

// WithPollMetrics records poll outcomes of polling sessions.
func WithPollMetrics(p *metrics.Poll) Option {
	return func(m *Manager) {
		m.poll = p
	}
}

// WithCaseIDGenerator overrides the IDs given to new cases.
func WithCaseIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newCaseID = fn
	}
}

// NewManager creates a session manager over st. Writes go through submitter.
func NewManager(st store.Store, submitter Submitter, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		submitter: submitter,
		cfg:       cfg,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a session for listingID; an empty ID starts a new listing.
// The previous session is closed first. The session lives until Close, the
// next Open, or cancellation of ctx.
func (m *Manager) Open(ctx context.Context, listingID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.log.Debug().Str("session", m.current.Key()).Msg("closing previous session")
		m.current.Close()
	}

	m.current = start(ctx, sessionConfig{
		listingID:    listingID,
		store:        m.store,
		submitter:    m.submitter,
		log:          m.log,
		onUpdate:     m.onUpdate,
		pollInterval: m.cfg.PollInterval,
		pollMetrics:  m.poll,
		newCaseID:    m.newCaseID,
	})
	m.log.Debug().Str("session", m.current.Key()).Msg("session opened")
	return m.current
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close closes the open session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
