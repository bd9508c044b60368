// Package syncer provides the polling refresh loop used when a store has no
// push change feed.
package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

const (
	defaultPollInterval = 5 * time.Second
	notFoundDigest      = "not-found"
)

// Reader is the store call the poller needs.
type Reader interface {
	Read(ctx context.Context, id string) (types.Listing, error)
}

// Config contains poll-loop settings.
type Config struct {
	Interval      time.Duration
	PollOnStartup bool
}

// Status captures current and last-run poll state.
type Status struct {
	ListingID      string     `json:"listing_id"`
	InProgress     bool       `json:"in_progress"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastDigest     string     `json:"last_digest,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	NotModified    bool       `json:"not_modified"`
	NotFound       bool       `json:"not_found"`
	SuccessfulRuns int64      `json:"successful_runs"`
	FailedRuns     int64      `json:"failed_runs"`
}

// Poller reads one listing periodically and delivers it when its canonical
// JSON digest changes. A missing listing is delivered once as a deleted
// change.
type Poller struct {
	reader    Reader
	listingID string
	deliver   func(store.Change)
	log       zerolog.Logger
	metrics   *metrics.Poll

	interval      time.Duration
	pollOnStartup bool
	forcePollCh   chan chan error

	runMu   stdsync.Mutex
	stateMu stdsync.RWMutex
	status  Status
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the poller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) {
		p.log = logger
	}
}

// WithMetrics records poll outcomes in m.
func WithMetrics(m *metrics.Poll) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// New creates a poller for listingID. deliver runs on the poll goroutine.
func New(reader Reader, listingID string, deliver func(store.Change), cfg Config, opts ...Option) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	p := &Poller{
		reader:        reader,
		listingID:     strings.TrimSpace(listingID),
		deliver:       deliver,
		log:           zerolog.Nop(),
		interval:      interval,
		pollOnStartup: cfg.PollOnStartup,
		forcePollCh:   make(chan chan error),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.status.ListingID = p.listingID
	return p
}

// Seed records a snapshot obtained elsewhere so that polling it again is
// not reported as a change.
func (p *Poller) Seed(listing types.Listing) error {
	d, err := digest(listing)
	if err != nil {
		return err
	}
	p.updateStatus(func(st *Status) {
		st.LastDigest = d
		st.NotFound = false
	})
	return nil
}

// Run starts the poll loop and blocks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	if p.pollOnStartup {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("initial listing poll failed")
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("periodic listing poll failed")
			}
		case resultCh := <-p.forcePollCh:
			resultCh <- p.PollOnce(ctx)
		}
	}
}

// Trigger requests an immediate poll from the running loop and waits for
// the result.
func (p *Poller) Trigger(ctx context.Context) error {
	resultCh := make(chan error, 1)

	select {
	case p.forcePollCh <- resultCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest poll status snapshot.
func (p *Poller) Status() Status {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	statusCopy := p.status
	statusCopy.LastAttemptAt = cloneTimePtr(p.status.LastAttemptAt)
	statusCopy.LastSyncAt = cloneTimePtr(p.status.LastSyncAt)
	return statusCopy
}

// PollOnce reads the listing and delivers it if it changed.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	startedAt := time.Now().UTC()
	p.updateStatus(func(st *Status) {
		st.InProgress = true
		st.LastAttemptAt = &startedAt
		st.LastError = ""
		st.NotModified = false
	})
	defer p.updateStatus(func(st *Status) {
		st.InProgress = false
	})

	listing, err := p.reader.Read(ctx, p.listingID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		changed := p.lastDigest() != notFoundDigest
		p.markSuccess(notFoundDigest, !changed, true)
		p.observe(metrics.OutcomeNotFound, changed)
		if changed {
			p.deliver(store.Change{Listing: types.Listing{ID: p.listingID}, Deleted: true})
		}
		return nil
	case err != nil:
		p.markFailure(err)
		p.observe(metrics.OutcomeFailure, false)
		return fmt.Errorf("reading listing %q: %w", p.listingID, err)
	}

	d, err := digest(listing)
	if err != nil {
		p.markFailure(err)
		p.observe(metrics.OutcomeFailure, false)
		return err
	}

	if d == p.lastDigest() {
		p.markSuccess(d, true, false)
		p.observe(metrics.OutcomeUnchanged, false)
		return nil
	}

	p.markSuccess(d, false, false)
	p.observe(metrics.OutcomeSuccess, true)
	p.log.Debug().Str("listing_id", p.listingID).Int64("revision", listing.Revision).Msg("listing changed")
	p.deliver(store.Change{Listing: listing})
	return nil
}

// digest returns the sha256 of the RFC 8785 canonical form of the listing.
func digest(listing types.Listing) (string, error) {
	raw, err := json.Marshal(listing)
	if err != nil {
		return "", fmt.Errorf("encoding listing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing listing: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (p *Poller) observe(outcome string, changed bool) {
	if p.metrics == nil {
		return
	}
	p.metrics.Runs.WithLabelValues(outcome).Inc()
	if changed {
		p.metrics.Changes.Inc()
	}
}

func (p *Poller) lastDigest() string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.status.LastDigest
}

func (p *Poller) markSuccess(d string, notModified, notFound bool) {
	completedAt := time.Now().UTC()
	p.updateStatus(func(st *Status) {
		st.LastSyncAt = &completedAt
		st.LastDigest = d
		st.NotModified = notModified
		st.NotFound = notFound
		st.SuccessfulRuns++
	})
}

func (p *Poller) markFailure(err error) {
	p.updateStatus(func(st *Status) {
		st.FailedRuns++
		st.LastError = err.Error()
		st.NotModified = false
	})
}

func (p *Poller) updateStatus(update func(*Status)) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	update(&p.status)
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
