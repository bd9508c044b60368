// Package session binds a listing draft reconciler to the mutation
// dispatcher and to a refresh source for the duration of one edit session.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/dispatch"
	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/reconciler"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/internal/syncer"
	"github.com/syvkst/curia/pkg/types"
)

// Submitter is the dispatcher call a session needs.
type Submitter interface {
	Submit(key string, seq uint64, listing types.Listing, done dispatch.DoneFunc) error
}

type forgetter interface {
	Forget(key string)
}

// Session is one open listing. Its methods never block on the store: they
// queue a message for the reconciler and return. Outcomes are reported
// through View and the update callback.
type Session struct {
	key       string
	store     store.Store
	submitter Submitter
	loop      *reconciler.Loop
	log       zerolog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	pollInterval time.Duration
	pollMetrics  *metrics.Poll

	mu        sync.Mutex
	ctx       context.Context
	refreshed bool
	poller    *syncer.Poller
	closeOnce sync.Once
}

type sessionConfig struct {
	listingID    string
	store        store.Store
	submitter    Submitter
	log          zerolog.Logger
	onUpdate     reconciler.UpdateFunc
	pollInterval time.Duration
	pollMetrics  *metrics.Poll
	newCaseID    func() string
}

func start(ctx context.Context, cfg sessionConfig) *Session {
	listingID := strings.TrimSpace(cfg.listingID)
	key := listingID
	if key == "" {
		key = "new-" + uuid.NewString()
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		key:          key,
		store:        cfg.store,
		submitter:    cfg.submitter,
		log:          cfg.log.With().Str("session", key).Logger(),
		cancel:       cancel,
		ctx:          sctx,
		pollInterval: cfg.pollInterval,
		pollMetrics:  cfg.pollMetrics,
	}

	machineOpts := []reconciler.Option{reconciler.WithLogger(s.log)}
	if cfg.newCaseID != nil {
		machineOpts = append(machineOpts, reconciler.WithIDGenerator(cfg.newCaseID))
	}

	submit := func(seq uint64, listing types.Listing) error {
		return cfg.submitter.Submit(key, seq, listing, func(r dispatch.Result) {
			s.loop.Post(reconciler.Persisted{Seq: r.Seq, Listing: r.Listing, Err: r.Err})
		})
	}
	machine := reconciler.New(listingID, submit, machineOpts...)

	s.loop = reconciler.NewLoop(machine, func(v reconciler.View, err error) {
		if v.ListingID != "" {
			s.startRefresh(v.ListingID)
		}
		if cfg.onUpdate != nil {
			cfg.onUpdate(v, err)
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop.Run(sctx)
	}()

	if listingID == "" {
		s.loop.Post(reconciler.Snapshot{Listing: types.Listing{Cases: []types.Case{}}})
	} else {
		s.startRefresh(listingID)
	}
	return s
}

// Key identifies the session in the dispatcher.
func (s *Session) Key() string { return s.key }

// View returns the latest reconciler view.
func (s *Session) View() reconciler.View { return s.loop.View() }

// Focus marks field as being edited.
func (s *Session) Focus(field reconciler.FieldRef) bool {
	return s.loop.Post(reconciler.Focus{Field: field})
}

// Blur clears the focus.
func (s *Session) Blur() bool { return s.loop.Post(reconciler.Blur{}) }

// Edit sets a field of the draft.
func (s *Session) Edit(field reconciler.FieldRef, value string) bool {
	return s.loop.Post(reconciler.Edit{Field: field, Value: value})
}

// OpenCase opens an existing case for editing.
func (s *Session) OpenCase(caseID string) bool {
	return s.loop.Post(reconciler.OpenCase{CaseID: caseID})
}

// NewCase opens an unsaved case.
func (s *Session) NewCase(c types.Case) bool {
	return s.loop.Post(reconciler.NewCase{Case: c})
}

// CloseCase closes the open case, optionally discarding its edits.
func (s *Session) CloseCase(discard bool) bool {
	return s.loop.Post(reconciler.CloseCase{Discard: discard})
}

// ReplaceCase replaces the open case wholesale.
func (s *Session) ReplaceCase(c types.Case) bool {
	return s.loop.Post(reconciler.ReplaceCase{Case: c})
}

// Commit submits the draft.
func (s *Session) Commit() bool { return s.loop.Post(reconciler.Commit{}) }

// SortByTime submits the draft with its cases in chronological order.
func (s *Session) SortByTime() bool { return s.loop.Post(reconciler.SortByTime{}) }

// Abandon drops the draft.
func (s *Session) Abandon() bool { return s.loop.Post(reconciler.Abandon{}) }

// Do handles msg and waits for its result.
func (s *Session) Do(ctx context.Context, msg reconciler.Msg) error {
	return s.loop.Send(ctx, msg)
}

// Refresh re-reads the listing now. With a poller this goes through the
// poll loop, so an unchanged listing is not redelivered.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	if poller != nil {
		return poller.Trigger(ctx)
	}

	id := s.loop.View().ListingID
	if id == "" {
		return nil
	}
	listing, err := s.store.Read(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.loop.Post(reconciler.NotFound{})
		return nil
	case err != nil:
		return err
	}
	s.loop.Post(reconciler.Snapshot{Listing: listing})
	return nil
}

// PollStatus reports the poll loop state. ok is false when the session
// refreshes through a push subscription or has not started refreshing.
func (s *Session) PollStatus() (status syncer.Status, ok bool) {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	if poller == nil {
		return syncer.Status{}, false
	}
	return poller.Status(), true
}

// Close stops the session. Dispatcher results still in flight are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.loop.Close()
		if f, ok := s.submitter.(forgetter); ok {
			f.Forget(s.key)
		}
	})
	s.wg.Wait()
}

// startRefresh starts the refresh source once the listing ID is known.
func (s *Session) startRefresh(listingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshed || s.ctx.Err() != nil {
		return
	}
	s.refreshed = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(s.ctx, listingID)
	}()
}

// refresh subscribes before the initial read so no change falls between
// the two. Stale deliveries are discarded by revision in the reconciler.
func (s *Session) refresh(ctx context.Context, listingID string) {
	var unsubscribe func()
	if sub, ok := s.store.(store.Subscriber); ok {
		cancel, err := sub.Subscribe(ctx, listingID, s.deliver)
		if err != nil {
			s.log.Warn().Err(err).Msg("push refresh unavailable, falling back to polling")
		} else {
			unsubscribe = cancel
		}
	}

	listing, err := s.store.Read(ctx, listingID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.loop.Post(reconciler.NotFound{})
	case err != nil:
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("initial listing read failed")
		}
	default:
		s.loop.Post(reconciler.Snapshot{Listing: listing})
	}

	if unsubscribe != nil {
		<-ctx.Done()
		unsubscribe()
		return
	}

	opts := []syncer.Option{syncer.WithLogger(s.log.With().Str("component", "poller").Logger())}
	if s.pollMetrics != nil {
		opts = append(opts, syncer.WithMetrics(s.pollMetrics))
	}
	poller := syncer.New(s.store, listingID, s.deliver, syncer.Config{
		Interval:      s.pollInterval,
		PollOnStartup: err != nil && !errors.Is(err, store.ErrNotFound),
	}, opts...)
	if err == nil {
		if seedErr := poller.Seed(listing); seedErr != nil {
			s.log.Warn().Err(seedErr).Msg("seeding poller")
		}
	}

	s.mu.Lock()
	s.poller = poller
	s.mu.Unlock()
	poller.Run(ctx)
}

func (s *Session) deliver(c store.Change) {
	if c.Deleted {
		s.loop.Post(reconciler.NotFound{})
		return
	}
	s.loop.Post(reconciler.Snapshot{Listing: c.Listing})
}
