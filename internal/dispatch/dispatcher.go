// Package dispatch serializes listing writes to the store.
//
// At most one write per listing key is in flight at a time. Drafts submitted
// while a write is in flight are coalesced: only the latest one is sent once
// the in-flight write completes, and the ones it replaced complete with
// ErrSuperseded. Failed writes are reported, never retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/pkg/types"
)

const (
	defaultWorkers      = 4
	defaultWriteTimeout = 30 * time.Second
)

var (
	// ErrNotStarted indicates Start must be called before submitting.
	ErrNotStarted = errors.New("dispatcher not started")
	// ErrQueueFull indicates the ready queue has no room; the submit was rejected.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrSuperseded completes a draft that was replaced by a newer submit
	// before it was sent.
	ErrSuperseded = errors.New("draft superseded by a newer submit")
	// ErrClosed completes drafts still pending when the dispatcher stops.
	ErrClosed = errors.New("dispatcher closed")
	// ErrEmptyKey indicates a submit without a listing key.
	ErrEmptyKey = errors.New("listing key is required")
)

// PersistError reports a failed store write. The draft that produced it is
// untouched; retrying means submitting again.
type PersistError struct {
	Key string
	Seq uint64
	Err error
}

func (e *PersistError) Error() string {
	if e == nil || e.Err == nil {
		return "persist failure"
	}
	return fmt.Sprintf("persisting listing %q (seq %d): %v", e.Key, e.Seq, e.Err)
}

func (e *PersistError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsPersistFailure reports whether err is a store write failure.
func IsPersistFailure(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// Writer is the store side of the dispatcher.
type Writer interface {
	Write(ctx context.Context, listing types.Listing) (types.Listing, error)
}

// Result is delivered once for every accepted submit.
type Result struct {
	Key     string
	Seq     uint64
	Listing types.Listing
	Err     error
}

// DoneFunc receives a submit's result. It is called from a dispatcher
// goroutine and must not block.
type DoneFunc func(Result)

// Config controls dispatcher limits.
type Config struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

type runtimeConfig struct {
	workers      int
	queueSize    int
	writeTimeout time.Duration
	now          func() time.Time
}

type request struct {
	seq     uint64
	listing types.Listing
	done    DoneFunc
}

type slot struct {
	pending *request
	busy    bool
}

// Dispatcher persists submitted drafts with per-key single flight.
type Dispatcher struct {
	writer  Writer
	log     zerolog.Logger
	metrics *metrics.Dispatch
	cfg     runtimeConfig
	queue   *queue

	startOnce sync.Once
	stopped   chan struct{}
	workers   sync.WaitGroup

	runMu      sync.RWMutex
	runningCtx context.Context

	slotsMu sync.Mutex
	slots   map[string]*slot
	// created maps a key to the ID its creation write was assigned.
	created map[string]string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = logger
	}
}

// WithMetrics sets the dispatcher collectors.
func WithMetrics(m *metrics.Dispatch) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New creates a dispatcher writing through w.
func New(w Writer, cfg Config, opts ...Option) *Dispatcher {
	normalized := normalizeConfig(cfg)

	d := &Dispatcher{
		writer:  w,
		log:     zerolog.Nop(),
		metrics: metrics.NewDispatch(nil),
		cfg:     normalized,
		queue:   newQueue(normalized.queueSize),
		stopped: make(chan struct{}),
		slots:   make(map[string]*slot),
		created: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches worker goroutines. It is safe to call multiple times.
// Workers stop when ctx is canceled; drafts still pending then complete
// with ErrClosed.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.setRunningContext(ctx)
		for i := 0; i < d.cfg.workers; i++ {
			d.workers.Add(1)
			go func() {
				defer d.workers.Done()
				d.worker(ctx)
			}()
		}
		go func() {
			<-ctx.Done()
			d.queue.close()
			d.workers.Wait()
			d.failPending(ErrClosed)
			close(d.stopped)
		}()
	})
}

// Done is closed once the dispatcher has stopped and every pending draft
// has been completed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stopped
}

// Submit hands a draft to the dispatcher without blocking. key identifies
// the edit session's listing; seq is echoed back in the Result so callers
// can tell superseded results from the latest one.
//
// done is called exactly once when Submit returns nil. A draft without an
// ID submitted after a creation write for key succeeded is sent with the ID
// that write was assigned.
func (d *Dispatcher) Submit(key string, seq uint64, listing types.Listing, done DoneFunc) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	if !d.isRunning() {
		return ErrNotStarted
	}
	if done == nil {
		done = func(Result) {}
	}

	req := &request{seq: seq, listing: listing.Clone(), done: done}

	d.slotsMu.Lock()
	if req.listing.ID == "" {
		req.listing.ID = d.created[key]
	}
	s, ok := d.slots[key]
	if !ok {
		s = &slot{}
		d.slots[key] = s
	}
	superseded := s.pending
	s.pending = req
	schedule := !s.busy
	s.busy = true

	if schedule {
		if err := d.queue.tryEnqueue(key); err != nil {
			delete(d.slots, key)
			d.slotsMu.Unlock()
			if errors.Is(err, errQueueClosed) {
				return ErrClosed
			}
			return err
		}
	}
	d.slotsMu.Unlock()

	if superseded != nil {
		d.metrics.Coalesced.Inc()
		d.metrics.Writes.WithLabelValues(metrics.OutcomeSuperseded).Inc()
		d.log.Debug().Str("key", key).Uint64("seq", superseded.seq).Uint64("by", seq).Msg("draft superseded")
		superseded.done(Result{Key: key, Seq: superseded.seq, Err: ErrSuperseded})
	}
	return nil
}

// Pending reports whether key has a write queued or in flight.
func (d *Dispatcher) Pending(key string) bool {
	d.slotsMu.Lock()
	defer d.slotsMu.Unlock()
	_, ok := d.slots[strings.TrimSpace(key)]
	return ok
}

// Forget drops the creation ID remembered for key. Sessions call it when
// they close.
func (d *Dispatcher) Forget(key string) {
	d.slotsMu.Lock()
	defer d.slotsMu.Unlock()
	delete(d.created, strings.TrimSpace(key))
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		key, err := d.queue.dequeue(ctx)
		if err != nil {
			return
		}
		d.drain(ctx, key)
	}
}

// drain sends the latest pending draft for key until none is left.
func (d *Dispatcher) drain(ctx context.Context, key string) {
	for {
		if ctx.Err() != nil {
			// Left in place for failPending.
			return
		}

		d.slotsMu.Lock()
		s := d.slots[key]
		if s == nil || s.pending == nil {
			delete(d.slots, key)
			d.slotsMu.Unlock()
			return
		}
		req := s.pending
		s.pending = nil
		d.slotsMu.Unlock()

		result := d.write(ctx, key, req)

		if result.Err == nil && req.listing.ID == "" {
			d.slotsMu.Lock()
			d.created[key] = result.Listing.ID
			if next := d.slots[key]; next != nil && next.pending != nil && next.pending.listing.ID == "" {
				next.pending.listing.ID = result.Listing.ID
			}
			d.slotsMu.Unlock()
		}

		req.done(result)
	}
}

func (d *Dispatcher) write(ctx context.Context, key string, req *request) Result {
	writeCtx, cancel := context.WithTimeout(ctx, d.cfg.writeTimeout)
	defer cancel()

	d.metrics.InFlight.Inc()
	startedAt := d.cfg.now()
	written, err := d.writer.Write(writeCtx, req.listing)
	d.metrics.Latency.Observe(d.cfg.now().Sub(startedAt).Seconds())
	d.metrics.InFlight.Dec()

	if err == nil && strings.TrimSpace(written.ID) == "" {
		err = errors.New("store returned a listing without an id")
	}
	if err != nil {
		d.metrics.Writes.WithLabelValues(metrics.OutcomeFailure).Inc()
		d.log.Warn().Err(err).Str("key", key).Uint64("seq", req.seq).Msg("listing write failed")
		return Result{Key: key, Seq: req.seq, Err: &PersistError{Key: key, Seq: req.seq, Err: err}}
	}

	d.metrics.Writes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	d.log.Debug().Str("key", key).Uint64("seq", req.seq).Str("listing_id", written.ID).Int64("revision", written.Revision).Msg("listing written")
	return Result{Key: key, Seq: req.seq, Listing: written}
}

func (d *Dispatcher) failPending(reason error) {
	d.slotsMu.Lock()
	var orphaned []Result
	var dones []DoneFunc
	for key, s := range d.slots {
		if s.pending != nil {
			orphaned = append(orphaned, Result{Key: key, Seq: s.pending.seq, Err: reason})
			dones = append(dones, s.pending.done)
		}
		delete(d.slots, key)
	}
	d.slotsMu.Unlock()

	for i, result := range orphaned {
		dones[i](result)
	}
}

func (d *Dispatcher) setRunningContext(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.runningCtx = ctx
}

func (d *Dispatcher) isRunning() bool {
	d.runMu.RLock()
	defer d.runMu.RUnlock()
	if d.runningCtx == nil {
		return false
	}
	return d.runningCtx.Err() == nil
}

func normalizeConfig(cfg Config) runtimeConfig {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers * 64
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return runtimeConfig{
		workers:      workers,
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}
