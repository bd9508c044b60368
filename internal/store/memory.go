package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/syvkst/curia/pkg/types"
)

// MemoryStore keeps listings in process memory and notifies subscribers
// after every write.
type MemoryStore struct {
	mu       sync.Mutex
	listings map[string]types.Listing
	subs     map[string]map[uint64]func(Change)
	nextSub  uint64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]types.Listing),
		subs:     make(map[string]map[uint64]func(Change)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Read returns the listing snapshot.
func (s *MemoryStore) Read(_ context.Context, id string) (types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[strings.TrimSpace(id)]
	if !ok {
		return types.Listing{}, ErrNotFound
	}
	return listing.Clone(), nil
}

// Write replaces or creates the listing.
func (s *MemoryStore) Write(_ context.Context, listing types.Listing) (types.Listing, error) {
	s.mu.Lock()
	var prev *types.Listing
	if id := strings.TrimSpace(listing.ID); id != "" {
		stored, ok := s.listings[id]
		if !ok {
			s.mu.Unlock()
			return types.Listing{}, ErrNotFound
		}
		prev = &stored
	}

	written, err := stamp(listing, prev, s.now())
	if err != nil {
		s.mu.Unlock()
		return types.Listing{}, err
	}
	s.listings[written.ID] = written.Clone()
	subscribers := s.subscribersLocked(written.ID)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(Change{Listing: written.Clone()})
	}
	return written, nil
}

// List returns listing summaries ordered by date, newest first.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]types.ListingSummary, int, error) {
	s.mu.Lock()
	summaries := make([]types.ListingSummary, 0, len(s.listings))
	for _, listing := range s.listings {
		if matches(listing, opts) {
			summaries = append(summaries, listing.Summary())
		}
	}
	s.mu.Unlock()

	sortSummaries(summaries)
	return page(summaries, opts), len(summaries), nil
}

// Delete removes the listing.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	stored, ok := s.listings[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.listings, id)
	subscribers := s.subscribersLocked(id)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(Change{Listing: stored.Clone(), Deleted: true})
	}
	return nil
}

// Subscribe registers fn for changes of listing id.
func (s *MemoryStore) Subscribe(ctx context.Context, id string, fn func(Change)) (func(), error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	s.nextSub++
	key := s.nextSub
	if s.subs[id] == nil {
		s.subs[id] = make(map[uint64]func(Change))
	}
	s.subs[id][key] = fn
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[id], key)
			if len(s.subs[id]) == 0 {
				delete(s.subs, id)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

func (s *MemoryStore) subscribersLocked(id string) []func(Change) {
	fns := make([]func(Change), 0, len(s.subs[id]))
	for _, fn := range s.subs[id] {
		fns = append(fns, fn)
	}
	return fns
}

func sortSummaries(summaries []types.ListingSummary) {
	slices.SortFunc(summaries, func(a, b types.ListingSummary) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
