package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultMaxEditors = 256

var (
	// ErrUnknownEditor is returned for editor IDs the registry does not hold.
	ErrUnknownEditor = errors.New("unknown editor")
	// ErrTooManyEditors is returned when the registry is full.
	ErrTooManyEditors = errors.New("too many open editors")
	// ErrRegistryClosed is returned by Create after CloseAll.
	ErrRegistryClosed = errors.New("editor registry closed")
)

// Registry holds one Manager per remote editor. Each editor has at most one
// listing open at a time, like a single editor window.
type Registry struct {
	newManager func() *Manager
	limit      int
	log        zerolog.Logger

	// base outlives the requests that open sessions.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	editors map[string]*Manager
}

// NewRegistry creates a registry. newManager builds the Manager of each new
// editor; limit <= 0 selects the default.
func NewRegistry(newManager func() *Manager, limit int, logger zerolog.Logger) *Registry {
	if limit <= 0 {
		limit = defaultMaxEditors
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		newManager: newManager,
		limit:      limit,
		log:        logger,
		base:       base,
		cancel:     cancel,
		editors:    make(map[string]*Manager),
	}
}

// Create registers a new editor with listingID open; an empty listingID
// starts a new listing.
func (r *Registry) Create(listingID string) (string, *Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.base.Err() != nil {
		return "", nil, ErrRegistryClosed
	}
	if len(r.editors) >= r.limit {
		return "", nil, ErrTooManyEditors
	}

	id := uuid.NewString()
	mgr := r.newManager()
	r.editors[id] = mgr
	s := mgr.Open(r.base, listingID)
	r.log.Debug().Str("editor", id).Str("listing_id", listingID).Msg("editor opened")
	return id, s, nil
}

// Session returns the editor's open session.
func (r *Registry) Session(editorID string) (*Session, error) {
	r.mu.Lock()
	mgr, ok := r.editors[editorID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownEditor
	}
	s := mgr.Current()
	if s == nil {
		return nil, ErrUnknownEditor
	}
	return s, nil
}

// Open switches the editor to listingID, closing its previous session.
func (r *Registry) Open(editorID, listingID string) (*Session, error) {
	r.mu.Lock()
	mgr, ok := r.editors[editorID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownEditor
	}
	return mgr.Open(r.base, listingID), nil
}

// Close closes and forgets the editor.
func (r *Registry) Close(editorID string) error {
	r.mu.Lock()
	mgr, ok := r.editors[editorID]
	delete(r.editors, editorID)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownEditor
	}
	mgr.Close()
	r.log.Debug().Str("editor", editorID).Msg("editor closed")
	return nil
}

// Len reports the number of open editors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.editors)
}

// CloseAll closes every editor. Create fails afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	editors := r.editors
	r.editors = make(map[string]*Manager)
	r.cancel()
	r.mu.Unlock()

	for _, mgr := range editors {
		mgr.Close()
	}
}
