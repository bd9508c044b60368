// Package store defines the listing persistence contract and its backends.
//
// A Store holds the durable snapshot of every listing. Writes are full
// snapshot replaces: the store assigns identities on creation, bumps the
// revision on every write and returns the authoritative snapshot.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syvkst/curia/pkg/types"
)

var (
	// ErrNotFound is returned when the requested listing does not exist.
	ErrNotFound = errors.New("listing not found")

	// ErrConflict is returned when a write would break case identity
	// uniqueness within a listing.
	ErrConflict = errors.New("listing conflict")
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// ListOptions carries pagination and filter parameters for List.
type ListOptions struct {
	Limit  int
	Offset int

	Court types.Ref
	// From and To bound the listing date, inclusive. Zero values are open.
	From time.Time
	To   time.Time
}

// Store is the collaborator the reconciliation core reads from and writes to.
type Store interface {
	// Read returns the current snapshot or ErrNotFound.
	Read(ctx context.Context, id string) (types.Listing, error)
	// Write replaces the listing. An empty ID creates it.
	Write(ctx context.Context, listing types.Listing) (types.Listing, error)
}

// Change is a push notification about one listing.
type Change struct {
	Listing types.Listing
	Deleted bool
}

// Subscriber is implemented by stores with a push channel. fn runs on a
// store goroutine and must not block. The returned func cancels the
// subscription; cancelling ctx does too.
type Subscriber interface {
	Subscribe(ctx context.Context, id string, fn func(Change)) (func(), error)
}

// Backend is a Store that can also be served over HTTP.
type Backend interface {
	Store
	List(ctx context.Context, opts ListOptions) ([]types.ListingSummary, int, error)
	Delete(ctx context.Context, id string) error
	// Ping checks backend health for readiness probes.
	Ping(ctx context.Context) error
}

// stamp prepares a listing for storage. prev is the stored snapshot, nil
// when the listing is being created.
func stamp(listing types.Listing, prev *types.Listing, now time.Time) (types.Listing, error) {
	out := listing.Clone()
	if out.Cases == nil {
		out.Cases = []types.Case{}
	}

	if err := checkCaseIdentities(out.Cases); err != nil {
		return types.Listing{}, err
	}
	for i := range out.Cases {
		if out.Cases[i].ID == "" {
			out.Cases[i].ID = uuid.NewString()
		}
	}

	if prev == nil {
		if out.ID == "" {
			out.ID = uuid.NewString()
		}
		if out.CreationDate.IsZero() {
			out.CreationDate = now
		}
		out.Revision = 1
		return out, nil
	}

	out.CreationDate = prev.CreationDate
	out.Revision = prev.Revision + 1
	return out, nil
}

func checkCaseIdentities(cases []types.Case) error {
	seen := make(map[string]int, len(cases))
	for i, c := range cases {
		if c.ID == "" {
			continue
		}
		if j, ok := seen[c.ID]; ok {
			return fmt.Errorf("%w: case %q appears at positions %d and %d", ErrConflict, c.ID, j, i)
		}
		seen[c.ID] = i
	}
	return nil
}

func matches(l types.Listing, opts ListOptions) bool {
	if opts.Court.IsSet() && l.Court != opts.Court {
		return false
	}
	if !opts.From.IsZero() && l.Date.Before(opts.From) {
		return false
	}
	if !opts.To.IsZero() && l.Date.After(opts.To) {
		return false
	}
	return true
}

func normalizePageLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageLimit
	case limit > maxPageLimit:
		return maxPageLimit
	default:
		return limit
	}
}

// page slices items according to opts.
func page[T any](items []T, opts ListOptions) []T {
	offset := max(opts.Offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+normalizePageLimit(opts.Limit), len(items))
	return items[offset:end]
}
