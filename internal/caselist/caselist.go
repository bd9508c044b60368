// Package caselist merges edited cases into a listing by identity.
//
// Every operation returns a new listing value; inputs are never mutated, so
// readers holding an earlier snapshot keep a consistent view.
package caselist

import (
	"errors"
	"fmt"

	"github.com/syvkst/curia/internal/ordering"
	"github.com/syvkst/curia/pkg/types"
)

var (
	// ErrConflict is returned when more than one case in a listing carries
	// the identity being merged. Case IDs are unique per listing, so this
	// signals a defect in whatever produced the listing.
	ErrConflict = errors.New("case identity conflict")

	// ErrNotFound is returned when a case identity is absent from a listing.
	ErrNotFound = errors.New("case not found")
)

// Upsert replaces the case identified by caseID with updated, or appends
// updated when no case carries that identity. An empty caseID never matches:
// it denotes a case that has not been inserted yet.
//
// The replaced case keeps its position and is overwritten as a whole. The
// officers of the merged case are normalized into role order.
func Upsert(listing types.Listing, caseID string, updated types.Case) (types.Listing, error) {
	idx, err := indexOf(listing.Cases, caseID)
	if err != nil {
		return listing, err
	}

	merged := updated.Clone()
	merged.Officers = ordering.SortOfficers(merged.Officers)

	out := listing.Clone()
	if idx < 0 {
		out.Cases = append(out.Cases, merged)
		return out, nil
	}
	out.Cases[idx] = merged
	return out, nil
}

// Remove drops the case identified by caseID.
func Remove(listing types.Listing, caseID string) (types.Listing, error) {
	idx, err := indexOf(listing.Cases, caseID)
	if err != nil {
		return listing, err
	}
	if idx < 0 {
		return listing, fmt.Errorf("%w: %q", ErrNotFound, caseID)
	}

	out := listing.Clone()
	out.Cases = append(out.Cases[:idx], out.Cases[idx+1:]...)
	return out, nil
}

// Find returns a copy of the case identified by caseID.
func Find(listing types.Listing, caseID string) (types.Case, bool) {
	idx, err := indexOf(listing.Cases, caseID)
	if err != nil || idx < 0 {
		return types.Case{}, false
	}
	return listing.Cases[idx].Clone(), true
}

// SortByTime returns the listing with its cases in chronological order.
// Cases scheduled at the same minute keep their display order.
func SortByTime(listing types.Listing) (types.Listing, error) {
	sorted, err := ordering.SortCasesByTime(listing.Cases)
	if err != nil {
		return listing, fmt.Errorf("sorting cases by time: %w", err)
	}

	out := listing.Clone()
	if listing.Cases == nil {
		sorted = nil
	}
	out.Cases = sorted
	return out, nil
}

// IsTimeSorted reports whether the cases are already chronological.
func IsTimeSorted(listing types.Listing) (bool, error) {
	return ordering.IsTimeSorted(listing.Cases)
}

// CanSortByTime reports whether the chronological-order action is enabled:
// it is disabled exactly when the cases are already in order.
func CanSortByTime(listing types.Listing) (bool, error) {
	sorted, err := IsTimeSorted(listing)
	if err != nil {
		return false, err
	}
	return !sorted, nil
}

// indexOf returns the position of caseID, -1 when absent, or ErrConflict
// when the identity occurs more than once.
func indexOf(cases []types.Case, caseID string) (int, error) {
	if caseID == "" {
		return -1, nil
	}

	found := -1
	for i := range cases {
		if cases[i].ID != caseID {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("%w: %q appears at positions %d and %d", ErrConflict, caseID, found, i)
		}
		found = i
	}
	return found, nil
}
