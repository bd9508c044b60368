package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/syvkst/curia/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	kindListing        = "Listing"
	kindListingSummary = "ListingSummary"
	kindListingList    = "ListingList"
	kindCase           = "Case"
)

var errInvalidListing = errors.New("invalid listing")

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		respondProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := s.store.List(r.Context(), opts)
	s.observe("list", err)
	if err != nil {
		respondError(w, r, err, "failed to list listings")
		return
	}

	resources := make([]types.Resource[types.ListingSummary], 0, len(items))
	for _, item := range items {
		resources = append(resources, types.Resource[types.ListingSummary]{
			Kind:       kindListingSummary,
			APIVersion: types.APIVersion,
			Metadata:   types.Metadata{ID: item.ID, Revision: item.Revision},
			Spec:       item,
		})
	}

	respondJSON(w, r, http.StatusOK, types.ResourceList[types.ListingSummary]{
		Kind:       kindListingList,
		APIVersion: types.APIVersion,
		Metadata: types.ListMetadata{
			Total:  total,
			Limit:  opts.Limit,
			Offset: opts.Offset,
		},
		Items: resources,
	})
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var listing types.Listing
	if err := decodeJSON(r, &listing); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(listing.ID) != "" {
		respondProblem(w, r, http.StatusBadRequest, "listing id is assigned by the server")
		return
	}
	if err := s.validateListing(listing); err != nil {
		respondError(w, r, err, "failed to create listing")
		return
	}

	created, err := s.store.Write(r.Context(), listing)
	s.observe("create", err)
	if err != nil {
		respondError(w, r, err, "failed to create listing")
		return
	}

	w.Header().Set("Location", "/listings/v1/listings/"+created.ID)
	respondJSON(w, r, http.StatusCreated, listingResource(created))
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	listing, err := s.store.Read(r.Context(), id)
	s.observe("read", err)
	if err != nil {
		respondError(w, r, err, "failed to read listing")
		return
	}
	respondJSON(w, r, http.StatusOK, listingResource(listing))
}

func (s *Server) handleReplaceListing(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var listing types.Listing
	if err := decodeJSON(r, &listing); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if body := strings.TrimSpace(listing.ID); body != "" && body != id {
		respondProblemf(w, r, http.StatusBadRequest, "listing id %q does not match path %q", body, id)
		return
	}
	listing.ID = id
	if err := s.validateListing(listing); err != nil {
		respondError(w, r, err, "failed to replace listing")
		return
	}

	written, err := s.store.Write(r.Context(), listing)
	s.observe("write", err)
	if err != nil {
		respondError(w, r, err, "failed to replace listing")
		return
	}
	respondJSON(w, r, http.StatusOK, listingResource(written))
}

func (s *Server) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	err := s.store.Delete(r.Context(), id)
	s.observe("delete", err)
	if err != nil {
		respondError(w, r, err, "failed to delete listing")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCourts(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondProblem(w, r, http.StatusNotFound, "no court catalog is configured")
		return
	}
	respondJSON(w, r, http.StatusOK, s.catalog.Courts())
}

// validateListing checks what the store does not: catalog refs, case
// times and types and the break time.
func (s *Server) validateListing(l types.Listing) error {
	if l.Break != nil && !l.Break.Valid() {
		return fmt.Errorf("%w: break: %w", errInvalidListing, types.ErrMalformedTime)
	}
	for i, c := range l.Cases {
		if err := validateCase(c); err != nil {
			return fmt.Errorf("case %d: %w", i, err)
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Validate(l); err != nil {
			return err
		}
	}
	return nil
}

func validateCase(c types.Case) error {
	if _, _, err := c.Time.Clock(); err != nil {
		return fmt.Errorf("%w: time: %w", errInvalidListing, err)
	}
	switch c.Type {
	case "", types.CaseTypeCriminal, types.CaseTypeCivil:
	default:
		return fmt.Errorf("%w: unknown case type %q", errInvalidListing, c.Type)
	}
	return nil
}

func listingResource(l types.Listing) types.Resource[types.Listing] {
	return types.Resource[types.Listing]{
		Kind:       kindListing,
		APIVersion: types.APIVersion,
		Metadata:   types.Metadata{ID: l.ID, Revision: l.Revision},
		Spec:       l,
	}
}

// parseDateParam accepts RFC 3339 timestamps or plain dates. A plain date
// used as an upper bound is the end of that day.
func parseDateParam(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a date nor an RFC 3339 timestamp", raw)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
