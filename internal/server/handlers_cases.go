package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/syvkst/curia/internal/caselist"
	"github.com/syvkst/curia/internal/ordering"
	"github.com/syvkst/curia/pkg/types"
)

func (s *Server) handleAddCase(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var c types.Case
	if err := decodeJSON(r, &c); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(c.ID) != "" {
		respondProblem(w, r, http.StatusBadRequest, "case id is assigned by the server")
		return
	}
	c.ID = uuid.NewString()

	written, err := s.mutateListing(r.Context(), "add_case", id, func(l types.Listing) (types.Listing, error) {
		return caselist.Upsert(l, c.ID, c)
	})
	if err != nil {
		respondError(w, r, err, "failed to add case")
		return
	}

	stored, _ := caselist.Find(written, c.ID)
	w.Header().Set("Location", "/listings/v1/listings/"+written.ID+"/cases/"+stored.ID)
	respondJSON(w, r, http.StatusCreated, caseResource(written, stored))
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	caseID := strings.TrimSpace(chi.URLParam(r, "caseID"))

	listing, err := s.store.Read(r.Context(), id)
	s.observe("read", err)
	if err != nil {
		respondError(w, r, err, "failed to read listing")
		return
	}
	c, ok := caselist.Find(listing, caseID)
	if !ok {
		respondProblemf(w, r, http.StatusNotFound, "case %q not found in listing %q", caseID, id)
		return
	}
	c.Officers = ordering.SortOfficers(c.Officers)
	respondJSON(w, r, http.StatusOK, caseResource(listing, c))
}

func (s *Server) handleUpsertCase(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	caseID := strings.TrimSpace(chi.URLParam(r, "caseID"))

	var c types.Case
	if err := decodeJSON(r, &c); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if body := strings.TrimSpace(c.ID); body != "" && body != caseID {
		respondProblemf(w, r, http.StatusBadRequest, "case id %q does not match path %q", body, caseID)
		return
	}
	c.ID = caseID

	written, err := s.mutateListing(r.Context(), "upsert_case", id, func(l types.Listing) (types.Listing, error) {
		return caselist.Upsert(l, caseID, c)
	})
	if err != nil {
		respondError(w, r, err, "failed to store case")
		return
	}

	stored, _ := caselist.Find(written, caseID)
	respondJSON(w, r, http.StatusOK, caseResource(written, stored))
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	caseID := strings.TrimSpace(chi.URLParam(r, "caseID"))

	_, err := s.mutateListing(r.Context(), "delete_case", id, func(l types.Listing) (types.Listing, error) {
		return caselist.Remove(l, caseID)
	})
	if err != nil {
		respondError(w, r, err, "failed to delete case")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSortStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	listing, err := s.store.Read(r.Context(), id)
	s.observe("read", err)
	if err != nil {
		respondError(w, r, err, "failed to read listing")
		return
	}
	sorted, err := caselist.IsTimeSorted(listing)
	if err != nil {
		respondError(w, r, err, "failed to inspect case order")
		return
	}
	respondJSON(w, r, http.StatusOK, types.SortStatus{Sorted: sorted})
}

func (s *Server) handleSortCases(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	written, err := s.mutateListing(r.Context(), "sort", id, func(l types.Listing) (types.Listing, error) {
		return caselist.SortByTime(l)
	})
	if err != nil {
		respondError(w, r, err, "failed to sort cases")
		return
	}
	respondJSON(w, r, http.StatusOK, listingResource(written))
}

// mutateListing applies fn to the stored listing and writes the result. An
// unchanged listing is not written again.
func (s *Server) mutateListing(
	ctx context.Context,
	operation string,
	id string,
	fn func(types.Listing) (types.Listing, error),
) (types.Listing, error) {
	s.mutateMu.Lock()
	defer s.mutateMu.Unlock()

	listing, err := s.store.Read(ctx, id)
	if err != nil {
		s.observe(operation, err)
		return types.Listing{}, err
	}

	updated, err := fn(listing)
	if err == nil {
		err = s.validateListing(updated)
	}
	if err != nil {
		s.observe(operation, err)
		return types.Listing{}, err
	}
	if sameCases(listing, updated) {
		s.observe(operation, nil)
		return listing, nil
	}

	written, err := s.store.Write(ctx, updated)
	s.observe(operation, err)
	return written, err
}

func sameCases(a, b types.Listing) bool {
	if len(a.Cases) != len(b.Cases) {
		return false
	}
	for i := range a.Cases {
		if !sameCase(a.Cases[i], b.Cases[i]) {
			return false
		}
	}
	return true
}

func sameCase(a, b types.Case) bool {
	if a.ID != b.ID || a.CaseNumber != b.CaseNumber || a.ProsecutorCaseNumber != b.ProsecutorCaseNumber ||
		a.Matter != b.Matter || a.Time != b.Time || a.Type != b.Type ||
		len(a.Officers) != len(b.Officers) || len(a.Civilians) != len(b.Civilians) {
		return false
	}
	for i := range a.Officers {
		if a.Officers[i] != b.Officers[i] {
			return false
		}
	}
	for i := range a.Civilians {
		if a.Civilians[i] != b.Civilians[i] {
			return false
		}
	}
	return true
}

func caseResource(l types.Listing, c types.Case) types.Resource[types.Case] {
	return types.Resource[types.Case]{
		Kind:       kindCase,
		APIVersion: types.APIVersion,
		Metadata:   types.Metadata{ID: c.ID, Revision: l.Revision},
		Spec:       c,
	}
}
