package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/caselist"
	"github.com/syvkst/curia/internal/catalog"
	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

const problemContentType = "application/problem+json"

// respondJSON and respondError log through the request logger that
// requestLogger attaches to the context.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("writing response body")
	}
}

func respondProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ProblemDetail{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

func respondProblemf(w http.ResponseWriter, r *http.Request, status int, format string, args ...any) {
	respondProblem(w, r, status, fmt.Sprintf(format, args...))
}

// respondError maps domain errors onto problem responses.
func respondError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, caselist.ErrNotFound):
		respondProblem(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, caselist.ErrConflict):
		respondProblem(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrMalformedTime), errors.Is(err, catalog.ErrUnknownRef), errors.Is(err, errInvalidListing):
		respondProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		respondProblem(w, r, http.StatusInternalServerError, fallback)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, store.ErrNotFound), errors.Is(err, caselist.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFailure
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON document")
	}
	return nil
}

func parseListOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	var opts store.ListOptions

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			return store.ListOptions{}, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
		}
		opts.Limit = limit
	} else {
		opts.Limit = defaultListLimit
	}

	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return store.ListOptions{}, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = offset
	}

	opts.Court = types.Ref(strings.TrimSpace(q.Get("court")))

	var err error
	if opts.From, err = parseDateParam(q.Get("from"), false); err != nil {
		return store.ListOptions{}, fmt.Errorf("from: %w", err)
	}
	if opts.To, err = parseDateParam(q.Get("to"), true); err != nil {
		return store.ListOptions{}, fmt.Errorf("to: %w", err)
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return store.ListOptions{}, errors.New("to must not be before from")
	}
	return opts, nil
}
