package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syvkst/curia/internal/catalog"
	"github.com/syvkst/curia/internal/config"
	"github.com/syvkst/curia/internal/server"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func problemJSON(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ProblemDetail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

// newListingService runs the real HTTP API over a memory store.
func newListingService(t *testing.T, opts ...server.Option) (*Client, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	srv := server.New(st, config.Config{}, "test", "none", "never", opts...)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return newTestClient(t, Config{BaseURL: ts.URL, MaxRetries: -1}), st
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("requires base url", func(t *testing.T) {
		t.Parallel()
		c, err := New(Config{})
		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "BaseURL is required")
	})

	t.Run("rejects relative url", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{BaseURL: "listings"})
		require.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, Config{BaseURL: " http://example.invalid/ "})
		assert.Equal(t, "http://example.invalid", c.baseURL)
		assert.Equal(t, defaultTimeout, c.cfg.Timeout)
		assert.Equal(t, defaultMaxRetries, c.cfg.MaxRetries)
	})

	t.Run("uses custom values", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, Config{
			BaseURL:    "http://example.invalid",
			Timeout:    5 * time.Second,
			MaxRetries: 9,
		})
		assert.Equal(t, 5*time.Second, c.cfg.Timeout)
		assert.Equal(t, 9, c.cfg.MaxRetries)
	})
}

func TestStoreRoundTripAgainstServer(t *testing.T) {
	t.Parallel()
	c, _ := newListingService(t)
	ctx := context.Background()

	created, err := c.Write(ctx, types.Listing{
		Date:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		Court: "hki",
		Cases: []types.Case{{Matter: "theft", Time: "10:00", Type: types.CaseTypeCriminal}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Revision)
	require.Len(t, created.Cases, 1)
	assert.NotEmpty(t, created.Cases[0].ID)

	created.Notes = "bring files"
	updated, err := c.Write(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)

	got, err := c.Read(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "bring files", got.Notes)

	items, total, err := c.List(ctx, store.ListOptions{
		Court: "hki",
		From:  time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, created.ID, items[0].ID)
	assert.Equal(t, 1, items[0].CaseCount)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Delete(ctx, created.ID))

	_, err = c.Read(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, created.ID), store.ErrNotFound)
}

func TestWriteConflictAndMissing(t *testing.T) {
	t.Parallel()
	c, _ := newListingService(t)
	ctx := context.Background()

	_, err := c.Write(ctx, types.Listing{Cases: []types.Case{{ID: "x", Time: "09:00"}, {ID: "x", Time: "10:00"}}})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = c.Write(ctx, types.Listing{ID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Problem.Detail)
}

func TestCaseOperationsAgainstServer(t *testing.T) {
	t.Parallel()
	c, st := newListingService(t)
	ctx := context.Background()

	listing, err := st.Write(ctx, types.Listing{Cases: []types.Case{
		{ID: "c1", Time: "11:00", Officers: []types.Officer{
			{ID: "o2", Type: types.RoleSecretary},
			{ID: "o1", Type: types.RolePresiding},
		}},
	}})
	require.NoError(t, err)

	got, err := c.GetCase(ctx, listing.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.Spec.Officers[0].ID)

	added, err := c.AddCase(ctx, listing.ID, types.Case{Time: "09:00"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.Spec.ID)

	sorted, err := c.IsTimeSorted(ctx, listing.ID)
	require.NoError(t, err)
	assert.False(t, sorted)

	result, err := c.SortByTime(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, added.Spec.ID, result.Cases[0].ID)

	_, err = c.UpsertCase(ctx, listing.ID, "c1", types.Case{Time: "12:00", Matter: "appeal"})
	require.NoError(t, err)

	require.NoError(t, c.DeleteCase(ctx, listing.ID, added.Spec.ID))
	assert.ErrorIs(t, c.DeleteCase(ctx, listing.ID, added.Spec.ID), store.ErrNotFound)

	_, err = c.GetCase(ctx, listing.ID, " ")
	assert.ErrorContains(t, err, "case id is required")

	stored, err := st.Read(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, stored.Cases, 1)
	assert.Equal(t, "appeal", stored.Cases[0].Matter)
}

func TestCourts(t *testing.T) {
	t.Parallel()
	cat, err := catalog.Parse(strings.NewReader("courts:\n  - id: hki\n    name: Helsinki\n"))
	require.NoError(t, err)
	c, _ := newListingService(t, server.WithCatalog(cat))

	courts, err := c.Courts(context.Background())
	require.NoError(t, err)
	require.Len(t, courts, 1)
	assert.Equal(t, "Helsinki", courts[0].Name)
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			problemJSON(w, http.StatusServiceUnavailable, "warming up")
			return
		}
		respondJSON(w, http.StatusOK, types.Resource[types.Listing]{
			Kind:     "Listing",
			Metadata: types.Metadata{ID: "l1", Revision: 4},
			Spec:     types.Listing{ID: "l1", Revision: 4},
		})
	}))
	defer ts.Close()

	c := newTestClient(t, Config{BaseURL: ts.URL, MaxRetries: 3})
	got, err := c.Read(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Revision)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDoesNotRetryCreateOrClientErrors(t *testing.T) {
	t.Parallel()

	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Method == http.MethodPost {
			problemJSON(w, http.StatusServiceUnavailable, "busy")
			return
		}
		problemJSON(w, http.StatusUnprocessableEntity, "malformed time of day")
	}))
	defer ts.Close()

	c := newTestClient(t, Config{BaseURL: ts.URL, MaxRetries: 3})

	_, err := c.Write(context.Background(), types.Listing{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err = c.SortByTime(context.Background(), "l1")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, err = c.Read(context.Background(), "l1")
	assert.ErrorContains(t, err, "malformed time of day")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestPropagatesRequestID(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-123", r.Header.Get(middleware.RequestIDHeader))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := newTestClient(t, Config{BaseURL: ts.URL})
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	require.NoError(t, c.Delete(ctx, "l1"))
}

func TestBuildListPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, listingsPath, buildListPath(store.ListOptions{}))
	assert.Equal(t,
		listingsPath+"?court=hki&from=2026-03-01T00%3A00%3A00Z&limit=5&offset=10",
		buildListPath(store.ListOptions{
			Limit:  5,
			Offset: 10,
			Court:  "hki",
			From:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		}),
	)
}
