package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syvkst/curia/internal/config"
	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

type mockBackend struct {
	pingFn   func(ctx context.Context) error
	readFn   func(ctx context.Context, id string) (types.Listing, error)
	writeFn  func(ctx context.Context, listing types.Listing) (types.Listing, error)
	listFn   func(ctx context.Context, opts store.ListOptions) ([]types.ListingSummary, int, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockBackend) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockBackend) Read(ctx context.Context, id string) (types.Listing, error) {
	if m.readFn != nil {
		return m.readFn(ctx, id)
	}
	return types.Listing{}, store.ErrNotFound
}

func (m *mockBackend) Write(ctx context.Context, listing types.Listing) (types.Listing, error) {
	if m.writeFn != nil {
		return m.writeFn(ctx, listing)
	}
	return listing, nil
}

func (m *mockBackend) List(ctx context.Context, opts store.ListOptions) ([]types.ListingSummary, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, opts)
	}
	return []types.ListingSummary{}, 0, nil
}

func (m *mockBackend) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func TestServer_PublicEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := New(&mockBackend{}, config.Config{MetricsEnabled: true}, "v1", "abc", "now",
		WithOpenAPISpec([]byte("openapi: 3.0.3\n")),
		WithMetrics(reg, metrics.NewStore(reg)),
	)
	router := srv.Router()

	for _, path := range []string{"/health", "/readiness", "/version", "/api/openapi.yaml"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code, path)
		assert.Equal(t, types.APIVersion, resp.Header().Get("X-API-Version"))
		assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
	}

	// Generate one store operation so the counter is exported.
	req := httptest.NewRequest(http.MethodGet, "/listings/v1/listings/missing", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `curia_store_operations_total{operation="read",outcome="not_found"} 1`)
}

func TestServer_VersionBody(t *testing.T) {
	srv := New(&mockBackend{}, config.Config{}, "v1.2.3", "abc", "2026-10-01")

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"version":"v1.2.3","commit":"abc","buildDate":"2026-10-01"}`, resp.Body.String())
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := New(&mockBackend{}, config.Config{MetricsEnabled: false}, "v1", "abc", "now")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_OpenAPIMissing(t *testing.T) {
	srv := New(&mockBackend{}, config.Config{}, "v1", "abc", "now")

	req := httptest.NewRequest(http.MethodGet, "/api/openapi.yaml", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_ReadinessFailure(t *testing.T) {
	srv := New(&mockBackend{pingFn: func(context.Context) error {
		return errors.New("db down")
	}}, config.Config{}, "v1", "abc", "now")

	req := httptest.NewRequest(http.MethodGet, "/readiness", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, problemContentType, resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "db down")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	srv := New(&mockBackend{readFn: func(context.Context, string) (types.Listing, error) {
		panic("boom")
	}}, config.Config{}, "v1", "abc", "now")

	req := httptest.NewRequest(http.MethodGet, "/listings/v1/listings/l1", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, problemContentType, resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), `"status":500`)
}

func TestServer_ErrorsLogThroughServerLogger(t *testing.T) {
	var buf bytes.Buffer
	srv := New(&mockBackend{readFn: func(context.Context, string) (types.Listing, error) {
		return types.Listing{}, errors.New("connection reset")
	}}, config.Config{}, "v1", "abc", "now", WithLogger(zerolog.New(&buf)))

	req := httptest.NewRequest(http.MethodGet, "/listings/v1/listings/l1", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "connection reset")

	logged := buf.String()
	assert.Contains(t, logged, "connection reset")
	assert.Contains(t, logged, "failed to read listing")
	assert.Contains(t, logged, `"request_id"`)
}

func TestServer_RequiresJSONBody(t *testing.T) {
	srv := New(store.NewMemoryStore(), config.Config{}, "v1", "abc", "now")

	req := httptest.NewRequest(http.MethodPost, "/listings/v1/listings", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Code)
}
