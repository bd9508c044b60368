// Package client provides a typed HTTP client SDK for the curia listing API.
//
// Client satisfies store.Store, so a reconciler session can drive a remote
// listing service the same way it drives a local backend.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/syvkst/curia/internal/catalog"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	listingsPath      = "/listings/v1/listings"
	courtsPath        = "/listings/v1/catalog/courts"
	readinessPath     = "/readiness"
)

// Config holds listing client configuration.
type Config struct {
	// BaseURL is the root URL of the listing API (for example: http://localhost:27790).
	BaseURL string
	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout time.Duration
	// MaxRetries is the number of retry attempts for transient errors.
	MaxRetries int
	// HTTPClient overrides the transport. Timeout is still applied per request.
	HTTPClient *http.Client
}

// Client is the typed HTTP SDK for listing APIs.
type Client struct {
	http    *http.Client
	baseURL string
	cfg     Config
}

var (
	_ store.Store   = (*Client)(nil)
	_ store.Backend = (*Client)(nil)
)

// New creates a new listing client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	cfg.BaseURL = baseURL

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		cfg:     cfg,
	}, nil
}

// Read returns the stored listing. A missing listing yields an error
// matching store.ErrNotFound.
func (c *Client) Read(ctx context.Context, id string) (types.Listing, error) {
	listingID := strings.TrimSpace(id)
	if listingID == "" {
		return types.Listing{}, fmt.Errorf("listing id is required")
	}

	var result types.Resource[types.Listing]
	if err := c.do(ctx, http.MethodGet, listingPath(listingID), nil, &result); err != nil {
		return types.Listing{}, fmt.Errorf("getting listing %q: %w", listingID, err)
	}
	return result.Spec, nil
}

// Write creates the listing when its ID is empty and replaces it otherwise.
func (c *Client) Write(ctx context.Context, listing types.Listing) (types.Listing, error) {
	var result types.Resource[types.Listing]

	listingID := strings.TrimSpace(listing.ID)
	if listingID == "" {
		if err := c.do(ctx, http.MethodPost, listingsPath, listing, &result); err != nil {
			return types.Listing{}, fmt.Errorf("creating listing: %w", err)
		}
		return result.Spec, nil
	}

	if err := c.do(ctx, http.MethodPut, listingPath(listingID), listing, &result); err != nil {
		return types.Listing{}, fmt.Errorf("replacing listing %q: %w", listingID, err)
	}
	return result.Spec, nil
}

// List returns listing summaries and the total match count.
func (c *Client) List(ctx context.Context, opts store.ListOptions) ([]types.ListingSummary, int, error) {
	var result types.ResourceList[types.ListingSummary]
	if err := c.do(ctx, http.MethodGet, buildListPath(opts), nil, &result); err != nil {
		return nil, 0, fmt.Errorf("listing listings: %w", err)
	}

	items := make([]types.ListingSummary, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, item.Spec)
	}
	return items, result.Metadata.Total, nil
}

// Delete removes the listing.
func (c *Client) Delete(ctx context.Context, id string) error {
	listingID := strings.TrimSpace(id)
	if listingID == "" {
		return fmt.Errorf("listing id is required")
	}
	if err := c.do(ctx, http.MethodDelete, listingPath(listingID), nil, nil); err != nil {
		return fmt.Errorf("deleting listing %q: %w", listingID, err)
	}
	return nil
}

// Ping checks service readiness.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, readinessPath, nil, nil); err != nil {
		return fmt.Errorf("checking readiness: %w", err)
	}
	return nil
}

// GetCase returns one case with its officers in rank order.
func (c *Client) GetCase(ctx context.Context, listingID, caseID string) (*types.Resource[types.Case], error) {
	path, err := casePath(listingID, caseID)
	if err != nil {
		return nil, err
	}
	var result types.Resource[types.Case]
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("getting case %q: %w", caseID, err)
	}
	return &result, nil
}

// AddCase appends a new case; the server assigns its ID.
func (c *Client) AddCase(ctx context.Context, listingID string, kase types.Case) (*types.Resource[types.Case], error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, fmt.Errorf("listing id is required")
	}
	var result types.Resource[types.Case]
	if err := c.do(ctx, http.MethodPost, listingPath(listingID)+"/cases", kase, &result); err != nil {
		return nil, fmt.Errorf("adding case to listing %q: %w", listingID, err)
	}
	return &result, nil
}

// UpsertCase replaces the case with caseID in place, or appends it.
func (c *Client) UpsertCase(
	ctx context.Context,
	listingID string,
	caseID string,
	kase types.Case,
) (*types.Resource[types.Case], error) {
	path, err := casePath(listingID, caseID)
	if err != nil {
		return nil, err
	}
	var result types.Resource[types.Case]
	if err := c.do(ctx, http.MethodPut, path, kase, &result); err != nil {
		return nil, fmt.Errorf("storing case %q: %w", caseID, err)
	}
	return &result, nil
}

// DeleteCase removes one case from the listing.
func (c *Client) DeleteCase(ctx context.Context, listingID, caseID string) error {
	path, err := casePath(listingID, caseID)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting case %q: %w", caseID, err)
	}
	return nil
}

// IsTimeSorted reports whether the listing's cases are already chronological.
func (c *Client) IsTimeSorted(ctx context.Context, listingID string) (bool, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return false, fmt.Errorf("listing id is required")
	}
	var result types.SortStatus
	if err := c.do(ctx, http.MethodGet, listingPath(listingID)+"/sort", nil, &result); err != nil {
		return false, fmt.Errorf("getting sort status of listing %q: %w", listingID, err)
	}
	return result.Sorted, nil
}

// SortByTime puts the listing's cases in chronological order.
func (c *Client) SortByTime(ctx context.Context, listingID string) (types.Listing, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return types.Listing{}, fmt.Errorf("listing id is required")
	}
	var result types.Resource[types.Listing]
	if err := c.do(ctx, http.MethodPost, listingPath(listingID)+"/sort", nil, &result); err != nil {
		return types.Listing{}, fmt.Errorf("sorting listing %q: %w", listingID, err)
	}
	return result.Spec, nil
}

// Courts returns the configured court catalog.
func (c *Client) Courts(ctx context.Context) ([]catalog.Court, error) {
	var result []catalog.Court
	if err := c.do(ctx, http.MethodGet, courtsPath, nil, &result); err != nil {
		return nil, fmt.Errorf("listing courts: %w", err)
	}
	return result, nil
}

func listingPath(id string) string {
	return listingsPath + "/" + url.PathEscape(id)
}

func casePath(listingID, caseID string) (string, error) {
	listingID = strings.TrimSpace(listingID)
	caseID = strings.TrimSpace(caseID)
	if listingID == "" {
		return "", fmt.Errorf("listing id is required")
	}
	if caseID == "" {
		return "", fmt.Errorf("case id is required")
	}
	return listingPath(listingID) + "/cases/" + url.PathEscape(caseID), nil
}

func buildListPath(opts store.ListOptions) string {
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Court.IsSet() {
		params.Set("court", string(opts.Court))
	}
	if !opts.From.IsZero() {
		params.Set("from", opts.From.Format(time.RFC3339Nano))
	}
	if !opts.To.IsZero() {
		params.Set("to", opts.To.Format(time.RFC3339Nano))
	}

	if encoded := params.Encode(); encoded != "" {
		return listingsPath + "?" + encoded
	}
	return listingsPath
}
