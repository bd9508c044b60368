package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/syvkst/curia/pkg/types"
)

const listingFileExt = ".json"

var validFileID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// FileStore keeps one JSON document per listing in a directory. Documents
// are replaced atomically so a crash never leaves a half-written listing.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("listing directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating listing directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping checks that the directory is still there.
func (s *FileStore) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("checking listing directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("listing directory %q is not a directory", s.dir)
	}
	return nil
}

// Read loads the listing document.
func (s *FileStore) Read(_ context.Context, id string) (types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// Write replaces or creates the listing document.
func (s *FileStore) Write(_ context.Context, listing types.Listing) (types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *types.Listing
	if strings.TrimSpace(listing.ID) != "" {
		stored, err := s.load(listing.ID)
		if err != nil {
			return types.Listing{}, err
		}
		prev = &stored
	}

	written, err := stamp(listing, prev, s.now())
	if err != nil {
		return types.Listing{}, err
	}

	data, err := json.MarshalIndent(written, "", "  ")
	if err != nil {
		return types.Listing{}, fmt.Errorf("encoding listing %q: %w", written.ID, err)
	}
	if err := atomic.WriteFile(s.path(written.ID), bytes.NewReader(data)); err != nil {
		return types.Listing{}, fmt.Errorf("writing listing %q: %w", written.ID, err)
	}
	return written, nil
}

// List scans the directory and returns summaries ordered by date, newest first.
func (s *FileStore) List(_ context.Context, opts ListOptions) ([]types.ListingSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("reading listing directory: %w", err)
	}

	summaries := make([]types.ListingSummary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != listingFileExt {
			continue
		}
		listing, loadErr := s.load(strings.TrimSuffix(name, listingFileExt))
		if loadErr != nil {
			if errors.Is(loadErr, ErrNotFound) {
				continue
			}
			return nil, 0, loadErr
		}
		if matches(listing, opts) {
			summaries = append(summaries, listing.Summary())
		}
	}

	sortSummaries(summaries)
	return page(summaries, opts), len(summaries), nil
}

// Delete removes the listing document.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validFileID.MatchString(id) {
		return ErrNotFound
	}
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting listing %q: %w", id, err)
	}
	return nil
}

func (s *FileStore) load(id string) (types.Listing, error) {
	id = strings.TrimSpace(id)
	if !validFileID.MatchString(id) {
		return types.Listing{}, ErrNotFound
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Listing{}, ErrNotFound
		}
		return types.Listing{}, fmt.Errorf("reading listing %q: %w", id, err)
	}

	var listing types.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return types.Listing{}, fmt.Errorf("decoding listing %q: %w", id, err)
	}
	if listing.ID != id {
		return types.Listing{}, fmt.Errorf("listing file %q holds listing %q", id, listing.ID)
	}
	return listing, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+listingFileExt)
}
