package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syvkst/curia/pkg/types"
)

func TestListingEventDecodes(t *testing.T) {
	listing := sampleListing("court-a", 2)
	listing.ID = "listing-1"
	listing.Revision = 3
	now := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))

	event, err := newListingEvent(listingDeletedEventType, listing, now)
	require.NoError(t, err)
	assert.Regexp(t, `^evt-[0-9a-f]{32}$`, event.ID)
	assert.Equal(t, listingEventSource, event.Source)
	assert.Equal(t, "listing-1", event.Subject)
	assert.Equal(t, time.UTC, event.Time.Location())

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	change, err := decodeListingEvent(raw)
	require.NoError(t, err)
	assert.True(t, change.Deleted)
	assert.Equal(t, int64(3), change.Listing.Revision)
	assert.Equal(t, listing.Cases, change.Listing.Cases)
}

func TestListingEventRejects(t *testing.T) {
	_, err := newListingEvent(listingChangedEventType, types.Listing{}, time.Now())
	assert.Error(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "{"},
		{name: "unknown type", raw: `{"type":"other","subject":"l1","data":{"id":"l1"}}`},
		{name: "subject mismatch", raw: `{"type":"curia.listings.changed","subject":"l1","data":{"id":"l2"}}`},
		{name: "bad payload", raw: `{"type":"curia.listings.changed","subject":"l1","data":[1]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeListingEvent([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestListingEventIDRandomFailure(t *testing.T) {
	orig := readListingEventRandom
	t.Cleanup(func() { readListingEventRandom = orig })
	readListingEventRandom = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

	_, err := newListingEventID()
	assert.ErrorContains(t, err, "entropy exhausted")
}
