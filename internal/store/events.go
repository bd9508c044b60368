package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/syvkst/curia/pkg/types"
)

const (
	listingChangedEventType = "curia.listings.changed"
	listingDeletedEventType = "curia.listings.deleted"
	listingEventSource      = "curia"
	jsonDataContentType     = "application/json"
)

var (
	readListingEventRandom = rand.Read
	marshalListingEvent    = json.Marshal
)

// Event is the envelope published on the change feed.
type Event struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

func newListingEvent(eventType string, listing types.Listing, now time.Time) (Event, error) {
	listingID := strings.TrimSpace(listing.ID)
	if listingID == "" {
		return Event{}, fmt.Errorf("listing id is required")
	}

	eventID, err := newListingEventID()
	if err != nil {
		return Event{}, err
	}

	data, err := marshalListingEvent(listing)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling listing event payload: %w", err)
	}

	return Event{
		ID:              eventID,
		Source:          listingEventSource,
		Type:            eventType,
		Subject:         listingID,
		Time:            now.UTC(),
		DataContentType: jsonDataContentType,
		Data:            data,
	}, nil
}

func decodeListingEvent(raw []byte) (Change, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Change{}, fmt.Errorf("decoding listing event: %w", err)
	}

	var deleted bool
	switch event.Type {
	case listingChangedEventType:
	case listingDeletedEventType:
		deleted = true
	default:
		return Change{}, fmt.Errorf("unexpected listing event type %q", event.Type)
	}

	var listing types.Listing
	if err := json.Unmarshal(event.Data, &listing); err != nil {
		return Change{}, fmt.Errorf("decoding listing event payload: %w", err)
	}
	if listing.ID != event.Subject {
		return Change{}, fmt.Errorf("listing event subject %q does not match payload %q", event.Subject, listing.ID)
	}
	return Change{Listing: listing, Deleted: deleted}, nil
}

func newListingEventID() (string, error) {
	var id [16]byte
	if _, err := readListingEventRandom(id[:]); err != nil {
		return "", fmt.Errorf("generating event id: %w", err)
	}
	return "evt-" + hex.EncodeToString(id[:]), nil
}
