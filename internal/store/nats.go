package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/syvkst/curia/pkg/types"
)

// DefaultSubjectPrefix is the NATS subject prefix for listing changes.
const DefaultSubjectPrefix = "curia.listings"

// NATSFeed decorates a Backend with a NATS change feed: every successful
// write or delete is published on <prefix>.<listing id>, and Subscribe
// listens on the same subject.
type NATSFeed struct {
	inner  Backend
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
	now    func() time.Time
}

// FeedOption configures a NATSFeed.
type FeedOption func(*NATSFeed)

// WithFeedLogger sets the feed logger.
func WithFeedLogger(logger zerolog.Logger) FeedOption {
	return func(f *NATSFeed) {
		f.log = logger
	}
}

// NewNATSFeed wraps inner. An empty prefix selects DefaultSubjectPrefix.
func NewNATSFeed(inner Backend, conn *nats.Conn, prefix string, opts ...FeedOption) *NATSFeed {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	f := &NATSFeed{
		inner:  inner,
		conn:   conn,
		prefix: prefix,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Ping checks the backend and the NATS connection.
func (f *NATSFeed) Ping(ctx context.Context) error {
	if !f.conn.IsConnected() {
		return fmt.Errorf("nats connection is %s", f.conn.Status())
	}
	return f.inner.Ping(ctx)
}

// Read delegates to the wrapped backend.
func (f *NATSFeed) Read(ctx context.Context, id string) (types.Listing, error) {
	return f.inner.Read(ctx, id)
}

// List delegates to the wrapped backend.
func (f *NATSFeed) List(ctx context.Context, opts ListOptions) ([]types.ListingSummary, int, error) {
	return f.inner.List(ctx, opts)
}

// Write stores the listing and publishes the stored snapshot. A publish
// failure is logged; the write itself has succeeded.
func (f *NATSFeed) Write(ctx context.Context, listing types.Listing) (types.Listing, error) {
	written, err := f.inner.Write(ctx, listing)
	if err != nil {
		return types.Listing{}, err
	}
	f.publish(listingChangedEventType, written)
	return written, nil
}

// Delete removes the listing and publishes its last snapshot.
func (f *NATSFeed) Delete(ctx context.Context, id string) error {
	last, err := f.inner.Read(ctx, id)
	if err != nil {
		return err
	}
	if err := f.inner.Delete(ctx, id); err != nil {
		return err
	}
	f.publish(listingDeletedEventType, last)
	return nil
}

// Subscribe delivers changes of listing id published by any curia instance.
func (f *NATSFeed) Subscribe(ctx context.Context, id string, fn func(Change)) (func(), error) {
	subject, err := f.subject(id)
	if err != nil {
		return nil, err
	}

	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		change, decodeErr := decodeListingEvent(msg.Data)
		if decodeErr != nil {
			f.log.Warn().Err(decodeErr).Str("subject", msg.Subject).Msg("dropping malformed listing event")
			return
		}
		fn(change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if unsubErr := sub.Unsubscribe(); unsubErr != nil && f.conn.IsConnected() {
				f.log.Debug().Err(unsubErr).Str("subject", subject).Msg("unsubscribing listing feed")
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

func (f *NATSFeed) publish(eventType string, listing types.Listing) {
	subject, err := f.subject(listing.ID)
	if err != nil {
		f.log.Warn().Err(err).Msg("listing not published")
		return
	}

	event, err := newListingEvent(eventType, listing, f.now())
	if err != nil {
		f.log.Warn().Err(err).Str("listing_id", listing.ID).Msg("building listing event")
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		f.log.Warn().Err(err).Str("listing_id", listing.ID).Msg("encoding listing event")
		return
	}
	if err := f.conn.Publish(subject, data); err != nil {
		f.log.Warn().Err(err).Str("subject", subject).Msg("publishing listing event")
		return
	}
	f.log.Debug().Str("subject", subject).Str("event_id", event.ID).Int64("revision", listing.Revision).Msg("listing event published")
}

func (f *NATSFeed) subject(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, ".*> \t\r\n") {
		return "", fmt.Errorf("listing id %q cannot be used as a subject token", id)
	}
	return f.prefix + "." + id, nil
}
