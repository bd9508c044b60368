package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	srv, err := natssrv.NewServer(&natssrv.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(10*time.Second), "embedded NATS server did not become ready")
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	return fmt.Sprintf("nats://%s", srv.Addr().String())
}

func connectNATS(t *testing.T, url string) *nats.Conn {
	t.Helper()

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSFeedPublishesChanges(t *testing.T) {
	url := startEmbeddedNATS(t)
	writer := NewNATSFeed(NewMemoryStore(), connectNATS(t, url), "test.listings")
	ctx := context.Background()

	created, err := writer.Write(ctx, sampleListing("court-a", 2))
	require.NoError(t, err)

	// A second instance sharing the subject space observes the first one's writes.
	reader := NewNATSFeed(NewMemoryStore(), connectNATS(t, url), "test.listings.")
	changes := make(chan Change, 4)
	cancel, err := reader.Subscribe(ctx, created.ID, func(c Change) { changes <- c })
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, reader.conn.Flush())

	updated := created.Clone()
	updated.Room = "room-9"
	_, err = writer.Write(ctx, updated)
	require.NoError(t, err)

	select {
	case c := <-changes:
		assert.False(t, c.Deleted)
		assert.Equal(t, created.ID, c.Listing.ID)
		assert.Equal(t, int64(2), c.Listing.Revision)
		assert.Equal(t, "room-9", string(c.Listing.Room))
	case <-time.After(5 * time.Second):
		t.Fatal("no change received")
	}

	require.NoError(t, writer.Delete(ctx, created.ID))
	select {
	case c := <-changes:
		assert.True(t, c.Deleted)
		assert.Equal(t, int64(2), c.Listing.Revision)
	case <-time.After(5 * time.Second):
		t.Fatal("no delete received")
	}
}

func TestNATSFeedCancelStopsDelivery(t *testing.T) {
	url := startEmbeddedNATS(t)
	conn := connectNATS(t, url)
	feed := NewNATSFeed(NewMemoryStore(), conn, "")
	ctx := context.Background()

	created, err := feed.Write(ctx, sampleListing("court-a", 2))
	require.NoError(t, err)

	changes := make(chan Change, 4)
	cancel, err := feed.Subscribe(ctx, created.ID, func(c Change) { changes <- c })
	require.NoError(t, err)
	cancel()
	require.NoError(t, conn.Flush())

	_, err = feed.Write(ctx, created)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	select {
	case c := <-changes:
		t.Fatalf("unexpected change after cancel: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNATSFeedDropsMalformedEvents(t *testing.T) {
	url := startEmbeddedNATS(t)
	conn := connectNATS(t, url)
	feed := NewNATSFeed(NewMemoryStore(), conn, "")

	changes := make(chan Change, 4)
	cancel, err := feed.Subscribe(context.Background(), "listing-1", func(c Change) { changes <- c })
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, conn.Flush())

	require.NoError(t, conn.Publish(DefaultSubjectPrefix+".listing-1", []byte("not an event")))
	require.NoError(t, conn.Flush())

	select {
	case c := <-changes:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNATSFeedRejectsWildcardIDs(t *testing.T) {
	feed := NewNATSFeed(NewMemoryStore(), nil, "")

	for _, id := range []string{"", "a.b", "*", ">", "a b"} {
		_, err := feed.subject(id)
		assert.Error(t, err, id)
	}
	subject, err := feed.subject("listing-1")
	require.NoError(t, err)
	assert.Equal(t, "curia.listings.listing-1", subject)
}

func TestNATSFeedPingReportsDisconnect(t *testing.T) {
	url := startEmbeddedNATS(t)
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	feed := NewNATSFeed(NewMemoryStore(), conn, "")

	require.NoError(t, feed.Ping(context.Background()))
	conn.Close()
	assert.Error(t, feed.Ping(context.Background()))
}
