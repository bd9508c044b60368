package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockReader struct {
	readFn func(ctx context.Context, id string) (types.Listing, error)
}

func (m *mockReader) Read(ctx context.Context, id string) (types.Listing, error) {
	return m.readFn(ctx, id)
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []store.Change
}

func (r *changeRecorder) deliver(c store.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) snapshot() []store.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Change(nil), r.changes...)
}

func listingAt(rev int64, room types.Ref) types.Listing {
	return types.Listing{
		ID:       "listing-1",
		Revision: rev,
		Date:     time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		Room:     room,
		Cases:    []types.Case{{ID: "c1", Time: "09:00", Type: types.CaseTypeCriminal}},
	}
}

func TestPollOnceDeliversOnlyChanges(t *testing.T) {
	current := listingAt(1, "r1")
	reader := &mockReader{readFn: func(_ context.Context, id string) (types.Listing, error) {
		assert.Equal(t, "listing-1", id)
		return current, nil
	}}
	rec := &changeRecorder{}
	m := metrics.NewPoll(prometheus.NewRegistry())
	p := New(reader, " listing-1 ", rec.deliver, Config{}, WithMetrics(m))

	require.NoError(t, p.PollOnce(context.Background()))
	require.NoError(t, p.PollOnce(context.Background()))
	assert.True(t, p.Status().NotModified)

	current = listingAt(2, "r2")
	require.NoError(t, p.PollOnce(context.Background()))

	changes := rec.snapshot()
	require.Len(t, changes, 2)
	assert.Equal(t, types.Ref("r1"), changes[0].Listing.Room)
	assert.Equal(t, types.Ref("r2"), changes[1].Listing.Room)

	st := p.Status()
	assert.Equal(t, int64(3), st.SuccessfulRuns)
	assert.False(t, st.NotModified)
	assert.Len(t, st.LastDigest, 64)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Changes))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Runs.WithLabelValues(metrics.OutcomeUnchanged)))
}

func TestSeedSuppressesKnownSnapshot(t *testing.T) {
	current := listingAt(4, "r1")
	reader := &mockReader{readFn: func(context.Context, string) (types.Listing, error) {
		return current, nil
	}}
	rec := &changeRecorder{}
	p := New(reader, "listing-1", rec.deliver, Config{})

	require.NoError(t, p.Seed(current))
	require.NoError(t, p.PollOnce(context.Background()))
	assert.Empty(t, rec.snapshot())
}

func TestPollOnceNotFoundDeliveredOnce(t *testing.T) {
	var missing bool
	reader := &mockReader{readFn: func(context.Context, string) (types.Listing, error) {
		if missing {
			return types.Listing{}, store.ErrNotFound
		}
		return listingAt(1, "r1"), nil
	}}
	rec := &changeRecorder{}
	p := New(reader, "listing-1", rec.deliver, Config{})

	require.NoError(t, p.PollOnce(context.Background()))
	missing = true
	require.NoError(t, p.PollOnce(context.Background()))
	require.NoError(t, p.PollOnce(context.Background()))

	changes := rec.snapshot()
	require.Len(t, changes, 2)
	assert.True(t, changes[1].Deleted)
	assert.Equal(t, "listing-1", changes[1].Listing.ID)
	assert.True(t, p.Status().NotFound)

	// Reappearing after a deletion is a change again.
	missing = false
	require.NoError(t, p.PollOnce(context.Background()))
	assert.Len(t, rec.snapshot(), 3)
}

func TestPollOnceFailure(t *testing.T) {
	reader := &mockReader{readFn: func(context.Context, string) (types.Listing, error) {
		return types.Listing{}, errors.New("connection refused")
	}}
	rec := &changeRecorder{}
	m := metrics.NewPoll(nil)
	p := New(reader, "listing-1", rec.deliver, Config{}, WithMetrics(m))

	err := p.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, rec.snapshot())

	st := p.Status()
	assert.Equal(t, int64(1), st.FailedRuns)
	assert.Equal(t, "connection refused", st.LastError)
	assert.False(t, st.InProgress)
	assert.NotNil(t, st.LastAttemptAt)
	assert.Nil(t, st.LastSyncAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Runs.WithLabelValues(metrics.OutcomeFailure)))
}

func TestRunPollsOnStartupAndTrigger(t *testing.T) {
	var mu sync.Mutex
	current := listingAt(1, "r1")
	reader := &mockReader{readFn: func(context.Context, string) (types.Listing, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}}
	rec := &changeRecorder{}
	p := New(reader, "listing-1", rec.deliver, Config{Interval: time.Hour, PollOnStartup: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	current = listingAt(2, "r2")
	mu.Unlock()
	require.NoError(t, p.Trigger(ctx))

	changes := rec.snapshot()
	require.Len(t, changes, 2)
	assert.Equal(t, int64(2), changes[1].Listing.Revision)

	cancel()
	<-done
	assert.ErrorIs(t, p.Trigger(ctx), context.Canceled)
}

func TestRunTicks(t *testing.T) {
	var mu sync.Mutex
	rev := int64(0)
	reader := &mockReader{readFn: func(context.Context, string) (types.Listing, error) {
		mu.Lock()
		defer mu.Unlock()
		rev++
		return listingAt(rev, "r1"), nil
	}}
	rec := &changeRecorder{}
	p := New(reader, "listing-1", rec.deliver, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDigestIsStable(t *testing.T) {
	a, err := digest(listingAt(1, "r1"))
	require.NoError(t, err)
	b, err := digest(listingAt(1, "r1"))
	require.NoError(t, err)
	c, err := digest(listingAt(1, "r2"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
