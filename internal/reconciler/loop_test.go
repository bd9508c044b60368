package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/syvkst/curia/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T, m *Machine, onUpdate UpdateFunc) *Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(m, onUpdate)
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoopHandlesMessagesInArrivalOrder(t *testing.T) {
	rec := &submitRecorder{}
	m := New("L1", rec.submit)

	var (
		mu     sync.Mutex
		states []State
	)
	l := startLoop(t, m, func(v View, _ error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, v.State)
	})

	assert.True(t, l.Post(Snapshot{Listing: baseListing()}))
	assert.True(t, l.Post(Edit{Field: ListingField(FieldNotes), Value: "typed"}))
	require.NoError(t, l.Send(context.Background(), Commit{}))

	mu.Lock()
	assert.Equal(t, []State{StateLoaded, StateDirty, StateSaving}, states)
	mu.Unlock()

	v := l.View()
	assert.Equal(t, StateSaving, v.State)
	assert.Equal(t, "typed", v.Listing.Notes)
	require.Len(t, rec.calls, 1)
}

func TestLoopSendReturnsHandlerError(t *testing.T) {
	m := New("L1", (&submitRecorder{}).submit)
	l := startLoop(t, m, nil)

	err := l.Send(context.Background(), Edit{Field: ListingField(FieldNotes), Value: "x"})
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestLoopDropsMessagesAfterClose(t *testing.T) {
	m := New("L1", (&submitRecorder{}).submit)
	l := startLoop(t, m, nil)

	require.NoError(t, l.Send(context.Background(), Snapshot{Listing: baseListing()}))
	l.Close()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	assert.False(t, l.Post(Persisted{Seq: 1, Listing: types.Listing{ID: "L1"}}))
	assert.ErrorIs(t, l.Send(context.Background(), Abandon{}), ErrLoopClosed)
	assert.Equal(t, StateLoaded, l.View().State)
}

func TestLoopSendHonoursContext(t *testing.T) {
	m := New("L1", (&submitRecorder{}).submit)
	l := NewLoop(m, nil)
	t.Cleanup(l.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Send(ctx, Blur{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
