package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifxsync/internal/registry"
)

func next(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	h := NewHub(logr.Discard())
	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, h.Len())

	ctx := context.Background()
	h.ActiveChanged(ctx, true)
	h.RegistryChanged(ctx, registry.Change{Kind: registry.ChangeDiscovered, Address: "A1:B2", Active: 1})

	for _, s := range []*Subscription{a, b} {
		ev := next(t, s)
		assert.Equal(t, EventActive, ev.Type)
		require.NotNil(t, ev.Active)
		assert.True(t, *ev.Active)

		ev = next(t, s)
		assert.Equal(t, EventRegistry, ev.Type)
		require.NotNil(t, ev.Change)
		assert.Equal(t, "A1:B2", ev.Change.Address)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(logr.Discard())
	s, err := h.Subscribe()
	require.NoError(t, err)

	for i := 0; i < subscriptionChanSize*2; i++ {
		h.RegistryChanged(context.Background(), registry.Change{Active: i})
	}
	assert.Len(t, s.Events(), subscriptionChanSize)
	assert.Equal(t, 0, next(t, s).Change.Active, "oldest events are kept")
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(logr.Discard())
	s, err := h.Subscribe()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.Zero(t, h.Len())
	_, ok := <-s.Events()
	assert.False(t, ok)

	h.ActiveChanged(context.Background(), false)
}

func TestHubClose(t *testing.T) {
	h := NewHub(logr.Discard())
	s, err := h.Subscribe()
	require.NoError(t, err)

	h.Close()
	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Close(), ErrClosed)

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

type countingNotifier struct {
	changes []registry.Change
	active  []bool
}

func (c *countingNotifier) RegistryChanged(_ context.Context, ch registry.Change) {
	c.changes = append(c.changes, ch)
}

func (c *countingNotifier) ActiveChanged(_ context.Context, active bool) {
	c.active = append(c.active, active)
}

func TestMultiForwardsToAll(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := Multi(a, nil, b)

	m.ActiveChanged(context.Background(), true)
	m.RegistryChanged(context.Background(), registry.Change{Kind: registry.ChangeLost})

	for _, n := range []*countingNotifier{a, b} {
		assert.Equal(t, []bool{true}, n.active)
		assert.Len(t, n.changes, 1)
	}
}
