package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/mood"
	"sync-pair-backend/internal/presence"
	"sync-pair-backend/internal/signal"
	"sync-pair-backend/internal/sos"
	"sync-pair-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySubscribeStore refuses subscriptions on one collection and counts
// the lifecycle of the rest.
type flakySubscribeStore struct {
	store.Store
	failCollection string
	subscribed     int
	unsubscribed   int
}

func (f *flakySubscribeStore) Subscribe(ctx context.Context, q store.Query, fn func(store.Snapshot)) (func(), error) {
	if q.Collection == f.failCollection {
		return nil, fmt.Errorf("subscribe refused")
	}
	unsubscribe, err := f.Store.Subscribe(ctx, q, fn)
	if err != nil {
		return nil, err
	}
	f.subscribed++
	return func() {
		f.unsubscribed++
		unsubscribe()
	}, nil
}

func TestRegister_SubscriptionFailureUnwinds(t *testing.T) {
	st := &flakySubscribeStore{Store: store.NewMemory(), failCollection: sos.Collection}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tracker := presence.NewTracker(st, clk)
	hub := NewWSHub(signal.NewChannel(st, clk), tracker, mood.NewService(st, clk), st, clk)
	ctx := context.Background()

	pair := &models.Pair{
		PairKey: "alice_bob",
		MemberA: "alice",
		MemberB: "bob",
		Status:  models.PairActive,
	}
	err := hub.Register(ctx, "alice", pair, nil)
	require.Error(t, err)

	// The session is gone and nothing it subscribed is left running.
	assert.False(t, hub.IsOnline("alice"))
	assert.Equal(t, st.subscribed, st.unsubscribed)

	p, err := tracker.Get(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
}

func TestRegister_NoPairSkipsSubscriptions(t *testing.T) {
	st := &flakySubscribeStore{Store: store.NewMemory(), failCollection: sos.Collection}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	hub := NewWSHub(signal.NewChannel(st, clk), presence.NewTracker(st, clk), mood.NewService(st, clk), st, clk)

	err := hub.Register(context.Background(), "alice", nil, nil)
	require.NoError(t, err)

	assert.True(t, hub.IsOnline("alice"))
	assert.Zero(t, st.subscribed)
}
