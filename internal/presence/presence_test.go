package presence

import (
	"context"
	"testing"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairKey = "alice_bob"

func newTestTracker() (*Tracker, *clock.Fixed) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewTracker(store.NewMemory(), clk), clk
}

func TestSetOnline_WritesRow(t *testing.T) {
	tracker, clk := newTestTracker()

	tracker.SetOnline(context.Background(), pairKey, "alice")

	p, err := tracker.Get(context.Background(), pairKey, "alice")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.Equal(t, clk.Now().UnixMilli(), p.LastSeenAt.UnixMilli())
}

func TestSetOffline_StampsLastSeen(t *testing.T) {
	tracker, clk := newTestTracker()
	ctx := context.Background()

	tracker.SetOnline(ctx, pairKey, "alice")
	clk.Advance(5 * time.Minute)
	tracker.SetOffline(ctx, pairKey, "alice")

	p, err := tracker.Get(ctx, pairKey, "alice")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.Equal(t, clk.Now().UnixMilli(), p.LastSeenAt.UnixMilli())
}

func TestHandleAppState_ActiveMeansOnline(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	tracker.HandleAppState(ctx, pairKey, "alice", StateActive)
	p, err := tracker.Get(ctx, pairKey, "alice")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
}

func TestHandleAppState_BackgroundAndInactiveMeanOffline(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	for _, state := range []AppState{StateBackground, StateInactive} {
		tracker.HandleAppState(ctx, pairKey, "alice", StateActive)
		tracker.HandleAppState(ctx, pairKey, "alice", state)

		p, err := tracker.Get(ctx, pairKey, "alice")
		require.NoError(t, err)
		assert.False(t, p.IsOnline, "state %s should mean offline", state)
	}
}

func TestHandleAppState_UnknownStateIgnored(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	tracker.HandleAppState(ctx, pairKey, "alice", StateActive)
	tracker.HandleAppState(ctx, pairKey, "alice", AppState("hibernating"))

	p, err := tracker.Get(ctx, pairKey, "alice")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
}

func TestSubscribeToPartner_MirrorsTransitions(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	var updates []models.Presence
	unsubscribe, err := tracker.SubscribeToPartner(ctx, pairKey, "bob", func(p models.Presence) {
		updates = append(updates, p)
	})
	require.NoError(t, err)
	defer unsubscribe()

	// No row yet, nothing delivered.
	assert.Empty(t, updates)

	tracker.SetOnline(ctx, pairKey, "bob")
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsOnline)

	tracker.SetOffline(ctx, pairKey, "bob")
	require.Len(t, updates, 2)
	assert.False(t, updates[1].IsOnline)
}

func TestSubscribeToPartner_IgnoresOwnRow(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	var updates []models.Presence
	unsubscribe, err := tracker.SubscribeToPartner(ctx, pairKey, "bob", func(p models.Presence) {
		updates = append(updates, p)
	})
	require.NoError(t, err)
	defer unsubscribe()

	tracker.SetOnline(ctx, pairKey, "alice")
	assert.Empty(t, updates)
}

func TestPresence_RowSurvivesOffline(t *testing.T) {
	// Offline is a state, not a deletion: the row must still be readable.
	tracker, _ := newTestTracker()
	ctx := context.Background()

	tracker.SetOnline(ctx, pairKey, "alice")
	tracker.SetOffline(ctx, pairKey, "alice")

	p, err := tracker.Get(ctx, pairKey, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, pairKey, p.PairKey)
}
