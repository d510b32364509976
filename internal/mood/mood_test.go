package mood

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

func newTestService() (*Service, *store.Memory, *clock.Fixed) {
	mem := store.NewMemory()
	mem.RegisterIndex(Collection, []string{"user_id", "pair_key"}, "created_at")
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(mem, clk), mem, clk
}

func TestSubmit_StoresEntry(t *testing.T) {
	svc, mem, clk := newTestService()

	entry, err := svc.Submit(context.Background(), "alice", pairKey, "grateful", "good day")
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	assert.Equal(t, clk.Now().UnixMilli(), entry.CreatedAt)

	doc, err := mem.Read(context.Background(), Collection, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "grateful", store.String(doc, "mood"))
	assert.Equal(t, "good day", store.String(doc, "note"))
}

func TestSubmit_RejectsUnknownMood(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Submit(context.Background(), "alice", pairKey, "hangry", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mood")
}

func TestSubscribeLatest_NewestWins(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()

	var latest []models.Mood
	unsubscribe, err := svc.SubscribeLatest(ctx, pairKey, "bob", func(m models.Mood) {
		latest = append(latest, m)
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = svc.Submit(ctx, "bob", pairKey, "calm", "")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = svc.Submit(ctx, "bob", pairKey, "excited", "")
	require.NoError(t, err)

	require.NotEmpty(t, latest)
	assert.Equal(t, "excited", latest[len(latest)-1].Mood)
}

func TestSubscribeLatest_IgnoresOtherUsers(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	var latest []models.Mood
	unsubscribe, err := svc.SubscribeLatest(ctx, pairKey, "bob", func(m models.Mood) {
		latest = append(latest, m)
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = svc.Submit(ctx, "alice", pairKey, "happy", "")
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestSubscribeLatest_FallsBackWithoutIndex(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(mem, clk)
	ctx := context.Background()

	var latest []models.Mood
	unsubscribe, err := svc.SubscribeLatest(ctx, pairKey, "bob", func(m models.Mood) {
		latest = append(latest, m)
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = svc.Submit(ctx, "bob", pairKey, "calm", "")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = svc.Submit(ctx, "bob", pairKey, "loved", "")
	require.NoError(t, err)

	require.NotEmpty(t, latest)
	assert.Equal(t, "loved", latest[len(latest)-1].Mood)
}
