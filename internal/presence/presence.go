// Package presence maintains each user's online/offline state within a
// pair. Presence is push-based only: transitions are written on lifecycle
// events and mirrored to the partner, with no heartbeat or TTL. A process
// killed without a clean shutdown can therefore leave a stale online row;
// LastSeenAt is always written so readers can apply their own staleness
// policy.
package presence

import (
	"context"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"

	"github.com/rs/zerolog/log"
)

// Collection holds presence documents, one per user per pair.
const Collection = "presence"

// AppState is a client lifecycle state.
type AppState string

const (
	StateActive     AppState = "active"
	StateBackground AppState = "background"
	StateInactive   AppState = "inactive"
)

// Tracker writes and mirrors presence rows.
type Tracker struct {
	store store.Store
	clock clock.Clock
}

// NewTracker creates a presence tracker.
func NewTracker(st store.Store, clk clock.Clock) *Tracker {
	return &Tracker{store: st, clock: clk}
}

// SetOnline marks the user online. Best effort: failures are logged only.
func (t *Tracker) SetOnline(ctx context.Context, pairKey, userID string) {
	t.write(ctx, pairKey, userID, true)
}

// SetOffline marks the user offline and stamps LastSeenAt. Best effort.
func (t *Tracker) SetOffline(ctx context.Context, pairKey, userID string) {
	t.write(ctx, pairKey, userID, false)
}

// HandleAppState maps a client lifecycle transition onto presence: active
// means online, background and inactive mean offline.
func (t *Tracker) HandleAppState(ctx context.Context, pairKey, userID string, state AppState) {
	switch state {
	case StateActive:
		t.SetOnline(ctx, pairKey, userID)
	case StateBackground, StateInactive:
		t.SetOffline(ctx, pairKey, userID)
	default:
		log.Warn().Str("state", string(state)).Msg("Unknown app state, ignoring")
	}
}

// SubscribeToPartner mirrors the partner's presence row into onChange.
func (t *Tracker) SubscribeToPartner(ctx context.Context, pairKey, partnerID string, onChange func(models.Presence)) (func(), error) {
	q := store.Query{
		Collection: Collection,
		Filters: []store.Filter{
			{Field: "pair_key", Value: pairKey},
			{Field: "user_id", Value: partnerID},
		},
		Limit: 1,
	}
	return t.store.Subscribe(ctx, q, func(snap store.Snapshot) {
		if len(snap.Docs) == 0 {
			return
		}
		onChange(presenceFromDoc(snap.Docs[0].Data))
	})
}

// Get reads a user's presence row.
func (t *Tracker) Get(ctx context.Context, pairKey, userID string) (*models.Presence, error) {
	doc, err := t.store.Read(ctx, Collection, docID(pairKey, userID))
	if err != nil {
		return nil, err
	}
	p := presenceFromDoc(doc)
	return &p, nil
}

func (t *Tracker) write(ctx context.Context, pairKey, userID string, online bool) {
	err := t.store.Write(ctx, Collection, docID(pairKey, userID), store.Document{
		"pair_key":     pairKey,
		"user_id":      userID,
		"is_online":    online,
		"last_seen_at": t.clock.Now().UnixMilli(),
	}, true)
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Bool("online", online).
			Msg("Failed to write presence")
	}
}

func docID(pairKey, userID string) string {
	return pairKey + "_" + userID
}

func presenceFromDoc(doc store.Document) models.Presence {
	return models.Presence{
		PairKey:    store.String(doc, "pair_key"),
		UserID:     store.String(doc, "user_id"),
		IsOnline:   store.Bool(doc, "is_online"),
		LastSeenAt: time.UnixMilli(store.Int64(doc, "last_seen_at")),
	}
}
