// Package mood stores each member's daily mood and mirrors the partner's
// latest one. Latest-value-wins: unlike signals there is no event stream
// to deduplicate, only the newest entry matters.
package mood

import (
	"context"
	"fmt"
	"sort"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"

	"github.com/rs/zerolog/log"
)

// Collection holds mood documents.
const Collection = "moods"

var validMoods = map[string]bool{
	"happy":    true,
	"calm":     true,
	"neutral":  true,
	"sad":      true,
	"anxious":  true,
	"excited":  true,
	"grateful": true,
	"loved":    true,
}

// Service submits moods and watches the partner's.
type Service struct {
	store store.Store
	clock clock.Clock
}

// NewService creates a mood service.
func NewService(st store.Store, clk clock.Clock) *Service {
	return &Service{store: st, clock: clk}
}

// Submit records the user's mood. Unlike pulse signals a failed mood write
// is returned to the caller, since the user expects it to stick.
func (s *Service) Submit(ctx context.Context, userID, pairKey, moodType, note string) (*models.Mood, error) {
	if !validMoods[moodType] {
		return nil, fmt.Errorf("unknown mood %q", moodType)
	}

	mood := &models.Mood{
		UserID:    userID,
		PairKey:   pairKey,
		Mood:      moodType,
		Note:      note,
		CreatedAt: s.clock.Now().UnixMilli(),
	}
	id, err := s.store.Insert(ctx, Collection, store.Document{
		"user_id":    mood.UserID,
		"pair_key":   mood.PairKey,
		"mood":       mood.Mood,
		"note":       mood.Note,
		"created_at": mood.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit mood: %w", err)
	}
	mood.ID = id
	return mood, nil
}

// SubscribeLatest mirrors the newest mood entry for userID within the pair.
// The ordered query degrades to an unordered one with client-side sorting
// when its index is missing.
func (s *Service) SubscribeLatest(ctx context.Context, pairKey, userID string, onMood func(models.Mood)) (func(), error) {
	filters := []store.Filter{
		{Field: "user_id", Value: userID},
		{Field: "pair_key", Value: pairKey},
	}

	handle := func(snap store.Snapshot, ordered bool) {
		docs := snap.Docs
		if len(docs) == 0 {
			return
		}
		if !ordered {
			docs = append([]store.Doc(nil), docs...)
			sort.Slice(docs, func(i, j int) bool {
				return store.Int64(docs[i].Data, "created_at") > store.Int64(docs[j].Data, "created_at")
			})
		}
		onMood(moodFromDoc(docs[0]))
	}

	primary := store.Query{
		Collection: Collection,
		Filters:    filters,
		OrderBy:    "created_at",
		Descending: true,
		Limit:      1,
	}
	unsubscribe, err := s.store.Subscribe(ctx, primary, func(snap store.Snapshot) {
		handle(snap, true)
	})
	if err == nil {
		return unsubscribe, nil
	}
	if err != store.ErrIndexRequired {
		return nil, fmt.Errorf("failed to subscribe to moods: %w", err)
	}

	log.Debug().Str("user_id", userID).Msg("Mood query needs index, using unordered fallback")
	fallback := store.Query{
		Collection: Collection,
		Filters:    filters,
		Limit:      10,
	}
	unsubscribe, err = s.store.Subscribe(ctx, fallback, func(snap store.Snapshot) {
		handle(snap, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to moods (fallback): %w", err)
	}
	return unsubscribe, nil
}

func moodFromDoc(doc store.Doc) models.Mood {
	return models.Mood{
		ID:        doc.ID,
		UserID:    store.String(doc.Data, "user_id"),
		PairKey:   store.String(doc.Data, "pair_key"),
		Mood:      store.String(doc.Data, "mood"),
		Note:      store.String(doc.Data, "note"),
		CreatedAt: store.Int64(doc.Data, "created_at"),
	}
}
