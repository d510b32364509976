package sos

import (
	"context"
	"fmt"
	"sort"

	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"

	"github.com/rs/zerolog/log"
)

// MarkResponded flips the event's responded flag. Once responded an event
// is never re-opened; repeated acknowledgment is a no-op.
func MarkResponded(ctx context.Context, st store.Store, sosID string) error {
	doc, err := st.Read(ctx, Collection, sosID)
	if err != nil {
		return fmt.Errorf("sos event not found: %w", err)
	}
	if store.Bool(doc, "responded") {
		return nil
	}
	err = st.Write(ctx, Collection, sosID, store.Document{"responded": true}, true)
	if err != nil {
		return fmt.Errorf("failed to mark sos responded: %w", err)
	}
	return nil
}

// SubscribeActive watches for an unanswered alert from fromUser within the
// pair, for the receiving side's banner. The ordered query degrades to an
// unordered one when its index is missing, with the newest event picked
// client-side.
func SubscribeActive(ctx context.Context, st store.Store, pairKey, fromUser string, onEvent func(models.SOSEvent)) (func(), error) {
	filters := []store.Filter{
		{Field: "pair_key", Value: pairKey},
		{Field: "user_id", Value: fromUser},
		{Field: "responded", Value: false},
	}

	handle := func(snap store.Snapshot, ordered bool) {
		docs := snap.Docs
		if len(docs) == 0 {
			return
		}
		if !ordered {
			docs = append([]store.Doc(nil), docs...)
			sort.Slice(docs, func(i, j int) bool {
				return store.Int64(docs[i].Data, "timestamp") > store.Int64(docs[j].Data, "timestamp")
			})
		}
		onEvent(eventFromDoc(docs[0]))
	}

	primary := store.Query{
		Collection: Collection,
		Filters:    filters,
		OrderBy:    "timestamp",
		Descending: true,
		Limit:      1,
	}
	unsubscribe, err := st.Subscribe(ctx, primary, func(snap store.Snapshot) {
		handle(snap, true)
	})
	if err == nil {
		return unsubscribe, nil
	}
	if err != store.ErrIndexRequired {
		return nil, fmt.Errorf("failed to subscribe to sos events: %w", err)
	}

	log.Debug().Str("pair_key", pairKey).Msg("SOS query needs index, using unordered fallback")
	fallback := store.Query{
		Collection: Collection,
		Filters:    filters,
		Limit:      5,
	}
	unsubscribe, err = st.Subscribe(ctx, fallback, func(snap store.Snapshot) {
		handle(snap, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to sos events (fallback): %w", err)
	}
	return unsubscribe, nil
}

// SubscribeResponded watches one alert's responded flag, for dismissing the
// sender's banner once the partner acknowledges.
func SubscribeResponded(ctx context.Context, st store.Store, sosID string, onResponded func()) (func(), error) {
	q := store.Query{
		Collection: Collection,
		Filters:    []store.Filter{{Field: "id", Value: sosID}},
		Limit:      1,
	}
	fired := false
	return st.Subscribe(ctx, q, func(snap store.Snapshot) {
		if fired || len(snap.Docs) == 0 {
			return
		}
		if store.Bool(snap.Docs[0].Data, "responded") {
			fired = true
			onResponded()
		}
	})
}

func eventFromDoc(doc store.Doc) models.SOSEvent {
	return models.SOSEvent{
		ID:        doc.ID,
		UserID:    store.String(doc.Data, "user_id"),
		PairKey:   store.String(doc.Data, "pair_key"),
		Message:   store.String(doc.Data, "message"),
		Responded: store.Bool(doc.Data, "responded"),
		Timestamp: store.Int64(doc.Data, "timestamp"),
	}
}
