// Package signal delivers and deduplicates the ephemeral pulse and SOS
// events between the two members of a pair. Subscriptions prefer an
// ordered, indexed query and degrade silently to an unordered one when the
// store rejects the ordering; callers see the same callback contract and
// the same exactly-once-observed guarantee on either path.
package signal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Collection holds signal documents.
const Collection = "signals"

const (
	primaryLimit  = 5
	fallbackLimit = 10

	// staleCutoff pads the subscription start time when deciding which
	// signals on the first snapshot are replays of old events.
	staleCutoff = time.Second

	sendTimeout = 5 * time.Second
)

// Channel sends and receives signals through the store.
type Channel struct {
	store store.Store
	clock clock.Clock
}

// NewChannel creates a signal channel.
func NewChannel(st store.Store, clk clock.Clock) *Channel {
	return &Channel{store: st, clock: clk}
}

// Send writes a signal fire-and-forget and returns its correlation ID so
// the caller can reconcile a local echo. The write happens off the calling
// goroutine; a failed write is logged and dropped, since a lost pulse is
// harmless and the sender's own effect has already fired.
func (c *Channel) Send(kind models.SignalKind, from, to string, payload map[string]string) string {
	now := c.clock.Now().UnixMilli()
	correlationID := fmt.Sprintf("%s_%d_%s", from, now, uuid.NewString()[:8])

	doc := store.Document{
		"from_user":        from,
		"to_user":          to,
		"kind":             string(kind),
		"client_timestamp": now,
		"correlation_id":   correlationID,
	}
	if len(payload) > 0 {
		doc["payload"] = payload
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if _, err := c.store.Insert(ctx, Collection, doc); err != nil {
			log.Warn().
				Err(err).
				Str("kind", string(kind)).
				Str("from", from).
				Msg("Failed to write signal, dropping")
		}
	}()

	return correlationID
}

// Subscribe delivers each signal of the given kind from fromUser to toUser
// exactly once to onSignal, in timestamp order. Signals older than the
// subscription start (minus a small pad) on the first snapshot are marked
// seen without delivery, so a reconnect does not replay stale events.
func (c *Channel) Subscribe(ctx context.Context, toUser, fromUser string, kind models.SignalKind, onSignal func(models.Signal)) (func(), error) {
	sub := &subscription{
		onSignal:  onSignal,
		seen:      newSeenSet(20),
		startedAt: c.clock.Now().UnixMilli(),
		first:     true,
	}

	filters := []store.Filter{
		{Field: "to_user", Value: toUser},
		{Field: "from_user", Value: fromUser},
		{Field: "kind", Value: string(kind)},
	}

	primary := store.Query{
		Collection: Collection,
		Filters:    filters,
		OrderBy:    "client_timestamp",
		Descending: true,
		Limit:      primaryLimit,
	}
	unsubscribe, err := c.store.Subscribe(ctx, primary, func(snap store.Snapshot) {
		sub.deliver(snap, true)
	})
	if err == nil {
		return unsubscribe, nil
	}
	if err != store.ErrIndexRequired {
		return nil, fmt.Errorf("failed to subscribe to signals: %w", err)
	}

	// Degraded path: same filters, no ordering, wider window. Ordering is
	// reconstructed client-side, so callers only pay latency and bandwidth.
	log.Debug().
		Str("kind", string(kind)).
		Str("to", toUser).
		Msg("Signal query needs index, using unordered fallback")

	fallback := store.Query{
		Collection: Collection,
		Filters:    filters,
		Limit:      fallbackLimit,
	}
	unsubscribe, err = c.store.Subscribe(ctx, fallback, func(snap store.Snapshot) {
		sub.deliver(snap, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to signals (fallback): %w", err)
	}
	return unsubscribe, nil
}

// subscription holds per-subscription delivery state. The dedup cache is
// scoped here, not per pair: tearing down and resubscribing starts fresh,
// which the stale cutoff compensates for.
type subscription struct {
	mu        sync.Mutex
	onSignal  func(models.Signal)
	seen      *seenSet
	startedAt int64
	first     bool
}

func (s *subscription) deliver(snap store.Snapshot, ordered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := snap.Docs
	if !ordered {
		docs = append([]store.Doc(nil), docs...)
		sort.Slice(docs, func(i, j int) bool {
			return store.Int64(docs[i].Data, "client_timestamp") > store.Int64(docs[j].Data, "client_timestamp")
		})
		if len(docs) > primaryLimit {
			docs = docs[:primaryLimit]
		}
	}

	first := s.first
	s.first = false

	// Walk oldest-first so the callback observes events in timestamp order.
	for i := len(docs) - 1; i >= 0; i-- {
		doc := docs[i]
		sig := signalFromDoc(doc)
		key := sig.CorrelationID
		if key == "" {
			key = doc.ID
		}
		if s.seen.contains(key) {
			continue
		}
		if first && sig.ClientTimestamp < s.startedAt-staleCutoff.Milliseconds() {
			// Stale event from before this subscription; swallow it.
			s.seen.add(key)
			continue
		}
		s.seen.add(key)
		s.onSignal(sig)
	}
}

func signalFromDoc(doc store.Doc) models.Signal {
	return models.Signal{
		ID:              doc.ID,
		FromUser:        store.String(doc.Data, "from_user"),
		ToUser:          store.String(doc.Data, "to_user"),
		Kind:            models.SignalKind(store.String(doc.Data, "kind")),
		ClientTimestamp: store.Int64(doc.Data, "client_timestamp"),
		CorrelationID:   store.String(doc.Data, "correlation_id"),
		Payload:         store.StringMap(doc.Data, "payload"),
	}
}
