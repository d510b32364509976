package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/mood"
	"sync-pair-backend/internal/pairing"
	"sync-pair-backend/internal/presence"
	"sync-pair-backend/internal/signal"
	"sync-pair-backend/internal/sos"
	"sync-pair-backend/internal/store"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type          string         `json:"type"`
	Kind          string         `json:"kind,omitempty"`
	State         string         `json:"state,omitempty"`
	Timestamp     int64          `json:"timestamp,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	FromUser      string         `json:"from_user,omitempty"`
	Rapid         *bool          `json:"rapid,omitempty"`
	Online        *bool          `json:"online,omitempty"`
	LastSeenAt    int64          `json:"last_seen_at,omitempty"`
	SOSID         string         `json:"sos_id,omitempty"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// WSHub manages WebSocket connections and bridges store subscriptions to
// them: pulses, SOS alerts, and partner presence flow in through the
// channel/tracker subscriptions registered per session, and lifecycle
// transitions flow out to the presence tracker.
type WSHub struct {
	channel *signal.Channel
	tracker *presence.Tracker
	moods   *mood.Service
	store   store.Store
	clock   clock.Clock

	mu       sync.RWMutex
	sessions map[string]*wsSession
}

// wsSession is one user's live connection plus its subscriptions. The
// dedup caches inside the signal subscriptions are scoped to the session:
// tearing it down and reconnecting starts fresh.
type wsSession struct {
	userID  string
	pairKey string

	writeMu sync.Mutex
	conn    *websocket.Conn

	// Rapid classification is per session and per direction, per the
	// channel contract: the channel delivers, the caller classifies.
	received *signal.Classifier
	sent     *signal.Classifier

	unsubscribes []func()
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(channel *signal.Channel, tracker *presence.Tracker, moods *mood.Service, st store.Store, clk clock.Clock) *WSHub {
	return &WSHub{
		channel:  channel,
		tracker:  tracker,
		moods:    moods,
		store:    st,
		clock:    clk,
		sessions: make(map[string]*wsSession),
	}
}

// Register wires up a new connection for a user. With an active pair the
// session subscribes to the partner's pulses, active SOS alerts, and
// presence, and the user goes online.
func (h *WSHub) Register(ctx context.Context, userID string, pair *models.Pair, conn *websocket.Conn) error {
	session := &wsSession{
		userID:   userID,
		conn:     conn,
		received: signal.NewClassifier(h.clock),
		sent:     signal.NewClassifier(h.clock),
	}

	h.mu.Lock()
	if existing, ok := h.sessions[userID]; ok {
		h.teardown(existing)
	}
	h.sessions[userID] = session
	h.mu.Unlock()

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")

	if pair == nil || pair.Status != models.PairActive {
		return nil
	}
	session.pairKey = pair.PairKey
	partnerID := pairing.Partner(pair, userID)

	h.tracker.SetOnline(ctx, pair.PairKey, userID)

	// A half-registered session must not linger: drop it, cancel whatever
	// already subscribed, and take the user back offline.
	fail := func(err error) error {
		h.mu.Lock()
		if h.sessions[userID] == session {
			delete(h.sessions, userID)
		}
		h.mu.Unlock()
		h.teardown(session)
		h.tracker.SetOffline(ctx, pair.PairKey, userID)
		return err
	}

	unsubPulse, err := h.channel.Subscribe(ctx, userID, partnerID, models.SignalPulse, func(sig models.Signal) {
		rapid := session.received.Observe()
		h.send(session, WSMessage{
			Type:          "signal",
			Kind:          string(sig.Kind),
			FromUser:      sig.FromUser,
			Timestamp:     sig.ClientTimestamp,
			CorrelationID: sig.CorrelationID,
			Rapid:         &rapid,
		})
	})
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe to pulses: %w", err))
	}
	session.unsubscribes = append(session.unsubscribes, unsubPulse)

	unsubSOS, err := sos.SubscribeActive(ctx, h.store, pair.PairKey, partnerID, func(event models.SOSEvent) {
		h.send(session, WSMessage{
			Type:      "sos",
			SOSID:     event.ID,
			FromUser:  event.UserID,
			Message:   event.Message,
			Timestamp: event.Timestamp,
		})
	})
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe to sos events: %w", err))
	}
	session.unsubscribes = append(session.unsubscribes, unsubSOS)

	unsubPresence, err := h.tracker.SubscribeToPartner(ctx, pair.PairKey, partnerID, func(p models.Presence) {
		online := p.IsOnline
		h.send(session, WSMessage{
			Type:       "partner_status",
			Online:     &online,
			LastSeenAt: p.LastSeenAt.UnixMilli(),
		})
	})
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe to partner presence: %w", err))
	}
	session.unsubscribes = append(session.unsubscribes, unsubPresence)

	unsubMood, err := h.moods.SubscribeLatest(ctx, pair.PairKey, partnerID, func(m models.Mood) {
		h.send(session, WSMessage{
			Type:      "partner_mood",
			Timestamp: m.CreatedAt,
			Data:      map[string]any{"mood": m.Mood, "note": m.Note},
		})
	})
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe to partner mood: %w", err))
	}
	session.unsubscribes = append(session.unsubscribes, unsubMood)

	return nil
}

// Unregister tears down a user's connection and marks them offline.
func (h *WSHub) Unregister(ctx context.Context, userID string) {
	h.mu.Lock()
	session, ok := h.sessions[userID]
	if ok {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.teardown(session)
	if session.pairKey != "" {
		h.tracker.SetOffline(ctx, session.pairKey, userID)
	}
	log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
}

// SendPulse writes a pulse through the signal channel and reports the
// sender-side rapid classification. The effect fires before the store
// acknowledges the write.
func (h *WSHub) SendPulse(userID, partnerID string) (correlationID string, rapid bool, err error) {
	h.mu.RLock()
	session, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return "", false, fmt.Errorf("user %s is not connected", userID)
	}

	rapid = session.sent.Observe()
	correlationID = h.channel.Send(models.SignalPulse, userID, partnerID, nil)
	return correlationID, rapid, nil
}

// HandleAppState feeds a client lifecycle transition into presence.
func (h *WSHub) HandleAppState(ctx context.Context, userID string, state presence.AppState) {
	h.mu.RLock()
	session, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok || session.pairKey == "" {
		return
	}
	h.tracker.HandleAppState(ctx, session.pairKey, userID, state)
}

// WatchSOSResponded notifies the sender's socket once the partner
// acknowledges the alert.
func (h *WSHub) WatchSOSResponded(ctx context.Context, userID, sosID string) {
	h.mu.RLock()
	session, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	unsub, err := sos.SubscribeResponded(ctx, h.store, sosID, func() {
		h.send(session, WSMessage{Type: "sos_responded", SOSID: sosID})
	})
	if err != nil {
		log.Warn().Err(err).Str("sos_id", sosID).Msg("Failed to watch SOS acknowledgment")
		return
	}

	h.mu.Lock()
	if current, ok := h.sessions[userID]; ok && current == session {
		session.unsubscribes = append(session.unsubscribes, unsub)
	} else {
		unsub()
	}
	h.mu.Unlock()
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	session, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %s is not connected", userID)
	}
	h.send(session, message)
	return nil
}

// IsOnline checks if a user has a live connection
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.sessions[userID]
	return exists
}

func (h *WSHub) send(session *wsSession, message WSMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal message")
		return
	}

	session.writeMu.Lock()
	err = session.conn.WriteMessage(websocket.TextMessage, data)
	session.writeMu.Unlock()
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", session.userID).
			Str("type", message.Type).
			Msg("Failed to send message")
	}
}

// teardown cancels a session's subscriptions and closes its socket.
// Leaking a subscription past a pair change would cause duplicate
// delivery, since dedup caches live inside the subscriptions.
func (h *WSHub) teardown(session *wsSession) {
	for _, unsubscribe := range session.unsubscribes {
		unsubscribe()
	}
	session.unsubscribes = nil
	if session.conn != nil {
		session.conn.Close()
	}
}
