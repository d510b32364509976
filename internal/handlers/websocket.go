package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/pairing"
	"sync-pair-backend/internal/presence"
	"sync-pair-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
	pairService *pairing.Service
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	pairService *pairing.Service,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
		pairService: pairService,
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := middleware.ValidateWebSocketToken(token, h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	// Subscriptions outlive the request, so they hang off the server
	// context rather than r.Context().
	ctx := context.Background()

	user, err := h.userService.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		return
	}

	var pair *models.Pair
	if user.PairKey != nil {
		pair, err = h.pairService.Get(ctx, *user.PairKey)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load pair")
			pair = nil
		}
	}

	if err := h.hub.Register(ctx, userID, pair, conn); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to register WebSocket connection")
		return
	}
	defer h.hub.Unregister(ctx, userID)

	hasPair := pair != nil && pair.Status == models.PairActive
	statusMsg := services.WSMessage{
		Type: "pair_status",
		Data: map[string]any{"has_pair": hasPair},
	}
	if hasPair {
		statusMsg.Data["pair_key"] = pair.PairKey
	}
	if err := h.hub.SendToUser(userID, statusMsg); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to send pair_status message")
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			h.sendError(conn, "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, userID, user.PartnerID, msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(conn, err.Error())
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, userID string, partnerID *string, msg services.WSMessage) error {
	switch msg.Type {
	case "pulse":
		return h.handlePulse(userID, partnerID)
	case "app_state":
		return h.handleAppState(ctx, userID, msg)
	default:
		return h.sendErrorToUser(userID, "Unknown message type")
	}
}

// handlePulse sends a pulse to the partner and acks the sender with the
// correlation ID and rapid-tap classification.
func (h *WebSocketHandler) handlePulse(userID string, partnerID *string) error {
	if partnerID == nil {
		return h.sendErrorToUser(userID, "You are not in a pair")
	}

	correlationID, rapid, err := h.hub.SendPulse(userID, *partnerID)
	if err != nil {
		return err
	}

	return h.hub.SendToUser(userID, services.WSMessage{
		Type:          "pulse_sent",
		CorrelationID: correlationID,
		Rapid:         &rapid,
	})
}

// handleAppState maps a client lifecycle transition onto presence.
func (h *WebSocketHandler) handleAppState(ctx context.Context, userID string, msg services.WSMessage) error {
	state := presence.AppState(msg.State)
	switch state {
	case presence.StateActive, presence.StateBackground, presence.StateInactive:
	default:
		return h.sendErrorToUser(userID, "Unknown app state")
	}

	h.hub.HandleAppState(ctx, userID, state)
	return nil
}

// sendError sends an error message to the WebSocket connection
func (h *WebSocketHandler) sendError(conn *websocket.Conn, message string) {
	msg := services.WSMessage{
		Type:    "error",
		Message: message,
	}
	data, _ := json.Marshal(msg)
	conn.WriteMessage(websocket.TextMessage, data)
}

// sendErrorToUser sends an error message to a user
func (h *WebSocketHandler) sendErrorToUser(userID, message string) error {
	msg := services.WSMessage{
		Type:    "error",
		Message: message,
	}
	return h.hub.SendToUser(userID, msg)
}
