package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/pairing"
	"sync-pair-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PairHandler handles pair-related HTTP requests
type PairHandler struct {
	pairService *pairing.Service
	wsHub       *services.WSHub
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairService *pairing.Service, wsHub *services.WSHub) *PairHandler {
	return &PairHandler{
		pairService: pairService,
		wsHub:       wsHub,
	}
}

// CreatePairRequest represents the request body for creating a pair
type CreatePairRequest struct {
	PartnerCode string `json:"partner_code"`
}

// CreatePair handles POST /api/v1/pairs
func (h *PairHandler) CreatePair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreatePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.PartnerCode == "" {
		respondError(w, "partner_code is required", http.StatusBadRequest)
		return
	}

	pair, err := h.pairService.Create(ctx, userID, req.PartnerCode)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("partner_code", req.PartnerCode).
			Msg("Failed to create pair")

		statusCode := http.StatusInternalServerError
		switch {
		case err.Error() == "partner code must be 6 characters":
			statusCode = http.StatusBadRequest
		case err.Error() == "cannot create pair with yourself" ||
			err.Error() == "user is already in a pair" ||
			err.Error() == "partner is already in a pair" ||
			err.Error() == "pair already exists":
			statusCode = http.StatusConflict
		case strings.Contains(err.Error(), "partner not found"):
			statusCode = http.StatusNotFound
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("pair_key", pair.PairKey).
		Msg("Pair created")

	partnerID := pairing.Partner(pair, userID)

	// Notify both members over WebSocket if they are connected. The pair
	// already exists at this point, so delivery failures are not fatal.
	for _, memberID := range []string{userID, partnerID} {
		if !h.wsHub.IsOnline(memberID) {
			continue
		}
		msg := services.WSMessage{
			Type: "pair_status",
			Data: map[string]any{
				"has_pair": true,
				"pair_key": pair.PairKey,
			},
		}
		if err := h.wsHub.SendToUser(memberID, msg); err != nil {
			log.Error().
				Err(err).
				Str("member_id", memberID).
				Msg("Failed to notify member about pair creation")
		}
	}

	respondJSON(w, pair, http.StatusOK)
}

// DeletePair handles DELETE /api/v1/pairs/{pair_key}
func (h *PairHandler) DeletePair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	pairKey := chi.URLParam(r, "pair_key")

	if pairKey == "" {
		respondError(w, "pair_key is required", http.StatusBadRequest)
		return
	}

	pair, err := h.pairService.Get(ctx, pairKey)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("pair_key", pairKey).
			Msg("Failed to get pair")
		respondError(w, "pair not found", http.StatusNotFound)
		return
	}

	if pair.MemberA != userID && pair.MemberB != userID {
		respondError(w, "user is not a member of this pair", http.StatusForbidden)
		return
	}
	partnerID := pairing.Partner(pair, userID)

	if err := h.pairService.Deactivate(ctx, pairKey, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("pair_key", pairKey).
			Msg("Failed to deactivate pair")

		statusCode := http.StatusInternalServerError
		if err.Error() == "user is not a member of this pair" {
			statusCode = http.StatusForbidden
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("pair_key", pairKey).
		Msg("Pair deactivated")

	for _, memberID := range []string{userID, partnerID} {
		if !h.wsHub.IsOnline(memberID) {
			continue
		}
		msg := services.WSMessage{
			Type: "pair_status",
			Data: map[string]any{"has_pair": false},
		}
		if err := h.wsHub.SendToUser(memberID, msg); err != nil {
			log.Error().
				Err(err).
				Str("member_id", memberID).
				Msg("Failed to notify member about pair deactivation")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
