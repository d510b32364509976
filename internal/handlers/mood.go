package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/mood"
	"sync-pair-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// MoodHandler handles mood HTTP requests
type MoodHandler struct {
	moodService *mood.Service
	userService *services.UserService
}

// NewMoodHandler creates a new mood handler
func NewMoodHandler(moodService *mood.Service, userService *services.UserService) *MoodHandler {
	return &MoodHandler{
		moodService: moodService,
		userService: userService,
	}
}

// SubmitMoodRequest represents the request body for submitting a mood
type SubmitMoodRequest struct {
	Mood string `json:"mood"`
	Note string `json:"note"`
}

// SubmitMood handles POST /api/v1/moods
func (h *MoodHandler) SubmitMood(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SubmitMoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.userService.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		respondError(w, "Failed to load user", http.StatusInternalServerError)
		return
	}
	if user.PairKey == nil {
		respondError(w, "You are not in a pair", http.StatusConflict)
		return
	}

	entry, err := h.moodService.Submit(ctx, userID, *user.PairKey, req.Mood, req.Note)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to submit mood")

		statusCode := http.StatusInternalServerError
		if strings.HasPrefix(err.Error(), "unknown mood") {
			statusCode = http.StatusBadRequest
		}
		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().Str("user_id", userID).Str("mood", entry.Mood).Msg("Mood submitted")
	respondJSON(w, entry, http.StatusOK)
}
