package handlers

import (
	"encoding/json"
	"net/http"

	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.userService.CreateUser(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create user")
		respondError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("user_id", user.ID).
		Str("code", user.Code).
		Msg("User created")

	respondJSON(w, user, http.StatusOK)
}

// UpdateContactRequest represents the request body for updating contact info
type UpdateContactRequest struct {
	DisplayName      *string `json:"display_name"`
	Email            *string `json:"email"`
	PhoneNumber      *string `json:"phone_number"`
	VideoCallContact *string `json:"video_call_contact"`
}

// UpdateContact handles PUT /api/v1/users/me/contact
func (h *UserHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.userService.UpdateContact(ctx, userID, req.DisplayName, req.Email, req.PhoneNumber, req.VideoCallContact)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update contact info")
		respondError(w, "Failed to update contact info", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdatePushTokenRequest represents the request body for updating the push token
type UpdatePushTokenRequest struct {
	PushToken *string `json:"push_token"`
}

// UpdatePushToken handles PUT /api/v1/users/me/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdatePushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.userService.UpdatePushToken(ctx, userID, req.PushToken); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update push token")
		respondError(w, "Failed to update push token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetOneTapSOSRequest represents the request body for the one-tap SOS toggle
type SetOneTapSOSRequest struct {
	Enabled   bool `json:"enabled"`
	Confirmed bool `json:"confirmed"`
}

// SetOneTapSOS handles PUT /api/v1/users/me/one-tap-sos. Enabling requires
// the explicit opt-in confirmation; disabling never does.
func (h *UserHandler) SetOneTapSOS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SetOneTapSOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Enabled && !req.Confirmed {
		respondError(w, "enabling one-tap SOS requires explicit confirmation", http.StatusBadRequest)
		return
	}

	if err := h.userService.SetOneTapSOS(ctx, userID, req.Enabled); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update one-tap SOS preference")
		respondError(w, "Failed to update preference", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
