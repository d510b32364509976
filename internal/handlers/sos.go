package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/push"
	"sync-pair-backend/internal/repository"
	"sync-pair-backend/internal/services"
	"sync-pair-backend/internal/sos"
	"sync-pair-backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SOSHandler drives the per-user alert state machines over HTTP.
type SOSHandler struct {
	store    store.Store
	userRepo *repository.UserRepository
	clock    clock.Clock
	reach    sos.Reachability
	launcher sos.CallLauncher
	notifier push.Notifier
	wsHub    *services.WSHub

	mu       sync.Mutex
	machines map[string]*sos.Machine
}

// NewSOSHandler creates a new SOS handler
func NewSOSHandler(
	st store.Store,
	userRepo *repository.UserRepository,
	clk clock.Clock,
	reach sos.Reachability,
	launcher sos.CallLauncher,
	notifier push.Notifier,
	wsHub *services.WSHub,
) *SOSHandler {
	return &SOSHandler{
		store:    st,
		userRepo: userRepo,
		clock:    clk,
		reach:    reach,
		launcher: launcher,
		notifier: notifier,
		wsHub:    wsHub,
		machines: make(map[string]*sos.Machine),
	}
}

// machineFor returns the user's alert machine, creating it on first use.
// One machine per user keeps confirmation state across requests.
func (h *SOSHandler) machineFor(userID string) *sos.Machine {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.machines[userID]
	if !ok {
		m = sos.NewMachine(h.store, h.userRepo, h.clock, h.reach, h.launcher, h.notifier)
		h.machines[userID] = m
	}
	return m
}

// TriggerSOSRequest represents the request body for starting an alert
type TriggerSOSRequest struct {
	Message string `json:"message"`
}

// SOSResponse reports where the alert flow ended up.
type SOSResponse struct {
	State        string           `json:"state"`
	Event        *models.SOSEvent `json:"event,omitempty"`
	CallLaunched bool             `json:"call_launched,omitempty"`
}

// TriggerSOS handles POST /api/v1/sos. With one-tap enabled the alert goes
// out immediately; otherwise the machine parks in confirming until the
// client calls ConfirmSOS or CancelSOS.
func (h *SOSHandler) TriggerSOS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req TriggerSOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	alertReq, user, ok := h.buildRequest(w, r, req.Message)
	if !ok {
		return
	}

	machine := h.machineFor(userID)
	result, err := machine.Press(ctx, *alertReq, user.OneTapSOS)
	if err != nil {
		h.respondSOSError(w, userID, err)
		return
	}

	if result == nil {
		respondJSON(w, SOSResponse{State: string(sos.StateConfirming)}, http.StatusOK)
		return
	}
	h.finishAlert(w, userID, result)
}

// ConfirmSOS handles POST /api/v1/sos/confirm
func (h *SOSHandler) ConfirmSOS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req TriggerSOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	alertReq, _, ok := h.buildRequest(w, r, req.Message)
	if !ok {
		return
	}

	machine := h.machineFor(userID)
	result, err := machine.Confirm(ctx, *alertReq)
	if err != nil {
		h.respondSOSError(w, userID, err)
		return
	}
	h.finishAlert(w, userID, result)
}

// CancelSOS handles POST /api/v1/sos/cancel
func (h *SOSHandler) CancelSOS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.machineFor(userID).Cancel()
	respondJSON(w, SOSResponse{State: string(sos.StateIdle)}, http.StatusOK)
}

// RespondSOS handles POST /api/v1/sos/{sos_id}/respond, the receiving
// partner's acknowledgment.
func (h *SOSHandler) RespondSOS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sosID := chi.URLParam(r, "sos_id")

	if sosID == "" {
		respondError(w, "sos_id is required", http.StatusBadRequest)
		return
	}

	if err := sos.MarkResponded(ctx, h.store, sosID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("sos_id", sosID).Msg("Failed to acknowledge SOS")
		respondError(w, "sos event not found", http.StatusNotFound)
		return
	}

	log.Info().Str("user_id", userID).Str("sos_id", sosID).Msg("SOS acknowledged")
	w.WriteHeader(http.StatusNoContent)
}

// buildRequest loads the caller, checks they are paired, and assembles the
// alert request. It writes the error response itself when something is off.
func (h *SOSHandler) buildRequest(w http.ResponseWriter, r *http.Request, message string) (*sos.Request, *models.User, bool) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	user, err := h.userRepo.GetByID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		respondError(w, "Failed to load user", http.StatusInternalServerError)
		return nil, nil, false
	}
	if user.PairKey == nil || user.PartnerID == nil {
		respondError(w, "You are not in a pair", http.StatusConflict)
		return nil, nil, false
	}

	senderName := "Your partner"
	if user.DisplayName != nil && *user.DisplayName != "" {
		senderName = *user.DisplayName
	}

	return &sos.Request{
		UserID:     userID,
		PairKey:    *user.PairKey,
		PartnerID:  *user.PartnerID,
		SenderName: senderName,
		Message:    message,
	}, user, true
}

func (h *SOSHandler) finishAlert(w http.ResponseWriter, userID string, result *sos.Result) {
	resp := SOSResponse{
		State:        string(sos.StateSent),
		Event:        result.Event,
		CallLaunched: result.CallLaunched,
	}

	if result.Event != nil {
		// Dismiss the sender's banner once the partner acknowledges.
		h.wsHub.WatchSOSResponded(context.Background(), userID, result.Event.ID)
	}

	log.Info().
		Str("user_id", userID).
		Bool("call_launched", result.CallLaunched).
		Msg("SOS sent")
	respondJSON(w, resp, http.StatusOK)
}

func (h *SOSHandler) respondSOSError(w http.ResponseWriter, userID string, err error) {
	log.Error().Err(err).Str("user_id", userID).Msg("SOS failed")
	if errors.Is(err, sos.ErrContactMissing) {
		respondError(w, "partner contact information missing", http.StatusUnprocessableEntity)
		return
	}
	respondError(w, err.Error(), http.StatusConflict)
}
