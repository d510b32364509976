package handlers

import (
	"encoding/json"
	"net/http"

	"sync-pair-backend/internal/echo"
	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// EchoHandler handles daily echo HTTP requests
type EchoHandler struct {
	echoService *echo.Service
	userService *services.UserService
}

// NewEchoHandler creates a new echo handler
func NewEchoHandler(echoService *echo.Service, userService *services.UserService) *EchoHandler {
	return &EchoHandler{
		echoService: echoService,
		userService: userService,
	}
}

// EchoAnswerView is an answer as shown to one member. Text is withheld for
// the partner's answer until the reveal.
type EchoAnswerView struct {
	UserID     string `json:"user_id"`
	Text       string `json:"text,omitempty"`
	AnsweredAt int64  `json:"answered_at"`
}

// EchoResponse is today's echo as seen by the requesting member.
type EchoResponse struct {
	ID            string          `json:"id"`
	Date          string          `json:"date"`
	Question      string          `json:"question"`
	YourAnswer    *EchoAnswerView `json:"your_answer,omitempty"`
	PartnerAnswer *EchoAnswerView `json:"partner_answer,omitempty"`
	BothAnswered  bool            `json:"both_answered"`
	CanReveal     bool            `json:"can_reveal"`
	IsRevealed    bool            `json:"is_revealed"`
	RevealTime    int64           `json:"reveal_time"`
}

// GetToday handles GET /api/v1/echo/today
func (h *EchoHandler) GetToday(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pairKey, ok := h.pairKeyFor(w, r)
	if !ok {
		return
	}

	today, err := h.echoService.GetOrCreateToday(ctx, pairKey)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load daily echo")
		respondError(w, "Failed to load daily echo", http.StatusInternalServerError)
		return
	}

	respondJSON(w, h.view(today, userID), http.StatusOK)
}

// SubmitAnswerRequest represents the request body for answering
type SubmitAnswerRequest struct {
	Text string `json:"text"`
}

// SubmitAnswer handles POST /api/v1/echo/answer
func (h *EchoHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		respondError(w, "text is required", http.StatusBadRequest)
		return
	}

	pairKey, ok := h.pairKeyFor(w, r)
	if !ok {
		return
	}

	today, err := h.echoService.SubmitAnswer(ctx, pairKey, userID, req.Text)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to submit echo answer")

		statusCode := http.StatusInternalServerError
		if err.Error() == "user has already answered today" ||
			err.Error() == "both answers already submitted" {
			statusCode = http.StatusConflict
		}
		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().Str("user_id", userID).Str("echo_id", today.ID).Msg("Echo answer submitted")
	respondJSON(w, h.view(today, userID), http.StatusOK)
}

// Reveal handles POST /api/v1/echo/reveal
func (h *EchoHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pairKey, ok := h.pairKeyFor(w, r)
	if !ok {
		return
	}

	today, err := h.echoService.MarkRevealed(ctx, pairKey)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to reveal daily echo")

		statusCode := http.StatusInternalServerError
		if err.Error() == "both answers required before reveal" ||
			err.Error() == "reveal time not reached" {
			statusCode = http.StatusConflict
		}
		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().Str("user_id", userID).Str("echo_id", today.ID).Msg("Daily echo revealed")
	respondJSON(w, h.view(today, userID), http.StatusOK)
}

// StreakResponse reports the pair's consecutive fully-answered days.
type StreakResponse struct {
	Streak int `json:"streak"`
}

// GetStreak handles GET /api/v1/echo/streak
func (h *EchoHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pairKey, ok := h.pairKeyFor(w, r)
	if !ok {
		return
	}

	streak, err := h.echoService.Streak(ctx, pairKey)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to compute echo streak")
		respondError(w, "Failed to compute streak", http.StatusInternalServerError)
		return
	}

	respondJSON(w, StreakResponse{Streak: streak}, http.StatusOK)
}

// pairKeyFor resolves the caller's pair key, writing the error response
// itself when the user is unpaired.
func (h *EchoHandler) pairKeyFor(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	user, err := h.userService.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		respondError(w, "Failed to load user", http.StatusInternalServerError)
		return "", false
	}
	if user.PairKey == nil {
		respondError(w, "You are not in a pair", http.StatusConflict)
		return "", false
	}
	return *user.PairKey, true
}

// view redacts the partner's answer text until the reveal. The member's own
// answer is always visible to them.
func (h *EchoHandler) view(today *models.DailyEcho, userID string) EchoResponse {
	resp := EchoResponse{
		ID:           today.ID,
		Date:         today.Date,
		Question:     today.Question,
		BothAnswered: echo.HaveBothAnswered(today),
		CanReveal:    h.echoService.CanReveal(today),
		IsRevealed:   today.IsRevealed,
		RevealTime:   today.RevealTime,
	}
	resp.YourAnswer, resp.PartnerAnswer = answerViews(today, userID)
	return resp
}

func answerViews(today *models.DailyEcho, userID string) (yours, partners *EchoAnswerView) {
	for _, answer := range []*models.EchoAnswer{today.AnswerA, today.AnswerB} {
		if answer == nil {
			continue
		}
		view := &EchoAnswerView{
			UserID:     answer.UserID,
			AnsweredAt: answer.AnsweredAt,
		}
		if answer.UserID == userID {
			view.Text = answer.Text
			yours = view
		} else {
			if today.IsRevealed {
				view.Text = answer.Text
			}
			partners = view
		}
	}
	return yours, partners
}
