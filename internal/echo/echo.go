// Package echo runs the daily question-and-reveal ritual. Each pair gets
// one document per day; the day flips at 06:00 local time, answers are
// write-once per user, and the reveal unlocks at 22:00 but only happens on
// an explicit action.
//
// Day boundaries use the process's local time. Cross-timezone pairs can
// compute different days; that ambiguity is inherited from the product, not
// resolved here.
package echo

import (
	"context"
	"fmt"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"
)

// Collection holds daily echo documents, keyed by pairKey_date.
const Collection = "daily_echoes"

const (
	// dayBoundaryHour: before 06:00 a timestamp still belongs to the
	// previous calendar day.
	dayBoundaryHour = 6

	// revealHour is when the day's answers unlock, 22:00 local.
	revealHour = 22

	maxStreakLookback = 366
)

// Service computes questions, collects answers, and gates the reveal.
type Service struct {
	store store.Store
	clock clock.Clock
}

// NewService creates a daily echo service.
func NewService(st store.Store, clk clock.Clock) *Service {
	return &Service{store: st, clock: clk}
}

// DayKey returns the echo date for t: t's calendar date, or the previous
// one when t is before 06:00.
func DayKey(t time.Time) string {
	if t.Hour() < dayBoundaryHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}

// QuestionFor returns the question assigned to the given echo date.
func QuestionFor(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return questionBank[0]
	}
	return questionBank[t.YearDay()%len(questionBank)]
}

// GetOrCreateToday returns today's echo for the pair, creating it when
// absent. Creation is guarded by the store's create-if-absent, so both
// partners racing here converge on one document.
func (s *Service) GetOrCreateToday(ctx context.Context, pairKey string) (*models.DailyEcho, error) {
	now := s.clock.Now()
	date := DayKey(now)
	id := pairKey + "_" + date

	doc, err := s.store.Read(ctx, Collection, id)
	if err == nil {
		return echoFromDoc(id, doc), nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to read daily echo: %w", err)
	}

	echo := &models.DailyEcho{
		ID:         id,
		PairKey:    pairKey,
		Date:       date,
		Question:   QuestionFor(date),
		RevealTime: revealTimeFor(now).UnixMilli(),
		IsRevealed: false,
		CreatedAt:  now.UnixMilli(),
	}
	err = s.store.Create(ctx, Collection, id, store.Document{
		"pair_key":    echo.PairKey,
		"date":        echo.Date,
		"question":    echo.Question,
		"reveal_time": echo.RevealTime,
		"is_revealed": false,
		"created_at":  echo.CreatedAt,
	})
	if err == store.ErrExists {
		// The partner created it first.
		doc, err = s.store.Read(ctx, Collection, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read daily echo: %w", err)
		}
		return echoFromDoc(id, doc), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create daily echo: %w", err)
	}
	return echo, nil
}

// SubmitAnswer stores the user's answer in the first empty slot. Answers
// are write-once: a user who has already answered is rejected, and the
// slot claim is an atomic conditional write so two simultaneous first
// submissions land in different slots.
func (s *Service) SubmitAnswer(ctx context.Context, pairKey, userID, text string) (*models.DailyEcho, error) {
	echo, err := s.GetOrCreateToday(ctx, pairKey)
	if err != nil {
		return nil, err
	}

	if answeredBy(echo, userID) {
		return nil, fmt.Errorf("user has already answered today")
	}

	answer := store.Document{
		"user_id":     userID,
		"text":        text,
		"answered_at": s.clock.Now().UnixMilli(),
	}

	err = s.store.SetIfAbsent(ctx, Collection, echo.ID, "answer_a", answer)
	if err == store.ErrFieldExists {
		// Lost the first slot. Re-check before claiming the second: the
		// winner may have been a concurrent submit from this same user, and
		// one user must never hold both slots.
		doc, readErr := s.store.Read(ctx, Collection, echo.ID)
		if readErr != nil {
			return nil, fmt.Errorf("failed to re-read daily echo: %w", readErr)
		}
		if answeredBy(echoFromDoc(echo.ID, doc), userID) {
			return nil, fmt.Errorf("user has already answered today")
		}
		err = s.store.SetIfAbsent(ctx, Collection, echo.ID, "answer_b", answer)
		if err == store.ErrFieldExists {
			return nil, fmt.Errorf("both answers already submitted")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit answer: %w", err)
	}

	doc, err := s.store.Read(ctx, Collection, echo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read daily echo: %w", err)
	}
	return echoFromDoc(echo.ID, doc), nil
}

// CanReveal reports whether the reveal time has passed, independent of
// whether the reveal has happened.
func (s *Service) CanReveal(echo *models.DailyEcho) bool {
	return s.clock.Now().UnixMilli() >= echo.RevealTime
}

// HaveBothAnswered reports whether both slots are filled.
func HaveBothAnswered(echo *models.DailyEcho) bool {
	return echo.AnswerA != nil && echo.AnswerB != nil
}

// MarkRevealed flips the echo to revealed. It requires both answers and a
// passed reveal time; the flag never reverts.
func (s *Service) MarkRevealed(ctx context.Context, pairKey string) (*models.DailyEcho, error) {
	echo, err := s.GetOrCreateToday(ctx, pairKey)
	if err != nil {
		return nil, err
	}
	if echo.IsRevealed {
		return echo, nil
	}
	if !HaveBothAnswered(echo) {
		return nil, fmt.Errorf("both answers required before reveal")
	}
	if !s.CanReveal(echo) {
		return nil, fmt.Errorf("reveal time not reached")
	}
	err = s.store.Write(ctx, Collection, echo.ID, store.Document{"is_revealed": true}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to mark revealed: %w", err)
	}
	echo.IsRevealed = true
	return echo, nil
}

// SubscribeToday mirrors today's echo document into onChange.
func (s *Service) SubscribeToday(ctx context.Context, pairKey string, onChange func(*models.DailyEcho)) (func(), error) {
	date := DayKey(s.clock.Now())
	id := pairKey + "_" + date
	q := store.Query{
		Collection: Collection,
		Filters: []store.Filter{
			{Field: "pair_key", Value: pairKey},
			{Field: "date", Value: date},
		},
		Limit: 1,
	}
	return s.store.Subscribe(ctx, q, func(snap store.Snapshot) {
		if len(snap.Docs) == 0 {
			return
		}
		onChange(echoFromDoc(id, snap.Docs[0].Data))
	})
}

// Streak counts consecutive fully-answered days ending at today. An
// incomplete today does not break the streak; the count then starts at
// yesterday. Computed from the per-day documents, so it survives restarts.
func (s *Service) Streak(ctx context.Context, pairKey string) (int, error) {
	day := s.clock.Now()
	streak := 0
	for i := 0; i < maxStreakLookback; i++ {
		date := DayKey(day.AddDate(0, 0, -i))
		doc, err := s.store.Read(ctx, Collection, pairKey+"_"+date)
		if err == store.ErrNotFound {
			if i == 0 {
				continue
			}
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read daily echo: %w", err)
		}
		echo := echoFromDoc("", doc)
		if !HaveBothAnswered(echo) {
			if i == 0 {
				continue
			}
			break
		}
		streak++
	}
	return streak, nil
}

func revealTimeFor(now time.Time) time.Time {
	reveal := time.Date(now.Year(), now.Month(), now.Day(), revealHour, 0, 0, 0, now.Location())
	if now.After(reveal) {
		// A pair starting the ritual late should not wait until tomorrow.
		return now
	}
	return reveal
}

func answeredBy(echo *models.DailyEcho, userID string) bool {
	return (echo.AnswerA != nil && echo.AnswerA.UserID == userID) ||
		(echo.AnswerB != nil && echo.AnswerB.UserID == userID)
}

func echoFromDoc(id string, doc store.Document) *models.DailyEcho {
	return &models.DailyEcho{
		ID:         id,
		PairKey:    store.String(doc, "pair_key"),
		Date:       store.String(doc, "date"),
		Question:   store.String(doc, "question"),
		AnswerA:    answerFromDoc(store.SubDoc(doc, "answer_a")),
		AnswerB:    answerFromDoc(store.SubDoc(doc, "answer_b")),
		RevealTime: store.Int64(doc, "reveal_time"),
		IsRevealed: store.Bool(doc, "is_revealed"),
		CreatedAt:  store.Int64(doc, "created_at"),
	}
}

func answerFromDoc(doc store.Document) *models.EchoAnswer {
	if doc == nil {
		return nil
	}
	return &models.EchoAnswer{
		UserID:     store.String(doc, "user_id"),
		Text:       store.String(doc, "text"),
		AnsweredAt: store.Int64(doc, "answered_at"),
	}
}
