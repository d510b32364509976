package pairing

import (
	"context"
	"fmt"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"
)

// Collection holds pair documents, keyed by pair key.
const Collection = "pairs"

// Users is the slice of the user repository the pair service needs.
type Users interface {
	GetByCode(ctx context.Context, code string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetPair(ctx context.Context, userID, partnerID, pairKey string) error
	ClearPair(ctx context.Context, userID string) error
}

// Service handles pair-related business logic
type Service struct {
	store store.Store
	users Users
	clock clock.Clock
}

// NewService creates a new pair service
func NewService(st store.Store, users Users, clk clock.Clock) *Service {
	return &Service{store: st, users: users, clock: clk}
}

// Create creates a pair between the user and the owner of partnerCode. The
// pair document is keyed by the derived pair key, so both members accepting
// the same invite converge on one document.
func (s *Service) Create(ctx context.Context, userID, partnerCode string) (*models.Pair, error) {
	if len(partnerCode) != 6 {
		return nil, fmt.Errorf("partner code must be 6 characters")
	}

	partner, err := s.users.GetByCode(ctx, partnerCode)
	if err != nil {
		return nil, fmt.Errorf("partner not found: %w", err)
	}

	if userID == partner.ID {
		return nil, fmt.Errorf("cannot create pair with yourself")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	pairKey := Key(userID, partner.ID)

	now := s.clock.Now()
	memberA, memberB := userID, partner.ID
	if memberA > memberB {
		memberA, memberB = memberB, memberA
	}
	pair := &models.Pair{
		PairKey:   pairKey,
		MemberA:   memberA,
		MemberB:   memberB,
		Status:    models.PairActive,
		CreatedAt: now,
	}

	err = s.store.Create(ctx, Collection, pairKey, store.Document{
		"pair_key":   pair.PairKey,
		"member_a":   pair.MemberA,
		"member_b":   pair.MemberB,
		"status":     string(pair.Status),
		"created_at": now.UnixMilli(),
	})
	if err == store.ErrExists {
		// The partner accepted first; joining the existing active pair is
		// not an error.
		existing, getErr := s.Get(ctx, pairKey)
		if getErr == nil && existing.Status == models.PairActive {
			pair = existing
			err = nil
		} else {
			return nil, fmt.Errorf("pair already exists")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create pair: %w", err)
	}

	// A user can only be in one active pair; reject after the convergence
	// check so a double-accept of the same invite still succeeds.
	if user.PairKey != nil && *user.PairKey != pairKey {
		return nil, fmt.Errorf("user is already in a pair")
	}
	if partner.PairKey != nil && *partner.PairKey != pairKey {
		return nil, fmt.Errorf("partner is already in a pair")
	}

	if err := s.users.SetPair(ctx, userID, partner.ID, pairKey); err != nil {
		return nil, fmt.Errorf("failed to link user to pair: %w", err)
	}
	if err := s.users.SetPair(ctx, partner.ID, userID, pairKey); err != nil {
		return nil, fmt.Errorf("failed to link partner to pair: %w", err)
	}

	return pair, nil
}

// Get retrieves a pair by its key.
func (s *Service) Get(ctx context.Context, pairKey string) (*models.Pair, error) {
	doc, err := s.store.Read(ctx, Collection, pairKey)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("pair not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	return pairFromDoc(doc), nil
}

// Deactivate flips the pair to inactive and unlinks both members. The pair
// document itself is kept so the other member can still reference it.
func (s *Service) Deactivate(ctx context.Context, pairKey, userID string) error {
	pair, err := s.Get(ctx, pairKey)
	if err != nil {
		return fmt.Errorf("pair not found: %w", err)
	}

	if pair.MemberA != userID && pair.MemberB != userID {
		return fmt.Errorf("user is not a member of this pair")
	}

	err = s.store.Write(ctx, Collection, pairKey, store.Document{
		"status": string(models.PairInactive),
	}, true)
	if err != nil {
		return fmt.Errorf("failed to deactivate pair: %w", err)
	}

	if err := s.users.ClearPair(ctx, pair.MemberA); err != nil {
		return fmt.Errorf("failed to unlink member: %w", err)
	}
	if err := s.users.ClearPair(ctx, pair.MemberB); err != nil {
		return fmt.Errorf("failed to unlink member: %w", err)
	}
	return nil
}

// Partner returns the other member's ID.
func Partner(pair *models.Pair, userID string) string {
	if pair.MemberA == userID {
		return pair.MemberB
	}
	return pair.MemberA
}

func pairFromDoc(doc store.Document) *models.Pair {
	return &models.Pair{
		PairKey:   store.String(doc, "pair_key"),
		MemberA:   store.String(doc, "member_a"),
		MemberB:   store.String(doc, "member_b"),
		Status:    models.PairStatus(store.String(doc, "status")),
		CreatedAt: millisToTime(store.Int64(doc, "created_at")),
	}
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
