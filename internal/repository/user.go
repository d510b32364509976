package repository

import (
	"context"
	"fmt"

	"sync-pair-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, code, token, display_name, email, phone_number,
	video_call_contact, push_token, partner_id, pair_key, one_tap_sos, created_at`

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, code, token, display_name, email, phone_number,
			video_call_contact, push_token, one_tap_sos, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Code, user.Token, user.DisplayName, user.Email,
		user.PhoneNumber, user.VideoCallContact, user.PushToken,
		user.OneTapSOS, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByCode retrieves a user by code
func (r *UserRepository) GetByCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE code = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, code))
}

// CodeExists checks if a code already exists
func (r *UserRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE code = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	query := `UPDATE users SET push_token = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, pushToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

// UpdateContact updates the fields SOS contact resolution reads
func (r *UserRepository) UpdateContact(ctx context.Context, userID string, displayName, email, phoneNumber, videoCallContact *string) error {
	query := `
		UPDATE users
		SET display_name = $1, email = $2, phone_number = $3, video_call_contact = $4
		WHERE id = $5
	`
	_, err := r.db.Exec(ctx, query, displayName, email, phoneNumber, videoCallContact, userID)
	if err != nil {
		return fmt.Errorf("failed to update contact info: %w", err)
	}
	return nil
}

// SetOneTapSOS stores the one-tap SOS preference
func (r *UserRepository) SetOneTapSOS(ctx context.Context, userID string, enabled bool) error {
	query := `UPDATE users SET one_tap_sos = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, enabled, userID)
	if err != nil {
		return fmt.Errorf("failed to update one-tap sos preference: %w", err)
	}
	return nil
}

// SetPair links a user to their partner and pair
func (r *UserRepository) SetPair(ctx context.Context, userID, partnerID, pairKey string) error {
	query := `UPDATE users SET partner_id = $1, pair_key = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, partnerID, pairKey, userID)
	if err != nil {
		return fmt.Errorf("failed to link user to pair: %w", err)
	}
	return nil
}

// ClearPair unlinks a user from their pair
func (r *UserRepository) ClearPair(ctx context.Context, userID string) error {
	query := `UPDATE users SET partner_id = NULL, pair_key = NULL WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to unlink user from pair: %w", err)
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Code, &user.Token, &user.DisplayName, &user.Email,
		&user.PhoneNumber, &user.VideoCallContact, &user.PushToken,
		&user.PartnerID, &user.PairKey, &user.OneTapSOS, &user.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
