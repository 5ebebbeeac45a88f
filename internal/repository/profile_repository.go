package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/models"
)

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) DB() *sql.DB {
	return r.db
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.UserProfile, error) {
	const query = `
SELECT id, credits, total_credits_spent, total_videos_created, created_at, updated_at
FROM user_profiles WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var p models.UserProfile
	if err := row.Scan(&p.ID, &p.Credits, &p.TotalCreditsSpent, &p.TotalVideosCreated, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile *models.UserProfile) error {
	const query = `
INSERT INTO user_profiles (id, credits, total_credits_spent, total_videos_created)
VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, profile.ID, profile.Credits, profile.TotalCreditsSpent, profile.TotalVideosCreated); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// Ensure returns the profile for the auth user id, creating one with the signup
// credit grant on first sight. The bool reports whether a row was created.
func (r *ProfileRepository) Ensure(ctx context.Context, id string, signupCredits int) (*models.UserProfile, bool, error) {
	profile, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if profile != nil {
		return profile, false, nil
	}
	created := &models.UserProfile{
		ID:      id,
		Credits: signupCredits,
	}
	if err := r.Create(ctx, created); err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// SetBalance writes the new balance computed by the caller. The ledger is
// deliberately read-modify-write: concurrent mutations of the same profile race,
// and the last write wins.
func (r *ProfileRepository) SetBalance(ctx context.Context, id string, credits, totalSpent int) error {
	const query = `
UPDATE user_profiles SET credits = ?, total_credits_spent = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, credits, totalSpent, id); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (r *ProfileRepository) IncrementVideosCreated(ctx context.Context, id string) error {
	const query = `
UPDATE user_profiles SET total_videos_created = total_videos_created + 1, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment videos created: %w", err)
	}
	return nil
}
