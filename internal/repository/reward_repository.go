package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mellowlab/asmrgen/internal/models"
)

type RewardRepository struct {
	db *sql.DB
}

func NewRewardRepository(db *sql.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) DB() *sql.DB {
	return r.db
}

func (r *RewardRepository) HasCheckedIn(ctx context.Context, userID string, day time.Time) (bool, error) {
	const query = `SELECT 1 FROM check_ins WHERE user_id = ? AND check_in_day = ?`
	row := r.db.QueryRowContext(ctx, query, userID, day.Format("2006-01-02"))
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check check-in: %w", err)
	}
	return true, nil
}

func (r *RewardRepository) GetCodeByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	const query = `SELECT id, code, owner_user_id, uses, created_at FROM referral_codes WHERE code = ?`
	row := r.db.QueryRowContext(ctx, query, code)
	var ref models.ReferralCode
	if err := row.Scan(&ref.ID, &ref.Code, &ref.OwnerUserID, &ref.Uses, &ref.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral code: %w", err)
	}
	return &ref, nil
}

func (r *RewardRepository) GetCodeByOwner(ctx context.Context, ownerUserID string) (*models.ReferralCode, error) {
	const query = `SELECT id, code, owner_user_id, uses, created_at FROM referral_codes WHERE owner_user_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, ownerUserID)
	var ref models.ReferralCode
	if err := row.Scan(&ref.ID, &ref.Code, &ref.OwnerUserID, &ref.Uses, &ref.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral code by owner: %w", err)
	}
	return &ref, nil
}

func (r *RewardRepository) CreateCode(ctx context.Context, code *models.ReferralCode) (*models.ReferralCode, error) {
	const query = `
INSERT INTO referral_codes (code, owner_user_id, uses)
VALUES (?, ?, 0)`
	res, err := r.db.ExecContext(ctx, query, code.Code, code.OwnerUserID)
	if err != nil {
		return nil, fmt.Errorf("create referral code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("referral code last insert id: %w", err)
	}
	code.ID = id
	return code, nil
}
