package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/models"
	"github.com/mellowlab/asmrgen/internal/repository"
)

var (
	ErrAlreadyCheckedIn        = errors.New("already checked in today")
	ErrReferralInvalid         = errors.New("referral code invalid")
	ErrReferralAlreadyRedeemed = errors.New("referral code already redeemed")
	ErrReferralSelf            = errors.New("cannot redeem your own referral code")
)

// RewardService hands out free credits: one small daily check-in bonus and a
// one-time referral bonus for both sides of a referral. Uniqueness (one
// check-in per day, one redemption per user) is enforced in its own DB
// transaction; the credit grant itself goes through the ledger afterwards and
// follows the ledger's usual decoupled contract.
type RewardService struct {
	cfg      config.Config
	log      *slog.Logger
	rewards  *repository.RewardRepository
	profiles *repository.ProfileRepository
	credits  *CreditService
}

type CheckInResult struct {
	CreditsGranted   int
	RemainingCredits int
}

type ReferralResult struct {
	CreditsGranted   int
	RemainingCredits int
}

func NewRewardService(cfg config.Config, log *slog.Logger, rewards *repository.RewardRepository, profiles *repository.ProfileRepository, credits *CreditService) *RewardService {
	return &RewardService{
		cfg:      cfg,
		log:      log,
		rewards:  rewards,
		profiles: profiles,
		credits:  credits,
	}
}

// DailyCheckIn grants the check-in bonus once per UTC day.
func (s *RewardService) DailyCheckIn(ctx context.Context, userID string) (*CheckInResult, error) {
	if _, _, err := s.profiles.Ensure(ctx, userID, s.cfg.SignupCredits); err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	day := time.Now().UTC().Format("2006-01-02")

	tx, err := s.rewards.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT 1 FROM check_ins WHERE user_id = ? AND check_in_day = ?`, userID, day)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check check-in: %w", err)
		}
	} else {
		return nil, ErrAlreadyCheckedIn
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO check_ins (user_id, check_in_day) VALUES (?, ?)`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("insert check-in: %w", err)
	}
	checkInID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("check-in last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit check-in tx: %w", err)
	}

	result, err := s.credits.AddCredits(ctx, userID, s.cfg.CheckInBonusCredits, "Daily check-in bonus", models.TransactionBonus, &BonusMeta{CheckInID: &checkInID})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("grant check-in bonus: %s", result.Reason)
	}

	return &CheckInResult{
		CreditsGranted:   s.cfg.CheckInBonusCredits,
		RemainingCredits: result.RemainingCredits,
	}, nil
}

// HasCheckedInToday reports whether the user already claimed today's bonus.
func (s *RewardService) HasCheckedInToday(ctx context.Context, userID string) (bool, error) {
	return s.rewards.HasCheckedIn(ctx, userID, time.Now().UTC())
}

// EnsureReferralCode returns the user's shareable code, minting one on first use.
func (s *RewardService) EnsureReferralCode(ctx context.Context, userID string) (*models.ReferralCode, error) {
	if _, _, err := s.profiles.Ensure(ctx, userID, s.cfg.SignupCredits); err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	code, err := s.rewards.GetCodeByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	if code != nil {
		return code, nil
	}
	fresh := &models.ReferralCode{
		Code:        strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		OwnerUserID: userID,
	}
	return s.rewards.CreateCode(ctx, fresh)
}

// ApplyReferral redeems a referral code for userID. Each user can redeem one
// code ever, and never their own. Both the redeemer and the code owner get the
// bonus; the owner's grant is best-effort once the redemption is committed.
func (s *RewardService) ApplyReferral(ctx context.Context, userID, code string) (*ReferralResult, error) {
	if _, _, err := s.profiles.Ensure(ctx, userID, s.cfg.SignupCredits); err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	ref, err := s.rewards.GetCodeByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("get referral code: %w", err)
	}
	if ref == nil {
		return nil, ErrReferralInvalid
	}
	if ref.OwnerUserID == userID {
		return nil, ErrReferralSelf
	}

	tx, err := s.rewards.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var uses int
	row := tx.QueryRowContext(ctx, `SELECT uses FROM referral_codes WHERE id = ? FOR UPDATE`, ref.ID)
	if err := row.Scan(&uses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReferralInvalid
		}
		return nil, fmt.Errorf("lock referral code: %w", err)
	}

	row = tx.QueryRowContext(ctx, `SELECT 1 FROM referral_redemptions WHERE referred_user_id = ?`, userID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check redemption: %w", err)
		}
	} else {
		return nil, ErrReferralAlreadyRedeemed
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO referral_redemptions (referral_code_id, referred_user_id) VALUES (?, ?)`, ref.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}
	redemptionID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("redemption last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE referral_codes SET uses = uses + 1 WHERE id = ?`, ref.ID); err != nil {
		return nil, fmt.Errorf("increment referral uses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit referral tx: %w", err)
	}

	bonus := s.cfg.ReferralBonusCredits
	result, err := s.credits.AddCredits(ctx, userID, bonus, "Referral bonus", models.TransactionBonus, &BonusMeta{ReferralID: &redemptionID})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("grant referral bonus: %s", result.Reason)
	}

	if ownerResult, err := s.credits.AddCredits(ctx, ref.OwnerUserID, bonus, "Referral reward", models.TransactionBonus, &BonusMeta{ReferralID: &redemptionID}); err != nil || !ownerResult.Success {
		s.log.Error("grant owner referral reward", "owner", ref.OwnerUserID, "redemption", redemptionID, "err", err)
	}

	return &ReferralResult{
		CreditsGranted:   bonus,
		RemainingCredits: result.RemainingCredits,
	}, nil
}
