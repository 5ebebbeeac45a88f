package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mellowlab/asmrgen/internal/models"
	"github.com/mellowlab/asmrgen/internal/repository"
)

const (
	// Reason strings surfaced to callers in LedgerResult.Reason.
	reasonInsufficientCredits = "insufficient credits"
	reasonProfileNotFound     = "profile not found"
)

// LedgerResult is the typed outcome of a balance mutation. Validation failures
// (missing profile, balance too low) come back as Success=false with a reason
// instead of an error, so callers can branch without error inspection. Errors
// are reserved for storage failures on the balance write itself.
type LedgerResult struct {
	Success          bool
	Reason           string
	RemainingCredits int
}

// BonusMeta carries the optional correlation ids for AddCredits. Fields are
// recorded on the transaction row only when set.
type BonusMeta struct {
	CheckInID  *int64
	ReferralID *int64
}

// CreditService is the credit ledger: it owns every mutation of a profile's
// balance and appends one audit transaction per change.
//
// The consistency contract is deliberately loose: the balance write is the
// source of truth and the ledger row is best-effort audit. A failed transaction
// insert is logged and swallowed, never rolled back. Nothing locks the profile
// row, so concurrent mutations of the same user race (read-modify-write).
type CreditService struct {
	log          *slog.Logger
	profiles     *repository.ProfileRepository
	transactions *repository.TransactionRepository
}

func NewCreditService(log *slog.Logger, profiles *repository.ProfileRepository, transactions *repository.TransactionRepository) *CreditService {
	return &CreditService{
		log:          log,
		profiles:     profiles,
		transactions: transactions,
	}
}

// Deduct spends credits for a generation task. The usage transaction records a
// negative amount and carries the task id for later completion tagging.
func (s *CreditService) Deduct(ctx context.Context, userID string, amount int, description, taskID string) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if profile == nil {
		return &LedgerResult{Success: false, Reason: reasonProfileNotFound}, nil
	}
	if profile.Credits < amount {
		return &LedgerResult{Success: false, Reason: reasonInsufficientCredits, RemainingCredits: profile.Credits}, nil
	}

	newBalance := profile.Credits - amount
	if err := s.profiles.SetBalance(ctx, userID, newBalance, profile.TotalCreditsSpent+amount); err != nil {
		return nil, err
	}

	tx := &models.CreditTransaction{
		UserID:      userID,
		Type:        models.TransactionUsage,
		Amount:      -amount,
		Description: withTaskSuffix(description, taskID),
	}
	if taskID != "" {
		tx.TaskID = &taskID
	}
	if err := s.transactions.Insert(ctx, tx); err != nil {
		// Balance change already happened and stands; the audit row is lost.
		s.log.Error("record usage transaction", "user", userID, "task", taskID, "err", err)
	}

	return &LedgerResult{Success: true, RemainingCredits: newBalance}, nil
}

// Refund returns credits after a failed generation. total_credits_spent is
// clamped at zero so repeated refunds cannot drive it negative.
func (s *CreditService) Refund(ctx context.Context, userID string, amount int, description, taskID string, videoID *int64) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if profile == nil {
		return &LedgerResult{Success: false, Reason: reasonProfileNotFound}, nil
	}

	newBalance := profile.Credits + amount
	totalSpent := profile.TotalCreditsSpent - amount
	if totalSpent < 0 {
		totalSpent = 0
	}
	if err := s.profiles.SetBalance(ctx, userID, newBalance, totalSpent); err != nil {
		return nil, err
	}

	tx := &models.CreditTransaction{
		UserID:      userID,
		Type:        models.TransactionRefund,
		Amount:      amount,
		Description: withTaskSuffix(description, taskID),
		VideoID:     videoID,
	}
	if taskID != "" {
		tx.TaskID = &taskID
	}
	if err := s.transactions.Insert(ctx, tx); err != nil {
		s.log.Error("record refund transaction", "user", userID, "task", taskID, "err", err)
	}

	return &LedgerResult{Success: true, RemainingCredits: newBalance}, nil
}

// AddCredits grants credits from a purchase or a bonus source (check-in,
// referral, promotional grant).
func (s *CreditService) AddCredits(ctx context.Context, userID string, amount int, description string, txType models.TransactionType, meta *BonusMeta) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	if txType != models.TransactionBonus && txType != models.TransactionPurchase {
		return nil, fmt.Errorf("unsupported credit transaction type: %s", txType)
	}

	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if profile == nil {
		return &LedgerResult{Success: false, Reason: reasonProfileNotFound}, nil
	}

	newBalance := profile.Credits + amount
	if err := s.profiles.SetBalance(ctx, userID, newBalance, profile.TotalCreditsSpent); err != nil {
		return nil, err
	}

	tx := &models.CreditTransaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Description: description,
	}
	if meta != nil {
		tx.CheckInID = meta.CheckInID
		tx.ReferralID = meta.ReferralID
	}
	if err := s.transactions.Insert(ctx, tx); err != nil {
		s.log.Error("record credit transaction", "user", userID, "type", txType, "err", err)
	}

	return &LedgerResult{Success: true, RemainingCredits: newBalance}, nil
}

// GetBalance returns the current balance, or 0 when the profile cannot be
// fetched. Callers treat the balance as advisory, so a read failure degrades to
// "no credits" instead of an error.
func (s *CreditService) GetBalance(ctx context.Context, userID string) int {
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		s.log.Error("fetch balance", "user", userID, "err", err)
		return 0
	}
	if profile == nil {
		return 0
	}
	return profile.Credits
}

// TagCompletion attaches the produced catalog row to the usage transaction that
// paid for the task. The correlation is best-effort: when no un-tagged usage row
// matches the task, this is a silent no-op.
func (s *CreditService) TagCompletion(ctx context.Context, userID, taskID string, videoID int64) error {
	tx, err := s.transactions.FindLatestUntagged(ctx, userID, taskID)
	if err != nil {
		return fmt.Errorf("find usage transaction: %w", err)
	}
	if tx == nil {
		return nil
	}
	if err := s.transactions.AttachVideo(ctx, tx.ID, videoID); err != nil {
		return fmt.Errorf("tag completion: %w", err)
	}
	return nil
}

// Transactions lists recent ledger rows for a user, newest first.
func (s *CreditService) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	return s.transactions.ListByUser(ctx, userID, limit)
}

func withTaskSuffix(description, taskID string) string {
	if taskID == "" {
		return description
	}
	return fmt.Sprintf("%s (Task: %s)", description, taskID)
}
