package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/models"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *models.CreditTransaction) error {
	const query = `
INSERT INTO credit_transactions (user_id, transaction_type, amount, description, task_id, video_id, check_in_id, referral_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, tx.UserID, tx.Type, tx.Amount, tx.Description, tx.TaskID, tx.VideoID, tx.CheckInID, tx.ReferralID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction last insert id: %w", err)
	}
	tx.ID = id
	return nil
}

// FindLatestUntagged returns the most recent usage transaction for the user and
// task that has no video attached yet, or nil when none matches.
func (r *TransactionRepository) FindLatestUntagged(ctx context.Context, userID, taskID string) (*models.CreditTransaction, error) {
	const query = `
SELECT id, user_id, transaction_type, amount, COALESCE(description, ''), task_id, video_id, check_in_id, referral_id, created_at
FROM credit_transactions
WHERE user_id = ? AND transaction_type = ? AND task_id = ? AND video_id IS NULL
ORDER BY created_at DESC, id DESC
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, userID, models.TransactionUsage, taskID)
	return scanTransaction(row)
}

// FindUsageByTaskID looks up the usage transaction that paid for the task,
// regardless of tagging state. Used to correlate generator callbacks back to a user.
func (r *TransactionRepository) FindUsageByTaskID(ctx context.Context, taskID string) (*models.CreditTransaction, error) {
	const query = `
SELECT id, user_id, transaction_type, amount, COALESCE(description, ''), task_id, video_id, check_in_id, referral_id, created_at
FROM credit_transactions
WHERE transaction_type = ? AND task_id = ?
ORDER BY created_at DESC, id DESC
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, models.TransactionUsage, taskID)
	return scanTransaction(row)
}

func (r *TransactionRepository) AttachVideo(ctx context.Context, transactionID, videoID int64) error {
	const query = `UPDATE credit_transactions SET video_id = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, videoID, transactionID); err != nil {
		return fmt.Errorf("attach video to transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, user_id, transaction_type, amount, COALESCE(description, ''), task_id, video_id, check_in_id, referral_id, created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		tx, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row *sql.Row) (*models.CreditTransaction, error) {
	tx, err := scanTransactionFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

func scanTransactionRow(rows *sql.Rows) (*models.CreditTransaction, error) {
	return scanTransactionFrom(rows)
}

func scanTransactionFrom(s rowScanner) (*models.CreditTransaction, error) {
	var tx models.CreditTransaction
	var taskID sql.NullString
	var videoID, checkInID, referralID sql.NullInt64
	if err := s.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Description, &taskID, &videoID, &checkInID, &referralID, &tx.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if taskID.Valid {
		tx.TaskID = &taskID.String
	}
	if videoID.Valid {
		tx.VideoID = &videoID.Int64
	}
	if checkInID.Valid {
		tx.CheckInID = &checkInID.Int64
	}
	if referralID.Valid {
		tx.ReferralID = &referralID.Int64
	}
	return &tx, nil
}
