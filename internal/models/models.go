package models

import "time"

type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
	TransactionBonus    TransactionType = "bonus"
)

type VideoStatus string

const (
	VideoStatusCompleted VideoStatus = "completed"
	VideoStatusFailed    VideoStatus = "failed"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// UserProfile mirrors the external auth provider's user id and carries the credit
// balance. The balance columns are mutated only by the credit ledger.
type UserProfile struct {
	ID                 string
	Credits            int
	TotalCreditsSpent  int
	TotalVideosCreated int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreditTransaction is an append-only audit row for one balance change. Amount is
// signed: negative for usage, positive otherwise. The optional ids correlate the
// row with whatever caused it (generation task, catalog row, check-in, referral).
type CreditTransaction struct {
	ID          int64
	UserID      string
	Type        TransactionType
	Amount      int
	Description string
	TaskID      *string
	VideoID     *int64
	CheckInID   *int64
	ReferralID  *int64
	CreatedAt   time.Time
}

type Video struct {
	ID           int64
	UserID       string
	TaskID       string
	Prompt       string
	VideoURL     string
	ThumbnailURL string
	FileSize     int64
	Status       VideoStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Order struct {
	ID               int64
	UserID           string
	PackageID        *int64
	Provider         string
	CheckoutID       string
	PaymentURL       string
	Credits          int
	AmountMinorUnits int
	Currency         string
	Status           OrderStatus
	RawPayload       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type CreditPackage struct {
	ID              int64
	Title           string
	Description     string
	ProductID       string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ReferralCode struct {
	ID          int64
	Code        string
	OwnerUserID string
	Uses        int
	CreatedAt   time.Time
}
