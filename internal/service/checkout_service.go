package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/creem"
	"github.com/mellowlab/asmrgen/internal/models"
	"github.com/mellowlab/asmrgen/internal/repository"
)

// CheckoutGateway is the slice of the payment client the checkout flow needs.
type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, req creem.CheckoutRequest) (*creem.CheckoutSession, error)
	GetCheckoutStatus(ctx context.Context, checkoutID, successURL string) (*creem.CheckoutSession, error)
}

// CheckoutService starts gateway checkouts and grants credits when the gateway
// reports a completed one.
type CheckoutService struct {
	cfg      config.Config
	log      *slog.Logger
	gateway  CheckoutGateway
	orders   *repository.OrderRepository
	packages *PackageService
	profiles *repository.ProfileRepository
	credits  *CreditService
}

func NewCheckoutService(cfg config.Config, log *slog.Logger, gateway CheckoutGateway, orders *repository.OrderRepository, packages *PackageService, profiles *repository.ProfileRepository, credits *CreditService) *CheckoutService {
	return &CheckoutService{
		cfg:      cfg,
		log:      log,
		gateway:  gateway,
		orders:   orders,
		packages: packages,
		profiles: profiles,
		credits:  credits,
	}
}

// Create opens a checkout session for a credit package and records a pending
// order keyed by the gateway's checkout id.
func (s *CheckoutService) Create(ctx context.Context, userID string, packageID int64, email string) (*models.Order, error) {
	if _, _, err := s.profiles.Ensure(ctx, userID, s.cfg.SignupCredits); err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	var pkg *models.CreditPackage
	var err error
	if packageID > 0 {
		pkg, err = s.packages.GetByID(ctx, packageID)
	} else {
		pkg, err = s.packages.GetDefault(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	if pkg == nil {
		return nil, fmt.Errorf("package not found")
	}
	if !pkg.IsActive {
		return nil, fmt.Errorf("package is not available for purchase")
	}

	req := creem.CheckoutRequest{
		ProductID:  pkg.ProductID,
		RequestID:  uuid.NewString(),
		SuccessURL: s.cfg.Payment.SuccessURL,
		Metadata: map[string]any{
			"user_id":    userID,
			"package_id": pkg.ID,
		},
	}
	if email != "" {
		req.Customer = &creem.Customer{Email: email}
	}

	session, err := s.gateway.CreateCheckout(ctx, req)
	if err != nil {
		return nil, err
	}

	status := models.OrderStatusPending
	if session.Status != "" && session.Status != "pending" && session.Status != "open" {
		status = models.OrderStatus(session.Status)
	}

	packageID = pkg.ID
	order := &models.Order{
		UserID:           userID,
		PackageID:        &packageID,
		Provider:         "creem",
		CheckoutID:       session.ID,
		PaymentURL:       session.PaymentURL,
		Credits:          pkg.Credits,
		AmountMinorUnits: pkg.PriceMinorUnits,
		Currency:         pkg.Currency,
		Status:           status,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("record order: %w", err)
	}

	s.log.Info("checkout created", "user", userID, "checkout", session.ID, "package", pkg.ID)
	return order, nil
}

// gatewayEvent is the webhook envelope the gateway posts on checkout state
// changes.
type gatewayEvent struct {
	EventType string `json:"eventType"`
	Object    struct {
		ID       string         `json:"id"`
		Status   string         `json:"status"`
		Metadata map[string]any `json:"metadata"`
	} `json:"object"`
}

// HandleWebhook processes gateway checkout updates and credits the user on
// completion. A paid order is skipped, which keeps the grant itself from being
// applied twice; the webhook as a whole has no stronger idempotency guarantee.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte) error {
	var evt gatewayEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Object.ID == "" {
		return fmt.Errorf("webhook missing checkout id")
	}

	order, err := s.orders.FindByCheckoutID(ctx, evt.Object.ID)
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order not found for checkout=%s", evt.Object.ID)
	}
	if order.Status == models.OrderStatusPaid {
		return nil // already processed
	}

	if evt.EventType == "checkout.completed" || evt.Object.Status == "completed" {
		result, err := s.credits.AddCredits(ctx, order.UserID, order.Credits, "Credit package purchase", models.TransactionPurchase, nil)
		if err != nil {
			return fmt.Errorf("grant purchased credits: %w", err)
		}
		if !result.Success {
			return fmt.Errorf("grant purchased credits: %s", result.Reason)
		}
		if err := s.orders.UpdateStatus(ctx, order.ID, models.OrderStatusPaid, string(payload)); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		s.log.Info("order paid", "user", order.UserID, "checkout", order.CheckoutID, "credits", order.Credits)
		return nil
	}

	// Failed or expired checkouts just record the new state.
	status := models.OrderStatusFailed
	if evt.Object.Status == "canceled" || evt.Object.Status == "expired" {
		status = models.OrderStatusCanceled
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, status, string(payload)); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// Status re-reads a checkout from the gateway, for a client polling its order.
func (s *CheckoutService) Status(ctx context.Context, checkoutID string) (*creem.CheckoutSession, error) {
	return s.gateway.GetCheckoutStatus(ctx, checkoutID, s.cfg.Payment.SuccessURL)
}
