package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/creem"
	"github.com/mellowlab/asmrgen/internal/repository"
)

type fakeGateway struct {
	createdReq creem.CheckoutRequest
	session    *creem.CheckoutSession
	err        error
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req creem.CheckoutRequest) (*creem.CheckoutSession, error) {
	g.createdReq = req
	return g.session, g.err
}

func (g *fakeGateway) GetCheckoutStatus(ctx context.Context, checkoutID, successURL string) (*creem.CheckoutSession, error) {
	return g.session, g.err
}

func newCheckoutFixture(t *testing.T, gateway CheckoutGateway) (*CheckoutService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Config{SignupCredits: 20}
	cfg.Payment.SuccessURL = "https://app.example.com/billing/done"
	profiles := repository.NewProfileRepository(db)
	credits := NewCreditService(discardLogger(), profiles, repository.NewTransactionRepository(db))
	packages := NewPackageService(cfg, repository.NewPackageRepository(db))
	svc := NewCheckoutService(cfg, discardLogger(), gateway, repository.NewOrderRepository(db), packages, profiles, credits)
	return svc, mock
}

func packageRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "title", "description", "product_id", "currency", "price_minor_units", "credits", "is_active", "created_at", "updated_at"}).
		AddRow(3, "Starter credit pack", "", "prod_starter", "USD", 990, 100, true, now, now)
}

func TestCheckoutCreateRecordsPendingOrder(t *testing.T) {
	gateway := &fakeGateway{session: &creem.CheckoutSession{
		ID:         "co_123",
		Status:     "pending",
		PaymentURL: "https://pay.example.com/co_123",
	}}
	svc, mock := newCheckoutFixture(t, gateway)

	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(20, 0, 0))
	mock.ExpectQuery("SELECT id, title").
		WithArgs(int64(3)).
		WillReturnRows(packageRows())
	mock.ExpectExec("INSERT INTO orders").
		WithArgs("user-1", int64(3), "creem", "co_123", "https://pay.example.com/co_123", 100, 990, "USD", "pending", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	order, err := svc.Create(context.Background(), "user-1", 3, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "co_123", order.CheckoutID)
	assert.Equal(t, 100, order.Credits)
	assert.Equal(t, "https://pay.example.com/co_123", order.PaymentURL)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "prod_starter", gateway.createdReq.ProductID)
	assert.NotEmpty(t, gateway.createdReq.RequestID)
	require.NotNil(t, gateway.createdReq.Customer)
	assert.Equal(t, "buyer@example.com", gateway.createdReq.Customer.Email)
	assert.Equal(t, "user-1", gateway.createdReq.Metadata["user_id"])
}

func TestCheckoutCreateRejectsInactivePackage(t *testing.T) {
	svc, mock := newCheckoutFixture(t, &fakeGateway{})
	now := time.Now()

	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(20, 0, 0))
	mock.ExpectQuery("SELECT id, title").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description", "product_id", "currency", "price_minor_units", "credits", "is_active", "created_at", "updated_at"}).
			AddRow(4, "Retired pack", "", "prod_old", "USD", 500, 50, false, now, now))

	_, err := svc.Create(context.Background(), "user-1", 4, "")
	assert.ErrorContains(t, err, "not available")
}

func TestCheckoutCreateGatewayErrorPropagates(t *testing.T) {
	gateway := &fakeGateway{err: &creem.GatewayError{Status: 403, Message: "invalid api key"}}
	svc, mock := newCheckoutFixture(t, gateway)

	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(20, 0, 0))
	mock.ExpectQuery("SELECT id, title").
		WithArgs(int64(3)).
		WillReturnRows(packageRows())

	_, err := svc.Create(context.Background(), "user-1", 3, "")
	var gwErr *creem.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 403, gwErr.Status)
}

func orderRows(status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "package_id", "provider", "checkout_id", "payment_url", "credits", "amount_minor_units", "currency", "status", "raw_payload", "created_at", "updated_at"}).
		AddRow(8, "user-1", 3, "creem", "co_123", "https://pay.example.com/co_123", 100, 990, "USD", status, "", now, now)
}

func TestWebhookCompletedGrantsCredits(t *testing.T) {
	svc, mock := newCheckoutFixture(t, &fakeGateway{})
	payload := []byte(`{"eventType":"checkout.completed","object":{"id":"co_123","status":"completed"}}`)

	mock.ExpectQuery("SELECT id, user_id, package_id").
		WithArgs("co_123").
		WillReturnRows(orderRows("pending"))
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnRows(profileRows(20, 0, 0))
	mock.ExpectExec("UPDATE user_profiles SET credits").
		WithArgs(120, 0, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("user-1", "purchase", 100, "Credit package purchase", nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(31, 1))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("paid", string(payload), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookAlreadyPaidIsSkipped(t *testing.T) {
	svc, mock := newCheckoutFixture(t, &fakeGateway{})
	payload := []byte(`{"eventType":"checkout.completed","object":{"id":"co_123","status":"completed"}}`)

	mock.ExpectQuery("SELECT id, user_id, package_id").
		WithArgs("co_123").
		WillReturnRows(orderRows("paid"))

	require.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookUnknownCheckoutFails(t *testing.T) {
	svc, mock := newCheckoutFixture(t, &fakeGateway{})
	payload := []byte(`{"eventType":"checkout.completed","object":{"id":"co_missing"}}`)

	mock.ExpectQuery("SELECT id, user_id, package_id").
		WithArgs("co_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "package_id", "provider", "checkout_id", "payment_url", "credits", "amount_minor_units", "currency", "status", "raw_payload", "created_at", "updated_at"}))

	assert.Error(t, svc.HandleWebhook(context.Background(), payload))
}

func TestWebhookExpiredMarksCanceled(t *testing.T) {
	svc, mock := newCheckoutFixture(t, &fakeGateway{})
	payload := []byte(`{"eventType":"checkout.expired","object":{"id":"co_123","status":"expired"}}`)

	mock.ExpectQuery("SELECT id, user_id, package_id").
		WithArgs("co_123").
		WillReturnRows(orderRows("pending"))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("canceled", string(payload), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookGrantFailureIsReturned(t *testing.T) {
	svc, mock := newCheckoutFixture(t, &fakeGateway{})
	payload := []byte(`{"eventType":"checkout.completed","object":{"id":"co_123","status":"completed"}}`)

	mock.ExpectQuery("SELECT id, user_id, package_id").
		WithArgs("co_123").
		WillReturnRows(orderRows("pending"))
	mock.ExpectQuery("SELECT id, credits").
		WithArgs("user-1").
		WillReturnError(errors.New("db down"))

	assert.Error(t, svc.HandleWebhook(context.Background(), payload))
}
