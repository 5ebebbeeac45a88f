package creem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config carries the resolved credential set for one gateway environment.
// Selection between test and live happens in the config package; this client
// never inspects key or URL contents to guess the environment.
type Config struct {
	APIKey          string
	BaseURL         string
	CheckoutBaseURL string
	Timeout         time.Duration
}

type Client struct {
	apiKey          string
	baseURL         string
	checkoutBaseURL string
	httpClient      *http.Client
	log             *slog.Logger
}

// GatewayError is a non-2xx response from the payment API.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error: status=%d message=%s", e.Status, e.Message)
}

// Customer identifies the paying user to the gateway.
type Customer struct {
	Email string `json:"email"`
}

// CheckoutRequest describes a checkout session to create. ProductID is the only
// required field; everything else is sent only when set.
type CheckoutRequest struct {
	ProductID    string
	RequestID    string
	SuccessURL   string
	Customer     *Customer
	Metadata     map[string]any
	DiscountCode string
	Units        int
	Locale       string
	PlanType     string
}

// CheckoutSession is the normalized view of a gateway checkout. PaymentURL is
// always populated: either from the response or constructed from the checkout id.
type CheckoutSession struct {
	ID         string
	Status     string
	PaymentURL string
}

type checkoutResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url"`
	PaymentURL  string `json:"payment_url"`
	URL         string `json:"url"`
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		checkoutBaseURL: strings.TrimRight(cfg.CheckoutBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateCheckout starts a hosted checkout session.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.ProductID == "" {
		return nil, fmt.Errorf("product_id is required")
	}

	payload := map[string]any{
		"product_id": req.ProductID,
	}
	if req.RequestID != "" {
		payload["request_id"] = req.RequestID
	}
	if req.SuccessURL != "" {
		payload["success_url"] = req.SuccessURL
	}
	if req.Customer != nil && req.Customer.Email != "" {
		payload["customer"] = req.Customer
	}
	if req.DiscountCode != "" {
		payload["discount_code"] = req.DiscountCode
	}
	if req.Units > 0 {
		payload["units"] = req.Units
	}
	if req.PlanType != "" {
		payload["plan_type"] = req.PlanType
	}
	metadata := req.Metadata
	if req.Locale != "" {
		// The gateway has no top-level locale field; it travels in metadata.
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["locale"] = req.Locale
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	return c.doCheckout(httpReq)
}

// GetCheckoutStatus fetches the current state of a checkout session.
func (c *Client) GetCheckoutStatus(ctx context.Context, checkoutID, successURL string) (*CheckoutSession, error) {
	if checkoutID == "" {
		return nil, fmt.Errorf("checkout_id is required")
	}

	params := url.Values{}
	params.Set("checkout_id", checkoutID)
	if successURL != "" {
		params.Set("success_url", successURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/checkouts?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	return c.doCheckout(httpReq)
}

func (c *Client) doCheckout(req *http.Request) (*CheckoutSession, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("gateway call failed", "status", resp.StatusCode, "url", req.URL.String(), "body", truncateBody(rawBody))
		}
		return nil, &GatewayError{Status: resp.StatusCode, Message: gatewayMessage(rawBody)}
	}

	var parsed checkoutResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("checkout response missing id (body=%s)", truncateBody(rawBody))
	}

	return &CheckoutSession{
		ID:         parsed.ID,
		Status:     parsed.Status,
		PaymentURL: c.paymentURL(parsed),
	}, nil
}

// paymentURL extracts the hosted payment link. Gateway responses have carried it
// under several names across API versions; when none is present we fall back to
// the checkout page base plus the session id rather than failing.
func (c *Client) paymentURL(resp checkoutResponse) string {
	for _, candidate := range []string{resp.CheckoutURL, resp.PaymentURL, resp.URL} {
		if candidate != "" {
			return candidate
		}
	}
	return c.checkoutBaseURL + "/" + resp.ID
}

// gatewayMessage pulls a human-readable message out of an error body, falling
// back to the raw text when it is not the documented JSON shape.
func gatewayMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return truncateBody(body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
