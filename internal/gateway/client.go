package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"ticketing-service/internal/util"

	"go.uber.org/zap"
)

// Error taxonomy for gateway calls. Callers discriminate with errors.Is.
var (
	// ErrAuth means the gateway rejected our credentials or token.
	ErrAuth = errors.New("gateway authentication failed")
	// ErrUnreachable covers transport-level failures and timeouts.
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrRejected means the gateway answered but reported failure.
	ErrRejected = errors.New("gateway rejected request")
)

// Tokens are refreshed this long before their reported expiry.
const tokenExpiryMargin = 30 * time.Second

// Client talks to the payment gateway. It owns credential handling: the
// bearer token is cached and shared across concurrent requests, refreshed
// lazily when missing or near expiry.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	logger         *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Config holds the gateway connection parameters
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// NewClient creates a new gateway client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         util.NamedLogger("gateway"),
	}
}

// OrderRequest is the outbound order payload. Built fresh per submission,
// never persisted.
type OrderRequest struct {
	ReferenceNumber string
	Currency        string
	Amount          int64
	Description     string
	CallbackURL     string
	NotificationID  string
	Email           string
	Phone           string
	CountryCode     string
	FirstName       string
	LastName        string
}

type authRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type authResponse struct {
	Token      string `json:"token"`
	ExpiryDate string `json:"expiryDate"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type billingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress billingAddress `json:"billing_address"`
}

type submitOrderResponse struct {
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
	Status            string `json:"status"`
	Error             any    `json:"error"`
}

type statusResponse struct {
	PaymentStatusDescription string `json:"payment_status_description"`
	PaymentMethod            string `json:"payment_method"`
	ConfirmationCode         string `json:"confirmation_code"`
	Status                   string `json:"status"`
}

// Authenticate requests a fresh bearer token from the gateway and caches
// it. Callers normally rely on the lazy path inside SubmitOrder/QueryStatus;
// Authenticate is exposed for warm-up at startup.
func (c *Client) Authenticate(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(authRequest{
		ConsumerKey:    c.consumerKey,
		ConsumerSecret: c.consumerSecret,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal auth request: %w", err)
	}

	start := time.Now()
	resp, err := c.postJSON(ctx, c.baseURL+"/api/Auth/RequestToken", "", body)
	util.GatewayRequestLatency.WithLabelValues("auth").Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayAuthTotal.WithLabelValues("unreachable").Inc()
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		util.GatewayAuthTotal.WithLabelValues("error").Inc()
		return "", time.Time{}, fmt.Errorf("%w: malformed auth response: %v", ErrRejected, err)
	}

	if auth.Status != "200" || auth.Token == "" {
		util.GatewayAuthTotal.WithLabelValues("rejected").Inc()
		c.logger.Warn("Gateway rejected credentials",
			zap.String("status", auth.Status),
			zap.String("message", auth.Message))
		return "", time.Time{}, fmt.Errorf("%w: status=%s", ErrAuth, auth.Status)
	}

	expiry, err := time.Parse(time.RFC3339, auth.ExpiryDate)
	if err != nil {
		// Some gateway environments omit timezone info; fall back to a
		// conservative five minute lifetime.
		expiry = time.Now().Add(5 * time.Minute)
	}

	c.mu.Lock()
	c.token = auth.Token
	c.tokenExpiry = expiry
	c.mu.Unlock()

	util.GatewayAuthTotal.WithLabelValues("success").Inc()
	c.logger.Info("Gateway token acquired", zap.Time("expiry", expiry))
	return auth.Token, expiry, nil
}

// bearer returns a valid cached token, authenticating when the cache is
// empty or near expiry. A concurrent refresh on expiry may authenticate
// twice; the second result simply overwrites the first.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	valid := token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpiryMargin))
	c.mu.Unlock()

	if valid {
		return token, nil
	}

	token, _, err := c.Authenticate(ctx)
	return token, err
}

// invalidateToken drops the cached token after a 401 so the retry
// re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// SubmitOrder submits an order to the gateway and returns the gateway's
// tracking id and the URL the payer is redirected to.
func (c *Client) SubmitOrder(ctx context.Context, order OrderRequest) (trackingID, redirectURL string, err error) {
	body, err := json.Marshal(submitOrderRequest{
		ID:             order.ReferenceNumber,
		Currency:       order.Currency,
		Amount:         float64(order.Amount) / 100,
		Description:    order.Description,
		CallbackURL:    order.CallbackURL,
		NotificationID: order.NotificationID,
		BillingAddress: billingAddress{
			EmailAddress: order.Email,
			PhoneNumber:  order.Phone,
			CountryCode:  order.CountryCode,
			FirstName:    order.FirstName,
			LastName:     order.LastName,
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal order request: %w", err)
	}

	start := time.Now()
	resp, err := c.doAuthenticated(ctx, func(ctx context.Context, token string) (*http.Response, error) {
		return c.postJSON(ctx, c.baseURL+"/api/Transactions/SubmitOrderRequest", token, body)
	})
	util.GatewayRequestLatency.WithLabelValues("submit_order").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var submitted submitOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", "", fmt.Errorf("%w: malformed submit response: %v", ErrRejected, err)
	}

	if submitted.RedirectURL == "" || submitted.Error != nil {
		c.logger.Warn("Gateway rejected order",
			zap.String("reference", order.ReferenceNumber),
			zap.String("status", submitted.Status))
		return "", "", fmt.Errorf("%w: status=%s", ErrRejected, submitted.Status)
	}

	util.GatewayOrdersSubmittedTotal.Inc()
	c.logger.Info("Order submitted to gateway",
		zap.String("reference", order.ReferenceNumber),
		zap.String("tracking_id", submitted.OrderTrackingID))

	return submitted.OrderTrackingID, submitted.RedirectURL, nil
}

// QueryStatus fetches the authoritative transaction status. The returned
// status is the gateway's raw vocabulary; mapping to the application's
// statuses happens in the reconciler.
func (c *Client) QueryStatus(ctx context.Context, trackingID string) (gatewayStatus, paymentMethod string, err error) {
	start := time.Now()
	resp, err := c.doAuthenticated(ctx, func(ctx context.Context, token string) (*http.Response, error) {
		endpoint := c.baseURL + "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(trackingID)
		return c.get(ctx, endpoint, token)
	})
	util.GatewayRequestLatency.WithLabelValues("query_status").Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayStatusQueriesTotal.WithLabelValues("error").Inc()
		return "", "", err
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		util.GatewayStatusQueriesTotal.WithLabelValues("error").Inc()
		return "", "", fmt.Errorf("%w: malformed status response: %v", ErrRejected, err)
	}

	util.GatewayStatusQueriesTotal.WithLabelValues("success").Inc()
	return status.PaymentStatusDescription, status.PaymentMethod, nil
}

// doAuthenticated runs an authenticated request with a single
// retry-on-401. Repeated authentication against a rate-limited partner is
// deliberately avoided beyond that one retry.
func (c *Client) doAuthenticated(ctx context.Context, do func(ctx context.Context, token string) (*http.Response, error)) (*http.Response, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := do(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.invalidateToken()

		token, err = c.bearer(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = do(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: token rejected after refresh", ErrAuth)
		}
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

func (c *Client) get(ctx context.Context, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.httpClient.Do(req)
}
