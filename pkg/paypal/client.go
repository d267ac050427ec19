package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/metrics"
)

const (
	providerLabel        = "paypal"
	tokenRefreshMargin   = 60 * time.Second
	errorBodyReadLimit   = 4096
	defaultClientTimeout = 15 * time.Second
)

var (
	errCredentialsRequired = errors.New("paypal client id and secret are required")
	errLoggerRequired      = errors.New("paypal logger is required")
)

// TokenCache stores the OAuth bearer token between requests.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	TokenKey(provider string) string
}

// Client talks to the PayPal Orders v2 API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	brandName  string
	returnURL  string
	cancelURL  string
	tokens     TokenCache
	metrics    *metrics.PaymentMetrics
	logger     *logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the environment endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithTokenCache shares the bearer token across instances.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) {
		c.tokens = cache
	}
}

// WithMetrics records provider call outcomes.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(cfg config.PayPalConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errCredentialsRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.Endpoint(),
		clientID:   strings.TrimSpace(cfg.ClientID),
		secret:     strings.TrimSpace(cfg.ClientSecret),
		brandName:  cfg.BrandName,
		returnURL:  cfg.ReturnURL,
		cancelURL:  cfg.CancelURL,
		logger:     logg,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// FormatAmount renders minor units as the decimal string PayPal expects.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount converts a PayPal amount value back into minor units.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// CreateOrderRequest describes a single-unit CAPTURE order.
type CreateOrderRequest struct {
	ReferenceID string
	InvoiceID   string
	CustomID    string
	Description string
	AmountCents int64
	Currency    string
	RequestID   string
}

// Order is the subset of the Orders v2 resource the platform reads.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  *struct {
		PayerID string `json:"payer_id"`
	} `json:"payer,omitempty"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    *struct {
			Captures []Capture `json:"captures"`
		} `json:"payments,omitempty"`
	} `json:"purchase_units"`
	Links []Link `json:"links"`
}

// Capture is a settled payment inside an order.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
}

// Link is a HATEOAS link.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// ApproveURL returns the buyer approval link.
func (o *Order) ApproveURL() string {
	if o == nil {
		return ""
	}
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// FirstCapture returns the first capture of the first purchase unit.
func (o *Order) FirstCapture() *Capture {
	if o == nil {
		return nil
	}
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

// PayerID returns the payer id when PayPal included it.
func (o *Order) PayerID() string {
	if o == nil || o.Payer == nil {
		return ""
	}
	return o.Payer.PayerID
}

// CreateOrder opens a CAPTURE order and returns it with its approval link.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal amount must be positive")
	}
	unit := map[string]any{
		"reference_id": req.ReferenceID,
		"amount": map[string]string{
			"currency_code": strings.ToUpper(req.Currency),
			"value":         FormatAmount(req.AmountCents),
		},
	}
	if req.InvoiceID != "" {
		unit["invoice_id"] = req.InvoiceID
	}
	if req.CustomID != "" {
		unit["custom_id"] = req.CustomID
	}
	if req.Description != "" {
		unit["description"] = req.Description
	}
	body := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []any{unit},
		"application_context": map[string]string{
			"brand_name":          c.brandName,
			"return_url":          c.returnURL,
			"cancel_url":          c.cancelURL,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}
	var order Order
	if err := c.do(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", req.RequestID, body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CaptureOrder captures an approved order.
func (c *Client) CaptureOrder(ctx context.Context, orderID, requestID string) (*Order, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(strings.TrimSpace(orderID)))
	var order Order
	if err := c.do(ctx, "capture_order", http.MethodPost, path, requestID, map[string]any{}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s", url.PathEscape(strings.TrimSpace(orderID)))
	var order Order
	if err := c.do(ctx, "get_order", http.MethodGet, path, "", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// AccessToken returns a bearer token, from cache when still valid.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.tokens != nil {
		if cached, err := c.tokens.Get(ctx, c.tokens.TokenKey(providerLabel)); err == nil && cached != "" {
			c.token = cached
			c.tokenExpiry = c.now().Add(tokenRefreshMargin)
			return cached, nil
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paypal token request")
	}
	httpReq.SetBasicAuth(c.clientID, c.secret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.send(ctx, "oauth_token", httpReq, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "paypal returned an empty access token")
	}

	ttl := time.Duration(payload.ExpiresIn)*time.Second - tokenRefreshMargin
	if ttl <= 0 {
		ttl = time.Second
	}
	c.token = payload.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	if c.tokens != nil {
		if err := c.tokens.Set(ctx, c.tokens.TokenKey(providerLabel), payload.AccessToken, ttl); err != nil {
			c.logger.Warn(c.logger.WithField(ctx, "error", err.Error()), "paypal token cache write failed")
		}
	}
	return c.token, nil
}

func (c *Client) do(ctx context.Context, op, method, path, requestID string, body any, dst any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal paypal request")
		}
		reader = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paypal request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		httpReq.Header.Set("PayPal-Request-Id", requestID)
	}
	return c.send(ctx, op, httpReq, dst)
}

func (c *Client) send(ctx context.Context, op string, httpReq *http.Request, dst any) error {
	c.log(ctx, "request", op, map[string]any{"method": httpReq.Method, "path": httpReq.URL.Path})
	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), err)
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal "+op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), apiErr)
		c.log(ctx, "error", op, map[string]any{"status": resp.StatusCode, "error": apiErr.Error(), "debug_id": apiErr.DebugID})
		return classify(apiErr, op)
	}
	c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), nil)
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paypal "+op+" response")
	}
	c.log(ctx, "response", op, map[string]any{"status": resp.StatusCode})
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	logFields := map[string]any{"provider": providerLabel, "operation": op, "phase": phase}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	if phase == "error" {
		c.logger.Warn(ctx, "paypal "+op+" failed")
		return
	}
	c.logger.Debug(ctx, "paypal "+phase)
}
