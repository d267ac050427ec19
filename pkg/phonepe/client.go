package phonepe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/metrics"
)

// Endpoint paths. Each is also part of its request checksum.
const (
	PayPath    = "/pg/v1/pay"
	RefundPath = "/pg/v1/refund"
	statusFmt  = "/pg/v1/status/%s/%s"

	providerLabel        = "phonepe"
	responseReadLimit    = 64 << 10
	defaultClientTimeout = 15 * time.Second
)

var (
	errMerchantRequired = errors.New("phonepe merchant id is required")
	errSignerRequired   = errors.New("phonepe signer is required")
	errLoggerRequired   = errors.New("phonepe logger is required")
)

// Signer computes and checks X-VERIFY values for a base64 payload and path.
type Signer interface {
	Sign(encoded, path string) string
	Verify(encoded, path, supplied string) bool
}

// Encoder turns a payload into the base64 body the gateway signs.
type Encoder func(v any) (string, error)

// Client calls the PhonePe PG v1 API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	merchantID  string
	callbackURL string
	redirectURL string
	signer      Signer
	encode      Encoder
	metrics     *metrics.PaymentMetrics
	logger      *logger.Logger
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

// WithBaseURL overrides the configured gateway host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithMetrics records provider call outcomes.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(cfg config.PhonePeConfig, signer Signer, encode Encoder, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, errMerchantRequired
	}
	if signer == nil || encode == nil {
		return nil, errSignerRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		merchantID:  strings.TrimSpace(cfg.MerchantID),
		callbackURL: cfg.CallbackURL,
		redirectURL: cfg.RedirectURL,
		signer:      signer,
		encode:      encode,
		logger:      logg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// MerchantID returns the configured merchant.
func (c *Client) MerchantID() string {
	return c.merchantID
}

// PayRequest starts a UPI payment.
type PayRequest struct {
	MerchantTransactionID string
	MerchantUserID        string
	AmountPaise           int64
	MobileNumber          string
	UPIID                 string
	TargetApp             string
}

// RefundRequest refunds part or all of a settled payment.
type RefundRequest struct {
	MerchantTransactionID         string
	OriginalMerchantTransactionID string
	MerchantUserID                string
	AmountPaise                   int64
}

// Response is the common PhonePe envelope.
type Response struct {
	Success bool         `json:"success"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Data    ResponseData `json:"data"`

	Raw json.RawMessage `json:"-"`
}

// ResponseData carries transaction state and the instrument hand-off.
type ResponseData struct {
	MerchantID            string          `json:"merchantId"`
	MerchantTransactionID string          `json:"merchantTransactionId"`
	TransactionID         string          `json:"transactionId"`
	Amount                int64           `json:"amount"`
	State                 string          `json:"state"`
	ResponseCode          string          `json:"responseCode"`
	PaymentInstrument     json.RawMessage `json:"paymentInstrument,omitempty"`
	InstrumentResponse    *struct {
		Type         string `json:"type"`
		IntentURL    string `json:"intentUrl"`
		RedirectInfo *struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse,omitempty"`
}

// RedirectURL returns the page or deeplink the buyer completes payment on.
func (r *Response) RedirectURL() string {
	if r == nil || r.Data.InstrumentResponse == nil {
		return ""
	}
	if r.Data.InstrumentResponse.IntentURL != "" {
		return r.Data.InstrumentResponse.IntentURL
	}
	if r.Data.InstrumentResponse.RedirectInfo != nil {
		return r.Data.InstrumentResponse.RedirectInfo.URL
	}
	return ""
}

// Pay initiates a payment and returns the gateway's instrument response.
func (c *Client) Pay(ctx context.Context, req PayRequest) (*Response, error) {
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phonepe amount must be positive")
	}
	instrument := map[string]any{"type": "UPI_INTENT"}
	if vpa := strings.TrimSpace(req.UPIID); vpa != "" {
		instrument = map[string]any{"type": "UPI_COLLECT", "vpa": vpa}
	} else if app := strings.TrimSpace(req.TargetApp); app != "" {
		instrument["targetApp"] = app
	}
	payload := map[string]any{
		"merchantId":            c.merchantID,
		"merchantTransactionId": req.MerchantTransactionID,
		"merchantUserId":        req.MerchantUserID,
		"amount":                req.AmountPaise,
		"redirectUrl":           c.redirectURL,
		"redirectMode":          "POST",
		"callbackUrl":           c.callbackURL,
		"paymentInstrument":     instrument,
	}
	if phone := strings.TrimSpace(req.MobileNumber); phone != "" {
		payload["mobileNumber"] = phone
	}
	resp, err := c.post(ctx, "pay", PayPath, payload)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, rejected("pay", resp)
	}
	return resp, nil
}

// Refund requests a refund against a settled merchant transaction.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phonepe refund amount must be positive")
	}
	payload := map[string]any{
		"merchantId":            c.merchantID,
		"merchantUserId":        req.MerchantUserID,
		"originalTransactionId": req.OriginalMerchantTransactionID,
		"merchantTransactionId": req.MerchantTransactionID,
		"amount":                req.AmountPaise,
		"callbackUrl":           c.callbackURL,
	}
	return c.post(ctx, "refund", RefundPath, payload)
}

// Status polls the gateway for a merchant transaction. Declines come back as
// a response with Success=false, not as an error.
func (c *Client) Status(ctx context.Context, merchantTransactionID string) (*Response, error) {
	path := fmt.Sprintf(statusFmt, url.PathEscape(c.merchantID), url.PathEscape(strings.TrimSpace(merchantTransactionID)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build phonepe status request")
	}
	httpReq.Header.Set("X-VERIFY", c.signer.Sign("", path))
	httpReq.Header.Set("X-MERCHANT-ID", c.merchantID)
	httpReq.Header.Set("Accept", "application/json")

	resp, raw, header, err := c.send(ctx, "status", httpReq)
	if err != nil {
		return nil, err
	}
	if supplied := header.Get("X-VERIFY"); supplied != "" {
		encoded := base64.StdEncoding.EncodeToString(raw)
		if !c.signer.Verify(encoded, "", supplied) {
			return nil, pkgerrors.New(pkgerrors.CodeChecksum, "phonepe status checksum mismatch")
		}
	}
	return resp, nil
}

// DecodeCallback parses the base64 response field of a server-to-server callback.
func DecodeCallback(encoded string) (*Response, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode phonepe callback")
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse phonepe callback")
	}
	resp.Raw = raw
	return &resp, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload any) (*Response, error) {
	encoded, err := c.encode(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode phonepe "+op+" payload")
	}
	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal phonepe "+op+" body")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build phonepe "+op+" request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-VERIFY", c.signer.Sign(encoded, path))

	resp, _, _, err := c.send(ctx, op, httpReq)
	return resp, err
}

func (c *Client) send(ctx context.Context, op string, httpReq *http.Request) (*Response, []byte, http.Header, error) {
	c.log(ctx, "request", op, map[string]any{"method": httpReq.Method, "path": httpReq.URL.Path})
	started := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), err)
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "phonepe "+op+" request failed")
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, responseReadLimit))
	if err != nil {
		c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), err)
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read phonepe "+op+" response")
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		statusErr := fmt.Errorf("status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(raw)))
		c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), statusErr)
		c.log(ctx, "error", op, map[string]any{"status": httpResp.StatusCode})
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, statusErr, "phonepe "+op+" unavailable")
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), err)
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode phonepe "+op+" response")
	}
	resp.Raw = raw
	c.metrics.ObserveProviderCall(providerLabel, op, time.Since(started), nil)
	c.log(ctx, "response", op, map[string]any{
		"status":  httpResp.StatusCode,
		"success": resp.Success,
		"code":    resp.Code,
	})
	return &resp, raw, httpResp.Header, nil
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
		c.logger.Warn(ctx, "phonepe "+op+" failed")
		return
	}
	c.logger.Debug(ctx, "phonepe "+phase)
}

func rejected(op string, resp *Response) error {
	return pkgerrors.New(pkgerrors.CodeProvider, "phonepe "+op+" rejected").
		WithDetails(map[string]any{"reason": resp.Code, "message": resp.Message})
}
