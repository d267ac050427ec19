package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/metrics"
)

const providerLabel = "square"

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errLoggerRequired      = errors.New("square logger is required")
)

var environments = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// Client charges cards through the Square Payments API.
type Client struct {
	payments   paymentsAPI
	locationID string
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
}

type paymentsAPI interface {
	Create(ctx context.Context, req *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

func NewClient(ctx context.Context, cfg config.SquareConfig, paymentMetrics *metrics.PaymentMetrics, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	if env == "" {
		env = "sandbox"
	}
	baseURL, ok := environments[env]
	if !ok {
		return nil, fmt.Errorf("unknown square environment %q", cfg.Env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return &Client{payments: sdk.Payments, locationID: locationID, logg: logg, metrics: paymentMetrics}, nil
}

// Charge creates an autocompleted payment. A missing IdempotencyKey gets a
// random one, so callers that may retry must supply their own.
func (c *Client) Charge(ctx context.Context, r ChargeRequest) (*Charge, error) {
	if r.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	key := strings.TrimSpace(r.IdempotencyKey)
	if key == "" {
		key = "fc-" + uuid.NewString()
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"provider":     providerLabel,
		"reference_id": r.ReferenceID,
		"amount_cents": r.AmountCents,
	})

	started := time.Now()
	resp, err := c.payments.Create(ctx, r.build(c.locationID, key))
	c.metrics.ObserveProviderCall(providerLabel, "create_payment", time.Since(started), err)
	if err != nil {
		mapped := classify(err)
		c.logg.Warn(c.logg.WithField(logCtx, "error", mapped.Error()), "square charge failed")
		return nil, mapped
	}

	payment := resp.GetPayment()
	charge := &Charge{PaymentID: deref(payment.GetID()), Status: deref(payment.GetStatus())}
	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"square_payment_id": charge.PaymentID,
		"square_status":     charge.Status,
	}), "square charge created")
	return charge, nil
}

// classify maps SDK failures onto domain codes. Request-level rejections
// such as card declines become CodeProvider with the Square error code as
// details.reason.
func classify(err error) *pkgerrors.Error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square unreachable")
	}

	code := codeForStatus(apiErr.StatusCode)
	details := map[string]any{"provider": providerLabel, "status": apiErr.StatusCode}
	for _, e := range squareErrors(apiErr) {
		switch {
		case e.Code == sq.ErrorCodeIdempotencyKeyReused:
			code = pkgerrors.CodeIdempotency
		case e.Category == sq.ErrorCategoryAuthenticationError:
			code = pkgerrors.CodeDependency
		}
		if _, seen := details["reason"]; !seen {
			details["reason"] = string(e.Code)
			if e.Detail != nil {
				details["detail"] = *e.Detail
			}
		}
	}
	return pkgerrors.Wrap(code, err, "square create payment failed").WithDetails(details)
}

func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(inner.Error()), &body) != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status >= 400 && status < 500:
		return pkgerrors.CodeProvider
	}
	return pkgerrors.CodeDependency
}
