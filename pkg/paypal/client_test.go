package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

type memoryTokens struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryTokens) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (m *memoryTokens) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryTokens) TokenKey(provider string) string { return "fc:token:" + provider }

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logg := logger.New(logger.Options{ServiceName: "paypal-test", Output: io.Discard})
	client, err := NewClient(config.PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      srv.URL,
		ReturnURL:    "https://farmcart.test/return",
		CancelURL:    "https://farmcart.test/cancel",
		BrandName:    "FarmCart",
	}, logg, opts...)
	require.NoError(t, err)
	return client
}

func tokenHandler(t *testing.T, calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":32400}`))
	}
}

func TestCreateOrderSendsCaptureIntent(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(t, &tokenCalls))
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		require.Equal(t, "req-1", r.Header.Get("PayPal-Request-Id"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "CAPTURE", body["intent"])
		unit := body["purchase_units"].([]any)[0].(map[string]any)
		amount := unit["amount"].(map[string]any)
		require.Equal(t, "174.68", amount["value"])
		require.Equal(t, "INR", amount["currency_code"])
		require.Equal(t, "TXN1", unit["reference_id"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED","links":[{"href":"https://paypal.test/checkoutnow?token=5O1","rel":"approve","method":"GET"}]}`))
	})

	tokens := newMemoryTokens()
	client := newTestClient(t, mux, WithTokenCache(tokens))
	order, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		ReferenceID: "TXN1",
		AmountCents: 17468,
		Currency:    "inr",
		RequestID:   "req-1",
	})
	require.NoError(t, err)
	require.Equal(t, "5O190127TN364715T", order.ID)
	require.Equal(t, "https://paypal.test/checkoutnow?token=5O1", order.ApproveURL())

	_, err = client.CreateOrder(context.Background(), CreateOrderRequest{ReferenceID: "TXN2", AmountCents: 100, Currency: "INR"})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	require.Equal(t, "A21", tokens.values["fc:token:paypal"])
	require.Equal(t, 32400*time.Second-tokenRefreshMargin, tokens.ttls["fc:token:paypal"])
}

func TestAccessTokenUsesSharedCache(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(t, &tokenCalls))
	tokens := newMemoryTokens()
	tokens.values["fc:token:paypal"] = "cached"

	client := newTestClient(t, mux, WithTokenCache(tokens))
	token, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cached", token)
	require.Zero(t, atomic.LoadInt32(&tokenCalls))
}

func TestCaptureOrderParsesCapture(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(t, &tokenCalls))
	mux.HandleFunc("/v2/checkout/orders/5O1/capture", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O1","status":"COMPLETED","payer":{"payer_id":"PAYER9"},"purchase_units":[{"reference_id":"TXN1","payments":{"captures":[{"id":"CAP1","status":"COMPLETED","amount":{"currency_code":"INR","value":"174.68"}}]}}]}`))
	})
	client := newTestClient(t, mux)

	order, err := client.CaptureOrder(context.Background(), "5O1", "")
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", order.Status)
	require.Equal(t, "PAYER9", order.PayerID())
	capture := order.FirstCapture()
	require.NotNil(t, capture)
	require.Equal(t, "CAP1", capture.ID)
	cents, err := ParseAmount(capture.Amount.Value)
	require.NoError(t, err)
	require.Equal(t, int64(17468), cents)
}

func TestErrorsAreClassifiedByStatus(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(t, &tokenCalls))
	mux.HandleFunc("/v2/checkout/orders/DECLINED/capture", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed.","debug_id":"dbg1","details":[{"issue":"INSTRUMENT_DECLINED"}]}`))
	})
	mux.HandleFunc("/v2/checkout/orders/BROKEN/capture", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`upstream unavailable`))
	})
	client := newTestClient(t, mux)

	_, err := client.CaptureOrder(context.Background(), "DECLINED", "")
	require.True(t, IsRejected(err))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider))
	require.Equal(t, "INSTRUMENT_DECLINED", FailureReason(err))

	_, err = client.CaptureOrder(context.Background(), "BROKEN", "")
	require.False(t, IsRejected(err))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestAmountFormatting(t *testing.T) {
	require.Equal(t, "0.05", FormatAmount(5))
	require.Equal(t, "1000.00", FormatAmount(100000))
	cents, err := ParseAmount("12.345")
	require.NoError(t, err)
	require.Equal(t, int64(1235), cents)
	_, err = ParseAmount("abc")
	require.Error(t, err)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "paypal-test", Output: io.Discard})
	_, err := NewClient(config.PayPalConfig{}, logg)
	require.ErrorIs(t, err, errCredentialsRequired)
	_, err = NewClient(config.PayPalConfig{ClientID: "a", ClientSecret: "b"}, nil)
	require.ErrorIs(t, err, errLoggerRequired)
}
