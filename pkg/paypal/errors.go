package paypal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

// APIError is a non-2xx PayPal response.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Issue      string
}

func (e *APIError) Error() string {
	msg := e.Name
	if e.Issue != "" {
		msg += ": " + e.Issue
	} else if e.Message != "" {
		msg += ": " + e.Message
	}
	return fmt.Sprintf("paypal status %d %s", e.StatusCode, strings.TrimSpace(msg))
}

// Reason is the short failure text recorded on a transaction.
func (e *APIError) Reason() string {
	if e.Issue != "" {
		return e.Issue
	}
	if e.Name != "" {
		return e.Name
	}
	return http.StatusText(e.StatusCode)
}

// IsRejected reports whether PayPal refused the request (4xx), as opposed to
// a transient 5xx or transport failure worth retrying.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// FailureReason extracts a recordable reason from err.
func FailureReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var payload struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		DebugID string `json:"debug_id"`
		Error   string `json:"error"`
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Name = payload.Name
		if apiErr.Name == "" {
			apiErr.Name = payload.Error
		}
		apiErr.Message = payload.Message
		apiErr.DebugID = payload.DebugID
		if len(payload.Details) > 0 {
			apiErr.Issue = payload.Details[0].Issue
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func classify(apiErr *APIError, op string) error {
	code := pkgerrors.CodeDependency
	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		code = pkgerrors.CodeProvider
	}
	return pkgerrors.Wrap(code, apiErr, "paypal "+op+" failed").
		WithDetails(map[string]any{"status": apiErr.StatusCode, "reason": apiErr.Reason(), "debug_id": apiErr.DebugID})
}
