package payments

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/farmcart-backend/api/controllers/dto"
	"github.com/angelmondragon/farmcart-backend/api/middleware"
	"github.com/angelmondragon/farmcart-backend/api/validators"
	internalpayments "github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/internal/reconciliation"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

const maxTextLength = 500

// parseAmount converts a major-unit decimal string such as "174.68" into
// minor units. More than two decimal places is rejected.
func parseAmount(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a decimal number")
	}
	if !amount.IsPositive() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount has too many decimal places")
	}
	return amount.Shift(2).IntPart(), nil
}

func paymentStart(res *internalpayments.InitiateResult) dto.PaymentStart {
	return dto.PaymentStart{
		Transaction:       dto.NewTransaction(res.Transaction),
		RedirectURL:       res.RedirectURL,
		ProviderReference: res.ProviderReference,
	}
}

func paymentStatus(res *reconciliation.Result) dto.PaymentStatus {
	out := dto.PaymentStatus{Outcome: res.Outcome, Applied: res.Applied}
	if res.Transaction != nil {
		out.Transaction = dto.NewTransaction(res.Transaction)
	}
	return out
}

func requireActor(r *http.Request) (auth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return actor, nil
}

func sanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*value, maxTextLength)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
