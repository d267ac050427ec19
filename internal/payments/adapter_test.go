package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

type stubAdapter struct {
	provider enums.PaymentProvider
}

func (s stubAdapter) Provider() enums.PaymentProvider { return s.provider }

func (stubAdapter) Initiate(context.Context, InitiateInput) (*InitiateResult, error) {
	return &InitiateResult{}, nil
}

func (stubAdapter) Confirm(context.Context, ConfirmInput) (*models.Transaction, error) {
	return &models.Transaction{}, nil
}

func (stubAdapter) Verify(context.Context, VerifyInput) (*VerifyResult, error) {
	return &VerifyResult{}, nil
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(
		stubAdapter{provider: enums.PaymentProviderLocal},
		stubAdapter{provider: enums.PaymentProviderPayPal},
		nil,
	)
	require.NoError(t, err)

	a, err := reg.ForMethod(enums.PaymentMethodCash)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentProviderLocal, a.Provider())

	a, err = reg.ForMethod(enums.PaymentMethodPayPal)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentProviderPayPal, a.Provider())

	_, err = reg.ForMethod(enums.PaymentMethodPhonePe)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = reg.ForMethod("cheque")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(stubAdapter{provider: enums.PaymentProviderLocal}, stubAdapter{provider: enums.PaymentProviderLocal})
	require.Error(t, err)
}
