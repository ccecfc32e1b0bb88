package payment

import (
	"context"
	"fmt"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
)

// Charger performs the provider charge for one payment method.
type Charger interface {
	Charge(ctx context.Context, p *Payment, reference string, d Details) (*gateway.Result, error)
}

// Chargers maps each method to the charger able to process it. A method
// without an entry cannot be processed.
type Chargers map[Method]Charger

func (c Chargers) For(m Method) (Charger, error) {
	charger, ok := c[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	return charger, nil
}

func DefaultChargers(provider gateway.Provider) Chargers {
	return Chargers{
		MethodCard:         cardCharger{provider: provider},
		MethodBankTransfer: bankCharger{provider: provider},
	}
}

type cardCharger struct {
	provider gateway.Provider
}

func (c cardCharger) Charge(ctx context.Context, p *Payment, reference string, d Details) (*gateway.Result, error) {
	if d.AuthorizationCode == "" {
		return nil, fmt.Errorf("%w: authorization_code is required for card payments", ErrMissingDetails)
	}
	return c.provider.ChargeAuthorization(ctx, gateway.AuthorizationChargeRequest{
		Reference:         reference,
		AuthorizationCode: d.AuthorizationCode,
		Email:             d.Email,
		Amount:            p.Amount,
		Currency:          p.Currency,
	})
}

type bankCharger struct {
	provider gateway.Provider
}

func (c bankCharger) Charge(ctx context.Context, p *Payment, reference string, d Details) (*gateway.Result, error) {
	if d.BankCode == "" || d.AccountNumber == "" {
		return nil, fmt.Errorf("%w: bank_code and account_number are required for bank transfers", ErrMissingDetails)
	}
	return c.provider.ChargeBank(ctx, gateway.BankChargeRequest{
		Reference:     reference,
		Email:         d.Email,
		Amount:        p.Amount,
		Currency:      p.Currency,
		BankCode:      d.BankCode,
		AccountNumber: d.AccountNumber,
	})
}
