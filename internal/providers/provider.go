package providers

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
)

// CustomerInfo is the buyer snapshot forwarded to payment networks. It exists
// only for the duration of a checkout attempt.
type CustomerInfo struct {
	Email      string
	FullName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// LineItem is the item view a payment network receives.
type LineItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Qty       int
}

// SessionInput carries everything needed to open a provider-side payment.
// Amount must be the server-computed total; adapters never accept a
// client-claimed figure.
type SessionInput struct {
	Amount   decimal.Decimal
	Currency enums.Currency
	Items    []LineItem
	Customer CustomerInfo
}

// Outcome is the provider's verified report for one transaction.
type Outcome struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      enums.Currency
	Raw           json.RawMessage
}

// Provider is the single capability surface the reconciliation endpoint
// depends on. Verify must distinguish "unknown outcome" (unavailable) from
// "outcome known, not succeeded" (declined) via error codes.
type Provider interface {
	Name() enums.PaymentMethod
	Verify(ctx context.Context, ref string) (*Outcome, error)
}

// Registry dispatches confirm requests to the matching adapter.
type Registry struct {
	byMethod map[enums.PaymentMethod]Provider
}

// NewRegistry indexes the given providers by payment method.
func NewRegistry(list ...Provider) *Registry {
	byMethod := make(map[enums.PaymentMethod]Provider, len(list))
	for _, p := range list {
		if p == nil {
			continue
		}
		byMethod[p.Name()] = p
	}
	return &Registry{byMethod: byMethod}
}

// Lookup returns the provider registered for the method.
func (r *Registry) Lookup(method enums.PaymentMethod) (Provider, error) {
	if r == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider registry not configured")
	}
	p, ok := r.byMethod[method]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method "+method.String())
	}
	return p, nil
}
