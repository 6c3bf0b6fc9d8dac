package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/internal/pricing"
	"github.com/lumenandco/atelier-backend/internal/providers"
	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
	"github.com/lumenandco/atelier-backend/pkg/metrics"
	"github.com/lumenandco/atelier-backend/pkg/types"
)

// sessionCreator opens a hosted card session (redirect flow).
type sessionCreator interface {
	CreateSession(ctx context.Context, in providers.SessionInput) (*providers.Session, error)
}

// walletOrderCreator opens a wallet order awaiting buyer approval.
type walletOrderCreator interface {
	CreateOrder(ctx context.Context, in providers.SessionInput) (*providers.Session, error)
}

// providerRegistry resolves the verifying adapter for a payment method.
type providerRegistry interface {
	Lookup(method enums.PaymentMethod) (providers.Provider, error)
}

// ItemInput is one cart line as submitted by the storefront. Prices are
// looked up against it server side; the client never supplies totals.
type ItemInput struct {
	ProductID *uuid.UUID
	Name      string
	UnitPrice decimal.Decimal
	Qty       int
}

// CustomerInput is the buyer snapshot submitted with a checkout call.
type CustomerInput struct {
	Email    string
	FullName string
	Billing  AddressInput
	Shipping AddressInput
}

// AddressInput mirrors the wire address fields.
type AddressInput struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// StartInput opens a provider-side payment for a cart.
type StartInput struct {
	Method   enums.PaymentMethod
	Items    []ItemInput
	Customer CustomerInput
}

// StartResult points the buyer at the provider's approval surface.
type StartResult struct {
	Reference   string
	RedirectURL string
	Quote       pricing.Quote
}

// ConfirmInput reconciles a provider payment into the ledger.
type ConfirmInput struct {
	Method    enums.PaymentMethod
	Reference string
	Items     []ItemInput
	Customer  CustomerInput
	CallerIP  string
	UserAgent string
}

// ConfirmResult carries the recorded order plus whether this call created it.
type ConfirmResult struct {
	Order   *models.Order
	Created bool
}

// ServiceParams collects the checkout service dependencies.
type ServiceParams struct {
	Calculator *pricing.Calculator
	Registry   providerRegistry
	Card       sessionCreator
	Wallet     walletOrderCreator
	Orders     orders.Service
	Logger     *logger.Logger
	Metrics    *metrics.CheckoutMetrics
	Currency   enums.Currency
	Country    string
}

// Service drives the two-phase checkout: start a provider payment, then
// confirm it against the provider and write the ledger exactly once.
type Service struct {
	calc     *pricing.Calculator
	registry providerRegistry
	card     sessionCreator
	wallet   walletOrderCreator
	orders   orders.Service
	log      *logger.Logger
	metrics  *metrics.CheckoutMetrics
	currency enums.Currency
	country  string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Calculator == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if params.Card == nil {
		return nil, fmt.Errorf("card session creator required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet order creator required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !params.Currency.IsValid() {
		params.Currency = enums.CurrencyUSD
	}
	return &Service{
		calc:     params.Calculator,
		registry: params.Registry,
		card:     params.Card,
		wallet:   params.Wallet,
		orders:   params.Orders,
		log:      params.Logger,
		metrics:  params.Metrics,
		currency: params.Currency,
		country:  params.Country,
	}, nil
}

// correlate keeps the caller's correlation id when the request middleware
// already attached one; only an unattributed attempt gets a fresh id here.
func (s *Service) correlate(ctx context.Context) context.Context {
	if s.log.CorrelationID(ctx) != "" {
		return ctx
	}
	return s.log.WithCorrelationID(ctx, uuid.NewString())
}

// Start prices the cart and opens the provider-side payment for it.
func (s *Service) Start(ctx context.Context, input StartInput) (*StartResult, error) {
	ctx = s.correlate(ctx)

	if err := validateCustomer(input.Customer); err != nil {
		return nil, err
	}
	quote, cartItems, err := s.price(input.Items)
	if err != nil {
		return nil, err
	}

	sessionInput := providers.SessionInput{
		Amount:   quote.Total,
		Currency: s.currency,
		Items:    s.providerItems(cartItems, quote),
		Customer: providerCustomer(input.Customer),
	}

	var session *providers.Session
	switch input.Method {
	case enums.PaymentMethodStripe:
		session, err = s.card.CreateSession(ctx, sessionInput)
	case enums.PaymentMethodPayPal:
		session, err = s.wallet.CreateOrder(ctx, sessionInput)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method "+input.Method.String())
	}
	if err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithTransactionID(ctx, session.ID),
		fmt.Sprintf("checkout started via %s for %s", input.Method, quote.Total.StringFixed(2)))
	return &StartResult{
		Reference:   session.ID,
		RedirectURL: session.URL,
		Quote:       quote,
	}, nil
}

// Confirm verifies the provider outcome and records the order. Safe to call
// repeatedly for the same reference: every caller converges on the single
// ledger row for the provider transaction.
func (s *Service) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	ctx = s.correlate(ctx)
	providerName := input.Method.String()

	result, err := s.confirm(ctx, input)
	if err != nil {
		s.metrics.ObserveAttempt(providerName, outcomeLabel(err))
		return nil, err
	}
	s.metrics.ObserveAttempt(providerName, "persisted")
	return result, nil
}

func (s *Service) confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if strings.TrimSpace(input.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	if err := validateCustomer(input.Customer); err != nil {
		return nil, err
	}
	// Fast path: a reference already in the ledger needs no provider round
	// trip, the recorded order is the answer.
	if existing, err := s.orders.GetByTransactionID(ctx, input.Reference); err == nil {
		s.log.Info(s.log.WithTransactionID(ctx, input.Reference), "transaction already recorded")
		return &ConfirmResult{Order: existing, Created: false}, nil
	} else if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	quote, cartItems, err := s.price(input.Items)
	if err != nil {
		return nil, err
	}

	provider, err := s.registry.Lookup(input.Method)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	outcome, err := provider.Verify(ctx, input.Reference)
	s.metrics.ObserveVerifyDuration(input.Method.String(), time.Since(started))
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithTransactionID(ctx, outcome.TransactionID)

	// The provider is the authority on what was paid; the calculator is the
	// authority on what is owed. They must agree to the cent.
	if !outcome.Amount.Equal(quote.Total) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("paid amount %s does not match order total %s",
				outcome.Amount.StringFixed(2), quote.Total.StringFixed(2)))
	}
	if outcome.Currency != s.currency {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("paid currency %s does not match order currency %s", outcome.Currency, s.currency))
	}

	recordItems := make([]orders.RecordItem, 0, len(cartItems))
	for _, item := range cartItems {
		lineSubtotal := s.calc.LineSubtotal(item)
		lineTax := s.calc.LineTax(item)
		recordItems = append(recordItems, orders.RecordItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			TaxAmount: lineTax,
			LineTotal: lineSubtotal.Add(lineTax),
		})
	}

	order, created, err := s.orders.Record(ctx, orders.RecordInput{
		GuestEmail:      input.Customer.Email,
		CustomerName:    input.Customer.FullName,
		BillingAddress:  s.address(input.Customer.Billing),
		ShippingAddress: s.address(input.Customer.Shipping),
		Items:           recordItems,
		Subtotal:        quote.Subtotal,
		TaxAmount:       quote.TaxAmount,
		TotalAmount:     quote.Total,
		Currency:        s.currency,
		Method:          input.Method,
		TransactionID:   outcome.TransactionID,
		GatewayResponse: outcome.Raw,
		CallerIP:        input.CallerIP,
		UserAgent:       input.UserAgent,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeLedgerWrite) {
			s.metrics.IncLedgerWriteFailure()
			s.log.Error(ctx, "payment verified but ledger write failed", err)
		}
		return nil, err
	}

	return &ConfirmResult{Order: order, Created: created}, nil
}

func (s *Service) price(items []ItemInput) (pricing.Quote, []pricing.CartItem, error) {
	cartItems := make([]pricing.CartItem, 0, len(items))
	for _, item := range items {
		cartItems = append(cartItems, pricing.CartItem{
			ProductID: item.ProductID,
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Qty:       item.Qty,
		})
	}
	quote, err := s.calc.QuoteItems(cartItems)
	if err != nil {
		return pricing.Quote{}, nil, err
	}
	return quote, cartItems, nil
}

// providerItems renders the cart for the payment network, with the computed
// tax as its own line so the provider total matches the quote total.
func (s *Service) providerItems(items []pricing.CartItem, quote pricing.Quote) []providers.LineItem {
	out := make([]providers.LineItem, 0, len(items)+1)
	for _, item := range items {
		out = append(out, providers.LineItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Qty:       item.Qty,
		})
	}
	if quote.TaxAmount.IsPositive() {
		out = append(out, providers.LineItem{
			Name:      "Sales Tax",
			UnitPrice: quote.TaxAmount,
			Qty:       1,
		})
	}
	return out
}

func (s *Service) address(in AddressInput) types.Address {
	return types.Address{
		Line1:      in.Line1,
		Line2:      in.Line2,
		City:       in.City,
		State:      in.State,
		PostalCode: in.PostalCode,
		Country:    in.Country,
	}.Normalize(s.country)
}

func providerCustomer(in CustomerInput) providers.CustomerInfo {
	return providers.CustomerInfo{
		Email:      strings.TrimSpace(in.Email),
		FullName:   strings.TrimSpace(in.FullName),
		Line1:      in.Billing.Line1,
		Line2:      in.Billing.Line2,
		City:       in.Billing.City,
		State:      in.Billing.State,
		PostalCode: in.Billing.PostalCode,
		Country:    in.Billing.Country,
	}
}

func validateCustomer(customer CustomerInput) error {
	if strings.TrimSpace(customer.Email) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer email required")
	}
	if strings.TrimSpace(customer.FullName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer name required")
	}
	return nil
}

func outcomeLabel(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return "error"
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation:
		return "rejected_validation"
	case pkgerrors.CodeProviderDeclined:
		return "rejected_declined"
	case pkgerrors.CodeProviderUnavailable:
		return "provider_unavailable"
	case pkgerrors.CodeStateConflict:
		return "rejected_mismatch"
	case pkgerrors.CodeLedgerWrite:
		return "ledger_write_failed"
	default:
		return "error"
	}
}
