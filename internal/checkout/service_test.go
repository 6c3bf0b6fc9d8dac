package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/internal/pricing"
	"github.com/lumenandco/atelier-backend/internal/providers"
	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
	"github.com/lumenandco/atelier-backend/pkg/types"
)

type stubProvider struct {
	name    enums.PaymentMethod
	outcome *providers.Outcome
	err     error
	calls   int
}

func (p *stubProvider) Name() enums.PaymentMethod { return p.name }

func (p *stubProvider) Verify(_ context.Context, _ string) (*providers.Outcome, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.outcome, nil
}

type stubRegistry struct {
	provider providers.Provider
}

func (r *stubRegistry) Lookup(method enums.PaymentMethod) (providers.Provider, error) {
	if r.provider == nil || r.provider.Name() != method {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method "+method.String())
	}
	return r.provider, nil
}

type stubStarter struct {
	session *providers.Session
	err     error
	last    providers.SessionInput
}

func (s *stubStarter) CreateSession(_ context.Context, in providers.SessionInput) (*providers.Session, error) {
	s.last = in
	return s.session, s.err
}

func (s *stubStarter) CreateOrder(_ context.Context, in providers.SessionInput) (*providers.Session, error) {
	s.last = in
	return s.session, s.err
}

// stubOrders keeps an in-memory ledger keyed by transaction id so duplicate
// writes behave like the unique index would.
type stubOrders struct {
	orders.Service
	mu        sync.Mutex
	byTxn     map[string]*models.Order
	recordErr error
	records   int
}

func newStubOrders() *stubOrders {
	return &stubOrders{byTxn: make(map[string]*models.Order)}
}

func (s *stubOrders) Record(_ context.Context, input orders.RecordInput) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	if s.recordErr != nil {
		return nil, false, s.recordErr
	}
	if existing, ok := s.byTxn[input.TransactionID]; ok {
		return existing, false, nil
	}
	order := &models.Order{
		OrderNumber:          "AT-TEST" + input.TransactionID,
		GuestEmail:           input.GuestEmail,
		CustomerName:         input.CustomerName,
		BillingAddress:       input.BillingAddress,
		Subtotal:             input.Subtotal,
		TaxAmount:            input.TaxAmount,
		TotalAmount:          input.TotalAmount,
		Currency:             input.Currency,
		Status:               enums.OrderStatusConfirmed,
		PaymentStatus:        enums.OrderPaymentStatusPaid,
		PaymentMethod:        input.Method,
		PaymentTransactionID: input.TransactionID,
	}
	s.byTxn[input.TransactionID] = order
	return order, true, nil
}

func (s *stubOrders) GetByTransactionID(_ context.Context, txnID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.byTxn[txnID]; ok {
		return order, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order recorded for transaction")
}

func paidOutcome(txnID, amount string) *providers.Outcome {
	raw, _ := json.Marshal(map[string]string{"id": txnID})
	return &providers.Outcome{
		TransactionID: txnID,
		Amount:        decimal.RequireFromString(amount),
		Currency:      enums.CurrencyUSD,
		Raw:           raw,
	}
}

func newTestCheckout(t *testing.T, provider providers.Provider, ledger orders.Service, starter *stubStarter) *Service {
	t.Helper()
	calc, err := pricing.NewCalculator(decimal.RequireFromString("0.10"))
	require.NoError(t, err)
	if starter == nil {
		starter = &stubStarter{session: &providers.Session{ID: "ref", URL: "https://pay.example.com/ref"}}
	}
	svc, err := NewService(ServiceParams{
		Calculator: calc,
		Registry:   &stubRegistry{provider: provider},
		Card:       starter,
		Wallet:     starter,
		Orders:     ledger,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Currency:   enums.CurrencyUSD,
		Country:    "US",
	})
	require.NoError(t, err)
	return svc
}

func confirmInput(method enums.PaymentMethod, ref string) ConfirmInput {
	return ConfirmInput{
		Method:    method,
		Reference: ref,
		Items: []ItemInput{
			{Name: "Linen Throw", UnitPrice: decimal.RequireFromString("100.00"), Qty: 2},
		},
		Customer: CustomerInput{
			Email:    "ada@example.com",
			FullName: "Ada Lovelace",
			Billing:  AddressInput{Line1: "12 Analytical Way", City: "London", PostalCode: "N1 9GU"},
		},
	}
}

func TestConfirmPersistsVerifiedPayment(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_ok", "220.00")}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	result, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_ok"))

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "pi_ok", result.Order.PaymentTransactionID)
	assert.Equal(t, "220.00", result.Order.TotalAmount.StringFixed(2))
	assert.Equal(t, "200.00", result.Order.Subtotal.StringFixed(2))
	assert.Equal(t, "20.00", result.Order.TaxAmount.StringFixed(2))
	// Billing country falls back to the configured default.
	assert.Equal(t, "US", result.Order.BillingAddress.Country)
}

func TestConfirmRepeatedReferenceConvergesOnSameOrder(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_dup", "220.00")}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	first, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_dup"))
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_dup"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Same(t, first.Order, second.Order)
}

func TestConfirmRecordedReferenceSkipsProvider(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_fast", "220.00")}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	first, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "pi_fast"))
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, 1, provider.calls)

	// The reference now matches the recorded transaction, so the second
	// confirm answers from the ledger without a provider round trip.
	second, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "pi_fast"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Same(t, first.Order, second.Order)
	assert.Equal(t, 1, provider.calls)
}

func TestConfirmProviderUnavailableDoesNotWriteLedger(t *testing.T) {
	provider := &stubProvider{
		name: enums.PaymentMethodStripe,
		err:  pkgerrors.New(pkgerrors.CodeProviderUnavailable, "gateway timeout"),
	}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	_, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_down"))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProviderUnavailable))
	assert.Equal(t, 0, ledger.records, "no ledger write on unknown outcome")
}

func TestConfirmDeclinedDoesNotWriteLedger(t *testing.T) {
	provider := &stubProvider{
		name: enums.PaymentMethodPayPal,
		err:  pkgerrors.New(pkgerrors.CodeProviderDeclined, "wallet capture not completed"),
	}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	_, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodPayPal, "SBX-declined"))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProviderDeclined))
	assert.Equal(t, 0, ledger.records)
}

func TestConfirmAmountMismatchRejected(t *testing.T) {
	// Provider says 100.00 was paid; the cart prices to 220.00.
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_short", "100.00")}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	_, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_short"))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 0, ledger.records)
}

func TestConfirmCurrencyMismatchRejected(t *testing.T) {
	outcome := paidOutcome("pi_eur", "220.00")
	outcome.Currency = enums.CurrencyEUR
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: outcome}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	_, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_eur"))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestConfirmValidationSkipsProvider(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_v", "220.00")}
	svc := newTestCheckout(t, provider, newStubOrders(), nil)

	input := confirmInput(enums.PaymentMethodStripe, "cs_v")
	input.Customer.Email = ""
	_, err := svc.Confirm(context.Background(), input)

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 0, provider.calls, "provider must not be called on invalid input")

	input = confirmInput(enums.PaymentMethodStripe, "")
	_, err = svc.Confirm(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input = confirmInput(enums.PaymentMethodStripe, "cs_v")
	input.Items = nil
	_, err = svc.Confirm(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConfirmLedgerWriteFailureSurfaced(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_lw", "220.00")}
	ledger := newStubOrders()
	ledger.recordErr = pkgerrors.New(pkgerrors.CodeLedgerWrite, "recording order")
	svc := newTestCheckout(t, provider, ledger, nil)

	_, err := svc.Confirm(context.Background(), confirmInput(enums.PaymentMethodStripe, "cs_lw"))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLedgerWrite))
	meta := pkgerrors.MetadataFor(pkgerrors.As(err).Code())
	assert.Equal(t, 500, meta.HTTPStatus)
	assert.Contains(t, meta.PublicMessage, "payment received")
}

func TestStartComputesQuoteAndAddsTaxLine(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_s", "220.00")}
	starter := &stubStarter{session: &providers.Session{ID: "cs_new", URL: "https://checkout.example.com/cs_new"}}
	svc := newTestCheckout(t, provider, newStubOrders(), starter)

	result, err := svc.Start(context.Background(), StartInput{
		Method: enums.PaymentMethodStripe,
		Items: []ItemInput{
			{Name: "Linen Throw", UnitPrice: decimal.RequireFromString("100.00"), Qty: 2},
		},
		Customer: CustomerInput{Email: "ada@example.com", FullName: "Ada Lovelace"},
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_new", result.Reference)
	assert.Equal(t, "220.00", result.Quote.Total.StringFixed(2))
	assert.Equal(t, "220.00", starter.last.Amount.StringFixed(2))
	require.Len(t, starter.last.Items, 2)
	assert.Equal(t, "Sales Tax", starter.last.Items[1].Name)
	assert.Equal(t, "20.00", starter.last.Items[1].UnitPrice.StringFixed(2))
}

func TestStartUnsupportedMethod(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe}
	svc := newTestCheckout(t, provider, newStubOrders(), nil)

	_, err := svc.Start(context.Background(), StartInput{
		Method:   enums.PaymentMethod("crypto"),
		Items:    []ItemInput{{Name: "Vase", UnitPrice: decimal.RequireFromString("10.00"), Qty: 1}},
		Customer: CustomerInput{Email: "ada@example.com", FullName: "Ada Lovelace"},
	})

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConfirmKeepsSuppliedCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	calc, err := pricing.NewCalculator(decimal.RequireFromString("0.10"))
	require.NoError(t, err)
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_corr", "220.00")}
	starter := &stubStarter{session: &providers.Session{ID: "ref", URL: "https://pay.example.com/ref"}}
	svc, err := NewService(ServiceParams{
		Calculator: calc,
		Registry:   &stubRegistry{provider: provider},
		Card:       starter,
		Wallet:     starter,
		Orders:     newStubOrders(),
		Logger:     logg,
		Currency:   enums.CurrencyUSD,
		Country:    "US",
	})
	require.NoError(t, err)

	// The request middleware attaches the storefront's id before the
	// service runs; the start and confirm hops of one attempt must keep it.
	ctx := logg.WithCorrelationID(context.Background(), "attempt-123")
	_, err = svc.Start(ctx, StartInput{
		Method: enums.PaymentMethodStripe,
		Items:  []ItemInput{{Name: "Linen Throw", UnitPrice: decimal.RequireFromString("100.00"), Qty: 2}},
		Customer: CustomerInput{
			Email:    "ada@example.com",
			FullName: "Ada Lovelace",
		},
	})
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, confirmInput(enums.PaymentMethodStripe, "cs_corr"))
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, confirmInput(enums.PaymentMethodStripe, "cs_corr"))
	require.NoError(t, err)

	require.NotZero(t, buf.Len())
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "attempt-123", entry["correlation_id"], "log line lost the caller's correlation id: %s", line)
	}
}

func TestConfirmAssignsCorrelationIDWhenAbsent(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_nocorr", "220.00")}
	svc := newTestCheckout(t, provider, newStubOrders(), nil)

	ctx := svc.correlate(context.Background())
	assert.NotEmpty(t, svc.log.CorrelationID(ctx))

	// A context that already carries an id passes through unchanged.
	tagged := svc.log.WithCorrelationID(context.Background(), "attempt-9")
	assert.Equal(t, "attempt-9", svc.log.CorrelationID(svc.correlate(tagged)))
}

func TestAddressSnapshotKeepsSuppliedCountry(t *testing.T) {
	provider := &stubProvider{name: enums.PaymentMethodStripe, outcome: paidOutcome("pi_addr", "220.00")}
	ledger := newStubOrders()
	svc := newTestCheckout(t, provider, ledger, nil)

	input := confirmInput(enums.PaymentMethodStripe, "cs_addr")
	input.Customer.Billing.Country = "GB"
	result, err := svc.Confirm(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, types.Address{
		Line1:      "12 Analytical Way",
		City:       "London",
		PostalCode: "N1 9GU",
		Country:    "GB",
	}, result.Order.BillingAddress)
}
