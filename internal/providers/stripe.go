package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
)

// Session is the hosted-page handle returned to the storefront. The buyer is
// redirected to URL and comes back with ID as the verification reference.
type Session struct {
	ID  string
	URL string
}

// CardSessionClient is the subset of Stripe checkout operations the card
// provider needs. Tests swap in a stub.
type CardSessionClient interface {
	CreateSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	GetSession(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

type stripeSessionClient struct {
	settings *Settings
}

// NewCardSessionClient wraps the Stripe SDK. A fresh API client is built per
// call from the current credentials snapshot so key rotation applies without
// a restart.
func NewCardSessionClient(settings *Settings) CardSessionClient {
	if settings == nil {
		return nil
	}
	return &stripeSessionClient{settings: settings}
}

func (c *stripeSessionClient) api() *stripe.Client {
	return stripe.NewClient(c.settings.Current().StripeAPIKey)
}

func (c *stripeSessionClient) CreateSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return c.api().V1CheckoutSessions.Create(ctx, params)
}

func (c *stripeSessionClient) GetSession(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error) {
	return c.api().V1CheckoutSessions.Retrieve(ctx, id, params)
}

// StripeProviderParams configures the card provider.
type StripeProviderParams struct {
	Client     CardSessionClient
	Settings   *Settings
	Logger     *logger.Logger
	Timeout    time.Duration
	MaxRetries uint64
}

// StripeProvider implements the redirect protocol: open a hosted session, let
// the network collect the card, then verify the session outcome server side.
type StripeProvider struct {
	client     CardSessionClient
	settings   *Settings
	log        *logger.Logger
	timeout    time.Duration
	maxRetries uint64
}

func NewStripeProvider(params StripeProviderParams) (*StripeProvider, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe session client is required")
	}
	if params.Settings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider settings are required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	return &StripeProvider{
		client:     params.Client,
		settings:   params.Settings,
		log:        params.Logger,
		timeout:    params.Timeout,
		maxRetries: params.MaxRetries,
	}, nil
}

func (p *StripeProvider) Name() enums.PaymentMethod {
	return enums.PaymentMethodStripe
}

// CreateSession opens a hosted checkout session priced from the given items.
// The server-computed amounts are what Stripe charges; nothing from the
// client request reaches the network unchecked.
func (p *StripeProvider) CreateSession(ctx context.Context, in SessionInput) (*Session, error) {
	if len(in.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	if !in.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session amount must be positive")
	}
	creds := p.settings.Current()

	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Qty < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item quantity must be at least 1")
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			Quantity: stripe.Int64(int64(item.Qty)),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(in.Currency.String())),
				UnitAmount: stripe.Int64(toMinorUnits(item.UnitPrice)),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(creds.StripeSuccessURL),
		CancelURL:  stripe.String(creds.StripeCancelURL),
		LineItems:  lineItems,
	}
	if email := strings.TrimSpace(in.Customer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sess, err := p.client.CreateSession(callCtx, params)
	if err != nil {
		return nil, p.mapError(err, "creating checkout session")
	}

	p.log.Info(p.log.WithTransactionID(ctx, sess.ID), "stripe checkout session created")
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// Verify fetches the session outcome. Transient failures are retried; an
// exhausted retry budget surfaces as provider-unavailable so the caller knows
// the outcome is unknown rather than negative.
func (p *StripeProvider) Verify(ctx context.Context, ref string) (*Outcome, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session reference is required")
	}

	var sess *stripe.CheckoutSession
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		got, err := p.client.GetSession(callCtx, ref, &stripe.CheckoutSessionRetrieveParams{})
		if err != nil {
			if isTransientStripe(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		sess = got
		return nil
	})
	if err != nil {
		return nil, p.mapError(err, "retrieving checkout session")
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeProviderDeclined,
			"checkout session not paid (status "+string(sess.PaymentStatus)+")")
	}

	txnID := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		txnID = sess.PaymentIntent.ID
	}

	raw, _ := json.Marshal(map[string]any{
		"session_id":     sess.ID,
		"payment_status": sess.PaymentStatus,
		"status":         sess.Status,
		"amount_total":   sess.AmountTotal,
		"currency":       sess.Currency,
	})

	return &Outcome{
		TransactionID: txnID,
		Amount:        decimal.New(sess.AmountTotal, -2),
		Currency:      enums.Currency(strings.ToUpper(string(sess.Currency))),
		Raw:           raw,
	}, nil
}

func (p *StripeProvider) mapError(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "checkout session not found")
		case stripeErr.Type == stripe.ErrorTypeCard:
			return pkgerrors.Wrap(pkgerrors.CodeProviderDeclined, err, "card was declined")
		case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, action+" rejected by stripe")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, action+" failed")
}

func isTransientStripe(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
	}
	// Plain transport errors (connection reset, DNS) have no Stripe shape.
	return stripeErr == nil
}

// toMinorUnits converts a decimal major-unit amount into integer cents.
func toMinorUnits(v decimal.Decimal) int64 {
	return v.Shift(2).Round(0).IntPart()
}
