package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
)

const issueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

// WalletOrderClient is the subset of PayPal order operations the wallet
// provider needs. Tests and the sandbox environment swap in a double.
type WalletOrderClient interface {
	CreateOrder(ctx context.Context, intent string, units []paypal.PurchaseUnitRequest, source *paypal.PaymentSource, appCtx *paypal.ApplicationContext) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

type paypalOrderClient struct {
	api *paypal.Client
}

// NewWalletOrderClient builds a PayPal REST client against the live or
// sandbox API base.
func NewWalletOrderClient(clientID, secret string, live bool) (WalletOrderClient, error) {
	base := paypal.APIBaseSandBox
	if live {
		base = paypal.APIBaseLive
	}
	api, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initializing paypal client")
	}
	return &paypalOrderClient{api: api}, nil
}

func (c *paypalOrderClient) CreateOrder(ctx context.Context, intent string, units []paypal.PurchaseUnitRequest, source *paypal.PaymentSource, appCtx *paypal.ApplicationContext) (*paypal.Order, error) {
	return c.api.CreateOrder(ctx, intent, units, source, appCtx)
}

func (c *paypalOrderClient) CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error) {
	return c.api.CaptureOrder(ctx, orderID, req)
}

func (c *paypalOrderClient) GetOrder(ctx context.Context, orderID string) (*paypal.Order, error) {
	return c.api.GetOrder(ctx, orderID)
}

// PayPalProviderParams configures the wallet provider.
type PayPalProviderParams struct {
	Client  WalletOrderClient
	Logger  *logger.Logger
	Timeout time.Duration
}

// PayPalProvider implements the create-approve-capture protocol. CreateOrder
// opens a provider order the buyer approves in the wallet UI; Verify captures
// the approved order and is safe to repeat.
type PayPalProvider struct {
	client  WalletOrderClient
	log     *logger.Logger
	timeout time.Duration
}

func NewPayPalProvider(params PayPalProviderParams) (*PayPalProvider, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paypal order client is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	return &PayPalProvider{
		client:  params.Client,
		log:     params.Logger,
		timeout: params.Timeout,
	}, nil
}

func (p *PayPalProvider) Name() enums.PaymentMethod {
	return enums.PaymentMethodPayPal
}

// CreateOrder opens a wallet order for the server-computed total. Customer
// identity is validated before the network is contacted.
func (p *PayPalProvider) CreateOrder(ctx context.Context, in SessionInput) (*Session, error) {
	if strings.TrimSpace(in.Customer.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if strings.TrimSpace(in.Customer.FullName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	if !in.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	currency := in.Currency.String()
	items := make([]paypal.Item, 0, len(in.Items))
	itemTotal := decimal.Zero
	for _, item := range in.Items {
		if item.Qty < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item quantity must be at least 1")
		}
		itemTotal = itemTotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
		items = append(items, paypal.Item{
			Name:     item.Name,
			Quantity: strconv.Itoa(item.Qty),
			UnitAmount: &paypal.Money{
				Currency: currency,
				Value:    item.UnitPrice.StringFixed(2),
			},
		})
	}

	// Orders v2 rejects itemized units without an item_total breakdown.
	units := []paypal.PurchaseUnitRequest{{
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    in.Amount.StringFixed(2),
			Breakdown: &paypal.PurchaseUnitAmountBreakdown{
				ItemTotal: &paypal.Money{
					Currency: currency,
					Value:    itemTotal.StringFixed(2),
				},
			},
		},
		Items: items,
	}}

	// The create call carries no buyer identity; the wallet asserts it when
	// the buyer approves the order.
	source := &paypal.PaymentSource{
		Paypal: &paypal.PaymentSourcePaypal{
			ExperienceContext: paypal.PaymentSourcePaypalExperienceContext{
				ShippingPreference: "NO_SHIPPING",
				UserAction:         "PAY_NOW",
			},
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	order, err := p.client.CreateOrder(callCtx, paypal.OrderIntentCapture, units, source, nil)
	if err != nil {
		return nil, p.mapError(err, "creating wallet order")
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}

	p.log.Info(p.log.WithTransactionID(ctx, order.ID), "paypal order created")
	return &Session{ID: order.ID, URL: approveURL}, nil
}

// Verify captures the approved order. Capturing an order that was already
// captured is treated as success: the prior capture is fetched and reported,
// so retries converge on the same outcome.
func (p *PayPalProvider) Verify(ctx context.Context, ref string) (*Outcome, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CaptureOrder(callCtx, ref, paypal.CaptureOrderRequest{})
	if err != nil {
		if !hasIssue(err, issueOrderAlreadyCaptured) {
			return nil, p.mapError(err, "capturing wallet order")
		}
		return p.outcomeFromExisting(ctx, ref)
	}

	if resp.Status != paypal.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeProviderDeclined,
			"wallet capture not completed (status "+resp.Status+")")
	}

	captureID, amount, currency, err := firstCapture(resp.PurchaseUnits)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(map[string]any{
		"order_id":   resp.ID,
		"status":     resp.Status,
		"capture_id": captureID,
	})

	return &Outcome{
		TransactionID: captureID,
		Amount:        amount,
		Currency:      currency,
		Raw:           raw,
	}, nil
}

// outcomeFromExisting resolves a repeated capture by reading the order's
// recorded capture.
func (p *PayPalProvider) outcomeFromExisting(ctx context.Context, ref string) (*Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	order, err := p.client.GetOrder(callCtx, ref)
	if err != nil {
		return nil, p.mapError(err, "fetching wallet order")
	}
	if order.Status != paypal.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeProviderDeclined,
			"wallet order not completed (status "+order.Status+")")
	}

	captured := make([]paypal.CapturedPurchaseUnit, 0, len(order.PurchaseUnits))
	for _, unit := range order.PurchaseUnits {
		captured = append(captured, paypal.CapturedPurchaseUnit{Payments: unit.Payments})
	}
	captureID, amount, currency, err := firstCapture(captured)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(map[string]any{
		"order_id":   order.ID,
		"status":     order.Status,
		"capture_id": captureID,
		"replayed":   true,
	})

	return &Outcome{
		TransactionID: captureID,
		Amount:        amount,
		Currency:      currency,
		Raw:           raw,
	}, nil
}

func firstCapture(units []paypal.CapturedPurchaseUnit) (string, decimal.Decimal, enums.Currency, error) {
	for _, unit := range units {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.Amount == nil {
				continue
			}
			amount, err := decimal.NewFromString(capture.Amount.Value)
			if err != nil {
				return "", decimal.Zero, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parsing capture amount")
			}
			return capture.ID, amount, enums.Currency(strings.ToUpper(capture.Amount.Currency)), nil
		}
	}
	return "", decimal.Zero, "", pkgerrors.New(pkgerrors.CodeProviderDeclined, "wallet order has no capture")
}

func (p *PayPalProvider) mapError(err error, action string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, action+" timed out")
	}
	var respErr *paypal.ErrorResponse
	if errors.As(err, &respErr) {
		status := 0
		if respErr.Response != nil {
			status = respErr.Response.StatusCode
		}
		switch {
		case status == 404 || respErr.Name == "RESOURCE_NOT_FOUND":
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "wallet order not found")
		case status == 422:
			return pkgerrors.Wrap(pkgerrors.CodeProviderDeclined, err, action+" rejected")
		case status >= 400 && status < 500:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, action+" rejected by paypal")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, action+" failed")
}

func hasIssue(err error, issue string) bool {
	var respErr *paypal.ErrorResponse
	if !errors.As(err, &respErr) {
		return false
	}
	for _, detail := range respErr.Details {
		if detail.Issue == issue {
			return true
		}
	}
	return false
}
