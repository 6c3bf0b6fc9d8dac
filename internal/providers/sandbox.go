package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/plutov/paypal/v4"

	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
)

// SandboxWalletClient is an in-memory WalletOrderClient for local development
// and tests. It is injected at construction instead of the provider sniffing
// reference prefixes at runtime, so production code paths never branch on
// environment.
type SandboxWalletClient struct {
	mu     sync.Mutex
	orders map[string]*sandboxOrder
}

type sandboxOrder struct {
	id        string
	amount    *paypal.PurchaseUnitAmount
	captured  bool
	captureID string
}

func NewSandboxWalletClient() *SandboxWalletClient {
	return &SandboxWalletClient{orders: make(map[string]*sandboxOrder)}
}

func (c *SandboxWalletClient) CreateOrder(_ context.Context, _ string, units []paypal.PurchaseUnitRequest, _ *paypal.PaymentSource, _ *paypal.ApplicationContext) (*paypal.Order, error) {
	if len(units) == 0 || units[0].Amount == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase unit amount is required")
	}
	// Orders v2 rejects itemized units without an item_total breakdown; the
	// double enforces the same rule so it cannot mask the live contract.
	if len(units[0].Items) > 0 && (units[0].Amount.Breakdown == nil || units[0].Amount.Breakdown.ItemTotal == nil) {
		return nil, &paypal.ErrorResponse{
			Name:    "UNPROCESSABLE_ENTITY",
			Message: "item_total is required when items are present",
			Details: []paypal.ErrorResponseDetail{{Issue: "ITEM_TOTAL_REQUIRED"}},
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := "SBX-" + uuid.NewString()
	c.orders[id] = &sandboxOrder{id: id, amount: units[0].Amount}

	return &paypal.Order{
		ID:     id,
		Status: "CREATED",
		Links: []paypal.Link{{
			Href: fmt.Sprintf("https://sandbox.local/approve/%s", id),
			Rel:  "approve",
		}},
	}, nil
}

func (c *SandboxWalletClient) CaptureOrder(_ context.Context, orderID string, _ paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[orderID]
	if !ok {
		return nil, &paypal.ErrorResponse{Name: "RESOURCE_NOT_FOUND", Message: "order not found"}
	}
	if order.captured {
		return nil, &paypal.ErrorResponse{
			Name:    "UNPROCESSABLE_ENTITY",
			Message: "order already captured",
			Details: []paypal.ErrorResponseDetail{{Issue: issueOrderAlreadyCaptured}},
		}
	}

	order.captured = true
	order.captureID = "CAP-" + uuid.NewString()
	return &paypal.CaptureOrderResponse{
		ID:            order.id,
		Status:        paypal.OrderStatusCompleted,
		PurchaseUnits: []paypal.CapturedPurchaseUnit{capturedUnit(order)},
	}, nil
}

func (c *SandboxWalletClient) GetOrder(_ context.Context, orderID string) (*paypal.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[orderID]
	if !ok {
		return nil, &paypal.ErrorResponse{Name: "RESOURCE_NOT_FOUND", Message: "order not found"}
	}

	status := "CREATED"
	var payments *paypal.CapturedPayments
	if order.captured {
		status = paypal.OrderStatusCompleted
		unit := capturedUnit(order)
		payments = unit.Payments
	}
	return &paypal.Order{
		ID:            order.id,
		Status:        status,
		PurchaseUnits: []paypal.PurchaseUnit{{Payments: payments}},
	}, nil
}

func capturedUnit(order *sandboxOrder) paypal.CapturedPurchaseUnit {
	return paypal.CapturedPurchaseUnit{
		Payments: &paypal.CapturedPayments{
			Captures: []paypal.CaptureAmount{{
				ID: order.captureID,
				Amount: &paypal.PurchaseUnitAmount{
					Currency: order.amount.Currency,
					Value:    order.amount.Value,
				},
			}},
		},
	}
}
