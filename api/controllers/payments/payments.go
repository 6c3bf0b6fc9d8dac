package payments

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/api/middleware"
	"github.com/lumenandco/atelier-backend/api/responses"
	"github.com/lumenandco/atelier-backend/api/validators"
	checkoutsvc "github.com/lumenandco/atelier-backend/internal/checkout"
	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
)

// CheckoutService is the surface the payment controllers drive.
type CheckoutService interface {
	Start(ctx context.Context, input checkoutsvc.StartInput) (*checkoutsvc.StartResult, error)
	Confirm(ctx context.Context, input checkoutsvc.ConfirmInput) (*checkoutsvc.ConfirmResult, error)
}

// CreateSession opens a hosted card session and returns the redirect URL.
func CreateSession(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return startHandler(svc, logg, enums.PaymentMethodStripe)
}

// CreateOrder opens a wallet order awaiting buyer approval.
func CreateOrder(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return startHandler(svc, logg, enums.PaymentMethodPayPal)
}

func startHandler(svc CheckoutService, logg *logger.Logger, method enums.PaymentMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload startRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := payload.items()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Start(r.Context(), checkoutsvc.StartInput{
			Method:   method,
			Items:    items,
			Customer: payload.Customer.toInput(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newStartResponse(result))
	}
}

// Confirm reconciles a provider payment into the order ledger. Repeating the
// call for the same reference returns the originally recorded order.
func Confirm(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := payload.items()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Confirm(r.Context(), checkoutsvc.ConfirmInput{
			Method:    enums.PaymentMethod(payload.PaymentMethod),
			Reference: payload.Reference,
			Items:     items,
			Customer:  payload.Customer.toInput(),
			CallerIP:  middleware.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if !result.Created {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, newConfirmResponse(result))
	}
}

type itemPayload struct {
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Name      string     `json:"name" validate:"required,max=255"`
	UnitPrice string     `json:"unit_price" validate:"required,money"`
	Qty       int        `json:"qty" validate:"required,gt=0"`
}

type addressPayload struct {
	Line1      string `json:"line1" validate:"omitempty,max=255"`
	Line2      string `json:"line2" validate:"omitempty,max=255"`
	City       string `json:"city" validate:"omitempty,max=120"`
	State      string `json:"state" validate:"omitempty,max=120"`
	PostalCode string `json:"postal_code" validate:"omitempty,max=20"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type customerPayload struct {
	Email    string         `json:"email" validate:"required,email"`
	FullName string         `json:"full_name" validate:"required,max=255"`
	Billing  addressPayload `json:"billing_address"`
	Shipping addressPayload `json:"shipping_address"`
}

type startRequest struct {
	Items    []itemPayload   `json:"items" validate:"required,min=1,dive"`
	Customer customerPayload `json:"customer" validate:"required"`
}

type confirmRequest struct {
	PaymentMethod string          `json:"payment_method" validate:"required,payment_method"`
	Reference     string          `json:"payment_reference" validate:"required,max=255"`
	Items         []itemPayload   `json:"items" validate:"required,min=1,dive"`
	Customer      customerPayload `json:"customer" validate:"required"`
}

func (p startRequest) items() ([]checkoutsvc.ItemInput, error) {
	return itemInputs(p.Items)
}

func (p confirmRequest) items() ([]checkoutsvc.ItemInput, error) {
	return itemInputs(p.Items)
}

func itemInputs(payloads []itemPayload) ([]checkoutsvc.ItemInput, error) {
	items := make([]checkoutsvc.ItemInput, 0, len(payloads))
	for _, item := range payloads {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unit price")
		}
		items = append(items, checkoutsvc.ItemInput{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: price,
			Qty:       item.Qty,
		})
	}
	return items, nil
}

func (p customerPayload) toInput() checkoutsvc.CustomerInput {
	return checkoutsvc.CustomerInput{
		Email:    p.Email,
		FullName: p.FullName,
		Billing:  p.Billing.toInput(),
		Shipping: p.Shipping.toInput(),
	}
}

func (p addressPayload) toInput() checkoutsvc.AddressInput {
	return checkoutsvc.AddressInput{
		Line1:      p.Line1,
		Line2:      p.Line2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
	}
}

type startResponse struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Subtotal    string `json:"subtotal"`
	TaxAmount   string `json:"tax_amount"`
	Total       string `json:"total"`
}

func newStartResponse(result *checkoutsvc.StartResult) startResponse {
	if result == nil {
		return startResponse{}
	}
	return startResponse{
		Reference:   result.Reference,
		RedirectURL: result.RedirectURL,
		Subtotal:    result.Quote.Subtotal.StringFixed(2),
		TaxAmount:   result.Quote.TaxAmount.StringFixed(2),
		Total:       result.Quote.Total.StringFixed(2),
	}
}

type confirmResponse struct {
	Order   orderSummary   `json:"order"`
	Payment paymentSummary `json:"payment"`
}

type orderSummary struct {
	ID            uuid.UUID `json:"id"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Subtotal      string    `json:"subtotal"`
	TaxAmount     string    `json:"tax_amount"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
}

type paymentSummary struct {
	TransactionID string `json:"transaction_id"`
	Method        string `json:"method"`
}

func newConfirmResponse(result *checkoutsvc.ConfirmResult) confirmResponse {
	if result == nil || result.Order == nil {
		return confirmResponse{}
	}
	return confirmResponse{
		Order:   newOrderSummary(result.Order),
		Payment: paymentSummary{TransactionID: result.Order.PaymentTransactionID, Method: result.Order.PaymentMethod.String()},
	}
}

func newOrderSummary(order *models.Order) orderSummary {
	return orderSummary{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status.String(),
		PaymentStatus: order.PaymentStatus.String(),
		Subtotal:      order.Subtotal.StringFixed(2),
		TaxAmount:     order.TaxAmount.StringFixed(2),
		Total:         order.TotalAmount.StringFixed(2),
		Currency:      order.Currency.String(),
	}
}
