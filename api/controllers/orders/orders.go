package orders

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumenandco/atelier-backend/api/responses"
	"github.com/lumenandco/atelier-backend/api/validators"
	internalorders "github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

// List returns recorded orders, newest first, with optional status and
// email filters for the back-office view.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		filters, err := buildListFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]orderResponse, 0, len(list))
		for i := range list {
			out = append(out, newOrderResponse(&list[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Detail returns one order by its public order number, items and payment
// attempts included.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		if orderNumber == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number is required"))
			return
		}

		order, err := svc.GetByNumber(r.Context(), orderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// UpdateStatus applies one fulfillment transition to an order.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		switch strings.ToLower(strings.TrimSpace(payload.Status)) {
		case "processing":
			err = svc.MarkProcessing(r.Context(), orderID)
		case "shipped":
			err = svc.MarkShipped(r.Context(), orderID)
		case "delivered":
			err = svc.MarkDelivered(r.Context(), orderID)
		case "cancelled":
			err = svc.Cancel(r.Context(), orderID)
		case "refunded":
			err = svc.MarkRefunded(r.Context(), orderID)
		default:
			err = pkgerrors.New(pkgerrors.CodeValidation,
				"status must be one of processing, shipped, delivered, cancelled, refunded")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

func buildListFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters

	limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		return filters, err
	}
	filters.Limit = limit

	offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		return filters, err
	}
	filters.Offset = offset

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid status %q", raw))
		}
		filters.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_status")); raw != "" {
		status, err := enums.ParseOrderPaymentStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid payment_status %q", raw))
		}
		filters.PaymentStatus = &status
	}
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		filters.GuestEmail = email
	}

	return filters, nil
}

type orderResponse struct {
	ID            uuid.UUID         `json:"id"`
	OrderNumber   string            `json:"order_number"`
	GuestEmail    string            `json:"guest_email"`
	CustomerName  string            `json:"customer_name"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Subtotal      string            `json:"subtotal"`
	TaxAmount     string            `json:"tax_amount"`
	Total         string            `json:"total"`
	Currency      string            `json:"currency"`
	ItemsCount    int               `json:"items_count"`
	Items         []itemResponse    `json:"items,omitempty"`
	Payments      []paymentResponse `json:"payments,omitempty"`
	ShippedAt     *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
	RefundedAt    *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type itemResponse struct {
	ID        uuid.UUID  `json:"id"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Name      string     `json:"name"`
	Qty       int        `json:"qty"`
	UnitPrice string     `json:"unit_price"`
	TaxAmount string     `json:"tax_amount"`
	LineTotal string     `json:"line_total"`
}

type paymentResponse struct {
	ID            uuid.UUID `json:"id"`
	Provider      string    `json:"provider"`
	Method        string    `json:"method"`
	TransactionID string    `json:"transaction_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	ReviewReason  *string   `json:"review_reason,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]itemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice.StringFixed(2),
			TaxAmount: item.TaxAmount.StringFixed(2),
			LineTotal: item.LineTotal.StringFixed(2),
		})
	}
	payments := make([]paymentResponse, 0, len(order.Payments))
	for _, payment := range order.Payments {
		payments = append(payments, paymentResponse{
			ID:            payment.ID,
			Provider:      payment.Provider.String(),
			Method:        payment.Method,
			TransactionID: payment.TransactionID,
			Amount:        payment.Amount.StringFixed(2),
			Currency:      payment.Currency.String(),
			Status:        payment.Status.String(),
			ReviewReason:  payment.ReviewReason,
		})
	}
	return orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		GuestEmail:    order.GuestEmail,
		CustomerName:  order.CustomerName,
		Status:        order.Status.String(),
		PaymentStatus: order.PaymentStatus.String(),
		Subtotal:      order.Subtotal.StringFixed(2),
		TaxAmount:     order.TaxAmount.StringFixed(2),
		Total:         order.TotalAmount.StringFixed(2),
		Currency:      order.Currency.String(),
		ItemsCount:    order.ItemsCount,
		Items:         items,
		Payments:      payments,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		RefundedAt:    order.RefundedAt,
		CreatedAt:     order.CreatedAt,
	}
}
