package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalorders "github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
)

type stubOrdersService struct {
	internalorders.Service

	order   *models.Order
	list    []models.Order
	getErr  error
	listErr error

	lastFilters internalorders.ListFilters
	shipped     []uuid.UUID
	refunded    []uuid.UUID
}

func (s *stubOrdersService) GetByNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *stubOrdersService) List(_ context.Context, filters internalorders.ListFilters) ([]models.Order, error) {
	s.lastFilters = filters
	return s.list, s.listErr
}

func (s *stubOrdersService) MarkShipped(_ context.Context, orderID uuid.UUID) error {
	s.shipped = append(s.shipped, orderID)
	return nil
}

func (s *stubOrdersService) MarkRefunded(_ context.Context, orderID uuid.UUID) error {
	s.refunded = append(s.refunded, orderID)
	return nil
}

func testRouter(svc internalorders.Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/orders", List(svc, nil))
	r.Get("/orders/{orderNumber}", Detail(svc, nil))
	r.Post("/orders/{orderId}/status", UpdateStatus(svc, nil))
	return r
}

func testOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "AT-ABCDEF1234",
		GuestEmail:    "buyer@example.com",
		CustomerName:  "Ada Lovelace",
		Status:        enums.OrderStatusConfirmed,
		PaymentStatus: enums.OrderPaymentStatusPaid,
		Subtotal:      decimal.RequireFromString("200.00"),
		TaxAmount:     decimal.RequireFromString("20.00"),
		TotalAmount:   decimal.RequireFromString("220.00"),
		Currency:      enums.CurrencyUSD,
		ItemsCount:    2,
		Items: []models.OrderItem{{
			ID:        uuid.New(),
			Name:      "Stoneware vase",
			Qty:       2,
			UnitPrice: decimal.RequireFromString("100.00"),
			TaxAmount: decimal.RequireFromString("20.00"),
			LineTotal: decimal.RequireFromString("220.00"),
		}},
		Payments: []models.Payment{{
			ID:            uuid.New(),
			Provider:      enums.PaymentMethodStripe,
			Method:        "card",
			TransactionID: "pi_list_1",
			Amount:        decimal.RequireFromString("220.00"),
			Currency:      enums.CurrencyUSD,
			Status:        enums.PaymentStatusCompleted,
		}},
	}
}

func TestDetailReturnsOrder(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{order: testOrder()}
	req := httptest.NewRequest(http.MethodGet, "/orders/AT-ABCDEF1234", nil)
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data orderResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderNumber != "AT-ABCDEF1234" {
		t.Fatalf("unexpected order number %q", envelope.Data.OrderNumber)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].UnitPrice != "100.00" {
		t.Fatalf("unexpected items: %+v", envelope.Data.Items)
	}
	if len(envelope.Data.Payments) != 1 || envelope.Data.Payments[0].TransactionID != "pi_list_1" {
		t.Fatalf("unexpected payments: %+v", envelope.Data.Payments)
	}
}

func TestDetailNotFound(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := httptest.NewRequest(http.MethodGet, "/orders/AT-MISSING", nil)
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestListAppliesFilters(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{list: []models.Order{*testOrder()}}
	req := httptest.NewRequest(http.MethodGet, "/orders?status=confirmed&payment_status=paid&email=buyer@example.com&limit=10", nil)
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastFilters.Status == nil || *svc.lastFilters.Status != enums.OrderStatusConfirmed {
		t.Fatalf("status filter not applied: %+v", svc.lastFilters)
	}
	if svc.lastFilters.PaymentStatus == nil || *svc.lastFilters.PaymentStatus != enums.OrderPaymentStatusPaid {
		t.Fatalf("payment status filter not applied: %+v", svc.lastFilters)
	}
	if svc.lastFilters.GuestEmail != "buyer@example.com" {
		t.Fatalf("email filter not applied: %+v", svc.lastFilters)
	}
	if svc.lastFilters.Limit != 10 {
		t.Fatalf("limit not applied: %+v", svc.lastFilters)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{}
	req := httptest.NewRequest(http.MethodGet, "/orders?status=sideways", nil)
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestUpdateStatusShipped(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{}
	orderID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/status", strings.NewReader(`{"status":"shipped"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.shipped) != 1 || svc.shipped[0] != orderID {
		t.Fatalf("shipped transition not applied: %+v", svc.shipped)
	}
}

func TestUpdateStatusUnknownValue(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{}
	req := httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/status", strings.NewReader(`{"status":"teleported"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestUpdateStatusInvalidOrderID(t *testing.T) {
	t.Parallel()

	svc := &stubOrdersService{}
	req := httptest.NewRequest(http.MethodPost, "/orders/not-a-uuid/status", strings.NewReader(`{"status":"shipped"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
