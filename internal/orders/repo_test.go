package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	handle, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  guest_email TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  billing_address TEXT,
  shipping_address TEXT,
  subtotal NUMERIC NOT NULL,
  tax_amount NUMERIC NOT NULL,
  total_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  payment_method TEXT NOT NULL,
  payment_transaction_id TEXT NOT NULL UNIQUE,
  items_count INTEGER NOT NULL DEFAULT 0,
  shipped_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderItems := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT,
  name TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL,
  tax_amount NUMERIC NOT NULL,
  line_total NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	payments := `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  method TEXT NOT NULL,
  transaction_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'pending',
  gateway_response TEXT,
  caller_ip TEXT,
  user_agent TEXT,
  review_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	for _, stmt := range []string{orders, orderItems, payments} {
		require.NoError(t, handle.Exec(stmt).Error)
	}
	return handle
}

func sampleOrder(txnID string) *models.Order {
	orderID := uuid.New()
	return &models.Order{
		ID:                   orderID,
		OrderNumber:          "AT-" + uuid.NewString()[:10],
		GuestEmail:           "ada@example.com",
		CustomerName:         "Ada Lovelace",
		Subtotal:             decimal.RequireFromString("200.00"),
		TaxAmount:            decimal.RequireFromString("20.00"),
		TotalAmount:          decimal.RequireFromString("220.00"),
		Currency:             enums.CurrencyUSD,
		Status:               enums.OrderStatusConfirmed,
		PaymentStatus:        enums.OrderPaymentStatusPaid,
		PaymentMethod:        enums.PaymentMethodStripe,
		PaymentTransactionID: txnID,
		ItemsCount:           2,
		Items: []models.OrderItem{{
			ID:        uuid.New(),
			OrderID:   orderID,
			Name:      "Linen Throw",
			Qty:       2,
			UnitPrice: decimal.RequireFromString("100.00"),
			TaxAmount: decimal.RequireFromString("20.00"),
			LineTotal: decimal.RequireFromString("220.00"),
		}},
		Payments: []models.Payment{{
			ID:            uuid.New(),
			OrderID:       orderID,
			Provider:      enums.PaymentMethodStripe,
			Method:        "card",
			TransactionID: txnID,
			Amount:        decimal.RequireFromString("220.00"),
			Currency:      enums.CurrencyUSD,
			Status:        enums.PaymentStatusCompleted,
		}},
	}
}

func TestRepositoryCreateOrderPersistsAggregate(t *testing.T) {
	handle := setupLedgerTestDB(t)
	repo := NewRepository(handle)

	created, err := repo.CreateOrder(context.Background(), sampleOrder("pi_agg_1"))
	require.NoError(t, err)

	found, err := repo.FindByTransactionID(context.Background(), "pi_agg_1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	require.Len(t, found.Items, 1)
	require.Len(t, found.Payments, 1)
	assert.Equal(t, "220.00", found.TotalAmount.StringFixed(2))
	assert.Equal(t, enums.PaymentStatusCompleted, found.Payments[0].Status)
}

func TestRepositoryDuplicateTransactionRejected(t *testing.T) {
	handle := setupLedgerTestDB(t)
	repo := NewRepository(handle)

	_, err := repo.CreateOrder(context.Background(), sampleOrder("pi_dup_1"))
	require.NoError(t, err)

	_, err = repo.CreateOrder(context.Background(), sampleOrder("pi_dup_1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
}

func TestRepositoryFindByOrderNumber(t *testing.T) {
	handle := setupLedgerTestDB(t)
	repo := NewRepository(handle)

	order := sampleOrder("pi_num_1")
	_, err := repo.CreateOrder(context.Background(), order)
	require.NoError(t, err)

	found, err := repo.FindByOrderNumber(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = repo.FindByOrderNumber(context.Background(), "AT-UNKNOWN")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListFilters(t *testing.T) {
	handle := setupLedgerTestDB(t)
	repo := NewRepository(handle)

	first := sampleOrder("pi_list_1")
	_, err := repo.CreateOrder(context.Background(), first)
	require.NoError(t, err)

	second := sampleOrder("pi_list_2")
	second.OrderNumber = "AT-" + uuid.NewString()[:10]
	second.Status = enums.OrderStatusShipped
	_, err = repo.CreateOrder(context.Background(), second)
	require.NoError(t, err)

	shipped := enums.OrderStatusShipped
	got, err := repo.List(context.Background(), ListFilters{Status: &shipped})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)

	all, err := repo.List(context.Background(), ListFilters{GuestEmail: "ada@example.com"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepositoryUpdatePayment(t *testing.T) {
	handle := setupLedgerTestDB(t)
	repo := NewRepository(handle)

	order := sampleOrder("pi_upd_1")
	_, err := repo.CreateOrder(context.Background(), order)
	require.NoError(t, err)

	reason := "conflicting provider report"
	err = repo.UpdatePayment(context.Background(), order.Payments[0].ID, map[string]any{
		"review_reason": reason,
	})
	require.NoError(t, err)

	found, err := repo.FindByTransactionID(context.Background(), "pi_upd_1")
	require.NoError(t, err)
	require.NotNil(t, found.Payments[0].ReviewReason)
	assert.Equal(t, reason, *found.Payments[0].ReviewReason)
}
