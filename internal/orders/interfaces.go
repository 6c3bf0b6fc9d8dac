package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
)

// Repository defines persistence operations for the order ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	List(ctx context.Context, filters ListFilters) ([]models.Order, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	UpdatePayment(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error
}

// ListFilters narrows ledger listings.
type ListFilters struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.OrderPaymentStatus
	GuestEmail    string
	Limit         int
	Offset        int
}
