package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/pkg/enums"
	"github.com/lumenandco/atelier-backend/pkg/types"
)

// Order is the durable record of one paid checkout. Immutable after creation
// except for the two status machines and their lifecycle timestamps. Customer
// details are snapshots, not references.
type Order struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string    `gorm:"column:order_number;not null;uniqueIndex"`

	GuestEmail      string        `gorm:"column:guest_email;not null"`
	CustomerName    string        `gorm:"column:customer_name;not null"`
	BillingAddress  types.Address `gorm:"column:billing_address;type:jsonb;serializer:json"`
	ShippingAddress types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`

	Subtotal    decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxAmount   decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency    enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`

	Status        enums.OrderStatus        `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`

	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	PaymentTransactionID string              `gorm:"column:payment_transaction_id;not null;uniqueIndex"`

	ItemsCount int `gorm:"column:items_count;not null"`

	Items    []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments []Payment   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
