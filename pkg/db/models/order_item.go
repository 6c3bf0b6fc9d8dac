package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem captures the snapshot of each line within an order.
type OrderItem struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID *uuid.UUID `gorm:"column:product_id;type:uuid"`

	Name      string          `gorm:"column:name;not null"`
	Qty       int             `gorm:"column:qty;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TaxAmount decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	LineTotal decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
