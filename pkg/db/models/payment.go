package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenandco/atelier-backend/pkg/enums"
)

// Payment records one payment attempt against an order. The authoritative
// payment's transaction id matches Order.PaymentTransactionID. The raw gateway
// response is kept verbatim for audits and dispute resolution.
type Payment struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	Provider      enums.PaymentMethod `gorm:"column:provider;type:text;not null"`
	Method        string              `gorm:"column:method;not null"`
	TransactionID string              `gorm:"column:transaction_id;not null;index"`

	Amount   decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status   enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`

	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	CallerIP        string          `gorm:"column:caller_ip"`
	UserAgent       string          `gorm:"column:user_agent"`

	// ReviewReason marks a conflicting-state anomaly (e.g. a webhook reporting
	// failure for a payment already completed) for manual reconciliation.
	ReviewReason *string `gorm:"column:review_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
