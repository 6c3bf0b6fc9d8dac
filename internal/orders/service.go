package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumenandco/atelier-backend/pkg/db"
	"github.com/lumenandco/atelier-backend/pkg/db/models"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
	"github.com/lumenandco/atelier-backend/pkg/metrics"
	"github.com/lumenandco/atelier-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines ledger-level operations beyond repository reads.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.Order, bool, error)
	ApplyPaymentUpdate(ctx context.Context, input PaymentUpdateInput) (*models.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	List(ctx context.Context, filters ListFilters) ([]models.Order, error)
	MarkProcessing(ctx context.Context, orderID uuid.UUID) error
	MarkShipped(ctx context.Context, orderID uuid.UUID) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error
	Cancel(ctx context.Context, orderID uuid.UUID) error
	MarkRefunded(ctx context.Context, orderID uuid.UUID) error
}

// RecordItem is one priced line of a recorded order.
type RecordItem struct {
	ProductID *uuid.UUID
	Name      string
	Qty       int
	UnitPrice decimal.Decimal
	TaxAmount decimal.Decimal
	LineTotal decimal.Decimal
}

// RecordInput carries everything needed to write one verified payment into
// the ledger.
type RecordInput struct {
	GuestEmail      string
	CustomerName    string
	BillingAddress  types.Address
	ShippingAddress types.Address
	Items           []RecordItem
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	Currency        enums.Currency
	Method          enums.PaymentMethod
	TransactionID   string
	GatewayResponse []byte
	CallerIP        string
	UserAgent       string
}

// PaymentUpdateInput is a provider-reported status change for a recorded
// transaction.
type PaymentUpdateInput struct {
	TransactionID string
	Status        enums.PaymentStatus
	Detail        string
}

// ServiceParams collects the ledger service dependencies.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.CheckoutMetrics
	OrderNumberPrefix string
}

type service struct {
	repo    Repository
	tx      txRunner
	log     *logger.Logger
	metrics *metrics.CheckoutMetrics
	prefix  string
}

// NewService builds the order ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	prefix := strings.TrimSpace(params.OrderNumberPrefix)
	if prefix == "" {
		prefix = "AT"
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TransactionRunner,
		log:     params.Logger,
		metrics: params.Metrics,
		prefix:  prefix,
	}, nil
}

// Record writes the order aggregate atomically. Exactly one row per provider
// transaction: when a concurrent write already claimed the transaction id,
// the winner's order is read back and returned with created=false, so the
// caller observes the same outcome either way.
func (s *service) Record(ctx context.Context, input RecordInput) (*models.Order, bool, error) {
	if strings.TrimSpace(input.TransactionID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if len(input.Items) == 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "order items required")
	}

	order := s.buildOrder(input)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.repo.WithTx(tx).CreateOrder(ctx, order)
		return err
	})
	if err == nil {
		s.log.Info(s.log.WithTransactionID(ctx, input.TransactionID),
			"order recorded "+order.OrderNumber)
		return order, true, nil
	}

	// Only a transaction-id collision is a benign duplicate; any other unique
	// violation (order number, primary key) is a real write failure.
	if db.IsUniqueViolation(err, "orders_payment_transaction_id", "orders.payment_transaction_id") {
		existing, findErr := s.repo.FindByTransactionID(ctx, input.TransactionID)
		if findErr != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeLedgerWrite, findErr,
				"reading back order for duplicate transaction")
		}
		s.log.Info(s.log.WithTransactionID(ctx, input.TransactionID),
			"duplicate transaction resolved to order "+existing.OrderNumber)
		return existing, false, nil
	}

	return nil, false, pkgerrors.Wrap(pkgerrors.CodeLedgerWrite, err, "recording order")
}

func (s *service) buildOrder(input RecordInput) *models.Order {
	txnID := strings.TrimSpace(input.TransactionID)
	orderID := uuid.New()
	items := make([]models.OrderItem, 0, len(input.Items))
	itemsCount := 0
	for _, item := range input.Items {
		itemsCount += item.Qty
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			TaxAmount: item.TaxAmount,
			LineTotal: item.LineTotal,
		})
	}

	return &models.Order{
		ID:                   orderID,
		OrderNumber:          s.nextOrderNumber(),
		GuestEmail:           strings.ToLower(strings.TrimSpace(input.GuestEmail)),
		CustomerName:         strings.TrimSpace(input.CustomerName),
		BillingAddress:       input.BillingAddress,
		ShippingAddress:      input.ShippingAddress,
		Subtotal:             input.Subtotal,
		TaxAmount:            input.TaxAmount,
		TotalAmount:          input.TotalAmount,
		Currency:             input.Currency,
		Status:               enums.OrderStatusConfirmed,
		PaymentStatus:        enums.OrderPaymentStatusPaid,
		PaymentMethod:        input.Method,
		PaymentTransactionID: txnID,
		ItemsCount:           itemsCount,
		Items:                items,
		Payments: []models.Payment{{
			ID:              uuid.New(),
			OrderID:         orderID,
			Provider:        input.Method,
			Method:          instrumentFor(input.Method),
			TransactionID:   txnID,
			Amount:          input.TotalAmount,
			Currency:        input.Currency,
			Status:          enums.PaymentStatusCompleted,
			GatewayResponse: input.GatewayResponse,
			CallerIP:        input.CallerIP,
			UserAgent:       input.UserAgent,
		}},
	}
}

func instrumentFor(method enums.PaymentMethod) string {
	switch method {
	case enums.PaymentMethodStripe:
		return "card"
	case enums.PaymentMethodPayPal:
		return "wallet"
	default:
		return method.String()
	}
}

func (s *service) nextOrderNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", s.prefix, strings.ToUpper(raw[:10]))
}

// ApplyPaymentUpdate moves a payment forward. Status only ever advances from
// pending to a terminal state; a report that contradicts an already terminal
// status flags the payment for review instead of rewriting history.
func (s *service) ApplyPaymentUpdate(ctx context.Context, input PaymentUpdateInput) (*models.Order, error) {
	txnID := strings.TrimSpace(input.TransactionID)
	if txnID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status "+input.Status.String())
	}

	order, err := s.repo.FindByTransactionID(ctx, txnID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "no order for transaction")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order for payment update")
	}

	payment := paymentForTransaction(order, txnID)
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order has no payment row for transaction")
	}

	ctx = s.log.WithTransactionID(ctx, txnID)

	if payment.Status == input.Status {
		return order, nil
	}

	if payment.Status.IsTerminal() {
		reason := fmt.Sprintf("conflicting provider report: recorded %s, received %s",
			payment.Status, input.Status)
		if input.Detail != "" {
			reason += " (" + input.Detail + ")"
		}
		if err := s.repo.UpdatePayment(ctx, payment.ID, map[string]any{
			"review_reason": reason,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flagging payment for review")
		}
		s.metrics.IncAnomaly()
		s.log.Warn(ctx, "payment anomaly flagged for review: "+reason)
		return order, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdatePayment(ctx, payment.ID, map[string]any{
			"status": input.Status,
		}); err != nil {
			return err
		}
		orderUpdates := map[string]any{}
		switch input.Status {
		case enums.PaymentStatusCompleted:
			orderUpdates["payment_status"] = enums.OrderPaymentStatusPaid
		case enums.PaymentStatusFailed:
			orderUpdates["payment_status"] = enums.OrderPaymentStatusFailed
		}
		if len(orderUpdates) == 0 {
			return nil
		}
		return repo.UpdateOrder(ctx, order.ID, orderUpdates)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "applying payment update")
	}

	s.log.Info(ctx, fmt.Sprintf("payment advanced %s -> %s", payment.Status, input.Status))
	return s.repo.FindByTransactionID(ctx, txnID)
}

func paymentForTransaction(order *models.Order, txnID string) *models.Payment {
	for i := range order.Payments {
		if order.Payments[i].TransactionID == txnID {
			return &order.Payments[i]
		}
	}
	return nil
}

func (s *service) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}
	return order, nil
}

func (s *service) GetByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	order, err := s.repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "no order recorded for transaction")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order by transaction")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, filters ListFilters) ([]models.Order, error) {
	if filters.Limit <= 0 || filters.Limit > 100 {
		filters.Limit = 50
	}
	orders, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing orders")
	}
	return orders, nil
}

func (s *service) MarkProcessing(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, enums.OrderStatusProcessing, nil,
		enums.OrderStatusConfirmed)
}

func (s *service) MarkShipped(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, enums.OrderStatusShipped, timestampField("shipped_at"),
		enums.OrderStatusConfirmed, enums.OrderStatusProcessing)
}

func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, enums.OrderStatusDelivered, timestampField("delivered_at"),
		enums.OrderStatusShipped)
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, enums.OrderStatusCancelled, timestampField("cancelled_at"),
		enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusProcessing)
}

// MarkRefunded records that the provider returned the funds. The refund call
// itself happens in the provider dashboard; the ledger only mirrors it.
func (s *service) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}
	if order.PaymentStatus != enums.OrderPaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			"only paid orders can be refunded (payment status "+order.PaymentStatus.String()+")")
	}

	updates := map[string]any{
		"status":         enums.OrderStatusRefunded,
		"payment_status": enums.OrderPaymentStatusRefunded,
		"refunded_at":    time.Now().UTC(),
	}
	if err := s.repo.UpdateOrder(ctx, orderID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marking order refunded")
	}
	return nil
}

func timestampField(column string) map[string]any {
	return map[string]any{column: time.Now().UTC()}
}

func (s *service) transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, extra map[string]any, from ...enums.OrderStatus) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}

	allowed := false
	for _, status := range from {
		if order.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, to))
	}

	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.repo.UpdateOrder(ctx, orderID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating order status")
	}
	return nil
}
