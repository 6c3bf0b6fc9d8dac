package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
)

type ServiceParams struct {
	Orders orders.Service
	Logger *logger.Logger
}

// Service applies asynchronous provider reports to the ledger. The confirm
// endpoint is the primary write path; webhooks only advance or flag payments
// that the synchronous path has already recorded, or that never completed.
type Service struct {
	orders orders.Service
	log    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders: params.Orders,
		log:    params.Logger,
	}, nil
}

// HandleEvent routes a verified Stripe event. Unknown event types are
// acknowledged without action so Stripe stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.applySessionStatus(ctx, event, enums.PaymentStatusCompleted)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		return s.applySessionStatus(ctx, event, enums.PaymentStatusFailed)
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.applyUpdate(ctx, intent.ID, enums.PaymentStatusFailed, string(event.Type))
	default:
		s.log.Info(ctx, "ignoring stripe event "+string(event.Type))
		return nil
	}
}

func (s *Service) applySessionStatus(ctx context.Context, event *stripe.Event, status enums.PaymentStatus) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}

	txnID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		txnID = session.PaymentIntent.ID
	}
	return s.applyUpdate(ctx, txnID, status, string(event.Type))
}

func (s *Service) applyUpdate(ctx context.Context, txnID string, status enums.PaymentStatus, detail string) error {
	if txnID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id missing from event")
	}

	_, err := s.orders.ApplyPaymentUpdate(ctx, orders.PaymentUpdateInput{
		TransactionID: txnID,
		Status:        status,
		Detail:        detail,
	})
	if err != nil {
		// Events can arrive before the confirm path has written the order.
		// Acknowledging them would lose the report; Stripe retries later.
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.log.Warn(s.log.WithTransactionID(ctx, txnID),
				"webhook for unknown transaction, leaving for redelivery")
		}
		return err
	}
	return nil
}
