package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/internal/state"
	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

// Event types carried on the payment_events queue.
const (
	PaymentEventSucceeded       = "PaymentSucceeded"
	PaymentEventFailed          = "PaymentFailed"
	PaymentEventRefundCompleted = "RefundCompleted"
)

// PaymentFact is one externally-published payment outcome to reconcile
// against order state.
type PaymentFact struct {
	Type      string
	OrderID   string
	PaymentID string
	RefundID  string
	Amount    float64
}

// PaymentReconciler mutates order state from payment facts under a row lock.
// Handlers are idempotent: the broker delivers at least once, and a repeated
// fact is a pure re-assignment, never an accumulation.
type PaymentReconciler struct {
	store  *Store
	logger *logrus.Logger
}

func NewPaymentReconciler(store *Store, logger *logrus.Logger) *PaymentReconciler {
	return &PaymentReconciler{store: store, logger: logger}
}

func (r *PaymentReconciler) ReconcilePayment(ctx context.Context, fact PaymentFact) error {
	return r.store.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := r.store.LockOrder(ctx, tx, fact.OrderID)
		if err != nil {
			var notFound *apperrors.NotFoundError
			if errors.As(err, &notFound) {
				// An event referencing an unknown order is dropped safely:
				// the transaction commits as a no-op.
				r.logger.WithFields(logrus.Fields{
					"order_id": fact.OrderID,
					"event":    fact.Type,
				}).Info("Payment event for unknown order, dropping")
				return nil
			}
			return err
		}

		switch fact.Type {
		case PaymentEventSucceeded:
			return r.applySucceeded(ctx, tx, order, fact)
		case PaymentEventFailed:
			return r.applyFailed(ctx, tx, order, fact)
		case PaymentEventRefundCompleted:
			return r.applyRefund(ctx, tx, order, fact)
		default:
			return apperrors.NewValidation("unrecognized payment event type %q", fact.Type)
		}
	})
}

func (r *PaymentReconciler) applySucceeded(ctx context.Context, tx *sql.Tx, order *models.Order, fact PaymentFact) error {
	alreadyPaid := order.PaymentStatus == models.PaymentPaid

	nextStatus := order.Status
	if next, err := state.Next(order.Status, state.TriggerPaymentPaid); err == nil {
		nextStatus = next
	}

	if err := r.store.UpdateOrderStateTx(ctx, tx, order.ID, nextStatus, models.PaymentPaid); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"payment_id": fact.PaymentID,
		"amount":     fact.Amount,
		"duplicate":  alreadyPaid,
	})
	if err := r.store.AppendOrderEventTx(ctx, tx, &models.OrderEvent{
		OrderID:   order.ID,
		EventType: "PaymentSucceeded",
		Payload:   payload,
	}); err != nil {
		return err
	}

	// A duplicate delivery gains an audit event but must not re-notify
	// downstream consumers.
	if !alreadyPaid {
		outboxPayload, _ := json.Marshal(map[string]interface{}{
			"order_id":       order.ID,
			"payment_id":     fact.PaymentID,
			"amount":         fact.Amount,
			"currency":       order.Currency,
			"status":         nextStatus,
			"payment_status": models.PaymentPaid,
		})
		if err := r.store.AppendOutboxTx(ctx, tx, &models.OutboxEntry{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "order.payment_succeeded",
			Payload:       outboxPayload,
		}); err != nil {
			return err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"payment_id": fact.PaymentID,
		"duplicate":  alreadyPaid,
	}).Info("Payment success reconciled")

	return nil
}

func (r *PaymentReconciler) applyFailed(ctx context.Context, tx *sql.Tx, order *models.Order, fact PaymentFact) error {
	if !state.PaymentAllowed(order.PaymentStatus, models.PaymentFailed) {
		r.logger.WithFields(logrus.Fields{
			"order_id":       order.ID,
			"payment_status": order.PaymentStatus,
		}).Warn("Ignoring payment failure for order past payment")
		return nil
	}

	if err := r.store.UpdateOrderStateTx(ctx, tx, order.ID, order.Status, models.PaymentFailed); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"payment_id": fact.PaymentID,
		"amount":     fact.Amount,
	})
	if err := r.store.AppendOrderEventTx(ctx, tx, &models.OrderEvent{
		OrderID:   order.ID,
		EventType: "PaymentFailed",
		Payload:   payload,
	}); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"payment_id": fact.PaymentID,
	}).Info("Payment failure reconciled")

	return nil
}

func (r *PaymentReconciler) applyRefund(ctx context.Context, tx *sql.Tx, order *models.Order, fact PaymentFact) error {
	paymentStatus := models.PaymentRefunded
	if fact.Amount > 0 && fact.Amount < order.TotalAmount {
		paymentStatus = models.PaymentPartiallyRefunded
	}

	nextStatus := order.Status
	if next, err := state.Next(order.Status, state.TriggerRefund); err == nil {
		nextStatus = next
	}

	if err := r.store.UpdateOrderStateTx(ctx, tx, order.ID, nextStatus, paymentStatus); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"refund_id": fact.RefundID,
		"amount":    fact.Amount,
	})
	if err := r.store.AppendOrderEventTx(ctx, tx, &models.OrderEvent{
		OrderID:   order.ID,
		EventType: "RefundCompleted",
		Payload:   payload,
	}); err != nil {
		return err
	}

	outboxPayload, _ := json.Marshal(map[string]interface{}{
		"order_id":       order.ID,
		"refund_id":      fact.RefundID,
		"amount":         fact.Amount,
		"currency":       order.Currency,
		"status":         nextStatus,
		"payment_status": paymentStatus,
	})
	if err := r.store.AppendOutboxTx(ctx, tx, &models.OutboxEntry{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "order.refund_completed",
		Payload:       outboxPayload,
	}); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"refund_id":      fact.RefundID,
		"payment_status": paymentStatus,
	}).Info("Refund reconciled")

	return nil
}
