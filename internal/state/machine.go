package state

import (
	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

// Trigger is the action requesting a status change. Every mutator of order
// status consults the same transition table: the status-update endpoint, the
// customer cancel path and the payment reconciler.
type Trigger string

const (
	TriggerConfirm       Trigger = "confirm"
	TriggerStartPrepare  Trigger = "start_preparing"
	TriggerMarkReady     Trigger = "mark_ready"
	TriggerStartDelivery Trigger = "start_delivery"
	TriggerComplete      Trigger = "complete"
	TriggerCancel        Trigger = "cancel"
	TriggerPaymentPaid   Trigger = "payment_paid"
	TriggerRefund        Trigger = "refund"
)

type transitionKey struct {
	from    models.OrderStatus
	trigger Trigger
}

var transitions = map[transitionKey]models.OrderStatus{
	{models.StatusPending, TriggerConfirm}:        models.StatusConfirmed,
	{models.StatusConfirmed, TriggerStartPrepare}: models.StatusPreparing,
	{models.StatusPreparing, TriggerMarkReady}:    models.StatusReady,
	{models.StatusReady, TriggerStartDelivery}:    models.StatusDelivering,
	{models.StatusDelivering, TriggerComplete}:    models.StatusCompleted,
	{models.StatusReady, TriggerComplete}:         models.StatusCompleted,

	{models.StatusPending, TriggerCancel}:   models.StatusCancelled,
	{models.StatusConfirmed, TriggerCancel}: models.StatusCancelled,

	// Payment reconciliation confirms a pending order; past pending the
	// payment outcome leaves status untouched.
	{models.StatusPending, TriggerPaymentPaid}: models.StatusConfirmed,

	{models.StatusCompleted, TriggerRefund}: models.StatusCancelled,
}

// Next resolves the transition table. It returns a ValidationError when the
// trigger is not legal from the current status.
func Next(current models.OrderStatus, trigger Trigger) (models.OrderStatus, error) {
	next, ok := transitions[transitionKey{current, trigger}]
	if !ok {
		return "", apperrors.NewValidation("cannot %s an order in status %q", trigger, current)
	}
	return next, nil
}

// Allowed reports whether the trigger is legal without performing it.
func Allowed(current models.OrderStatus, trigger Trigger) bool {
	_, ok := transitions[transitionKey{current, trigger}]
	return ok
}

// triggersByTarget lets the status-update endpoint accept a desired status
// and route it through the table instead of assigning directly.
var triggersByTarget = map[models.OrderStatus]Trigger{
	models.StatusConfirmed:  TriggerConfirm,
	models.StatusPreparing:  TriggerStartPrepare,
	models.StatusReady:      TriggerMarkReady,
	models.StatusDelivering: TriggerStartDelivery,
	models.StatusCompleted:  TriggerComplete,
	models.StatusCancelled:  TriggerCancel,
}

func TriggerForTarget(target models.OrderStatus) (Trigger, error) {
	trigger, ok := triggersByTarget[target]
	if !ok {
		return "", apperrors.NewValidation("invalid target status %q", target)
	}
	return trigger, nil
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentUnpaid:  {models.PaymentPending, models.PaymentPaid, models.PaymentFailed},
	models.PaymentPending: {models.PaymentPaid, models.PaymentFailed},
	models.PaymentPaid:    {models.PaymentRefunded, models.PaymentPartiallyRefunded},
	models.PaymentFailed:  {models.PaymentPending, models.PaymentPaid},
}

// PaymentAllowed reports whether a payment-status change is legal. Setting
// the same status again is always allowed: at-least-once delivery makes
// repeated assignment a harmless no-op.
func PaymentAllowed(from, to models.PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CustomerCancellable is the one structurally enforced customer rule: only
// pending/confirmed orders cancel, and never once money has been captured.
func CustomerCancellable(status models.OrderStatus, payment models.PaymentStatus) bool {
	return Allowed(status, TriggerCancel) && payment != models.PaymentPaid
}
