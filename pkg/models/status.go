package models

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusPreparing  OrderStatus = "preparing"
	StatusReady      OrderStatus = "ready"
	StatusDelivering OrderStatus = "delivering"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusDelivering, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPending, PaymentPaid, PaymentFailed,
		PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// PaymentFlow classifies a payment method into how money moves.
// Cash settles on handover, online settles through a payment gateway.
type PaymentFlow string

const (
	FlowCash   PaymentFlow = "cash"
	FlowOnline PaymentFlow = "online"
)

var paymentMethodFlows = map[string]PaymentFlow{
	"cash":           FlowCash,
	"cash_on_pickup": FlowCash,
	"card":           FlowOnline,
	"credit_card":    FlowOnline,
	"wallet":         FlowOnline,
	"bank_transfer":  FlowOnline,
	"qris":           FlowOnline,
}

// FlowForPaymentMethod maps a raw payment-method string to its flow.
// Unrecognized methods default to cash.
func FlowForPaymentMethod(method string) (PaymentFlow, bool) {
	if flow, ok := paymentMethodFlows[method]; ok {
		return flow, true
	}
	return FlowCash, false
}

// InitialPaymentStatus is the payment status an order starts in: online
// orders wait for the gateway, cash orders are simply not paid yet.
func (f PaymentFlow) InitialPaymentStatus() PaymentStatus {
	if f == FlowOnline {
		return PaymentPending
	}
	return PaymentUnpaid
}
