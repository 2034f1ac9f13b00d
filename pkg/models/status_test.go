package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusValid(t *testing.T) {
	for _, status := range []OrderStatus{
		StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusDelivering, StatusCompleted, StatusCancelled,
	} {
		assert.True(t, status.Valid(), string(status))
	}
	assert.False(t, OrderStatus("shipped").Valid())
	assert.False(t, OrderStatus("").Valid())
}

func TestFlowForPaymentMethod(t *testing.T) {
	flow, known := FlowForPaymentMethod("cash")
	assert.True(t, known)
	assert.Equal(t, FlowCash, flow)

	flow, known = FlowForPaymentMethod("card")
	assert.True(t, known)
	assert.Equal(t, FlowOnline, flow)

	flow, known = FlowForPaymentMethod("qris")
	assert.True(t, known)
	assert.Equal(t, FlowOnline, flow)

	// Unknown methods fall back to the cash flow; the caller logs the
	// unrecognized value.
	flow, known = FlowForPaymentMethod("barter")
	assert.False(t, known)
	assert.Equal(t, FlowCash, flow)
}

func TestInitialPaymentStatus(t *testing.T) {
	assert.Equal(t, PaymentUnpaid, FlowCash.InitialPaymentStatus())
	assert.Equal(t, PaymentPending, FlowOnline.InitialPaymentStatus())
}
