package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platemate/order-core/internal/orders"
)

func TestDecodePaymentMessage(t *testing.T) {
	fact, err := decodePaymentMessage([]byte(`{
		"event": "PaymentSucceeded",
		"payload": {"order_id": "ord-1", "payment_id": "pay-1", "amount": 100000}
	}`))
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFact{
		Type:      "PaymentSucceeded",
		OrderID:   "ord-1",
		PaymentID: "pay-1",
		Amount:    100000,
	}, fact)
}

func TestDecodePaymentMessageRefund(t *testing.T) {
	fact, err := decodePaymentMessage([]byte(`{
		"event": "RefundCompleted",
		"payload": {"order_id": "ord-1", "refund_id": "ref-1", "amount": 40000}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "RefundCompleted", fact.Type)
	assert.Equal(t, "ref-1", fact.RefundID)
	assert.Equal(t, 40000.0, fact.Amount)
}

func TestDecodePaymentMessageMalformed(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"invalid json", `{"event": "PaymentSucceeded",`},
		{"missing event", `{"payload": {"order_id": "ord-1"}}`},
		{"missing order id", `{"event": "PaymentSucceeded", "payload": {"payment_id": "pay-1"}}`},
		{"wrong payload shape", `{"event": "PaymentSucceeded", "payload": "not-an-object"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodePaymentMessage([]byte(tc.value))
			assert.Error(t, err)
		})
	}
}
