package events

import (
	"encoding/json"
	"time"
)

const (
	// OrderEventsTopic carries every order lifecycle event drained
	// from the outbox table.
	OrderEventsTopic = "order_events"

	// PaymentEventsTopic is produced by the payment service and
	// consumed here to reconcile order payment state.
	PaymentEventsTopic = "payment_events"

	// PaymentEventsDLQTopic receives payment events that could not be
	// decoded, together with failure metadata headers.
	PaymentEventsDLQTopic = "payment_events.dlq"
)

// Envelope is the wire shape of everything published on OrderEventsTopic.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
	Source    string          `json:"source"`
}

// PaymentEnvelope is the shape payment_events messages must decode into.
type PaymentEnvelope struct {
	Event   string         `json:"event"`
	Payload PaymentPayload `json:"payload"`
}

type PaymentPayload struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id,omitempty"`
	RefundID  string  `json:"refund_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// DLQMetadata travels in the headers of dead-lettered payment events.
type DLQMetadata struct {
	FailedAt      time.Time `json:"failed_at"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}
