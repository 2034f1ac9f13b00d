package models

import (
	"encoding/json"
	"time"
)

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	RestaurantID    string          `json:"restaurant_id"`
	BranchID        string          `json:"branch_id,omitempty"`
	Source          string          `json:"source"`
	FulfillmentType string          `json:"fulfillment_type"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	ItemsSubtotal   float64         `json:"items_subtotal"`
	ItemsDiscount   float64         `json:"items_discount"`
	OrderDiscount   float64         `json:"order_discount"`
	SurchargesTotal float64         `json:"surcharges_total"`
	ShippingFee     float64         `json:"shipping_fee"`
	TaxTotal        float64         `json:"tax_total"`
	TipAmount       float64         `json:"tip_amount"`
	TotalAmount     float64         `json:"total_amount"`
	Currency        string          `json:"currency"`
	PromoCode       string          `json:"promo_code,omitempty"`
	Note            string          `json:"note,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Items        []OrderItem      `json:"items,omitempty"`
	Discounts    []OrderDiscount  `json:"discounts,omitempty"`
	Surcharges   []OrderSurcharge `json:"surcharges,omitempty"`
	Promotions   []OrderPromotion `json:"promotions,omitempty"`
	TaxBreakdown []OrderTaxLine   `json:"tax_breakdown,omitempty"`
	Delivery     *Delivery        `json:"delivery,omitempty"`
}

type OrderItem struct {
	ID              int64             `json:"id"`
	OrderID         string            `json:"order_id"`
	ProductID       string            `json:"product_id"`
	VariantID       string            `json:"variant_id,omitempty"`
	Quantity        int               `json:"quantity"`
	UnitPrice       float64           `json:"unit_price"`
	TotalPrice      float64           `json:"total_price"`
	ProductSnapshot json.RawMessage   `json:"product_snapshot,omitempty"`
	Options         []OrderItemOption `json:"options,omitempty"`
	Taxes           []OrderItemTax    `json:"taxes,omitempty"`
}

// OrderItemOption is one resolved option selection, one row per pick.
type OrderItemOption struct {
	ID              int64   `json:"id"`
	OrderItemID     int64   `json:"order_item_id"`
	OptionGroupName string  `json:"option_group_name"`
	OptionItemName  string  `json:"option_item_name"`
	PriceDelta      float64 `json:"price_delta"`
}

type OrderItemTax struct {
	ID           int64   `json:"id"`
	OrderItemID  int64   `json:"order_item_id"`
	TemplateCode string  `json:"tax_template_code"`
	TaxRate      float64 `json:"tax_rate"`
	TaxAmount    float64 `json:"tax_amount"`
}

// OrderTaxLine is the order-level aggregation of item taxes,
// grouped by (template_code, rate).
type OrderTaxLine struct {
	ID           int64   `json:"id"`
	OrderID      string  `json:"order_id"`
	TemplateCode string  `json:"tax_template_code"`
	TaxRate      float64 `json:"tax_rate"`
	TaxAmount    float64 `json:"tax_amount"`
}

type OrderDiscount struct {
	ID      int64           `json:"id"`
	OrderID string          `json:"order_id"`
	Source  string          `json:"source"`
	Code    string          `json:"code,omitempty"`
	Amount  float64         `json:"amount"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

type OrderSurcharge struct {
	ID      int64           `json:"id"`
	OrderID string          `json:"order_id"`
	Source  string          `json:"source"`
	Code    string          `json:"code,omitempty"`
	Amount  float64         `json:"amount"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

type OrderPromotion struct {
	ID      int64           `json:"id"`
	OrderID string          `json:"order_id"`
	Source  string          `json:"source"`
	Code    string          `json:"code,omitempty"`
	Amount  float64         `json:"amount"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

type Delivery struct {
	ID             int64      `json:"id"`
	OrderID        string     `json:"order_id"`
	DeliveryStatus string     `json:"delivery_status"`
	Address        string     `json:"address"`
	ContactName    string     `json:"contact_name,omitempty"`
	ContactPhone   string     `json:"contact_phone,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	Proof          string     `json:"proof,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// OrderEvent is the append-only audit log. Rows are never mutated or deleted.
type OrderEvent struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	EventType string          `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderRevision is an append-only numbered full snapshot of the order.
type OrderRevision struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	RevNo     int             `json:"rev_no"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"created_at"`
}

// OutboxEntry is written in the same transaction as the business change and
// drained asynchronously. It is the durable half of the outbox pattern.
type OutboxEntry struct {
	ID int64 `json:"id"`

	// EventID is assigned once when the row is written and travels on
	// every publish attempt, so consumers can dedup redeliveries.
	EventID string `json:"event_id"`

	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}
