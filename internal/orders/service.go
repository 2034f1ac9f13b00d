package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/internal/pricing"
	"github.com/platemate/order-core/internal/state"
	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

const (
	RoleCustomer = "customer"
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller, resolved by an upstream gateway.
// This core never authenticates; it only enforces tenant scope.
type Principal struct {
	UserID        string
	Role          string
	RestaurantIDs []string
	BranchIDs     []string
}

func (p Principal) inRestaurantScope(restaurantID string) bool {
	for _, id := range p.RestaurantIDs {
		if id == restaurantID {
			return true
		}
	}
	return false
}

type CreateOrderRequest struct {
	RestaurantID    string                `json:"restaurant_id"`
	BranchID        string                `json:"branch_id,omitempty"`
	Items           []pricing.ItemRequest `json:"items"`
	PaymentMethod   string                `json:"payment_method"`
	FulfillmentType string                `json:"fulfillment_type,omitempty"`
	Source          string                `json:"source,omitempty"`
	Discounts       []pricing.Adjustment  `json:"discounts,omitempty"`
	Surcharges      []pricing.Adjustment  `json:"surcharges,omitempty"`
	Promotions      []pricing.Adjustment  `json:"promotions,omitempty"`
	ShippingFee     float64               `json:"shipping_fee,omitempty"`
	TipAmount       float64               `json:"tip_amount,omitempty"`
	Currency        string                `json:"currency,omitempty"`
	PromoCode       string                `json:"promo_code,omitempty"`
	Note            string                `json:"note,omitempty"`
	Metadata        json.RawMessage       `json:"metadata,omitempty"`
	Delivery        *DeliveryRequest      `json:"delivery,omitempty"`
}

type DeliveryRequest struct {
	Address      string     `json:"address"`
	ContactName  string     `json:"contact_name,omitempty"`
	ContactPhone string     `json:"contact_phone,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

type Service struct {
	store  *Store
	pricer *pricing.Resolver
	logger *logrus.Logger
}

func NewService(store *Store, pricer *pricing.Resolver, logger *logrus.Logger) *Service {
	return &Service{store: store, pricer: pricer, logger: logger}
}

// CreateOrder resolves pricing, builds the order graph and persists it
// atomically together with the order.created outbox entry. Delivery of the
// domain event is the outbox drain worker's job; nothing is published here.
func (s *Service) CreateOrder(ctx context.Context, principal Principal, req *CreateOrderRequest) (*models.Order, error) {
	if principal.UserID == "" {
		return nil, apperrors.NewValidation("user could not be resolved")
	}
	if req == nil || req.RestaurantID == "" {
		return nil, apperrors.NewValidation("restaurant_id is required")
	}
	if len(req.Items) == 0 {
		return nil, apperrors.NewValidation("order must contain at least one item")
	}

	snapshot, err := s.pricer.Resolve(ctx, &pricing.Request{
		RestaurantID: req.RestaurantID,
		BranchID:     req.BranchID,
		Items:        req.Items,
		Discounts:    req.Discounts,
		Surcharges:   req.Surcharges,
		Promotions:   req.Promotions,
		ShippingFee:  req.ShippingFee,
		TipAmount:    req.TipAmount,
		Currency:     req.Currency,
	})
	if err != nil {
		return nil, err
	}

	flow, known := models.FlowForPaymentMethod(req.PaymentMethod)
	if !known {
		s.logger.WithField("payment_method", req.PaymentMethod).
			Warn("Unrecognized payment method, defaulting to cash flow")
	}

	now := time.Now()
	order := s.buildOrder(principal, req, snapshot, flow, now)

	outboxPayload, _ := json.Marshal(map[string]interface{}{
		"order_id":       order.ID,
		"actor":          principal.UserID,
		"amount":         order.TotalAmount,
		"currency":       order.Currency,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"payment_flow":   flow,
	})
	outbox := []*models.OutboxEntry{{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "order.created",
		Payload:       outboxPayload,
	}}

	// Online orders additionally announce that a payment is awaited, so
	// the payment collaborator can open a charge for this order.
	if flow == models.FlowOnline {
		pendingPayload, _ := json.Marshal(map[string]interface{}{
			"order_id":       order.ID,
			"amount":         order.TotalAmount,
			"currency":       order.Currency,
			"payment_method": req.PaymentMethod,
		})
		outbox = append(outbox, &models.OutboxEntry{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "order.payment_pending",
			Payload:       pendingPayload,
		})
	}

	if err := s.store.CreateOrder(ctx, order, outbox); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to persist order")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"user_id":        order.UserID,
		"restaurant_id":  order.RestaurantID,
		"total_amount":   order.TotalAmount,
		"payment_status": order.PaymentStatus,
		"pricing_source": snapshot.Source,
	}).Info("Order created")

	return order, nil
}

func (s *Service) buildOrder(principal Principal, req *CreateOrderRequest, snapshot *pricing.Snapshot, flow models.PaymentFlow, now time.Time) *models.Order {
	source := req.Source
	if source == "" {
		source = "api"
	}
	fulfillment := req.FulfillmentType
	if fulfillment == "" {
		if req.Delivery != nil {
			fulfillment = "delivery"
		} else {
			fulfillment = "pickup"
		}
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		UserID:          principal.UserID,
		RestaurantID:    req.RestaurantID,
		BranchID:        req.BranchID,
		Source:          source,
		FulfillmentType: fulfillment,
		Status:          models.StatusPending,
		PaymentStatus:   flow.InitialPaymentStatus(),
		ItemsSubtotal:   snapshot.ItemsSubtotal,
		ItemsDiscount:   snapshot.ItemsDiscount,
		OrderDiscount:   snapshot.OrderDiscount,
		SurchargesTotal: snapshot.SurchargesTotal,
		ShippingFee:     snapshot.ShippingFee,
		TaxTotal:        snapshot.TaxTotal,
		TipAmount:       snapshot.TipAmount,
		TotalAmount:     snapshot.TotalAmount,
		Currency:        snapshot.Currency,
		PromoCode:       req.PromoCode,
		Note:            req.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"payment": map[string]interface{}{
			"method": req.PaymentMethod,
			"flow":   flow,
		},
		"pricing": map[string]interface{}{
			"source": snapshot.Source,
		},
		"client": req.Metadata,
		"timeline": []map[string]interface{}{
			{"status": models.StatusPending, "at": now.UTC().Format(time.RFC3339), "actor": principal.UserID},
		},
	})
	order.Metadata = metadata

	for _, item := range snapshot.Items {
		orderItem := models.OrderItem{
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			TotalPrice:      item.TotalPrice,
			ProductSnapshot: item.Snapshot,
			Options:         item.Options,
		}
		for _, tax := range item.Taxes {
			orderItem.Taxes = append(orderItem.Taxes, models.OrderItemTax{
				TemplateCode: tax.TemplateCode,
				TaxRate:      tax.Rate,
				TaxAmount:    tax.Amount,
			})
		}
		order.Items = append(order.Items, orderItem)
	}

	for _, adj := range snapshot.Discounts {
		order.Discounts = append(order.Discounts, models.OrderDiscount{
			Source: adj.Source, Code: adj.Code, Amount: adj.Amount, Meta: adj.Meta,
		})
	}
	for _, adj := range snapshot.Surcharges {
		order.Surcharges = append(order.Surcharges, models.OrderSurcharge{
			Source: adj.Source, Code: adj.Code, Amount: adj.Amount, Meta: adj.Meta,
		})
	}
	for _, adj := range snapshot.Promotions {
		order.Promotions = append(order.Promotions, models.OrderPromotion{
			Source: adj.Source, Code: adj.Code, Amount: adj.Amount, Meta: adj.Meta,
		})
	}
	for _, line := range snapshot.TaxBreakdown {
		order.TaxBreakdown = append(order.TaxBreakdown, models.OrderTaxLine{
			TemplateCode: line.TemplateCode, TaxRate: line.Rate, TaxAmount: line.Amount,
		})
	}

	if req.Delivery != nil {
		order.Delivery = &models.Delivery{
			DeliveryStatus: "pending",
			Address:        req.Delivery.Address,
			ContactName:    req.Delivery.ContactName,
			ContactPhone:   req.Delivery.ContactPhone,
			Provider:       req.Delivery.Provider,
			ScheduledAt:    req.Delivery.ScheduledAt,
		}
	}

	return order
}

// Cancel handles a customer-initiated cancellation. The row lock serializes
// against a racing owner status update; the state is re-read under the lock
// before deciding.
func (s *Service) Cancel(ctx context.Context, principal Principal, orderID string) (*models.Order, error) {
	var result *models.Order

	err := s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.authorizeMutation(principal, order); err != nil {
			return err
		}

		if principal.Role == RoleCustomer && !state.CustomerCancellable(order.Status, order.PaymentStatus) {
			if order.PaymentStatus == models.PaymentPaid {
				return apperrors.NewValidation("paid orders cannot be cancelled")
			}
			return apperrors.NewValidation("cannot cancel an order in status %q", order.Status)
		}

		next, err := state.Next(order.Status, state.TriggerCancel)
		if err != nil {
			return err
		}

		if err := s.store.UpdateOrderStateTx(ctx, tx, orderID, next, order.PaymentStatus); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"from": order.Status,
			"to":   next,
		})
		if err := s.store.AppendOrderEventTx(ctx, tx, &models.OrderEvent{
			OrderID:   orderID,
			EventType: "OrderCancelled",
			ActorID:   principal.UserID,
			Payload:   payload,
		}); err != nil {
			return err
		}

		outboxPayload, _ := json.Marshal(map[string]interface{}{
			"order_id": orderID,
			"actor":    principal.UserID,
			"from":     order.Status,
			"to":       next,
		})
		if err := s.store.AppendOutboxTx(ctx, tx, &models.OutboxEntry{
			AggregateType: "order",
			AggregateID:   orderID,
			EventType:     "order.cancelled",
			Payload:       outboxPayload,
		}); err != nil {
			return err
		}

		order.Status = next
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"actor":    principal.UserID,
	}).Info("Order cancelled")

	return result, nil
}

// UpdateStatus moves an order along the lifecycle on behalf of an owner or
// admin. The requested target status is routed through the shared transition
// table; direct assignment outside the table is rejected.
func (s *Service) UpdateStatus(ctx context.Context, principal Principal, orderID string, target models.OrderStatus) (*models.Order, error) {
	if principal.Role != RoleOwner && principal.Role != RoleAdmin {
		return nil, apperrors.NewForbidden("only owners and admins may update order status")
	}
	if !target.Valid() {
		return nil, apperrors.NewValidation("invalid status %q", target)
	}

	trigger, err := state.TriggerForTarget(target)
	if err != nil {
		return nil, err
	}

	var result *models.Order
	err = s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if principal.Role == RoleOwner && !principal.inRestaurantScope(order.RestaurantID) {
			return apperrors.NewForbidden("order belongs to a restaurant outside your scope")
		}

		next, err := state.Next(order.Status, trigger)
		if err != nil {
			return err
		}

		if err := s.store.UpdateOrderStateTx(ctx, tx, orderID, next, order.PaymentStatus); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"from": order.Status,
			"to":   next,
		})
		if err := s.store.AppendOrderEventTx(ctx, tx, &models.OrderEvent{
			OrderID:   orderID,
			EventType: "OrderStatusChanged",
			ActorID:   principal.UserID,
			Payload:   payload,
		}); err != nil {
			return err
		}

		outboxPayload, _ := json.Marshal(map[string]interface{}{
			"order_id": orderID,
			"actor":    principal.UserID,
			"from":     order.Status,
			"to":       next,
		})
		if err := s.store.AppendOutboxTx(ctx, tx, &models.OutboxEntry{
			AggregateType: "order",
			AggregateID:   orderID,
			EventType:     "order.status_changed",
			Payload:       outboxPayload,
		}); err != nil {
			return err
		}

		order.Status = next
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   result.Status,
		"actor":    principal.UserID,
	}).Info("Order status updated")

	return result, nil
}

// GetOrder is the tenant-scoped read: customers see their own orders only
// (misses read as not-found, not forbidden, to avoid leaking existence),
// owners see orders inside their restaurant scope, admins see everything.
func (s *Service) GetOrder(ctx context.Context, principal Principal, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch principal.Role {
	case RoleCustomer:
		if order.UserID != principal.UserID {
			return nil, apperrors.NewNotFound("order %q not found", orderID)
		}
	case RoleOwner:
		if !principal.inRestaurantScope(order.RestaurantID) {
			return nil, apperrors.NewForbidden("order belongs to a restaurant outside your scope")
		}
	}

	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, principal Principal) ([]*models.Order, error) {
	switch principal.Role {
	case RoleAdmin:
		return s.store.ListAllOrders(ctx)
	case RoleOwner:
		if len(principal.RestaurantIDs) == 0 {
			return nil, apperrors.NewForbidden("owner has no restaurant scope")
		}
		return s.store.ListOrdersByRestaurants(ctx, principal.RestaurantIDs)
	default:
		return s.store.ListOrdersByUser(ctx, principal.UserID)
	}
}

func (s *Service) authorizeMutation(principal Principal, order *models.Order) error {
	switch principal.Role {
	case RoleAdmin:
		return nil
	case RoleOwner:
		if !principal.inRestaurantScope(order.RestaurantID) {
			return apperrors.NewForbidden("order belongs to a restaurant outside your scope")
		}
		return nil
	default:
		if order.UserID != principal.UserID {
			return apperrors.NewNotFound("order %q not found", order.ID)
		}
		return nil
	}
}
