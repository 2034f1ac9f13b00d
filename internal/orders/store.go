package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewStore(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateOrder persists the full order graph in one transaction: the order
// row, every item with its options and tax lines, the order-level
// adjustments, the optional delivery record, the OrderCreated audit event,
// revision 1 and the outbox entries. Any failed insert rolls back everything.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, outbox []*models.OutboxEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, restaurant_id, branch_id, source, fulfillment_type,
			status, payment_status, items_subtotal, items_discount, order_discount,
			surcharges_total, shipping_fee, tax_total, tip_amount, total_amount,
			currency, promo_code, note, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		order.ID, order.UserID, order.RestaurantID, nullString(order.BranchID),
		order.Source, order.FulfillmentType, order.Status, order.PaymentStatus,
		order.ItemsSubtotal, order.ItemsDiscount, order.OrderDiscount,
		order.SurchargesTotal, order.ShippingFee, order.TaxTotal, order.TipAmount,
		order.TotalAmount, order.Currency, nullString(order.PromoCode),
		nullString(order.Note), nullableJSON(order.Metadata), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price, total_price, product_snapshot)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			order.ID, item.ProductID, nullString(item.VariantID), item.Quantity,
			item.UnitPrice, item.TotalPrice, nullableJSON(item.ProductSnapshot)).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}

		for j := range item.Options {
			opt := &item.Options[j]
			opt.OrderItemID = item.ID
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_item_options (order_item_id, option_group_name, option_item_name, price_delta)
				VALUES ($1, $2, $3, $4)`,
				item.ID, opt.OptionGroupName, opt.OptionItemName, opt.PriceDelta)
			if err != nil {
				return fmt.Errorf("failed to insert order item option: %w", err)
			}
		}

		for j := range item.Taxes {
			taxLine := &item.Taxes[j]
			taxLine.OrderItemID = item.ID
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_item_tax_breakdowns (order_item_id, tax_template_code, tax_rate, tax_amount)
				VALUES ($1, $2, $3, $4)`,
				item.ID, taxLine.TemplateCode, taxLine.TaxRate, taxLine.TaxAmount)
			if err != nil {
				return fmt.Errorf("failed to insert order item tax: %w", err)
			}
		}
	}

	for _, d := range order.Discounts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_discounts (order_id, source, code, amount, meta)
			VALUES ($1, $2, $3, $4, $5)`,
			order.ID, d.Source, nullString(d.Code), d.Amount, nullableJSON(d.Meta))
		if err != nil {
			return fmt.Errorf("failed to insert order discount: %w", err)
		}
	}

	for _, sc := range order.Surcharges {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_surcharges (order_id, source, code, amount, meta)
			VALUES ($1, $2, $3, $4, $5)`,
			order.ID, sc.Source, nullString(sc.Code), sc.Amount, nullableJSON(sc.Meta))
		if err != nil {
			return fmt.Errorf("failed to insert order surcharge: %w", err)
		}
	}

	for _, p := range order.Promotions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_promotions (order_id, source, code, amount, meta)
			VALUES ($1, $2, $3, $4, $5)`,
			order.ID, p.Source, nullString(p.Code), p.Amount, nullableJSON(p.Meta))
		if err != nil {
			return fmt.Errorf("failed to insert order promotion: %w", err)
		}
	}

	for _, line := range order.TaxBreakdown {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_tax_breakdowns (order_id, tax_template_code, tax_rate, tax_amount)
			VALUES ($1, $2, $3, $4)`,
			order.ID, line.TemplateCode, line.TaxRate, line.TaxAmount)
		if err != nil {
			return fmt.Errorf("failed to insert order tax breakdown: %w", err)
		}
	}

	if order.Delivery != nil {
		d := order.Delivery
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deliveries (order_id, delivery_status, address, contact_name, contact_phone, provider, scheduled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, d.DeliveryStatus, d.Address, nullString(d.ContactName),
			nullString(d.ContactPhone), nullString(d.Provider), d.ScheduledAt)
		if err != nil {
			return fmt.Errorf("failed to insert delivery: %w", err)
		}
	}

	createdPayload, _ := json.Marshal(map[string]interface{}{
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"total_amount":   order.TotalAmount,
		"currency":       order.Currency,
	})
	if err := appendOrderEventTx(ctx, tx, &models.OrderEvent{
		OrderID:   order.ID,
		EventType: "OrderCreated",
		ActorID:   order.UserID,
		Payload:   createdPayload,
	}); err != nil {
		return err
	}

	snapshot, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order revision snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_revisions (order_id, rev_no, snapshot, created_at)
		VALUES ($1, $2, $3, $4)`,
		order.ID, 1, snapshot, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert order revision: %w", err)
	}

	for _, entry := range outbox {
		if err := appendOutboxTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// WithinTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// LockOrder acquires a row lock on the order so concurrent mutators
// serialize and re-read current state before deciding.
func (s *Store) LockOrder(ctx context.Context, tx *sql.Tx, orderID string) (*models.Order, error) {
	order := &models.Order{}
	var branchID, promoCode, note sql.NullString

	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, restaurant_id, branch_id, status, payment_status,
			total_amount, currency, promo_code, note, created_at, updated_at
		FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(
		&order.ID, &order.UserID, &order.RestaurantID, &branchID,
		&order.Status, &order.PaymentStatus, &order.TotalAmount, &order.Currency,
		&promoCode, &note, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("order %q not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	order.BranchID = branchID.String
	order.PromoCode = promoCode.String
	order.Note = note.String
	return order, nil
}

func (s *Store) UpdateOrderStateTx(ctx context.Context, tx *sql.Tx, orderID string, status models.OrderStatus, payment models.PaymentStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, payment_status = $2, updated_at = $3 WHERE id = $4`,
		status, payment, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}
	return nil
}

func (s *Store) AppendOrderEventTx(ctx context.Context, tx *sql.Tx, event *models.OrderEvent) error {
	return appendOrderEventTx(ctx, tx, event)
}

func (s *Store) AppendOutboxTx(ctx context.Context, tx *sql.Tx, entry *models.OutboxEntry) error {
	return appendOutboxTx(ctx, tx, entry)
}

func appendOrderEventTx(ctx context.Context, tx *sql.Tx, event *models.OrderEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (order_id, event_type, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.OrderID, event.EventType, nullString(event.ActorID),
		nullableJSON(event.Payload), time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert order event: %w", err)
	}
	return nil
}

func appendOutboxTx(ctx context.Context, tx *sql.Tx, entry *models.OutboxEntry) error {
	// The event id is fixed at insert so every publish attempt for this
	// row carries the same id and downstream dedup works across retries.
	if entry.EventID == "" {
		entry.EventID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.EventID, entry.AggregateType, entry.AggregateID, entry.EventType, entry.Payload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// FetchUnpublished returns outbox rows the drain worker still needs to
// deliver, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox WHERE published_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		var entry models.OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.AggregateType, &entry.AggregateID,
			&entry.EventType, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry published: %w", err)
	}
	return nil
}

// GetOrder loads the full order graph.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order := &models.Order{}
	var branchID, promoCode, note sql.NullString
	var metadata []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, restaurant_id, branch_id, source, fulfillment_type,
			status, payment_status, items_subtotal, items_discount, order_discount,
			surcharges_total, shipping_fee, tax_total, tip_amount, total_amount,
			currency, promo_code, note, metadata, created_at, updated_at
		FROM orders WHERE id = $1`, orderID).Scan(
		&order.ID, &order.UserID, &order.RestaurantID, &branchID, &order.Source,
		&order.FulfillmentType, &order.Status, &order.PaymentStatus,
		&order.ItemsSubtotal, &order.ItemsDiscount, &order.OrderDiscount,
		&order.SurchargesTotal, &order.ShippingFee, &order.TaxTotal,
		&order.TipAmount, &order.TotalAmount, &order.Currency, &promoCode,
		&note, &metadata, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("order %q not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	order.BranchID = branchID.String
	order.PromoCode = promoCode.String
	order.Note = note.String
	order.Metadata = metadata

	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	if err := s.loadAdjustments(ctx, order); err != nil {
		return nil, err
	}
	if err := s.loadDelivery(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, variant_id, quantity, unit_price, total_price, product_snapshot
		FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	itemIndex := make(map[int64]int)
	for rows.Next() {
		var item models.OrderItem
		var variantID sql.NullString
		var snapshot []byte
		if err := rows.Scan(&item.ID, &item.ProductID, &variantID, &item.Quantity,
			&item.UnitPrice, &item.TotalPrice, &snapshot); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		item.OrderID = order.ID
		item.VariantID = variantID.String
		item.ProductSnapshot = snapshot
		itemIndex[item.ID] = len(order.Items)
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}

	itemIDs := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		itemIDs = append(itemIDs, item.ID)
	}

	optRows, err := s.db.QueryContext(ctx, `
		SELECT id, order_item_id, option_group_name, option_item_name, price_delta
		FROM order_item_options WHERE order_item_id = ANY($1) ORDER BY id`, pq.Array(itemIDs))
	if err != nil {
		return fmt.Errorf("failed to query order item options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var opt models.OrderItemOption
		if err := optRows.Scan(&opt.ID, &opt.OrderItemID, &opt.OptionGroupName,
			&opt.OptionItemName, &opt.PriceDelta); err != nil {
			return fmt.Errorf("failed to scan order item option: %w", err)
		}
		if idx, ok := itemIndex[opt.OrderItemID]; ok {
			order.Items[idx].Options = append(order.Items[idx].Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return err
	}

	taxRows, err := s.db.QueryContext(ctx, `
		SELECT id, order_item_id, tax_template_code, tax_rate, tax_amount
		FROM order_item_tax_breakdowns WHERE order_item_id = ANY($1) ORDER BY id`, pq.Array(itemIDs))
	if err != nil {
		return fmt.Errorf("failed to query order item taxes: %w", err)
	}
	defer taxRows.Close()

	for taxRows.Next() {
		var taxLine models.OrderItemTax
		if err := taxRows.Scan(&taxLine.ID, &taxLine.OrderItemID, &taxLine.TemplateCode,
			&taxLine.TaxRate, &taxLine.TaxAmount); err != nil {
			return fmt.Errorf("failed to scan order item tax: %w", err)
		}
		if idx, ok := itemIndex[taxLine.OrderItemID]; ok {
			order.Items[idx].Taxes = append(order.Items[idx].Taxes, taxLine)
		}
	}
	return taxRows.Err()
}

func (s *Store) loadAdjustments(ctx context.Context, order *models.Order) error {
	discountRows, err := s.db.QueryContext(ctx, `
		SELECT id, source, code, amount, meta FROM order_discounts WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to query order discounts: %w", err)
	}
	defer discountRows.Close()
	for discountRows.Next() {
		var d models.OrderDiscount
		var code sql.NullString
		var meta []byte
		if err := discountRows.Scan(&d.ID, &d.Source, &code, &d.Amount, &meta); err != nil {
			return fmt.Errorf("failed to scan order discount: %w", err)
		}
		d.OrderID = order.ID
		d.Code = code.String
		d.Meta = meta
		order.Discounts = append(order.Discounts, d)
	}
	if err := discountRows.Err(); err != nil {
		return err
	}

	surchargeRows, err := s.db.QueryContext(ctx, `
		SELECT id, source, code, amount, meta FROM order_surcharges WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to query order surcharges: %w", err)
	}
	defer surchargeRows.Close()
	for surchargeRows.Next() {
		var sc models.OrderSurcharge
		var code sql.NullString
		var meta []byte
		if err := surchargeRows.Scan(&sc.ID, &sc.Source, &code, &sc.Amount, &meta); err != nil {
			return fmt.Errorf("failed to scan order surcharge: %w", err)
		}
		sc.OrderID = order.ID
		sc.Code = code.String
		sc.Meta = meta
		order.Surcharges = append(order.Surcharges, sc)
	}
	if err := surchargeRows.Err(); err != nil {
		return err
	}

	promoRows, err := s.db.QueryContext(ctx, `
		SELECT id, source, code, amount, meta FROM order_promotions WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to query order promotions: %w", err)
	}
	defer promoRows.Close()
	for promoRows.Next() {
		var p models.OrderPromotion
		var code sql.NullString
		var meta []byte
		if err := promoRows.Scan(&p.ID, &p.Source, &code, &p.Amount, &meta); err != nil {
			return fmt.Errorf("failed to scan order promotion: %w", err)
		}
		p.OrderID = order.ID
		p.Code = code.String
		p.Meta = meta
		order.Promotions = append(order.Promotions, p)
	}
	if err := promoRows.Err(); err != nil {
		return err
	}

	taxRows, err := s.db.QueryContext(ctx, `
		SELECT id, tax_template_code, tax_rate, tax_amount FROM order_tax_breakdowns WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to query order tax breakdown: %w", err)
	}
	defer taxRows.Close()
	for taxRows.Next() {
		var line models.OrderTaxLine
		if err := taxRows.Scan(&line.ID, &line.TemplateCode, &line.TaxRate, &line.TaxAmount); err != nil {
			return fmt.Errorf("failed to scan order tax line: %w", err)
		}
		line.OrderID = order.ID
		order.TaxBreakdown = append(order.TaxBreakdown, line)
	}
	return taxRows.Err()
}

func (s *Store) loadDelivery(ctx context.Context, order *models.Order) error {
	var d models.Delivery
	var contactName, contactPhone, provider, proof sql.NullString
	var scheduledAt, deliveredAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, delivery_status, address, contact_name, contact_phone, provider, proof, scheduled_at, delivered_at
		FROM deliveries WHERE order_id = $1`, order.ID).Scan(
		&d.ID, &d.DeliveryStatus, &d.Address, &contactName, &contactPhone,
		&provider, &proof, &scheduledAt, &deliveredAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query delivery: %w", err)
	}

	d.OrderID = order.ID
	d.ContactName = contactName.String
	d.ContactPhone = contactPhone.String
	d.Provider = provider.String
	d.Proof = proof.String
	if scheduledAt.Valid {
		d.ScheduledAt = &scheduledAt.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	order.Delivery = &d
	return nil
}

// ListOrdersByUser returns order headers for one customer, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.listOrders(ctx, `
		SELECT id, user_id, restaurant_id, status, payment_status, total_amount, currency, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListOrdersByRestaurants returns order headers across an owner's
// restaurant scope, newest first.
func (s *Store) ListOrdersByRestaurants(ctx context.Context, restaurantIDs []string) ([]*models.Order, error) {
	return s.listOrders(ctx, `
		SELECT id, user_id, restaurant_id, status, payment_status, total_amount, currency, created_at
		FROM orders WHERE restaurant_id = ANY($1) ORDER BY created_at DESC`, pq.Array(restaurantIDs))
}

// ListAllOrders returns order headers platform-wide, newest first.
func (s *Store) ListAllOrders(ctx context.Context) ([]*models.Order, error) {
	return s.listOrders(ctx, `
		SELECT id, user_id, restaurant_id, status, payment_status, total_amount, currency, created_at
		FROM orders ORDER BY created_at DESC`)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		if err := rows.Scan(&order.ID, &order.UserID, &order.RestaurantID,
			&order.Status, &order.PaymentStatus, &order.TotalAmount,
			&order.Currency, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
