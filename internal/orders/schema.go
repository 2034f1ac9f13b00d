package orders

import "database/sql"

// EnsureSchema creates the order-core tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			restaurant_id VARCHAR(64) NOT NULL,
			branch_id VARCHAR(64),
			source VARCHAR(32) NOT NULL,
			fulfillment_type VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			payment_status VARCHAR(32) NOT NULL,
			items_subtotal DECIMAL(14,2) NOT NULL,
			items_discount DECIMAL(14,2) NOT NULL,
			order_discount DECIMAL(14,2) NOT NULL,
			surcharges_total DECIMAL(14,2) NOT NULL,
			shipping_fee DECIMAL(14,2) NOT NULL,
			tax_total DECIMAL(14,2) NOT NULL,
			tip_amount DECIMAL(14,2) NOT NULL,
			total_amount DECIMAL(14,2) NOT NULL,
			currency VARCHAR(8) NOT NULL,
			promo_code VARCHAR(64),
			note TEXT,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			product_id VARCHAR(64) NOT NULL,
			variant_id VARCHAR(64),
			quantity INTEGER NOT NULL,
			unit_price DECIMAL(14,2) NOT NULL,
			total_price DECIMAL(14,2) NOT NULL,
			product_snapshot JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS order_item_options (
			id SERIAL PRIMARY KEY,
			order_item_id INTEGER NOT NULL REFERENCES order_items(id),
			option_group_name VARCHAR(128) NOT NULL,
			option_item_name VARCHAR(128) NOT NULL,
			price_delta DECIMAL(14,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_item_tax_breakdowns (
			id SERIAL PRIMARY KEY,
			order_item_id INTEGER NOT NULL REFERENCES order_items(id),
			tax_template_code VARCHAR(64) NOT NULL,
			tax_rate DECIMAL(7,4) NOT NULL,
			tax_amount DECIMAL(14,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_discounts (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			source VARCHAR(64) NOT NULL,
			code VARCHAR(64),
			amount DECIMAL(14,2) NOT NULL,
			meta JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS order_surcharges (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			source VARCHAR(64) NOT NULL,
			code VARCHAR(64),
			amount DECIMAL(14,2) NOT NULL,
			meta JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS order_promotions (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			source VARCHAR(64) NOT NULL,
			code VARCHAR(64),
			amount DECIMAL(14,2) NOT NULL,
			meta JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS order_tax_breakdowns (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			tax_template_code VARCHAR(64) NOT NULL,
			tax_rate DECIMAL(7,4) NOT NULL,
			tax_amount DECIMAL(14,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			delivery_status VARCHAR(32) NOT NULL,
			address TEXT NOT NULL,
			contact_name VARCHAR(128),
			contact_phone VARCHAR(32),
			provider VARCHAR(64),
			proof TEXT,
			scheduled_at TIMESTAMP,
			delivered_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			event_type VARCHAR(64) NOT NULL,
			actor_id VARCHAR(64),
			payload JSONB,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_revisions (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			rev_no INTEGER NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id SERIAL PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL,
			aggregate_type VARCHAR(64) NOT NULL,
			aggregate_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			published_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_restaurant_id ON orders(restaurant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox(id) WHERE published_at IS NULL`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
