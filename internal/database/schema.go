package database

const postgresSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	order_number VARCHAR(20) NOT NULL UNIQUE,
	customer_id VARCHAR(64) NOT NULL,
	customer_name VARCHAR(255) NOT NULL DEFAULT '',
	customer_email VARCHAR(255) NOT NULL DEFAULT '',
	total NUMERIC(12, 2) NOT NULL CHECK (total >= 0),
	status VARCHAR(20) NOT NULL,
	payment_status VARCHAR(20) NOT NULL,
	payment_method VARCHAR(10) NOT NULL,
	advance_amount NUMERIC(12, 2),
	billing_address_id VARCHAR(64),
	shipping_address_id VARCHAR(64),
	shipping_street TEXT,
	shipping_city VARCHAR(100),
	shipping_state VARCHAR(100),
	shipping_zip VARCHAR(20),
	shipping_country VARCHAR(100),
	tracking_number VARCHAR(100),
	estimated_delivery TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, payment_status);

CREATE TABLE IF NOT EXISTS order_items (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id VARCHAR(64) NOT NULL,
	product_name VARCHAR(255) NOT NULL,
	product_image TEXT,
	quantity INT NOT NULL CHECK (quantity > 0),
	price NUMERIC(12, 2) NOT NULL,
	total NUMERIC(12, 2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);

CREATE TABLE IF NOT EXISTS order_creation_guards (
	customer_id VARCHAR(64) PRIMARY KEY,
	last_attempt_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id BIGSERIAL PRIMARY KEY,
	reference VARCHAR(20) NOT NULL UNIQUE,
	order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	payment_type VARCHAR(10) NOT NULL,
	amount NUMERIC(12, 2) NOT NULL,
	status VARCHAR(20) NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	gateway_order_id VARCHAR(100),
	verified_by VARCHAR(64),
	verified_at TIMESTAMP,
	failure_reason TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_active ON payments(order_id) WHERE active;

CREATE TABLE IF NOT EXISTS payment_online (
	payment_id BIGINT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
	transaction_id VARCHAR(100) NOT NULL UNIQUE,
	gateway_name VARCHAR(50) NOT NULL,
	gateway_response JSONB,
	refund_id VARCHAR(100),
	refund_amount NUMERIC(12, 2),
	refund_status VARCHAR(20)
);

CREATE TABLE IF NOT EXISTS payment_offline (
	payment_id BIGINT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
	proof_reference TEXT NOT NULL,
	bank_name VARCHAR(100),
	account_number VARCHAR(50),
	transaction_reference VARCHAR(100),
	notes TEXT,
	submitted_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_cod (
	payment_id BIGINT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
	advance_amount NUMERIC(12, 2) NOT NULL,
	advance_verified BOOLEAN NOT NULL DEFAULT FALSE,
	advance_proof_reference TEXT,
	delivery_charges NUMERIC(12, 2) NOT NULL DEFAULT 0,
	advance_verified_by VARCHAR(64),
	advance_verified_at TIMESTAMP,
	collected_amount NUMERIC(12, 2),
	collected_at TIMESTAMP,
	notes TEXT
);

CREATE TABLE IF NOT EXISTS invoices (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	invoice_number VARCHAR(50) NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS shipment_details (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	carrier VARCHAR(100) NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_messages (
	id BIGSERIAL PRIMARY KEY,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(50) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP,
	processing_attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);

CREATE TABLE IF NOT EXISTS dead_letter_messages (
	id BIGSERIAL PRIMARY KEY,
	original_message_id BIGINT NOT NULL,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(50) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	error_message TEXT NOT NULL,
	failure_reason TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	last_retry_at TIMESTAMP,
	status VARCHAR(20) NOT NULL,
	created_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dead_letter_status ON dead_letter_messages(status);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_number TEXT NOT NULL UNIQUE,
	customer_id TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	total NUMERIC NOT NULL CHECK (total >= 0),
	status TEXT NOT NULL,
	payment_status TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	advance_amount NUMERIC,
	billing_address_id TEXT,
	shipping_address_id TEXT,
	shipping_street TEXT,
	shipping_city TEXT,
	shipping_state TEXT,
	shipping_zip TEXT,
	shipping_country TEXT,
	tracking_number TEXT,
	estimated_delivery TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, payment_status);

CREATE TABLE IF NOT EXISTS order_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL,
	product_image TEXT,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	price NUMERIC NOT NULL,
	total NUMERIC NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);

CREATE TABLE IF NOT EXISTS order_creation_guards (
	customer_id TEXT PRIMARY KEY,
	last_attempt_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reference TEXT NOT NULL UNIQUE,
	order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	payment_type TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	status TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	gateway_order_id TEXT,
	verified_by TEXT,
	verified_at TIMESTAMP,
	failure_reason TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_active ON payments(order_id) WHERE active;

CREATE TABLE IF NOT EXISTS payment_online (
	payment_id INTEGER PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
	transaction_id TEXT NOT NULL UNIQUE,
	gateway_name TEXT NOT NULL,
	gateway_response TEXT,
	refund_id TEXT,
	refund_amount NUMERIC,
	refund_status TEXT
);

CREATE TABLE IF NOT EXISTS payment_offline (
	payment_id INTEGER PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
	proof_reference TEXT NOT NULL,
	bank_name TEXT,
	account_number TEXT,
	transaction_reference TEXT,
	notes TEXT,
	submitted_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_cod (
	payment_id INTEGER PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
	advance_amount NUMERIC NOT NULL,
	advance_verified BOOLEAN NOT NULL DEFAULT 0,
	advance_proof_reference TEXT,
	delivery_charges NUMERIC NOT NULL DEFAULT 0,
	advance_verified_by TEXT,
	advance_verified_at TIMESTAMP,
	collected_amount NUMERIC,
	collected_at TIMESTAMP,
	notes TEXT
);

CREATE TABLE IF NOT EXISTS invoices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	invoice_number TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS shipment_details (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	carrier TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP,
	processing_attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);

CREATE TABLE IF NOT EXISTS dead_letter_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_message_id INTEGER NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	error_message TEXT NOT NULL,
	failure_reason TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_retry_at TIMESTAMP,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dead_letter_status ON dead_letter_messages(status);
`
