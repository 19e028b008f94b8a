package postgres

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	phone       TEXT NOT NULL DEFAULT '',
	tag         TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	total_qty   BIGINT NOT NULL DEFAULT 0,
	total_bill  NUMERIC NOT NULL DEFAULT 0,
	total_cash  NUMERIC NOT NULL DEFAULT 0,
	total_due   NUMERIC NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS customer_transactions (
	customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	position    INT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	qty         BIGINT NOT NULL DEFAULT 0,
	bill        NUMERIC NOT NULL DEFAULT 0,
	cash        NUMERIC NOT NULL DEFAULT 0,
	due         NUMERIC NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (customer_id, id)
);

CREATE INDEX IF NOT EXISTS idx_customer_transactions_position ON customer_transactions (customer_id, position);

CREATE TABLE IF NOT EXISTS recycle_bin (
	id            TEXT PRIMARY KEY,
	entity_type   TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	payload       JSONB NOT NULL,
	deleted_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	seq             BIGSERIAL PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	action          TEXT NOT NULL,
	entity_id       TEXT NOT NULL DEFAULT '',
	payload         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INT NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	enqueued_at     TIMESTAMPTZ NOT NULL,
	last_attempt_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS app_settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
