// Package postgres implements the store ports on PostgreSQL. Serialization
// of read-modify-write cycles relies on row locks (SELECT ... FOR UPDATE),
// so two transactions against the same product or order queue up instead of
// losing updates.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			stock           INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			alert_threshold INT NOT NULL DEFAULT 0,
			threshold_set   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS stock_history (
			id             TEXT PRIMARY KEY,
			product_id     TEXT NOT NULL REFERENCES products(id),
			delta          INT NOT NULL,
			direction      TEXT NOT NULL,
			reason         TEXT NOT NULL,
			reference      TEXT NOT NULL DEFAULT '',
			previous_stock INT NOT NULL,
			new_stock      INT NOT NULL,
			recorded_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS stock_history_product_idx
			ON stock_history (product_id, recorded_at);

		CREATE TABLE IF NOT EXISTS orders (
			id           TEXT PRIMARY KEY,
			customer_id  TEXT NOT NULL DEFAULT '',
			total_amount NUMERIC(20,4) NOT NULL,
			status       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payments (
			id             TEXT PRIMARY KEY,
			order_id       TEXT NOT NULL UNIQUE REFERENCES orders(id),
			amount         NUMERIC(20,4) NOT NULL,
			method         TEXT NOT NULL,
			status         TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}
