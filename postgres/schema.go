package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func CreateTiersTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ticket_tiers (
		tier_id VARCHAR(64) PRIMARY KEY,
		event_function_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL,
		quantity_sold INTEGER NOT NULL DEFAULT 0,
		quantity_held INTEGER NOT NULL DEFAULT 0,
		price_amount NUMERIC(12, 2) NOT NULL,
		price_currency CHAR(3) NOT NULL,
		hidden BOOLEAN NOT NULL DEFAULT FALSE,
		stage_group VARCHAR(64),
		stage_order INTEGER NOT NULL DEFAULT 0,
		sales_start TIMESTAMPTZ,
		sales_end TIMESTAMPTZ,
		CHECK (quantity_sold >= 0 AND quantity_held >= 0),
		CHECK (quantity_sold + quantity_held <= quantity)
	);`)
	return err
}

func CreateHoldsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tier_holds (
		token UUID PRIMARY KEY,
		tier_id VARCHAR(64) NOT NULL REFERENCES ticket_tiers (tier_id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`)
	return err
}

func CreateOrdersTables(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS orders (
		order_id UUID PRIMARY KEY,
		checkout_id VARCHAR(64) NOT NULL UNIQUE,
		event_function_id VARCHAR(64) NOT NULL,
		buyer_ref VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		subtotal_amount NUMERIC(12, 2) NOT NULL,
		service_fee_amount NUMERIC(12, 2) NOT NULL,
		total_amount NUMERIC(12, 2) NOT NULL,
		currency CHAR(3) NOT NULL,
		transaction_id VARCHAR(255),
		failure_reason VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`)
	if err != nil {
		return fmt.Errorf("creating orders table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS order_lines (
		order_id UUID NOT NULL REFERENCES orders (order_id),
		tier_id VARCHAR(64) NOT NULL,
		tier_name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price_amount NUMERIC(12, 2) NOT NULL,
		unit_price_currency CHAR(3) NOT NULL,
		PRIMARY KEY (order_id, tier_id)
	);`)
	if err != nil {
		return fmt.Errorf("creating order lines table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS issued_tickets (
		code VARCHAR(32) PRIMARY KEY,
		tier_id VARCHAR(64) NOT NULL,
		order_id UUID REFERENCES orders (order_id),
		status VARCHAR(16) NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("creating issued tickets table: %w", err)
	}

	return nil
}

// InitializeSchema creates every table the service needs.
func InitializeSchema(ctx context.Context, db *sqlx.DB) error {
	if err := CreateTiersTable(ctx, db); err != nil {
		return fmt.Errorf("creating tiers table: %w", err)
	}
	if err := CreateHoldsTable(ctx, db); err != nil {
		return fmt.Errorf("creating holds table: %w", err)
	}
	if err := CreateOrdersTables(ctx, db); err != nil {
		return err
	}
	return nil
}

func runInTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
