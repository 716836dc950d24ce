package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"boxoffice/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	holdHeld      = "held"
	holdCommitted = "committed"
	holdReleased  = "released"
)

// Ledger keeps hold and sale counters on the ticket_tiers row. Every
// check-and-reserve is a single conditional UPDATE, so concurrent holds on
// the same tier serialize on the row lock and unrelated tiers never block
// each other.
type Ledger struct {
	db *sqlx.DB
}

func NewLedger(db *sqlx.DB) Ledger {
	return Ledger{
		db: db,
	}
}

func (l Ledger) TryHold(ctx context.Context, tierID string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", entity.ErrInvalidSelection, quantity)
	}

	token := uuid.NewString()

	err := runInTx(ctx, l.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE ticket_tiers
			SET quantity_held = quantity_held + $2
			WHERE tier_id = $1 AND quantity - quantity_sold - quantity_held >= $2`,
			tierID, quantity)
		if err != nil {
			return fmt.Errorf("reserving tickets: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return l.rejection(ctx, tx, tierID, quantity)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO tier_holds
			(token, tier_id, quantity, status)
			VALUES ($1, $2, $3, $4)`,
			token, tierID, quantity, holdHeld)
		if err != nil {
			return fmt.Errorf("inserting hold: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

func (l Ledger) rejection(ctx context.Context, tx *sqlx.Tx, tierID string, quantity int) error {
	var available int
	err := tx.GetContext(ctx, &available, `SELECT quantity - quantity_sold - quantity_held
		FROM ticket_tiers WHERE tier_id = $1`, tierID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", entity.ErrTierNotFound, tierID)
	}
	if err != nil {
		return fmt.Errorf("counting tickets available: %w", err)
	}

	return entity.InsufficientInventoryError{
		TierID:    tierID,
		Available: available,
		Requested: quantity,
	}
}

type holdRow struct {
	TierID   string `db:"tier_id"`
	Quantity int    `db:"quantity"`
	Status   string `db:"status"`
}

func lockHold(ctx context.Context, tx *sqlx.Tx, token string) (holdRow, error) {
	var h holdRow
	err := tx.GetContext(ctx, &h, `SELECT tier_id, quantity, status
		FROM tier_holds WHERE token = $1 FOR UPDATE`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return holdRow{}, fmt.Errorf("%w: %s", entity.ErrHoldNotFound, token)
	}
	if err != nil {
		return holdRow{}, fmt.Errorf("selecting hold: %w", err)
	}
	return h, nil
}

func setHoldStatus(ctx context.Context, tx *sqlx.Tx, token, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tier_holds SET status = $2 WHERE token = $1`, token, status)
	if err != nil {
		return fmt.Errorf("updating hold status: %w", err)
	}
	return nil
}

func (l Ledger) Commit(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("%w: %s", entity.ErrHoldNotFound, token)
	}

	return runInTx(ctx, l.db, nil, func(tx *sqlx.Tx) error {
		h, err := lockHold(ctx, tx, token)
		if err != nil {
			return err
		}

		switch h.Status {
		case holdCommitted:
			return nil
		case holdReleased:
			return fmt.Errorf("%w: %s", entity.ErrHoldReleased, token)
		}

		_, err = tx.ExecContext(ctx, `UPDATE ticket_tiers
			SET quantity_held = quantity_held - $2, quantity_sold = quantity_sold + $2
			WHERE tier_id = $1`,
			h.TierID, h.Quantity)
		if err != nil {
			return fmt.Errorf("moving held tickets to sold: %w", err)
		}

		return setHoldStatus(ctx, tx, token, holdCommitted)
	})
}

func (l Ledger) Release(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("%w: %s", entity.ErrHoldNotFound, token)
	}

	return runInTx(ctx, l.db, nil, func(tx *sqlx.Tx) error {
		h, err := lockHold(ctx, tx, token)
		if err != nil {
			return err
		}

		if h.Status != holdHeld {
			return nil
		}

		_, err = tx.ExecContext(ctx, `UPDATE ticket_tiers
			SET quantity_held = quantity_held - $2
			WHERE tier_id = $1`,
			h.TierID, h.Quantity)
		if err != nil {
			return fmt.Errorf("releasing held tickets: %w", err)
		}

		return setHoldStatus(ctx, tx, token, holdReleased)
	})
}

func (l Ledger) Revert(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("%w: %s", entity.ErrHoldNotFound, token)
	}

	return runInTx(ctx, l.db, nil, func(tx *sqlx.Tx) error {
		h, err := lockHold(ctx, tx, token)
		if err != nil {
			return err
		}

		var query string
		switch h.Status {
		case holdHeld:
			query = `UPDATE ticket_tiers SET quantity_held = quantity_held - $2 WHERE tier_id = $1`
		case holdCommitted:
			query = `UPDATE ticket_tiers SET quantity_sold = quantity_sold - $2 WHERE tier_id = $1`
		default:
			return nil
		}

		if _, err := tx.ExecContext(ctx, query, h.TierID, h.Quantity); err != nil {
			return fmt.Errorf("reverting hold: %w", err)
		}

		return setHoldStatus(ctx, tx, token, holdReleased)
	})
}

// ExpireHolds releases every hold still held that was placed before
// olderThan. It backs up the session sweeper for holds whose session
// record is gone.
func (l Ledger) ExpireHolds(ctx context.Context, olderThan time.Time) (int, error) {
	var expired int

	err := runInTx(ctx, l.db, nil, func(tx *sqlx.Tx) error {
		var holds []struct {
			Token    string `db:"token"`
			TierID   string `db:"tier_id"`
			Quantity int    `db:"quantity"`
		}
		err := tx.SelectContext(ctx, &holds, `SELECT token, tier_id, quantity
			FROM tier_holds
			WHERE status = $1 AND created_at < $2
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED`,
			holdHeld, olderThan)
		if err != nil {
			return fmt.Errorf("selecting stale holds: %w", err)
		}

		for _, h := range holds {
			_, err := tx.ExecContext(ctx, `UPDATE ticket_tiers
				SET quantity_held = quantity_held - $2
				WHERE tier_id = $1`,
				h.TierID, h.Quantity)
			if err != nil {
				return fmt.Errorf("releasing stale hold %s: %w", h.Token, err)
			}

			if err := setHoldStatus(ctx, tx, h.Token, holdReleased); err != nil {
				return err
			}
		}

		expired = len(holds)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return expired, nil
}

func (l Ledger) AvailabilityOf(ctx context.Context, tierID string) (int, error) {
	var available int
	err := l.db.GetContext(ctx, &available, `SELECT quantity - quantity_sold - quantity_held
		FROM ticket_tiers WHERE tier_id = $1`, tierID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", entity.ErrTierNotFound, tierID)
	}
	if err != nil {
		return 0, fmt.Errorf("counting tickets available: %w", err)
	}

	return available, nil
}
