package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"boxoffice/entity"
	"boxoffice/event"
	"boxoffice/message"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type OrderRepo struct {
	db     *sqlx.DB
	logger watermill.LoggerAdapter
}

func NewOrderRepo(db *sqlx.DB, logger watermill.LoggerAdapter) OrderRepo {
	return OrderRepo{
		db:     db,
		logger: logger,
	}
}

func (r OrderRepo) Create(ctx context.Context, order entity.Order) error {
	return runInTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO orders
			(order_id, checkout_id, event_function_id, buyer_ref, status,
			subtotal_amount, service_fee_amount, total_amount, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			order.ID, order.CheckoutID, order.EventFunctionID, order.BuyerRef, entity.OrderPending,
			order.Breakdown.Subtotal.Amount, order.Breakdown.ServiceFee.Amount, order.Breakdown.Total.Amount,
			order.Breakdown.Total.Currency, order.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		for _, line := range order.Lines {
			_, err := tx.ExecContext(ctx, `INSERT INTO order_lines
				(order_id, tier_id, tier_name, quantity, unit_price_amount, unit_price_currency)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				order.ID, line.TierID, line.TierName, line.Quantity, line.UnitPrice.Amount, line.UnitPrice.Currency)
			if err != nil {
				return fmt.Errorf("inserting order line for tier %s: %w", line.TierID, err)
			}
		}

		return nil
	})
}

type orderRow struct {
	ID               string          `db:"order_id"`
	CheckoutID       string          `db:"checkout_id"`
	EventFunctionID  string          `db:"event_function_id"`
	BuyerRef         string          `db:"buyer_ref"`
	Status           string          `db:"status"`
	SubtotalAmount   decimal.Decimal `db:"subtotal_amount"`
	ServiceFeeAmount decimal.Decimal `db:"service_fee_amount"`
	TotalAmount      decimal.Decimal `db:"total_amount"`
	Currency         string          `db:"currency"`
	TransactionID    sql.NullString  `db:"transaction_id"`
	FailureReason    sql.NullString  `db:"failure_reason"`
	CreatedAt        sql.NullTime    `db:"created_at"`
}

type orderLineRow struct {
	TierID            string          `db:"tier_id"`
	TierName          string          `db:"tier_name"`
	Quantity          int             `db:"quantity"`
	UnitPriceAmount   decimal.Decimal `db:"unit_price_amount"`
	UnitPriceCurrency string          `db:"unit_price_currency"`
}

func (r OrderRepo) Get(ctx context.Context, orderID string) (entity.Order, error) {
	return getOrder(ctx, r.db, orderID)
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, orderID string) (entity.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT order_id, checkout_id, event_function_id, buyer_ref, status,
		subtotal_amount, service_fee_amount, total_amount, currency, transaction_id, failure_reason, created_at
		FROM orders WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Order{}, fmt.Errorf("order %s not found", orderID)
	}
	if err != nil {
		return entity.Order{}, fmt.Errorf("selecting order: %w", err)
	}

	var lines []orderLineRow
	err = sqlx.SelectContext(ctx, q, &lines, `SELECT tier_id, tier_name, quantity, unit_price_amount, unit_price_currency
		FROM order_lines WHERE order_id = $1 ORDER BY tier_id`, orderID)
	if err != nil {
		return entity.Order{}, fmt.Errorf("selecting order lines: %w", err)
	}

	order := entity.Order{
		ID:              row.ID,
		CheckoutID:      row.CheckoutID,
		EventFunctionID: row.EventFunctionID,
		BuyerRef:        row.BuyerRef,
		Status:          entity.OrderStatus(row.Status),
		Breakdown: entity.Breakdown{
			Subtotal:   entity.Money{Amount: row.SubtotalAmount, Currency: row.Currency},
			ServiceFee: entity.Money{Amount: row.ServiceFeeAmount, Currency: row.Currency},
			Total:      entity.Money{Amount: row.TotalAmount, Currency: row.Currency},
		},
		TransactionID: row.TransactionID.String,
		FailureReason: row.FailureReason.String,
		CreatedAt:     row.CreatedAt.Time,
	}
	for _, l := range lines {
		order.Lines = append(order.Lines, entity.OrderLine{
			TierID:   l.TierID,
			TierName: l.TierName,
			Quantity: l.Quantity,
			UnitPrice: entity.Money{
				Amount:   l.UnitPriceAmount,
				Currency: l.UnitPriceCurrency,
			},
		})
	}

	return order, nil
}

// Cancel moves a pending order to cancelled. Orders that are already paid
// or cancelled are left as they are.
func (r OrderRepo) Cancel(ctx context.Context, orderID, reason string) error {
	return r.cancel(ctx, `order_id = $1`, orderID, reason)
}

// CancelByCheckout cancels the pending order opened for a checkout. The
// checkout and reservation session share one ID.
func (r OrderRepo) CancelByCheckout(ctx context.Context, checkoutID, reason string) error {
	return r.cancel(ctx, `checkout_id = $1`, checkoutID, reason)
}

func (r OrderRepo) cancel(ctx context.Context, where string, id, reason string) error {
	return runInTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var cancelled struct {
			OrderID    string `db:"order_id"`
			CheckoutID string `db:"checkout_id"`
		}
		err := tx.GetContext(ctx, &cancelled, `UPDATE orders
			SET status = $2, failure_reason = $3, updated_at = now()
			WHERE `+where+` AND status = $4
			RETURNING order_id, checkout_id`,
			id, entity.OrderCancelled, reason, entity.OrderPending)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cancelling order: %w", err)
		}

		e := event.NewOrderCancelled(cancelled.OrderID, cancelled.CheckoutID, reason)
		if err := message.PublishInTx(ctx, e, tx.Tx, r.logger); err != nil {
			return fmt.Errorf("publishing event in transaction: %w", err)
		}

		return nil
	})
}

// Fulfil issues the tickets, marks the order paid and records OrderPaid in
// the outbox in one transaction. Replaying it for a paid order is a no-op.
func (r OrderRepo) Fulfil(ctx context.Context, orderID, transactionID string, tickets []entity.IssuedTicket) error {
	return runInTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM orders WHERE order_id = $1 FOR UPDATE`, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("selecting order status: %w", err)
		}

		switch entity.OrderStatus(status) {
		case entity.OrderPaid:
			return nil
		case entity.OrderCancelled:
			return fmt.Errorf("%w: order %s is cancelled", entity.ErrOrderNotPending, orderID)
		}

		codes := make([]string, 0, len(tickets))
		for _, t := range tickets {
			_, err := tx.ExecContext(ctx, `INSERT INTO issued_tickets
				(code, tier_id, order_id, status, issued_at)
				VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5)
				ON CONFLICT (code) DO NOTHING`,
				t.Code, t.TierID, t.OrderID, t.Status, t.IssuedAt)
			if err != nil {
				return fmt.Errorf("inserting ticket %s: %w", t.Code, err)
			}
			codes = append(codes, t.Code)
		}

		_, err = tx.ExecContext(ctx, `UPDATE orders
			SET status = $2, transaction_id = $3, updated_at = now()
			WHERE order_id = $1`,
			orderID, entity.OrderPaid, transactionID)
		if err != nil {
			return fmt.Errorf("marking order paid: %w", err)
		}

		var stageGroups []string
		err = tx.SelectContext(ctx, &stageGroups, `SELECT DISTINCT t.stage_group
			FROM order_lines l JOIN ticket_tiers t ON t.tier_id = l.tier_id
			WHERE l.order_id = $1 AND t.stage_group IS NOT NULL
			ORDER BY t.stage_group`, orderID)
		if err != nil {
			return fmt.Errorf("selecting stage groups: %w", err)
		}

		order, err := getOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		e := event.NewOrderPaid(order, codes, stageGroups)
		if err := message.PublishInTx(ctx, e, tx.Tx, r.logger); err != nil {
			return fmt.Errorf("publishing event in transaction: %w", err)
		}

		return nil
	})
}

func (r OrderRepo) Tickets(ctx context.Context, orderID string) ([]entity.IssuedTicket, error) {
	var rows []struct {
		Code     string         `db:"code"`
		TierID   string         `db:"tier_id"`
		OrderID  sql.NullString `db:"order_id"`
		Status   string         `db:"status"`
		IssuedAt sql.NullTime   `db:"issued_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT code, tier_id, order_id, status, issued_at
		FROM issued_tickets WHERE order_id = $1 ORDER BY code`, orderID)
	if err != nil {
		return nil, fmt.Errorf("selecting tickets: %w", err)
	}

	tickets := make([]entity.IssuedTicket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, entity.IssuedTicket{
			Code:     row.Code,
			TierID:   row.TierID,
			OrderID:  row.OrderID.String,
			Status:   entity.TicketStatus(row.Status),
			IssuedAt: row.IssuedAt.Time,
		})
	}
	return tickets, nil
}
