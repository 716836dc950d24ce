package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"boxoffice/entity"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type tierRow struct {
	ID              string          `db:"tier_id"`
	EventFunctionID string          `db:"event_function_id"`
	Name            string          `db:"name"`
	Quantity        int             `db:"quantity"`
	QuantitySold    int             `db:"quantity_sold"`
	PriceAmount     decimal.Decimal `db:"price_amount"`
	PriceCurrency   string          `db:"price_currency"`
	Hidden          bool            `db:"hidden"`
	StageGroup      sql.NullString  `db:"stage_group"`
	StageOrder      int             `db:"stage_order"`
	SalesStart      sql.NullTime    `db:"sales_start"`
	SalesEnd        sql.NullTime    `db:"sales_end"`
}

func (r tierRow) toEntity() entity.TicketTier {
	t := entity.TicketTier{
		ID:              r.ID,
		EventFunctionID: r.EventFunctionID,
		Name:            r.Name,
		Quantity:        r.Quantity,
		QuantitySold:    r.QuantitySold,
		Price: entity.Money{
			Amount:   r.PriceAmount,
			Currency: r.PriceCurrency,
		},
		Hidden:     r.Hidden,
		StageGroup: r.StageGroup.String,
		StageOrder: r.StageOrder,
	}
	if r.SalesStart.Valid {
		start := r.SalesStart.Time
		t.SalesStart = &start
	}
	if r.SalesEnd.Valid {
		end := r.SalesEnd.Time
		t.SalesEnd = &end
	}
	return t
}

const selectTiers = `SELECT tier_id, event_function_id, name, quantity, quantity_sold,
	price_amount, price_currency, hidden, stage_group, stage_order, sales_start, sales_end
	FROM ticket_tiers`

type TierRepo struct {
	db *sqlx.DB
}

func NewTierRepo(db *sqlx.DB) TierRepo {
	return TierRepo{
		db: db,
	}
}

func (r TierRepo) Add(ctx context.Context, tier entity.TicketTier) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO ticket_tiers
		(tier_id, event_function_id, name, quantity, quantity_sold, price_amount, price_currency,
		hidden, stage_group, stage_order, sales_start, sales_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
		ON CONFLICT (tier_id) DO NOTHING`,
		tier.ID, tier.EventFunctionID, tier.Name, tier.Quantity, tier.QuantitySold,
		tier.Price.Amount, tier.Price.Currency, tier.Hidden, tier.StageGroup, tier.StageOrder,
		tier.SalesStart, tier.SalesEnd)
	if err != nil {
		return fmt.Errorf("inserting tier: %w", err)
	}
	return nil
}

func (r TierRepo) Tier(ctx context.Context, tierID string) (entity.TicketTier, error) {
	var row tierRow
	err := r.db.GetContext(ctx, &row, selectTiers+` WHERE tier_id = $1`, tierID)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.TicketTier{}, fmt.Errorf("%w: %s", entity.ErrTierNotFound, tierID)
	}
	if err != nil {
		return entity.TicketTier{}, fmt.Errorf("selecting tier: %w", err)
	}
	return row.toEntity(), nil
}

func (r TierRepo) TiersInStageGroup(ctx context.Context, stageGroup string) ([]entity.TicketTier, error) {
	var rows []tierRow
	err := r.db.SelectContext(ctx, &rows, selectTiers+` WHERE stage_group = $1
		ORDER BY stage_order, tier_id`, stageGroup)
	if err != nil {
		return nil, fmt.Errorf("selecting tiers in stage group: %w", err)
	}

	tiers := make([]entity.TicketTier, 0, len(rows))
	for _, row := range rows {
		tiers = append(tiers, row.toEntity())
	}
	return tiers, nil
}

// RevealTiers clears the hidden flag. It never hides a tier.
func (r TierRepo) RevealTiers(ctx context.Context, tierIDs []string) error {
	if len(tierIDs) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `UPDATE ticket_tiers SET hidden = FALSE
		WHERE tier_id = ANY($1) AND hidden`, pq.Array(tierIDs))
	if err != nil {
		return fmt.Errorf("revealing tiers: %w", err)
	}
	return nil
}
