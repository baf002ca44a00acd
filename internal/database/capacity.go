package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/jmoiron/sqlx"
)

const overrideColumns = `id, tour_id, date, max_capacity, available_spots, price_override, is_available, created_at, updated_at`

// GetOverride returns the override for (tour, date), or nil when none exists.
func (db *DB) GetOverride(ctx context.Context, tourID int64, date models.Date) (*models.CapacityOverride, error) {
	o, err := db.getOverride(ctx, db.DB, tourID, date)
	if err != nil {
		return nil, classify("get capacity override", err)
	}
	return o, nil
}

func (db *DB) getOverride(ctx context.Context, q sqlx.QueryerContext, tourID int64, date models.Date) (*models.CapacityOverride, error) {
	var o models.CapacityOverride
	query := db.Rebind(`SELECT ` + overrideColumns + ` FROM capacity_overrides WHERE tour_id = ? AND date = ?`)
	err := sqlx.GetContext(ctx, q, &o, query, tourID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capacity override: %w", err)
	}
	return &o, nil
}

func (db *DB) ListOverrides(ctx context.Context, tourID int64, r models.DateRange) ([]*models.CapacityOverride, error) {
	query := db.Rebind(`SELECT ` + overrideColumns + ` FROM capacity_overrides
              WHERE tour_id = ? AND date >= ? AND date <= ? ORDER BY date`)
	var out []*models.CapacityOverride
	if err := db.SelectContext(ctx, &out, query, tourID, r.Start, r.End); err != nil {
		return nil, classify("list capacity overrides", fmt.Errorf("failed to list capacity overrides: %w", err))
	}
	return out, nil
}

// UpsertOverride inserts or replaces the single row for (tour, date).
func (db *DB) UpsertOverride(ctx context.Context, o *models.CapacityOverride) error {
	now := time.Now().UTC()
	query := `INSERT INTO capacity_overrides (tour_id, date, max_capacity, available_spots, price_override, is_available, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT (tour_id, date) DO UPDATE SET
                max_capacity = excluded.max_capacity,
                available_spots = excluded.available_spots,
                price_override = excluded.price_override,
                is_available = excluded.is_available,
                updated_at = excluded.updated_at
              RETURNING id`
	err := db.QueryRowxContext(ctx, db.Rebind(query),
		o.TourID,
		o.Date,
		o.MaxCapacity,
		o.AvailableSpots,
		o.PriceOverride,
		o.IsAvailable,
		now,
		now,
	).Scan(&o.ID)
	if err != nil {
		return classify("upsert capacity override", fmt.Errorf("failed to upsert capacity override: %w", err))
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	return nil
}

func (db *DB) DeleteOverride(ctx context.Context, tourID int64, date models.Date) error {
	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM capacity_overrides WHERE tour_id = ? AND date = ?`), tourID, date)
	if err != nil {
		return classify("delete capacity override", fmt.Errorf("failed to delete capacity override: %w", err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return classify("delete capacity override", err)
	}
	if n == 0 {
		return domain.NotFoundError{Resource: "capacity override", ID: fmt.Sprintf("%d/%s", tourID, date)}
	}
	return nil
}
