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

const tourColumns = `id, merchant_id, title, city, base_price, price_basis, default_capacity, is_active, created_at, updated_at`

func (db *DB) GetTour(ctx context.Context, id int64) (*models.Tour, error) {
	tour, err := db.getTour(ctx, db.DB, id)
	if err != nil {
		return nil, classify("get tour", err)
	}
	return tour, nil
}

func (db *DB) getTour(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.Tour, error) {
	var tour models.Tour
	err := sqlx.GetContext(ctx, q, &tour, db.Rebind(`SELECT `+tourColumns+` FROM tours WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "tour", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour: %w", err)
	}
	return &tour, nil
}

// ListTours returns tours ordered by id. merchantID 0 lists every merchant.
func (db *DB) ListTours(ctx context.Context, merchantID int64, activeOnly bool) ([]*models.Tour, error) {
	query := `SELECT ` + tourColumns + ` FROM tours WHERE 1 = 1`
	var args []any
	if merchantID > 0 {
		query += ` AND merchant_id = ?`
		args = append(args, merchantID)
	}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id`

	var tours []*models.Tour
	if err := db.SelectContext(ctx, &tours, db.Rebind(query), args...); err != nil {
		return nil, classify("list tours", fmt.Errorf("failed to list tours: %w", err))
	}
	return tours, nil
}

func (db *DB) CreateTour(ctx context.Context, tour *models.Tour) error {
	now := time.Now().UTC()
	query := `INSERT INTO tours (merchant_id, title, city, base_price, price_basis, default_capacity, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err := db.QueryRowxContext(ctx, db.Rebind(query),
		tour.MerchantID,
		tour.Title,
		tour.City,
		tour.BasePrice,
		tour.PriceBasis,
		tour.DefaultCapacity,
		tour.IsActive,
		now,
		now,
	).Scan(&tour.ID)
	if err != nil {
		return classify("create tour", fmt.Errorf("failed to create tour: %w", err))
	}
	tour.CreatedAt = now
	tour.UpdatedAt = now
	return nil
}

// UpsertTour writes a tour with a caller-chosen id. Used for seeding.
func (db *DB) UpsertTour(ctx context.Context, tour *models.Tour) error {
	now := time.Now().UTC()
	query := `INSERT INTO tours (id, merchant_id, title, city, base_price, price_basis, default_capacity, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT (id) DO UPDATE SET
                merchant_id = excluded.merchant_id,
                title = excluded.title,
                city = excluded.city,
                base_price = excluded.base_price,
                price_basis = excluded.price_basis,
                default_capacity = excluded.default_capacity,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, db.Rebind(query),
		tour.ID,
		tour.MerchantID,
		tour.Title,
		tour.City,
		tour.BasePrice,
		tour.PriceBasis,
		tour.DefaultCapacity,
		tour.IsActive,
		now,
		now,
	)
	if err != nil {
		return classify("upsert tour", fmt.Errorf("failed to upsert tour: %w", err))
	}
	if db.dialect == DialectPostgres {
		// explicit ids do not advance the serial sequence
		_, err = db.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('tours', 'id'), (SELECT MAX(id) FROM tours))`)
		if err != nil {
			return classify("upsert tour", fmt.Errorf("failed to advance tour sequence: %w", err))
		}
	}
	tour.UpdatedAt = now
	return nil
}

func (db *DB) SetTourActive(ctx context.Context, id int64, active bool) error {
	res, err := db.ExecContext(ctx, db.Rebind(`UPDATE tours SET is_active = ?, updated_at = ? WHERE id = ?`), active, time.Now().UTC(), id)
	if err != nil {
		return classify("set tour active", fmt.Errorf("failed to update tour: %w", err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return classify("set tour active", err)
	}
	if n == 0 {
		return domain.NotFoundError{Resource: "tour", ID: id}
	}
	return nil
}
