package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/jmoiron/sqlx"
)

const bookingColumns = `id, tour_id, merchant_id, customer_ref, date, guests, price_basis, unit_price, final_price,
    status, payment_status, payment_ref, settlement_status, settlement_id, version, created_at, updated_at`

// activeBookings selects the bookings that occupy capacity.
const activeBookings = `status IN ('pending', 'confirmed', 'completed') AND payment_status NOT IN ('failed', 'refunded')`

func (db *DB) Occupancy(ctx context.Context, tourID int64, date models.Date) (int, error) {
	n, err := db.occupancy(ctx, db.DB, tourID, date)
	if err != nil {
		return 0, classify("read occupancy", err)
	}
	return n, nil
}

func (db *DB) occupancy(ctx context.Context, q sqlx.QueryerContext, tourID int64, date models.Date) (int, error) {
	var occupied int
	query := db.Rebind(`SELECT COALESCE(SUM(guests), 0) FROM bookings WHERE tour_id = ? AND date = ? AND ` + activeBookings)
	if err := q.QueryRowxContext(ctx, query, tourID, date).Scan(&occupied); err != nil {
		return 0, fmt.Errorf("failed to read occupancy: %w", err)
	}
	return occupied, nil
}

// OccupancyByDate returns occupied seats keyed by YYYY-MM-DD for days in r
// that have at least one active booking.
func (db *DB) OccupancyByDate(ctx context.Context, tourID int64, r models.DateRange) (map[string]int, error) {
	query := db.Rebind(`SELECT date, COALESCE(SUM(guests), 0) FROM bookings
              WHERE tour_id = ? AND date >= ? AND date <= ? AND ` + activeBookings + `
              GROUP BY date`)
	rows, err := db.QueryxContext(ctx, query, tourID, r.Start, r.End)
	if err != nil {
		return nil, classify("read occupancy", fmt.Errorf("failed to read occupancy range: %w", err))
	}
	defer rows.Close()

	occupied := make(map[string]int)
	for rows.Next() {
		var (
			day models.Date
			sum int
		)
		if err := rows.Scan(&day, &sum); err != nil {
			return nil, classify("read occupancy", fmt.Errorf("failed to scan occupancy: %w", err))
		}
		occupied[day.String()] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read occupancy", err)
	}
	return occupied, nil
}

// AdmitBooking re-reads the tour, its override and the current occupancy and
// inserts the booking decide returns, all in one transaction.
func (db *DB) AdmitBooking(ctx context.Context, tourID int64, date models.Date, decide domain.AdmitFunc) (*models.Booking, error) {
	var created *models.Booking
	err := db.inTx(ctx, "admit booking", func(tx *sqlx.Tx) error {
		tour, err := db.getTour(ctx, tx, tourID)
		if err != nil {
			return err
		}
		override, err := db.getOverride(ctx, tx, tourID, date)
		if err != nil {
			return err
		}
		occupied, err := db.occupancy(ctx, tx, tourID, date)
		if err != nil {
			return err
		}

		booking, err := decide(domain.AdmissionSnapshot{Tour: tour, Override: override, Occupied: occupied})
		if err != nil {
			return err
		}
		if err := db.insertBooking(ctx, tx, booking); err != nil {
			return err
		}
		created = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (db *DB) insertBooking(ctx context.Context, tx *sqlx.Tx, b *models.Booking) error {
	now := time.Now().UTC()
	query := `INSERT INTO bookings (
                tour_id, merchant_id, customer_ref, date, guests, price_basis, unit_price, final_price,
                status, payment_status, settlement_status, version, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err := tx.QueryRowxContext(ctx, tx.Rebind(query),
		b.TourID,
		b.MerchantID,
		b.CustomerRef,
		b.Date,
		b.Guests,
		b.PriceBasis,
		b.UnitPrice,
		b.FinalPrice,
		b.Status,
		b.PaymentStatus,
		b.SettlementStatus,
		1,
		now,
		now,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := db.getBooking(ctx, db.DB, id)
	if err != nil {
		return nil, classify("get booking", err)
	}
	return b, nil
}

func (db *DB) getBooking(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.Booking, error) {
	var b models.Booking
	err := sqlx.GetContext(ctx, q, &b, db.Rebind(`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "booking", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

func (db *DB) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1 = 1`
	var args []any
	if f.MerchantID > 0 {
		query += ` AND merchant_id = ?`
		args = append(args, f.MerchantID)
	}
	if f.TourID > 0 {
		query += ` AND tour_id = ?`
		args = append(args, f.TourID)
	}
	if !f.Date.IsZero() {
		query += ` AND date = ?`
		args = append(args, f.Date)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.PaymentStatus != "" {
		query += ` AND payment_status = ?`
		args = append(args, f.PaymentStatus)
	}
	if f.SettlementStatus != "" {
		query += ` AND settlement_status = ?`
		args = append(args, f.SettlementStatus)
	}
	query += ` ORDER BY date, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []*models.Booking
	if err := db.SelectContext(ctx, &out, db.Rebind(query), args...); err != nil {
		return nil, classify("list bookings", fmt.Errorf("failed to list bookings: %w", err))
	}
	return out, nil
}

// TransitionStatus moves the lifecycle status from one of from to to.
func (db *DB) TransitionStatus(ctx context.Context, id int64, from []string, to string) (*models.Booking, error) {
	var updated *models.Booking
	err := db.inTx(ctx, "update booking status", func(tx *sqlx.Tx) error {
		b, err := db.getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, b.Status) {
			return domain.ValidationError{Field: "status", Msg: fmt.Sprintf("cannot move booking from %s to %s", b.Status, to)}
		}
		if err := db.bumpVersion(ctx, tx, b, "status = ?", to); err != nil {
			return err
		}
		b.Status = to
		updated = b
		return nil
	})
	return updated, err
}

// TransitionPayment moves the payment status from one of from to to. When
// the move makes a booking hold seats it had released, readmit decides on
// the current occupancy in the same transaction.
func (db *DB) TransitionPayment(ctx context.Context, id int64, from []string, to string, ref *string, readmit domain.ReadmitFunc) (*models.Booking, error) {
	var updated *models.Booking
	err := db.inTx(ctx, "update payment status", func(tx *sqlx.Tx) error {
		b, err := db.getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, b.PaymentStatus) {
			return domain.ValidationError{Field: "payment_status", Msg: fmt.Sprintf("cannot move payment from %s to %s", b.PaymentStatus, to)}
		}
		if readmit != nil && !b.OccupiesCapacity() && models.HoldsSeats(b.Status, to) {
			if err := db.readmit(ctx, tx, b, readmit); err != nil {
				return err
			}
		}
		if ref == nil {
			ref = b.PaymentRef
		}
		if err := db.bumpVersion(ctx, tx, b, "payment_status = ?, payment_ref = ?", to, ref); err != nil {
			return err
		}
		b.PaymentStatus = to
		b.PaymentRef = ref
		updated = b
		return nil
	})
	return updated, err
}

func (db *DB) readmit(ctx context.Context, tx *sqlx.Tx, b *models.Booking, decide domain.ReadmitFunc) error {
	tour, err := db.getTour(ctx, tx, b.TourID)
	if err != nil {
		return err
	}
	override, err := db.getOverride(ctx, tx, b.TourID, b.Date)
	if err != nil {
		return err
	}
	occupied, err := db.occupancy(ctx, tx, b.TourID, b.Date)
	if err != nil {
		return err
	}
	return decide(domain.AdmissionSnapshot{Tour: tour, Override: override, Occupied: occupied}, b)
}

// RefundBooking marks a paid booking refunded. When the booking was already
// settled, the reversal of its settlement line is recorded as a pending
// adjustment for the merchant's next settlement.
func (db *DB) RefundBooking(ctx context.Context, id int64, ref *string) (*models.Booking, *models.SettlementAdjustment, error) {
	var (
		updated *models.Booking
		adj     *models.SettlementAdjustment
	)
	err := db.inTx(ctx, "refund booking", func(tx *sqlx.Tx) error {
		b, err := db.getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.PaymentStatus != models.PaymentPaid {
			return domain.ValidationError{Field: "payment_status", Msg: fmt.Sprintf("cannot refund a booking with payment %s", b.PaymentStatus)}
		}
		if ref == nil {
			ref = b.PaymentRef
		}
		if err := db.bumpVersion(ctx, tx, b, "payment_status = ?, payment_ref = ?", models.PaymentRefunded, ref); err != nil {
			return err
		}
		b.PaymentStatus = models.PaymentRefunded
		b.PaymentRef = ref
		updated = b

		if b.SettlementStatus != models.SettlementSettled {
			return nil
		}
		adj, err = db.insertAdjustment(ctx, tx, b)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, adj, nil
}

// bumpVersion applies set to the booking if nobody changed it since it was read.
func (db *DB) bumpVersion(ctx context.Context, tx *sqlx.Tx, b *models.Booking, set string, args ...any) error {
	now := time.Now().UTC()
	query := `UPDATE bookings SET ` + set + `, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	args = append(args, now, b.ID, b.Version)
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ConflictError{Resource: "booking", Msg: "modified concurrently"}
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}
