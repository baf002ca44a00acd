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

const settlementColumns = `id, reference, merchant_id, period_start, period_end, commission_rate, total_revenue,
    total_platform_fee, total_merchant_payout, booking_count, adjustment_count, adjustment_payout, net_payout,
    status, created_at, paid_out_at`

const lineColumns = `id, settlement_id, booking_id, booking_date, revenue, platform_fee, merchant_payout`

const adjustmentColumns = `id, booking_id, merchant_id, source_settlement_id, settlement_id, revenue, platform_fee,
    merchant_payout, reason, created_at`

// eligibleBookings selects paid, completed, unsettled bookings of a merchant in a period.
const eligibleBookings = `payment_status = 'paid' AND status = 'completed' AND settlement_status = 'unsettled'
    AND date >= ? AND date <= ?`

// RunSettlement selects the merchant's eligible bookings and pending
// adjustments, lets compute build the settlement, then writes the settlement,
// its lines and the settled flags in the same transaction. Each booking is
// flipped with a compare-and-set on settlement_status, so a booking claimed
// by a concurrent run aborts this one with a ConflictError.
func (db *DB) RunSettlement(ctx context.Context, merchantID int64, period models.DateRange, compute domain.SettleFunc) (*models.Settlement, error) {
	var result *models.Settlement
	err := db.inTx(ctx, "settle bookings", func(tx *sqlx.Tx) error {
		var bookings []*models.Booking
		query := `SELECT ` + bookingColumns + ` FROM bookings WHERE merchant_id = ? AND ` + eligibleBookings + ` ORDER BY date, id` + db.forUpdate()
		if err := sqlx.SelectContext(ctx, tx, &bookings, tx.Rebind(query), merchantID, period.Start, period.End); err != nil {
			return fmt.Errorf("failed to select eligible bookings: %w", err)
		}
		if len(bookings) == 0 {
			return domain.NothingToSettleError{MerchantID: merchantID, PeriodStart: period.Start.String(), PeriodEnd: period.End.String()}
		}

		var adjustments []*models.SettlementAdjustment
		query = `SELECT ` + adjustmentColumns + ` FROM settlement_adjustments WHERE merchant_id = ? AND settlement_id IS NULL ORDER BY id` + db.forUpdate()
		if err := sqlx.SelectContext(ctx, tx, &adjustments, tx.Rebind(query), merchantID); err != nil {
			return fmt.Errorf("failed to select pending adjustments: %w", err)
		}

		s, err := compute(bookings, adjustments)
		if err != nil {
			return err
		}
		if err := db.insertSettlement(ctx, tx, s); err != nil {
			return err
		}
		for i := range s.Lines {
			s.Lines[i].SettlementID = s.ID
			if err := db.insertLine(ctx, tx, &s.Lines[i]); err != nil {
				return err
			}
		}
		if err := db.markSettled(ctx, tx, s.ID, bookings); err != nil {
			return err
		}
		if err := db.absorbAdjustments(ctx, tx, s.ID, adjustments); err != nil {
			return err
		}
		for _, a := range adjustments {
			id := s.ID
			a.SettlementID = &id
			s.Adjustments = append(s.Adjustments, *a)
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *DB) insertSettlement(ctx context.Context, tx *sqlx.Tx, s *models.Settlement) error {
	now := time.Now().UTC()
	query := `INSERT INTO settlements (
                reference, merchant_id, period_start, period_end, commission_rate, total_revenue,
                total_platform_fee, total_merchant_payout, booking_count, adjustment_count, adjustment_payout,
                net_payout, status, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err := tx.QueryRowxContext(ctx, tx.Rebind(query),
		s.Reference,
		s.MerchantID,
		s.PeriodStart,
		s.PeriodEnd,
		s.CommissionRate.String(),
		s.TotalRevenue,
		s.TotalPlatformFee,
		s.TotalMerchantPayout,
		s.BookingCount,
		s.AdjustmentCount,
		s.AdjustmentPayout,
		s.NetPayout,
		s.Status,
		now,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	s.CreatedAt = now
	return nil
}

func (db *DB) insertLine(ctx context.Context, tx *sqlx.Tx, l *models.SettlementLine) error {
	query := `INSERT INTO settlement_lines (settlement_id, booking_id, booking_date, revenue, platform_fee, merchant_payout)
              VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	err := tx.QueryRowxContext(ctx, tx.Rebind(query),
		l.SettlementID,
		l.BookingID,
		l.BookingDate,
		l.Revenue,
		l.PlatformFee,
		l.MerchantPayout,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to insert settlement line for booking %d: %w", l.BookingID, err)
	}
	return nil
}

func (db *DB) markSettled(ctx context.Context, tx *sqlx.Tx, settlementID int64, bookings []*models.Booking) error {
	now := time.Now().UTC()
	query := tx.Rebind(`UPDATE bookings SET settlement_status = ?, settlement_id = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND settlement_status = ?`)
	for _, b := range bookings {
		res, err := tx.ExecContext(ctx, query, models.SettlementSettled, settlementID, now, b.ID, models.SettlementUnsettled)
		if err != nil {
			return fmt.Errorf("failed to mark booking %d settled: %w", b.ID, err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n != 1 {
			return domain.ConflictError{Resource: "settlement", Msg: fmt.Sprintf("booking %d was settled concurrently", b.ID)}
		}
		id := settlementID
		b.SettlementStatus = models.SettlementSettled
		b.SettlementID = &id
	}
	return nil
}

func (db *DB) absorbAdjustments(ctx context.Context, tx *sqlx.Tx, settlementID int64, adjustments []*models.SettlementAdjustment) error {
	query := tx.Rebind(`UPDATE settlement_adjustments SET settlement_id = ? WHERE id = ? AND settlement_id IS NULL`)
	for _, a := range adjustments {
		res, err := tx.ExecContext(ctx, query, settlementID, a.ID)
		if err != nil {
			return fmt.Errorf("failed to attach adjustment %d: %w", a.ID, err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n != 1 {
			return domain.ConflictError{Resource: "settlement", Msg: fmt.Sprintf("adjustment %d was absorbed concurrently", a.ID)}
		}
	}
	return nil
}

// insertAdjustment records the negated line of a refunded settled booking.
func (db *DB) insertAdjustment(ctx context.Context, tx *sqlx.Tx, b *models.Booking) (*models.SettlementAdjustment, error) {
	var line models.SettlementLine
	err := sqlx.GetContext(ctx, tx, &line, tx.Rebind(`SELECT `+lineColumns+` FROM settlement_lines WHERE booking_id = ?`), b.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "settlement line", ID: b.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement line: %w", err)
	}

	adj := &models.SettlementAdjustment{
		BookingID:          b.ID,
		MerchantID:         b.MerchantID,
		SourceSettlementID: line.SettlementID,
		Revenue:            line.Revenue.Neg(),
		PlatformFee:        line.PlatformFee.Neg(),
		MerchantPayout:     line.MerchantPayout.Neg(),
		Reason:             models.PaymentRefunded,
		CreatedAt:          time.Now().UTC(),
	}
	query := `INSERT INTO settlement_adjustments (booking_id, merchant_id, source_settlement_id, revenue, platform_fee, merchant_payout, reason, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err = tx.QueryRowxContext(ctx, tx.Rebind(query),
		adj.BookingID,
		adj.MerchantID,
		adj.SourceSettlementID,
		adj.Revenue,
		adj.PlatformFee,
		adj.MerchantPayout,
		adj.Reason,
		adj.CreatedAt,
	).Scan(&adj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert settlement adjustment: %w", err)
	}
	return adj, nil
}

// GetSettlement returns a settlement with its lines and absorbed adjustments.
func (db *DB) GetSettlement(ctx context.Context, id int64) (*models.Settlement, error) {
	var s models.Settlement
	err := db.GetContext(ctx, &s, db.Rebind(`SELECT `+settlementColumns+` FROM settlements WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "settlement", ID: id}
	}
	if err != nil {
		return nil, classify("get settlement", fmt.Errorf("failed to get settlement: %w", err))
	}

	if err := db.SelectContext(ctx, &s.Lines, db.Rebind(`SELECT `+lineColumns+` FROM settlement_lines WHERE settlement_id = ? ORDER BY booking_date, booking_id`), id); err != nil {
		return nil, classify("get settlement", fmt.Errorf("failed to get settlement lines: %w", err))
	}
	if err := db.SelectContext(ctx, &s.Adjustments, db.Rebind(`SELECT `+adjustmentColumns+` FROM settlement_adjustments WHERE settlement_id = ? ORDER BY id`), id); err != nil {
		return nil, classify("get settlement", fmt.Errorf("failed to get settlement adjustments: %w", err))
	}
	return &s, nil
}

func (db *DB) ListSettlements(ctx context.Context, f models.SettlementFilter) ([]*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE 1 = 1`
	var args []any
	if f.MerchantID > 0 {
		query += ` AND merchant_id = ?`
		args = append(args, f.MerchantID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []*models.Settlement
	if err := db.SelectContext(ctx, &out, db.Rebind(query), args...); err != nil {
		return nil, classify("list settlements", fmt.Errorf("failed to list settlements: %w", err))
	}
	return out, nil
}

// MarkSettlementPaidOut flips a pending settlement to paid_out.
func (db *DB) MarkSettlementPaidOut(ctx context.Context, id int64) (*models.Settlement, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, db.Rebind(`UPDATE settlements SET status = ?, paid_out_at = ? WHERE id = ? AND status = ?`),
		models.SettlementStatusPaidOut, now, id, models.SettlementStatusPending)
	if err != nil {
		return nil, classify("mark settlement paid out", fmt.Errorf("failed to update settlement: %w", err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, classify("mark settlement paid out", err)
	}

	s, err := db.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("settlement %d is already %s", id, s.Status)}
	}
	return s, nil
}

// MerchantsWithEligibleBookings lists merchants that have something to settle in period.
func (db *DB) MerchantsWithEligibleBookings(ctx context.Context, period models.DateRange) ([]int64, error) {
	var ids []int64
	query := db.Rebind(`SELECT DISTINCT merchant_id FROM bookings WHERE ` + eligibleBookings + ` ORDER BY merchant_id`)
	if err := db.SelectContext(ctx, &ids, query, period.Start, period.End); err != nil {
		return nil, classify("list merchants", fmt.Errorf("failed to list merchants with eligible bookings: %w", err))
	}
	return ids, nil
}
