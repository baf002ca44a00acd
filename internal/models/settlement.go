package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Settlement struct {
	ID                  int64           `db:"id" json:"id"`
	Reference           string          `db:"reference" json:"reference"`
	MerchantID          int64           `db:"merchant_id" json:"merchant_id"`
	PeriodStart         Date            `db:"period_start" json:"period_start"`
	PeriodEnd           Date            `db:"period_end" json:"period_end"`
	CommissionRate      decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	TotalRevenue        decimal.Decimal `db:"total_revenue" json:"total_revenue"`
	TotalPlatformFee    decimal.Decimal `db:"total_platform_fee" json:"total_platform_fee"`
	TotalMerchantPayout decimal.Decimal `db:"total_merchant_payout" json:"total_merchant_payout"`
	BookingCount        int             `db:"booking_count" json:"booking_count"`
	AdjustmentCount     int             `db:"adjustment_count" json:"adjustment_count"`
	AdjustmentPayout    decimal.Decimal `db:"adjustment_payout" json:"adjustment_payout"`
	NetPayout           decimal.Decimal `db:"net_payout" json:"net_payout"`
	Status              string          `db:"status" json:"status"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	PaidOutAt           *time.Time      `db:"paid_out_at" json:"paid_out_at,omitempty"`

	Lines       []SettlementLine       `db:"-" json:"lines,omitempty"`
	Adjustments []SettlementAdjustment `db:"-" json:"adjustments,omitempty"`
}

// SettlementLine is the frozen per-booking split captured at settlement time.
type SettlementLine struct {
	ID             int64           `db:"id" json:"id"`
	SettlementID   int64           `db:"settlement_id" json:"settlement_id"`
	BookingID      int64           `db:"booking_id" json:"booking_id"`
	BookingDate    Date            `db:"booking_date" json:"booking_date"`
	Revenue        decimal.Decimal `db:"revenue" json:"revenue"`
	PlatformFee    decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	MerchantPayout decimal.Decimal `db:"merchant_payout" json:"merchant_payout"`
}

// SettlementAdjustment reverses a settled line after its booking was refunded.
// Amounts are negative. SettlementID is set once a later settlement absorbs it.
type SettlementAdjustment struct {
	ID                 int64           `db:"id" json:"id"`
	BookingID          int64           `db:"booking_id" json:"booking_id"`
	MerchantID         int64           `db:"merchant_id" json:"merchant_id"`
	SourceSettlementID int64           `db:"source_settlement_id" json:"source_settlement_id"`
	SettlementID       *int64          `db:"settlement_id" json:"settlement_id,omitempty"`
	Revenue            decimal.Decimal `db:"revenue" json:"revenue"`
	PlatformFee        decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	MerchantPayout     decimal.Decimal `db:"merchant_payout" json:"merchant_payout"`
	Reason             string          `db:"reason" json:"reason"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// SettlementFilter narrows settlement listings. Zero values are ignored.
type SettlementFilter struct {
	MerchantID int64
	Status     string
	Limit      int
}
