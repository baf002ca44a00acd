package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID               int64           `db:"id" json:"id"`
	TourID           int64           `db:"tour_id" json:"tour_id"`
	MerchantID       int64           `db:"merchant_id" json:"merchant_id"`
	CustomerRef      string          `db:"customer_ref" json:"customer_ref,omitempty"`
	Date             Date            `db:"date" json:"date"`
	Guests           int             `db:"guests" json:"guests"`
	PriceBasis       string          `db:"price_basis" json:"price_basis"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	FinalPrice       decimal.Decimal `db:"final_price" json:"final_price"`
	Status           string          `db:"status" json:"status"`
	PaymentStatus    string          `db:"payment_status" json:"payment_status"`
	PaymentRef       *string         `db:"payment_ref" json:"payment_ref,omitempty"`
	SettlementStatus string          `db:"settlement_status" json:"settlement_status"`
	SettlementID     *int64          `db:"settlement_id" json:"settlement_id,omitempty"`
	Version          int64           `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// OccupiesCapacity reports whether the booking counts toward occupancy.
func (b *Booking) OccupiesCapacity() bool {
	return HoldsSeats(b.Status, b.PaymentStatus)
}

// BookingFilter narrows booking listings. Zero values are ignored.
type BookingFilter struct {
	MerchantID       int64
	TourID           int64
	Date             Date
	Status           string
	PaymentStatus    string
	SettlementStatus string
	Limit            int
}
