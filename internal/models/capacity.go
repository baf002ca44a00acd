package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapacityOverride is the per (tour, date) policy overlay on default capacity.
type CapacityOverride struct {
	ID             int64               `db:"id" json:"id"`
	TourID         int64               `db:"tour_id" json:"tour_id"`
	Date           Date                `db:"date" json:"date"`
	MaxCapacity    *int                `db:"max_capacity" json:"max_capacity"`
	AvailableSpots *int                `db:"available_spots" json:"available_spots"`
	PriceOverride  decimal.NullDecimal `db:"price_override" json:"price_override"`
	IsAvailable    bool                `db:"is_available" json:"is_available"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// EffectiveCapacity resolves the guest ceiling for a day. A nil override
// means the default applies.
func EffectiveCapacity(o *CapacityOverride, defaultCapacity int) int {
	if o == nil {
		return defaultCapacity
	}
	if !o.IsAvailable {
		return 0
	}
	if o.MaxCapacity != nil {
		return *o.MaxCapacity
	}
	if o.AvailableSpots != nil {
		return *o.AvailableSpots
	}
	return defaultCapacity
}

// UnitPrice returns the override price when set, otherwise base.
func UnitPrice(o *CapacityOverride, base decimal.Decimal) decimal.Decimal {
	if o != nil && o.PriceOverride.Valid {
		return o.PriceOverride.Decimal
	}
	return base
}

// Remaining clamps capacity minus occupancy at zero.
func Remaining(capacity, occupied int) int {
	if occupied >= capacity {
		return 0
	}
	return capacity - occupied
}
