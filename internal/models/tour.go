package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tour struct {
	ID              int64           `db:"id" json:"id"`
	MerchantID      int64           `db:"merchant_id" json:"merchant_id"`
	Title           string          `db:"title" json:"title"`
	City            string          `db:"city" json:"city"`
	BasePrice       decimal.Decimal `db:"base_price" json:"base_price"`
	PriceBasis      string          `db:"price_basis" json:"price_basis"`
	DefaultCapacity *int            `db:"default_capacity" json:"default_capacity,omitempty"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// CapacityOr returns the tour's own default capacity, or fallback when unset.
func (t *Tour) CapacityOr(fallback int) int {
	if t.DefaultCapacity != nil {
		return *t.DefaultCapacity
	}
	return fallback
}
