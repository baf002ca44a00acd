package models

import "github.com/shopspring/decimal"

// AvailabilityCheck answers whether a number of guests fits on a tour date.
type AvailabilityCheck struct {
	TourID          int64           `json:"tour_id"`
	Date            Date            `json:"date"`
	RequestedGuests int             `json:"requested_guests"`
	Capacity        int             `json:"capacity"`
	Occupied        int             `json:"occupied"`
	Remaining       int             `json:"remaining"`
	Available       bool            `json:"available"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// DayAvailability is one entry of a range query.
type DayAvailability struct {
	Date          Date                `json:"date"`
	Capacity      int                 `json:"capacity"`
	Occupied      int                 `json:"occupied"`
	Remaining     int                 `json:"remaining"`
	Available     bool                `json:"available"`
	MaxCapacity   *int                `json:"max_capacity"`
	PriceOverride decimal.NullDecimal `json:"price_override"`
	UnitPrice     decimal.Decimal     `json:"unit_price"`
}

// AvailabilityRange is the gap-free result of a range query.
type AvailabilityRange struct {
	TourID int64             `json:"tour_id"`
	Range  DateRange         `json:"-"`
	Days   []DayAvailability `json:"days"`
}
