package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestDate(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		d, err := ParseDate("2025-06-01")
		require.NoError(t, err)
		assert.Equal(t, "2025-06-01", d.String())

		_, err = ParseDate("2025-13-01")
		assert.Error(t, err)
		_, err = ParseDate("01.06.2025")
		assert.Error(t, err)
	})

	t.Run("NewDateDropsClock", func(t *testing.T) {
		d := NewDate(time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC))
		assert.True(t, d.Equal(MustParseDate("2025-06-01")))
	})

	t.Run("JSON", func(t *testing.T) {
		var out struct {
			Date Date `json:"date"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-02-28"}`), &out))
		assert.Equal(t, "2025-03-01", out.Date.AddDays(1).String())

		data, err := json.Marshal(out)
		require.NoError(t, err)
		assert.JSONEq(t, `{"date":"2025-02-28"}`, string(data))
	})

	t.Run("Scan", func(t *testing.T) {
		var d Date
		require.NoError(t, d.Scan("2025-06-01"))
		assert.Equal(t, "2025-06-01", d.String())
		require.NoError(t, d.Scan([]byte("2025-06-02")))
		assert.Equal(t, "2025-06-02", d.String())
		require.NoError(t, d.Scan(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, "2025-06-03", d.String())
		assert.Error(t, d.Scan(42))
	})
}

func TestDateRange(t *testing.T) {
	r := DateRange{Start: MustParseDate("2025-02-27"), End: MustParseDate("2025-03-02")}
	assert.Equal(t, 4, r.Len())

	var days []string
	for d := range r.Days() {
		days = append(days, d.String())
	}
	assert.Equal(t, []string{"2025-02-27", "2025-02-28", "2025-03-01", "2025-03-02"}, days)

	// restartable
	var again int
	for range r.Days() {
		again++
	}
	assert.Equal(t, 4, again)

	assert.True(t, r.Contains(MustParseDate("2025-03-01")))
	assert.False(t, r.Contains(MustParseDate("2025-03-03")))

	empty := DateRange{Start: r.End, End: r.Start}
	assert.Equal(t, 0, empty.Len())
}

func TestEffectiveCapacity(t *testing.T) {
	tests := []struct {
		name     string
		override *CapacityOverride
		want     int
	}{
		{"NoOverride", nil, 50},
		{"Closed", &CapacityOverride{IsAvailable: false, MaxCapacity: intPtr(10)}, 0},
		{"MaxCapacity", &CapacityOverride{IsAvailable: true, MaxCapacity: intPtr(5), AvailableSpots: intPtr(9)}, 5},
		{"SpotsOnly", &CapacityOverride{IsAvailable: true, AvailableSpots: intPtr(9)}, 9},
		{"PriceOnly", &CapacityOverride{IsAvailable: true}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveCapacity(tt.override, 50))
		})
	}
}

func TestUnitPriceAndRemaining(t *testing.T) {
	base := decimal.RequireFromString("35.00")
	assert.True(t, UnitPrice(nil, base).Equal(base))

	o := &CapacityOverride{PriceOverride: decimal.NewNullDecimal(decimal.RequireFromString("42.50"))}
	assert.Equal(t, "42.5", UnitPrice(o, base).String())

	assert.Equal(t, 10, Remaining(50, 40))
	assert.Equal(t, 0, Remaining(5, 8))
	assert.Equal(t, 0, Remaining(0, 0))
}

func TestBookingOccupiesCapacity(t *testing.T) {
	b := &Booking{Status: StatusCompleted, PaymentStatus: PaymentPaid}
	assert.True(t, b.OccupiesCapacity())

	b.PaymentStatus = PaymentRefunded
	assert.False(t, b.OccupiesCapacity())

	b = &Booking{Status: StatusCancelled, PaymentStatus: PaymentUnpaid}
	assert.False(t, b.OccupiesCapacity())
}

func TestHoldsSeats(t *testing.T) {
	assert.True(t, HoldsSeats(StatusPending, PaymentUnpaid))
	assert.True(t, HoldsSeats(StatusConfirmed, PaymentPaid))
	assert.False(t, HoldsSeats(StatusConfirmed, PaymentFailed))
	assert.False(t, HoldsSeats(StatusCancelled, PaymentPaid))
}
