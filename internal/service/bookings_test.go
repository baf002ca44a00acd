package service

import (
	"context"
	"testing"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingLifecycle(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 1, "10.00", models.PricePerPerson, nil)

	b, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-01", Guests: 2})
	require.NoError(t, err)

	_, err = env.bookings.Complete(ctx, b.ID)
	assert.True(t, domain.IsValidation(err), "pending cannot jump to completed")

	b, err = env.bookings.Confirm(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int64(2), b.Version)

	b, err = env.bookings.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)

	_, err = env.bookings.Cancel(ctx, b.ID)
	assert.True(t, domain.IsValidation(err), "completed bookings cannot be cancelled")

	assert.Equal(t, 1, env.bus.count(events.EventBookingConfirmed))
	assert.Equal(t, 1, env.bus.count(events.EventBookingCompleted))

	_, err = env.bookings.Get(ctx, 404)
	assert.True(t, domain.IsNotFound(err))
}

func TestCancelIsTerminal(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 1, "10.00", models.PricePerPerson, nil)

	b, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-01", Guests: 2})
	require.NoError(t, err)
	_, err = env.bookings.Cancel(ctx, b.ID)
	require.NoError(t, err)

	for _, op := range []func(context.Context, int64) (*models.Booking, error){env.bookings.Confirm, env.bookings.Complete, env.bookings.Cancel} {
		_, err := op(ctx, b.ID)
		assert.True(t, domain.IsValidation(err))
	}
	assert.Equal(t, 1, env.bus.count(events.EventBookingCancelled))
}

func TestPaymentTransitions(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 1, "10.00", models.PricePerPerson, nil)

	b, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-01", Guests: 2})
	require.NoError(t, err)

	_, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentRefunded, "")
	assert.True(t, domain.IsValidation(err), "unpaid cannot be refunded")

	_, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentUnpaid, "")
	assert.True(t, domain.IsValidation(err))

	b, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentFailed, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, b.PaymentStatus)

	b, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentPaid, "txn-42")
	require.NoError(t, err)
	require.NotNil(t, b.PaymentRef)
	assert.Equal(t, "txn-42", *b.PaymentRef)

	_, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentPaid, "")
	assert.True(t, domain.IsValidation(err), "paid cannot be paid again")

	b, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentRefunded, "")
	require.NoError(t, err)
	assert.Equal(t, "txn-42", *b.PaymentRef, "reference is kept when none is given")

	_, err = env.payments.MarkPayment(ctx, b.ID, models.PaymentPaid, "")
	assert.True(t, domain.IsValidation(err), "refunded is terminal")

	assert.Equal(t, 1, env.bus.count(events.EventBookingPaymentFailed))
	assert.Equal(t, 1, env.bus.count(events.EventBookingPaid))
	assert.Equal(t, 1, env.bus.count(events.EventBookingRefunded))
}

func TestPaymentAfterFailureIsReadmitted(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 1, "10.00", models.PricePerPerson, nil)
	_, err := env.capacity.Upsert(ctx, UpsertOverride{TourID: tour.ID, Date: "2025-06-01", MaxCapacity: intPtr(5)})
	require.NoError(t, err)

	first, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-01", Guests: 5})
	require.NoError(t, err)
	_, err = env.payments.MarkPayment(ctx, first.ID, models.PaymentFailed, "")
	require.NoError(t, err)

	second, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-01", Guests: 5})
	require.NoError(t, err, "failed payments release their seats")

	_, err = env.payments.MarkPayment(ctx, first.ID, models.PaymentPaid, "late")
	var capErr domain.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Remaining)
	assert.Equal(t, 5, capErr.Requested)

	b, err := env.bookings.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, b.PaymentStatus)

	check, err := env.availability.Check(ctx, tour.ID, "2025-06-01", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, check.Occupied)
	assert.Equal(t, 5, check.Capacity)

	_, err = env.bookings.Cancel(ctx, second.ID)
	require.NoError(t, err)
	b, err = env.payments.MarkPayment(ctx, first.ID, models.PaymentPaid, "late")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, b.PaymentStatus)

	check, err = env.availability.Check(ctx, tour.ID, "2025-06-01", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, check.Occupied)
	assert.Equal(t, 1, env.bus.count(events.EventBookingPaid))
}

func TestListBookings(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	a := env.tour(t, 1, "10.00", models.PricePerPerson, nil)
	b := env.tour(t, 2, "10.00", models.PricePerPerson, nil)

	for _, req := range []ReserveRequest{
		{TourID: a.ID, Date: "2025-06-01", Guests: 1},
		{TourID: a.ID, Date: "2025-06-02", Guests: 1},
		{TourID: b.ID, Date: "2025-06-01", Guests: 1},
	} {
		_, err := env.reservations.Reserve(ctx, req)
		require.NoError(t, err)
	}

	list, err := env.bookings.List(ctx, models.BookingFilter{MerchantID: 1})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = env.bookings.List(ctx, models.BookingFilter{Date: models.MustParseDate("2025-06-01")})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = env.bookings.List(ctx, models.BookingFilter{Status: "lost"})
	assert.True(t, domain.IsValidation(err))
}

func TestTourService(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()

	_, err := env.tours.Create(ctx, CreateTourRequest{MerchantID: 1, Title: " ", BasePrice: "10"})
	assert.True(t, domain.IsValidation(err))
	_, err = env.tours.Create(ctx, CreateTourRequest{MerchantID: 1, Title: "x", BasePrice: "10", PriceBasis: "per-day"})
	assert.True(t, domain.IsValidation(err))
	_, err = env.tours.Create(ctx, CreateTourRequest{MerchantID: 1, Title: "x", BasePrice: "ten"})
	assert.True(t, domain.IsValidation(err))

	tour := env.tour(t, 1, "10.00", "", nil)
	assert.Equal(t, models.PricePerPerson, tour.PriceBasis)

	require.NoError(t, env.tours.Seed(ctx, []models.Tour{
		{ID: 100, MerchantID: 2, Title: "Seeded", City: "Porto", PriceBasis: models.PricePerGroup, IsActive: true},
	}))
	seeded, err := env.tours.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Seeded", seeded.Title)

	off, err := env.tours.SetActive(ctx, 100, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	active, err := env.tours.List(ctx, 0, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	err = env.tours.Seed(ctx, []models.Tour{{ID: 0, MerchantID: 1}})
	assert.True(t, domain.IsValidation(err))
}
