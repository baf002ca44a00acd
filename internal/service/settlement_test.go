package service

import (
	"context"
	"sync"
	"testing"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleTwoBookings(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	small := env.tour(t, 7, "100.00", models.PricePerGroup, nil)
	large := env.tour(t, 7, "250.00", models.PricePerGroup, nil)

	b1 := env.settleable(t, small.ID, "2025-06-03", 2)
	b2 := env.settleable(t, large.ID, "2025-06-10", 4)

	st, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 7, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
	require.NoError(t, err)
	assert.Equal(t, "350.00", st.TotalRevenue.StringFixed(2))
	assert.Equal(t, "35.00", st.TotalPlatformFee.StringFixed(2))
	assert.Equal(t, "315.00", st.TotalMerchantPayout.StringFixed(2))
	assert.Equal(t, "315.00", st.NetPayout.StringFixed(2))
	assert.Equal(t, 2, st.BookingCount)
	assert.Equal(t, "0.1", st.CommissionRate.String())
	assert.NotEmpty(t, st.Reference)
	assert.Equal(t, 1, env.bus.count(events.EventSettlementCreated))

	for _, id := range []int64{b1.ID, b2.ID} {
		b, err := env.bookings.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.SettlementSettled, b.SettlementStatus)
		require.NotNil(t, b.SettlementID)
		assert.Equal(t, st.ID, *b.SettlementID)
	}

	_, err = env.settlements.Settle(ctx, SettleRequest{MerchantID: 7, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
	assert.True(t, domain.IsNothingToSettle(err))
}

func TestSettleRoundsPerBooking(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 3, "0.05", models.PricePerGroup, nil)
	for i := 0; i < 3; i++ {
		env.settleable(t, tour.ID, "2025-06-01", 1)
	}

	st, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 3, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-01"})
	require.NoError(t, err)
	// 0.005 rounds to 0.01 per booking, so the fee total is 0.03, not round(0.015).
	assert.Equal(t, "0.03", st.TotalPlatformFee.StringFixed(2))
	assert.Equal(t, "0.12", st.TotalMerchantPayout.StringFixed(2))
	assert.True(t, st.TotalRevenue.Equal(st.TotalPlatformFee.Add(st.TotalMerchantPayout)))

	got, err := env.settlements.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 3)
	for _, l := range got.Lines {
		assert.Equal(t, "0.01", l.PlatformFee.StringFixed(2))
	}
}

func TestSettleSelectsOnlyEligible(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 4, "80.00", models.PricePerGroup, nil)
	other := env.tour(t, 5, "80.00", models.PricePerGroup, nil)

	env.settleable(t, tour.ID, "2025-06-15", 1)
	env.settleable(t, tour.ID, "2025-07-01", 1)
	env.settleable(t, other.ID, "2025-06-15", 1)

	unpaid, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-16", Guests: 1})
	require.NoError(t, err)
	_, err = env.bookings.Confirm(ctx, unpaid.ID)
	require.NoError(t, err)
	_, err = env.bookings.Complete(ctx, unpaid.ID)
	require.NoError(t, err)

	paidPending, err := env.reservations.Reserve(ctx, ReserveRequest{TourID: tour.ID, Date: "2025-06-17", Guests: 1})
	require.NoError(t, err)
	_, err = env.payments.MarkPayment(ctx, paidPending.ID, models.PaymentPaid, "")
	require.NoError(t, err)

	st, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 4, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.BookingCount)
	assert.Equal(t, "80.00", st.TotalRevenue.StringFixed(2))
}

func TestSettleValidation(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()

	cases := []SettleRequest{
		{MerchantID: 0, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"},
		{MerchantID: 1, PeriodStart: "2025-06-30", PeriodEnd: "2025-06-01"},
		{MerchantID: 1, PeriodStart: "June", PeriodEnd: "2025-06-30"},
	}
	for _, req := range cases {
		_, err := env.settlements.Settle(ctx, req)
		assert.True(t, domain.IsValidation(err), "request %+v", req)
	}

	_, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 1, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
	assert.True(t, domain.IsNothingToSettle(err))
}

func TestConcurrentSettleSettlesOnce(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 8, "40.00", models.PricePerGroup, nil)
	for i := 0; i < 4; i++ {
		env.settleable(t, tour.ID, "2025-06-05", 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled []*models.Settlement
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 8, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
			if err != nil {
				if !domain.IsNothingToSettle(err) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			settled = append(settled, st)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, settled, 1)
	assert.Equal(t, 4, settled[0].BookingCount)
	all, err := env.settlements.List(ctx, models.SettlementFilter{MerchantID: 8})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRefundAfterSettlementIsClawedBack(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 9, "100.00", models.PricePerGroup, nil)

	refunded := env.settleable(t, tour.ID, "2025-06-01", 1)
	first, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 9, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
	require.NoError(t, err)

	b, err := env.payments.MarkPayment(ctx, refunded.ID, models.PaymentRefunded, "refund-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, b.PaymentStatus)
	assert.Equal(t, models.SettlementSettled, b.SettlementStatus, "settled stays settled")
	assert.Equal(t, 1, env.bus.count(events.EventSettlementAdjustmentRecorded))

	_, err = env.settlements.Settle(ctx, SettleRequest{MerchantID: 9, PeriodStart: "2025-07-01", PeriodEnd: "2025-07-31"})
	assert.True(t, domain.IsNothingToSettle(err), "adjustments alone never create a settlement")

	env.settleable(t, tour.ID, "2025-07-02", 1)
	second, err := env.settlements.Settle(ctx, SettleRequest{MerchantID: 9, PeriodStart: "2025-07-01", PeriodEnd: "2025-07-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.AdjustmentCount)
	assert.Equal(t, "-90.00", second.AdjustmentPayout.StringFixed(2))
	assert.Equal(t, "90.00", second.TotalMerchantPayout.StringFixed(2))
	assert.Equal(t, "0.00", second.NetPayout.StringFixed(2))

	got, err := env.settlements.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, got.Adjustments, 1)
	assert.Equal(t, first.ID, got.Adjustments[0].SourceSettlementID)

	again, err := env.settlements.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.NetPayout.String(), again.NetPayout.String(), "settlements are immutable")
}

func TestRefundBeforeSettlementReleasesBooking(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	tour := env.tour(t, 10, "100.00", models.PricePerGroup, nil)

	b := env.settleable(t, tour.ID, "2025-06-01", 1)
	_, err := env.payments.MarkPayment(ctx, b.ID, models.PaymentRefunded, "")
	require.NoError(t, err)
	assert.Zero(t, env.bus.count(events.EventSettlementAdjustmentRecorded))

	_, err = env.settlements.Settle(ctx, SettleRequest{MerchantID: 10, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"})
	assert.True(t, domain.IsNothingToSettle(err))
}

func TestSettleAllAndPayout(t *testing.T) {
	env := newTestEnv(t, bookingConfig())
	ctx := context.Background()
	a := env.tour(t, 11, "10.00", models.PricePerGroup, nil)
	b := env.tour(t, 12, "20.00", models.PricePerGroup, nil)
	env.settleable(t, a.ID, "2025-06-02", 1)
	env.settleable(t, b.ID, "2025-06-03", 1)

	period, err := ParsePeriod("2025-06-01", "2025-06-30")
	require.NoError(t, err)
	created, errs := env.settlements.SettleAll(ctx, period)
	assert.Empty(t, errs)
	require.Len(t, created, 2)

	created, errs = env.settlements.SettleAll(ctx, period)
	assert.Empty(t, errs)
	assert.Empty(t, created)

	paid, err := env.settlements.MarkPaidOut(ctx, created0(t, env, 11).ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusPaidOut, paid.Status)
	assert.NotNil(t, paid.PaidOutAt)
	assert.Equal(t, 1, env.bus.count(events.EventSettlementPaidOut))

	_, err = env.settlements.MarkPaidOut(ctx, paid.ID)
	assert.True(t, domain.IsValidation(err))

	pending, err := env.settlements.List(ctx, models.SettlementFilter{Status: models.SettlementStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(12), pending[0].MerchantID)

	_, err = env.settlements.List(ctx, models.SettlementFilter{Status: "bogus"})
	assert.True(t, domain.IsValidation(err))
}

func created0(t *testing.T, env *testEnv, merchantID int64) *models.Settlement {
	t.Helper()
	list, err := env.settlements.List(context.Background(), models.SettlementFilter{MerchantID: merchantID})
	require.NoError(t, err)
	require.NotEmpty(t, list)
	return list[0]
}
