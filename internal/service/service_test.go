package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testNow is the fixed clock of the service tests.
var testNow = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) PublishJSON(eventType string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	return nil
}

func (b *recordingBus) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db           *database.DB
	bus          *recordingBus
	tours        *TourService
	availability *AvailabilityService
	reservations *ReservationService
	settlements  *SettlementService
	capacity     *CapacityService
	bookings     *BookingService
	payments     *PaymentService
}

func bookingConfig() config.BookingConfig {
	return config.BookingConfig{
		DefaultCapacity:  models.DefaultCapacity,
		MaxAdvanceDays:   365,
		MaxRangeDays:     models.MaxRangeDays,
		DefaultRangeDays: models.DefaultRangeDays,
		AdmissionRetries: 5,
	}
}

func newTestEnv(t *testing.T, bookingCfg config.BookingConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := &recordingBus{}
	env := &testEnv{
		db:           db,
		bus:          bus,
		tours:        NewTourService(db, &logger),
		availability: NewAvailabilityService(db, db, db, bookingCfg, &logger),
		reservations: NewReservationService(db, bus, bookingCfg, &logger),
		settlements:  NewSettlementService(db, bus, config.SettlementConfig{CommissionRate: "0.10", Retries: 3}, &logger),
		capacity:     NewCapacityService(db, db, &logger),
		bookings:     NewBookingService(db, bus, &logger),
		payments:     NewPaymentService(db, bus, bookingCfg, &logger),
	}
	env.availability.now = func() time.Time { return testNow }
	env.reservations.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) tour(t *testing.T, merchantID int64, price, basis string, defaultCapacity *int) *models.Tour {
	t.Helper()
	tour, err := e.tours.Create(context.Background(), CreateTourRequest{
		MerchantID:      merchantID,
		Title:           "Old town walk",
		City:            "Lisbon",
		BasePrice:       price,
		PriceBasis:      basis,
		DefaultCapacity: defaultCapacity,
	})
	require.NoError(t, err)
	return tour
}

// settleable reserves a booking and walks it to completed and paid.
func (e *testEnv) settleable(t *testing.T, tourID int64, date string, guests int) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := e.reservations.Reserve(ctx, ReserveRequest{TourID: tourID, Date: date, Guests: guests})
	require.NoError(t, err)
	_, err = e.bookings.Confirm(ctx, b.ID)
	require.NoError(t, err)
	_, err = e.bookings.Complete(ctx, b.ID)
	require.NoError(t, err)
	b, err = e.payments.MarkPayment(ctx, b.ID, models.PaymentPaid, "pay-1")
	require.NoError(t, err)
	return b
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }
