package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/events"
	"tourbook/internal/models"
	"tourbook/internal/repository"
	"tourbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	adminKey    = "admin-key"
	merchantKey = "merchant-key"
	otherKey    = "other-merchant-key"
	clientKey   = "client-key"
	testExtra   = "extra"
)

type testStack struct {
	db     *database.DB
	svc    Services
	server *HTTPServer
	ts     *httptest.Server
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "tourbook", Environment: "test"},
		API: config.APIConfig{
			HTTP: config.APIHTTPConfig{Port: 0},
			Auth: config.APIAuthConfig{
				Enabled:      true,
				HeaderAPIKey: "x-api-key",
				HeaderExtra:  "x-api-extra",
				APIKeys: []config.APIClientKey{
					{Key: adminKey, Extra: testExtra, Name: "ops", Role: models.RoleAdmin},
					{Key: merchantKey, Extra: testExtra, Name: "merchant-7", Role: models.RoleMerchant, MerchantID: 7},
					{Key: otherKey, Extra: testExtra, Name: "merchant-8", Role: models.RoleMerchant, MerchantID: 8},
					{Key: clientKey, Extra: testExtra, Name: "storefront", Role: models.RoleClient,
						Permissions: []string{permReadAvailability, permReadTours, permWriteBookings}},
				},
			},
			IdempotencyTTL: time.Hour,
		},
		Booking: config.BookingConfig{
			DefaultCapacity:  models.DefaultCapacity,
			MaxAdvanceDays:   365,
			MaxRangeDays:     models.MaxRangeDays,
			DefaultRangeDays: models.DefaultRangeDays,
			AdmissionRetries: 3,
		},
		Settlement: config.SettlementConfig{CommissionRate: models.DefaultCommissionRate, Retries: 3},
	}
}

func newTestStack(t *testing.T, cfg *config.Config, checks map[string]HealthCheck) *testStack {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "api.db"), &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus()
	svc := Services{
		Availability: service.NewAvailabilityService(db, db, db, cfg.Booking, &logger),
		Reservations: service.NewReservationService(db, bus, cfg.Booking, &logger),
		Capacity:     service.NewCapacityService(db, db, &logger),
		Settlements:  service.NewSettlementService(db, bus, cfg.Settlement, &logger),
		Tours:        service.NewTourService(db, &logger),
		Bookings:     service.NewBookingService(db, bus, &logger),
		Payments:     service.NewPaymentService(db, bus, cfg.Booking, &logger),
		Outbox:       service.NewOutboxService(db, &logger),
	}

	server := NewHTTPServer(cfg, svc, repository.NewMemoryIdempotencyStore(), checks, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testStack{db: db, svc: svc, server: server, ts: ts}
}

func (s *testStack) tour(t *testing.T, merchantID int64, price string, capacity int) *models.Tour {
	t.Helper()
	tour, err := s.svc.Tours.Create(context.Background(), service.CreateTourRequest{
		MerchantID:      merchantID,
		Title:           "Harbour cruise",
		City:            "Porto",
		BasePrice:       price,
		PriceBasis:      models.PricePerPerson,
		DefaultCapacity: &capacity,
	})
	require.NoError(t, err)
	return tour
}

// completedPaid reserves a booking and walks it to completed and paid.
func (s *testStack) completedPaid(t *testing.T, tourID int64, date string, guests int) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := s.svc.Reservations.Reserve(ctx, service.ReserveRequest{TourID: tourID, Date: date, Guests: guests})
	require.NoError(t, err)
	_, err = s.svc.Bookings.Confirm(ctx, b.ID)
	require.NoError(t, err)
	_, err = s.svc.Bookings.Complete(ctx, b.ID)
	require.NoError(t, err)
	b, err = s.svc.Payments.MarkPayment(ctx, b.ID, models.PaymentPaid, "psp-1")
	require.NoError(t, err)
	return b
}

type call struct {
	method  string
	path    string
	key     string
	body    any
	headers map[string]string
}

func (s *testStack) do(t *testing.T, c call) *http.Response {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(c.method, s.ts.URL+c.path, body)
	require.NoError(t, err)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("x-api-key", c.key)
		req.Header.Set("x-api-extra", testExtra)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// futureDate is a date inside the booking window.
func futureDate(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format("2006-01-02")
}
