package domain

import (
	"context"
	"time"

	"tourbook/internal/models"
)

type TourStore interface {
	GetTour(ctx context.Context, id int64) (*models.Tour, error)
	ListTours(ctx context.Context, merchantID int64, activeOnly bool) ([]*models.Tour, error)
	CreateTour(ctx context.Context, tour *models.Tour) error
	UpsertTour(ctx context.Context, tour *models.Tour) error
	SetTourActive(ctx context.Context, id int64, active bool) error
}

type CapacityStore interface {
	GetOverride(ctx context.Context, tourID int64, date models.Date) (*models.CapacityOverride, error)
	ListOverrides(ctx context.Context, tourID int64, r models.DateRange) ([]*models.CapacityOverride, error)
	UpsertOverride(ctx context.Context, o *models.CapacityOverride) error
	DeleteOverride(ctx context.Context, tourID int64, date models.Date) error
}

// AdmissionSnapshot is the state an admission decision is made on. It is read
// inside the transaction that inserts the booking.
type AdmissionSnapshot struct {
	Tour     *models.Tour
	Override *models.CapacityOverride
	Occupied int
}

// AdmitFunc decides on a snapshot and returns the booking to insert.
type AdmitFunc func(snap AdmissionSnapshot) (*models.Booking, error)

// ReadmitFunc decides whether a booking that released its seats may hold
// them again. It runs on a snapshot read inside the transition transaction.
type ReadmitFunc func(snap AdmissionSnapshot, b *models.Booking) error

type BookingLedger interface {
	Occupancy(ctx context.Context, tourID int64, date models.Date) (int, error)
	OccupancyByDate(ctx context.Context, tourID int64, r models.DateRange) (map[string]int, error)
	AdmitBooking(ctx context.Context, tourID int64, date models.Date, decide AdmitFunc) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	TransitionStatus(ctx context.Context, id int64, from []string, to string) (*models.Booking, error)
	TransitionPayment(ctx context.Context, id int64, from []string, to string, ref *string, readmit ReadmitFunc) (*models.Booking, error)
	RefundBooking(ctx context.Context, id int64, ref *string) (*models.Booking, *models.SettlementAdjustment, error)
}

// SettleFunc turns the selected bookings and pending adjustments into a
// settlement with its lines. It runs inside the settlement transaction.
type SettleFunc func(bookings []*models.Booking, adjustments []*models.SettlementAdjustment) (*models.Settlement, error)

type SettlementStore interface {
	RunSettlement(ctx context.Context, merchantID int64, period models.DateRange, compute SettleFunc) (*models.Settlement, error)
	GetSettlement(ctx context.Context, id int64) (*models.Settlement, error)
	ListSettlements(ctx context.Context, filter models.SettlementFilter) ([]*models.Settlement, error)
	MarkSettlementPaidOut(ctx context.Context, id int64) (*models.Settlement, error)
	MerchantsWithEligibleBookings(ctx context.Context, period models.DateRange) ([]int64, error)
}

type OutboxStore interface {
	CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error
	GetOutboxTask(ctx context.Context, id int64) (*models.OutboxTask, error)
	GetPendingOutboxTasks(ctx context.Context, limit int) ([]*models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, lastError string, nextRetryAt *time.Time) error
	GetFailedOutboxTasks(ctx context.Context) ([]*models.OutboxTask, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// IdempotencyRecord is a stored API response keyed by the client's idempotency key.
type IdempotencyRecord struct {
	Fingerprint string `json:"fingerprint"`
	StatusCode  int    `json:"status_code"`
	Body        []byte `json:"body"`
	Completed   bool   `json:"completed"`
}

type IdempotencyStore interface {
	// Claim reserves key for fingerprint. It returns false with the existing
	// record when the key was already claimed.
	Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, *IdempotencyRecord, error)
	Complete(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, eventType string, payload []byte) error
}
