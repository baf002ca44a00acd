package models

import "slices"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
	PaymentFailed   = "failed"
)

const (
	SettlementUnsettled = "unsettled"
	SettlementSettled   = "settled"
)

const (
	SettlementStatusPending = "pending"
	SettlementStatusPaidOut = "paid_out"
)

const (
	PricePerPerson = "per-person"
	PricePerGroup  = "per-group"
)

const (
	RoleAdmin    = "admin"
	RoleMerchant = "merchant"
	RoleClient   = "client"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusRetry      = "retry"
	OutboxStatusCompleted  = "completed"
	OutboxStatusFailed     = "failed"
)

const (
	// DefaultCapacity applies when neither the tour nor the config sets one.
	DefaultCapacity = 50

	// DefaultRangeDays is the window used by range queries without an end.
	DefaultRangeDays = 30

	// MaxRangeDays caps a single range query.
	MaxRangeDays = 366

	// DefaultCommissionRate is the platform share of booking revenue.
	DefaultCommissionRate = "0.10"

	// OutboxQueueSize is the in-memory outbox buffer when Redis is absent.
	OutboxQueueSize = 1000
)

// ActiveStatuses are the booking statuses that occupy capacity.
var ActiveStatuses = []string{StatusPending, StatusConfirmed, StatusCompleted}

// ReleasedPayments are payment states that free the booking's seats.
var ReleasedPayments = []string{PaymentFailed, PaymentRefunded}

// HoldsSeats reports whether a booking in these states counts toward occupancy.
func HoldsSeats(status, payment string) bool {
	return slices.Contains(ActiveStatuses, status) && !slices.Contains(ReleasedPayments, payment)
}

// ValidPriceBasis reports whether basis is a known pricing mode.
func ValidPriceBasis(basis string) bool {
	return basis == PricePerPerson || basis == PricePerGroup
}
