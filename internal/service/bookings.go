package service

import (
	"context"
	"fmt"
	"slices"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

// BookingService drives the booking status lifecycle:
// pending -> confirmed -> completed, and pending|confirmed -> cancelled.
type BookingService struct {
	ledger   domain.BookingLedger
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(ledger domain.BookingLedger, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{ledger: ledger, eventBus: eventBus, logger: logger}
}

func (s *BookingService) Get(ctx context.Context, id int64) (*models.Booking, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	return s.ledger.GetBooking(ctx, id)
}

func (s *BookingService) List(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	if f.Status != "" && !slices.Contains([]string{models.StatusPending, models.StatusConfirmed, models.StatusCompleted, models.StatusCancelled}, f.Status) {
		return nil, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return s.ledger.ListBookings(ctx, f)
}

func (s *BookingService) Confirm(ctx context.Context, id int64) (*models.Booking, error) {
	return s.transition(ctx, id, []string{models.StatusPending}, models.StatusConfirmed, events.EventBookingConfirmed)
}

func (s *BookingService) Complete(ctx context.Context, id int64) (*models.Booking, error) {
	return s.transition(ctx, id, []string{models.StatusConfirmed}, models.StatusCompleted, events.EventBookingCompleted)
}

func (s *BookingService) Cancel(ctx context.Context, id int64) (*models.Booking, error) {
	return s.transition(ctx, id, []string{models.StatusPending, models.StatusConfirmed}, models.StatusCancelled, events.EventBookingCancelled)
}

func (s *BookingService) transition(ctx context.Context, id int64, from []string, to, eventType string) (*models.Booking, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	b, err := s.ledger.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("booking_id", id).Str("status", to).Msg("Booking status changed")
	publish(s.eventBus, s.logger, eventType, events.NewBookingPayload(b))
	return b, nil
}
