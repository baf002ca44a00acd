package service

import (
	"context"
	"strings"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/money"
	"tourbook/internal/worker"

	"github.com/rs/zerolog"
)

type ReserveRequest struct {
	TourID      int64
	Date        string
	Guests      int
	CustomerRef string
}

type ReservationService struct {
	ledger   domain.BookingLedger
	eventBus domain.EventPublisher
	cfg      config.BookingConfig
	retry    worker.RetryPolicy
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewReservationService(ledger domain.BookingLedger, eventBus domain.EventPublisher, cfg config.BookingConfig, logger *zerolog.Logger) *ReservationService {
	return &ReservationService{
		ledger:   ledger,
		eventBus: eventBus,
		cfg:      cfg,
		retry:    conflictPolicy(cfg.AdmissionRetries),
		logger:   logger,
		now:      time.Now,
	}
}

// conflictPolicy is the short backoff used for write conflicts.
func conflictPolicy(retries int) worker.RetryPolicy {
	return worker.RetryPolicy{
		MaxRetries:    retries,
		InitialDelay:  25 * time.Millisecond,
		MaxDelay:      250 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func (s *ReservationService) validate(req ReserveRequest) (models.Date, error) {
	if err := requirePositive("tourId", req.TourID); err != nil {
		return models.Date{}, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return models.Date{}, err
	}
	if err := requireGuests(req.Guests); err != nil {
		return models.Date{}, err
	}

	today := models.NewDate(s.now().UTC())
	if date.Before(today) {
		return models.Date{}, domain.ValidationError{Field: "date", Msg: "must not be in the past"}
	}
	window := models.DateRange{Start: today, End: today.AddDays(s.cfg.MaxAdvanceDays)}
	if s.cfg.MaxAdvanceDays > 0 && !window.Contains(date) {
		return models.Date{}, domain.ValidationError{Field: "date", Msg: "is too far in the future"}
	}
	if len(req.CustomerRef) > 128 {
		return models.Date{}, domain.ValidationError{Field: "customerRef", Msg: "must be at most 128 characters"}
	}
	return date, nil
}

// admit builds the admission decision for req. It runs inside the booking
// transaction against freshly read state.
func (s *ReservationService) admit(req ReserveRequest, date models.Date) domain.AdmitFunc {
	return func(snap domain.AdmissionSnapshot) (*models.Booking, error) {
		tour := snap.Tour
		if !tour.IsActive {
			return nil, domain.NotFoundError{Resource: "tour", ID: tour.ID}
		}

		capacity := models.EffectiveCapacity(snap.Override, tour.CapacityOr(s.cfg.DefaultCapacity))
		if snap.Occupied+req.Guests > capacity {
			return nil, domain.CapacityExceededError{
				TourID:    tour.ID,
				Date:      date.String(),
				Requested: req.Guests,
				Remaining: models.Remaining(capacity, snap.Occupied),
			}
		}

		unit := models.UnitPrice(snap.Override, tour.BasePrice)
		return &models.Booking{
			TourID:           tour.ID,
			MerchantID:       tour.MerchantID,
			CustomerRef:      strings.TrimSpace(req.CustomerRef),
			Date:             date,
			Guests:           req.Guests,
			PriceBasis:       tour.PriceBasis,
			UnitPrice:        money.Round(unit),
			FinalPrice:       money.Price(unit, req.Guests, tour.PriceBasis == models.PricePerGroup),
			Status:           models.StatusPending,
			PaymentStatus:    models.PaymentUnpaid,
			SettlementStatus: models.SettlementUnsettled,
		}, nil
	}
}

// Reserve admits a booking if the guests fit on the tour date. Write
// conflicts are retried with backoff before they reach the caller.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*models.Booking, error) {
	date, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	var booking *models.Booking
	err = worker.Do(ctx, s.retry, func(attempt int) error {
		if attempt > 0 {
			metrics.IncAdmissionRetry()
			s.logger.Debug().Int64("tour_id", req.TourID).Int("attempt", attempt).Msg("Retrying admission after conflict")
		}
		b, err := s.ledger.AdmitBooking(ctx, req.TourID, date, s.admit(req, date))
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		metrics.IncAdmission(admissionResult(err))
		if domain.IsPersistence(err) || domain.IsConflict(err) {
			s.logger.Error().Err(err).Int64("tour_id", req.TourID).Str("date", req.Date).Msg("Admission failed")
		}
		return nil, err
	}

	metrics.IncAdmission("admitted")
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("tour_id", booking.TourID).
		Str("date", booking.Date.String()).
		Int("guests", booking.Guests).
		Str("final_price", money.Format(booking.FinalPrice)).
		Msg("Booking admitted")
	publish(s.eventBus, s.logger, events.EventBookingCreated, events.NewBookingPayload(booking))
	return booking, nil
}

func admissionResult(err error) string {
	switch {
	case domain.IsCapacityExceeded(err):
		return "capacity_exceeded"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsValidation(err), domain.IsNotFound(err):
		return "rejected"
	default:
		return "error"
	}
}

// publish emits an event; failures are logged and never fail the operation.
func publish(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, payload any) {
	if bus == nil {
		return
	}
	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
