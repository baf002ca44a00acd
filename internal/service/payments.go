package service

import (
	"context"
	"fmt"
	"strings"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

// paymentTransitions lists the allowed source states per target payment status.
var paymentTransitions = map[string][]string{
	models.PaymentPaid:     {models.PaymentUnpaid, models.PaymentFailed},
	models.PaymentFailed:   {models.PaymentUnpaid},
	models.PaymentRefunded: {models.PaymentPaid},
}

// PaymentService applies payment status changes reported by the payment
// collaborator.
type PaymentService struct {
	ledger   domain.BookingLedger
	eventBus domain.EventPublisher
	cfg      config.BookingConfig
	logger   *zerolog.Logger
}

func NewPaymentService(ledger domain.BookingLedger, eventBus domain.EventPublisher, cfg config.BookingConfig, logger *zerolog.Logger) *PaymentService {
	return &PaymentService{ledger: ledger, eventBus: eventBus, cfg: cfg, logger: logger}
}

// readmit rejects a payment that would bring a released booking's guests
// back above the date's capacity.
func (s *PaymentService) readmit(snap domain.AdmissionSnapshot, b *models.Booking) error {
	capacity := models.EffectiveCapacity(snap.Override, snap.Tour.CapacityOr(s.cfg.DefaultCapacity))
	if snap.Occupied+b.Guests > capacity {
		return domain.CapacityExceededError{
			TourID:    b.TourID,
			Date:      b.Date.String(),
			Requested: b.Guests,
			Remaining: models.Remaining(capacity, snap.Occupied),
		}
	}
	return nil
}

// MarkPayment moves a booking's payment status. Refunding a settled booking
// also records a settlement adjustment that the next settlement absorbs.
func (s *PaymentService) MarkPayment(ctx context.Context, id int64, status, reference string) (*models.Booking, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	from, ok := paymentTransitions[status]
	if !ok {
		return nil, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("cannot set payment status %q", status)}
	}
	var ref *string
	if r := strings.TrimSpace(reference); r != "" {
		ref = &r
	}

	if status == models.PaymentRefunded {
		b, adj, err := s.ledger.RefundBooking(ctx, id, ref)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Int64("booking_id", id).Bool("adjusted", adj != nil).Msg("Booking refunded")
		publish(s.eventBus, s.logger, events.EventBookingRefunded, events.NewBookingPayload(b))
		if adj != nil {
			publish(s.eventBus, s.logger, events.EventSettlementAdjustmentRecorded, events.NewAdjustmentPayload(adj))
		}
		return b, nil
	}

	b, err := s.ledger.TransitionPayment(ctx, id, from, status, ref, s.readmit)
	if err != nil {
		return nil, err
	}
	eventType := events.EventBookingPaid
	if status == models.PaymentFailed {
		eventType = events.EventBookingPaymentFailed
	}
	s.logger.Info().Int64("booking_id", id).Str("payment_status", status).Msg("Booking payment changed")
	publish(s.eventBus, s.logger, eventType, events.NewBookingPayload(b))
	return b, nil
}
