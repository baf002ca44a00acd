package service

import (
	"context"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/money"
	"tourbook/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type SettleRequest struct {
	MerchantID  int64
	PeriodStart string
	PeriodEnd   string
}

type SettlementService struct {
	store    domain.SettlementStore
	eventBus domain.EventPublisher
	rate     decimal.Decimal
	retry    worker.RetryPolicy
	logger   *zerolog.Logger
}

func NewSettlementService(store domain.SettlementStore, eventBus domain.EventPublisher, cfg config.SettlementConfig, logger *zerolog.Logger) *SettlementService {
	return &SettlementService{
		store:    store,
		eventBus: eventBus,
		rate:     cfg.Rate(),
		retry:    conflictPolicy(cfg.Retries),
		logger:   logger,
	}
}

// Rate is the commission rate snapshotted onto new settlements.
func (s *SettlementService) Rate() decimal.Decimal { return s.rate }

// ParsePeriod validates a settlement period.
func ParsePeriod(start, end string) (models.DateRange, error) {
	from, err := parseDate("periodStart", start)
	if err != nil {
		return models.DateRange{}, err
	}
	to, err := parseDate("periodEnd", end)
	if err != nil {
		return models.DateRange{}, err
	}
	if to.Before(from) {
		return models.DateRange{}, domain.ValidationError{Field: "periodEnd", Msg: "must not be before periodStart"}
	}
	return models.DateRange{Start: from, End: to}, nil
}

// compute builds the settlement for the selected bookings. Fees are rounded
// per booking, so the totals are sums of already rounded line values.
func (s *SettlementService) compute(merchantID int64, period models.DateRange) domain.SettleFunc {
	return func(bookings []*models.Booking, adjustments []*models.SettlementAdjustment) (*models.Settlement, error) {
		st := &models.Settlement{
			Reference:      uuid.NewString(),
			MerchantID:     merchantID,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			CommissionRate: s.rate,
			BookingCount:   len(bookings),
			Status:         models.SettlementStatusPending,
			Lines:          make([]models.SettlementLine, 0, len(bookings)),
		}
		for _, b := range bookings {
			fee, payout := money.Split(b.FinalPrice, s.rate)
			st.Lines = append(st.Lines, models.SettlementLine{
				BookingID:      b.ID,
				BookingDate:    b.Date,
				Revenue:        b.FinalPrice,
				PlatformFee:    fee,
				MerchantPayout: payout,
			})
			st.TotalRevenue = st.TotalRevenue.Add(b.FinalPrice)
			st.TotalPlatformFee = st.TotalPlatformFee.Add(fee)
			st.TotalMerchantPayout = st.TotalMerchantPayout.Add(payout)
		}
		for _, a := range adjustments {
			st.AdjustmentPayout = st.AdjustmentPayout.Add(a.MerchantPayout)
		}
		st.AdjustmentCount = len(adjustments)
		st.NetPayout = st.TotalMerchantPayout.Add(st.AdjustmentPayout)
		return st, nil
	}
}

// Settle settles every eligible booking of the merchant in the period,
// exactly once. Write conflicts are retried with backoff.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*models.Settlement, error) {
	if err := requirePositive("merchantId", req.MerchantID); err != nil {
		return nil, err
	}
	period, err := ParsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, req.MerchantID, period)
}

func (s *SettlementService) settle(ctx context.Context, merchantID int64, period models.DateRange) (*models.Settlement, error) {
	var st *models.Settlement
	err := worker.Do(ctx, s.retry, func(attempt int) error {
		if attempt > 0 {
			s.logger.Debug().Int64("merchant_id", merchantID).Int("attempt", attempt).Msg("Retrying settlement after conflict")
		}
		out, err := s.store.RunSettlement(ctx, merchantID, period, s.compute(merchantID, period))
		if err != nil {
			return err
		}
		st = out
		return nil
	})
	if err != nil {
		metrics.IncSettlement(settlementResult(err))
		if !domain.IsNothingToSettle(err) {
			s.logger.Error().Err(err).Int64("merchant_id", merchantID).Msg("Settlement failed")
		}
		return nil, err
	}

	metrics.IncSettlement("settled")
	metrics.AddSettledRevenue(st.TotalRevenue.InexactFloat64())
	s.logger.Info().
		Int64("settlement_id", st.ID).
		Str("reference", st.Reference).
		Int64("merchant_id", merchantID).
		Int("bookings", st.BookingCount).
		Int("adjustments", st.AdjustmentCount).
		Str("revenue", money.Format(st.TotalRevenue)).
		Str("net_payout", money.Format(st.NetPayout)).
		Msg("Settlement created")
	publish(s.eventBus, s.logger, events.EventSettlementCreated, events.NewSettlementPayload(st))
	return st, nil
}

// SettleAll settles the period for every merchant with eligible bookings and
// returns the created settlements. Merchants with nothing to settle are
// skipped; other failures are collected.
func (s *SettlementService) SettleAll(ctx context.Context, period models.DateRange) ([]*models.Settlement, []error) {
	merchants, err := s.store.MerchantsWithEligibleBookings(ctx, period)
	if err != nil {
		return nil, []error{err}
	}

	var (
		out  []*models.Settlement
		errs []error
	)
	for _, id := range merchants {
		st, err := s.settle(ctx, id, period)
		switch {
		case err == nil:
			out = append(out, st)
		case domain.IsNothingToSettle(err):
		default:
			errs = append(errs, err)
		}
	}
	return out, errs
}

func (s *SettlementService) Get(ctx context.Context, id int64) (*models.Settlement, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	return s.store.GetSettlement(ctx, id)
}

func (s *SettlementService) List(ctx context.Context, f models.SettlementFilter) ([]*models.Settlement, error) {
	if f.Status != "" && f.Status != models.SettlementStatusPending && f.Status != models.SettlementStatusPaidOut {
		return nil, domain.ValidationError{Field: "status", Msg: "must be pending or paid_out"}
	}
	return s.store.ListSettlements(ctx, f)
}

// MarkPaidOut moves a pending settlement to paid_out.
func (s *SettlementService) MarkPaidOut(ctx context.Context, id int64) (*models.Settlement, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	st, err := s.store.MarkSettlementPaidOut(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("settlement_id", id).Msg("Settlement paid out")
	publish(s.eventBus, s.logger, events.EventSettlementPaidOut, events.NewSettlementPayload(st))
	return st, nil
}

func settlementResult(err error) string {
	switch {
	case domain.IsNothingToSettle(err):
		return "nothing_to_settle"
	case domain.IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
