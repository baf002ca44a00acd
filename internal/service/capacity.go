package service

import (
	"context"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UpsertOverride sets the capacity policy of one tour date. Nil fields are
// stored as unset; IsAvailable defaults to true.
type UpsertOverride struct {
	TourID         int64
	Date           string
	MaxCapacity    *int
	AvailableSpots *int
	PriceOverride  *string
	IsAvailable    *bool
}

type CapacityService struct {
	tours    domain.TourStore
	capacity domain.CapacityStore
	logger   *zerolog.Logger
}

func NewCapacityService(tours domain.TourStore, capacity domain.CapacityStore, logger *zerolog.Logger) *CapacityService {
	return &CapacityService{tours: tours, capacity: capacity, logger: logger}
}

func (s *CapacityService) Upsert(ctx context.Context, req UpsertOverride) (*models.CapacityOverride, error) {
	if err := requirePositive("tourId", req.TourID); err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	if req.MaxCapacity != nil && *req.MaxCapacity < 0 {
		return nil, domain.ValidationError{Field: "maxCapacity", Msg: "must not be negative"}
	}
	if req.AvailableSpots != nil && *req.AvailableSpots < 0 {
		return nil, domain.ValidationError{Field: "availableSpots", Msg: "must not be negative"}
	}

	o := &models.CapacityOverride{
		TourID:         req.TourID,
		Date:           date,
		MaxCapacity:    req.MaxCapacity,
		AvailableSpots: req.AvailableSpots,
		IsAvailable:    true,
	}
	if req.IsAvailable != nil {
		o.IsAvailable = *req.IsAvailable
	}
	if req.PriceOverride != nil {
		price, err := parsePrice("priceOverride", *req.PriceOverride)
		if err != nil {
			return nil, err
		}
		o.PriceOverride = decimal.NewNullDecimal(price)
	}

	if _, err := s.tours.GetTour(ctx, req.TourID); err != nil {
		return nil, err
	}
	if err := s.capacity.UpsertOverride(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("tour_id", o.TourID).Str("date", o.Date.String()).Bool("available", o.IsAvailable).Msg("Capacity override saved")
	return o, nil
}

func (s *CapacityService) Delete(ctx context.Context, tourID int64, date string) error {
	if err := requirePositive("tourId", tourID); err != nil {
		return err
	}
	day, err := parseDate("date", date)
	if err != nil {
		return err
	}
	if err := s.capacity.DeleteOverride(ctx, tourID, day); err != nil {
		return err
	}
	s.logger.Info().Int64("tour_id", tourID).Str("date", day.String()).Msg("Capacity override deleted")
	return nil
}

func (s *CapacityService) List(ctx context.Context, tourID int64, start, end string) ([]*models.CapacityOverride, error) {
	if err := requirePositive("tourId", tourID); err != nil {
		return nil, err
	}
	from, err := parseDate("startDate", start)
	if err != nil {
		return nil, err
	}
	to, err := parseDate("endDate", end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, domain.ValidationError{Field: "endDate", Msg: "must not be before startDate"}
	}
	return s.capacity.ListOverrides(ctx, tourID, models.DateRange{Start: from, End: to})
}
