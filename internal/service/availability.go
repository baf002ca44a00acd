package service

import (
	"context"
	"fmt"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

// RangeQuery selects the days of a range query. Start defaults to today;
// End wins over Days; with neither the configured default length applies.
type RangeQuery struct {
	Start string
	End   string
	Days  int
}

type AvailabilityService struct {
	tours    domain.TourStore
	capacity domain.CapacityStore
	ledger   domain.BookingLedger
	cfg      config.BookingConfig
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewAvailabilityService(tours domain.TourStore, capacity domain.CapacityStore, ledger domain.BookingLedger, cfg config.BookingConfig, logger *zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{
		tours:    tours,
		capacity: capacity,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// activeTour loads a tour, treating inactive tours as missing.
func activeTour(ctx context.Context, tours domain.TourStore, id int64) (*models.Tour, error) {
	if err := requirePositive("tourId", id); err != nil {
		return nil, err
	}
	tour, err := tours.GetTour(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tour.IsActive {
		return nil, domain.NotFoundError{Resource: "tour", ID: id}
	}
	return tour, nil
}

// Check answers whether guests fit on the tour at date.
func (s *AvailabilityService) Check(ctx context.Context, tourID int64, date string, guests int) (*models.AvailabilityCheck, error) {
	day, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	if err := requireGuests(guests); err != nil {
		return nil, err
	}
	tour, err := activeTour(ctx, s.tours, tourID)
	if err != nil {
		return nil, err
	}

	override, err := s.capacity.GetOverride(ctx, tourID, day)
	if err != nil {
		return nil, err
	}
	occupied, err := s.ledger.Occupancy(ctx, tourID, day)
	if err != nil {
		return nil, err
	}

	capacity := models.EffectiveCapacity(override, tour.CapacityOr(s.cfg.DefaultCapacity))
	remaining := models.Remaining(capacity, occupied)
	return &models.AvailabilityCheck{
		TourID:          tourID,
		Date:            day,
		RequestedGuests: guests,
		Capacity:        capacity,
		Occupied:        occupied,
		Remaining:       remaining,
		Available:       remaining >= guests,
		UnitPrice:       models.UnitPrice(override, tour.BasePrice),
	}, nil
}

func (s *AvailabilityService) resolveRange(q RangeQuery) (models.DateRange, error) {
	start := models.NewDate(s.now().UTC())
	if q.Start != "" {
		d, err := parseDate("startDate", q.Start)
		if err != nil {
			return models.DateRange{}, err
		}
		start = d
	}

	var end models.Date
	switch {
	case q.End != "":
		d, err := parseDate("endDate", q.End)
		if err != nil {
			return models.DateRange{}, err
		}
		end = d
	case q.Days < 0:
		return models.DateRange{}, domain.ValidationError{Field: "days", Msg: "must be positive"}
	case q.Days > 0:
		end = start.AddDays(q.Days - 1)
	default:
		end = start.AddDays(s.cfg.DefaultRangeDays - 1)
	}

	if end.Before(start) {
		return models.DateRange{}, domain.ValidationError{Field: "endDate", Msg: "must not be before startDate"}
	}
	r := models.DateRange{Start: start, End: end}
	if r.Len() > s.cfg.MaxRangeDays {
		return models.DateRange{}, domain.ValidationError{
			Field: "endDate",
			Msg:   fmt.Sprintf("range of %d days exceeds the maximum of %d", r.Len(), s.cfg.MaxRangeDays),
		}
	}
	return r, nil
}

// Range returns one entry per day of the resolved range, in order and
// without gaps. Overrides and occupancy are fetched in two batch queries.
func (s *AvailabilityService) Range(ctx context.Context, tourID int64, q RangeQuery) (*models.AvailabilityRange, error) {
	r, err := s.resolveRange(q)
	if err != nil {
		return nil, err
	}
	tour, err := activeTour(ctx, s.tours, tourID)
	if err != nil {
		return nil, err
	}

	overrides, err := s.capacity.ListOverrides(ctx, tourID, r)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]*models.CapacityOverride, len(overrides))
	for _, o := range overrides {
		byDate[o.Date.String()] = o
	}
	occupied, err := s.ledger.OccupancyByDate(ctx, tourID, r)
	if err != nil {
		return nil, err
	}

	fallback := tour.CapacityOr(s.cfg.DefaultCapacity)
	out := &models.AvailabilityRange{TourID: tourID, Range: r, Days: make([]models.DayAvailability, 0, r.Len())}
	for day := range r.Days() {
		key := day.String()
		o := byDate[key]
		capacity := models.EffectiveCapacity(o, fallback)
		remaining := models.Remaining(capacity, occupied[key])
		entry := models.DayAvailability{
			Date:      day,
			Capacity:  capacity,
			Occupied:  occupied[key],
			Remaining: remaining,
			Available: remaining > 0,
			UnitPrice: models.UnitPrice(o, tour.BasePrice),
		}
		if o != nil {
			entry.MaxCapacity = o.MaxCapacity
			entry.PriceOverride = o.PriceOverride
		}
		out.Days = append(out.Days, entry)
	}

	s.logger.Debug().Int64("tour_id", tourID).Str("start", r.Start.String()).Int("days", len(out.Days)).Msg("Availability range computed")
	return out, nil
}
