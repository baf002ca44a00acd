package service

import (
	"context"
	"strings"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

type CreateTourRequest struct {
	MerchantID      int64
	Title           string
	City            string
	BasePrice       string
	PriceBasis      string
	DefaultCapacity *int
}

type TourService struct {
	store  domain.TourStore
	logger *zerolog.Logger
}

func NewTourService(store domain.TourStore, logger *zerolog.Logger) *TourService {
	return &TourService{store: store, logger: logger}
}

func (s *TourService) Create(ctx context.Context, req CreateTourRequest) (*models.Tour, error) {
	if err := requirePositive("merchantId", req.MerchantID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ValidationError{Field: "title", Msg: "is required"}
	}
	price, err := parsePrice("basePrice", req.BasePrice)
	if err != nil {
		return nil, err
	}
	basis := req.PriceBasis
	if basis == "" {
		basis = models.PricePerPerson
	}
	if !models.ValidPriceBasis(basis) {
		return nil, domain.ValidationError{Field: "priceBasis", Msg: "must be per-person or per-group"}
	}
	if req.DefaultCapacity != nil && *req.DefaultCapacity < 0 {
		return nil, domain.ValidationError{Field: "defaultCapacity", Msg: "must not be negative"}
	}

	tour := &models.Tour{
		MerchantID:      req.MerchantID,
		Title:           title,
		City:            strings.TrimSpace(req.City),
		BasePrice:       price,
		PriceBasis:      basis,
		DefaultCapacity: req.DefaultCapacity,
		IsActive:        true,
	}
	if err := s.store.CreateTour(ctx, tour); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("tour_id", tour.ID).Int64("merchant_id", tour.MerchantID).Str("title", tour.Title).Msg("Tour created")
	return tour, nil
}

func (s *TourService) Get(ctx context.Context, id int64) (*models.Tour, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	return s.store.GetTour(ctx, id)
}

func (s *TourService) List(ctx context.Context, merchantID int64, activeOnly bool) ([]*models.Tour, error) {
	return s.store.ListTours(ctx, merchantID, activeOnly)
}

func (s *TourService) SetActive(ctx context.Context, id int64, active bool) (*models.Tour, error) {
	if err := requirePositive("id", id); err != nil {
		return nil, err
	}
	if err := s.store.SetTourActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("tour_id", id).Bool("active", active).Msg("Tour activity changed")
	return s.store.GetTour(ctx, id)
}

// Seed upserts a catalog of tours by id.
func (s *TourService) Seed(ctx context.Context, tours []models.Tour) error {
	for i := range tours {
		t := &tours[i]
		if t.ID <= 0 || t.MerchantID <= 0 {
			return domain.ValidationError{Field: "tours", Msg: "seed tours need positive id and merchant_id"}
		}
		if t.PriceBasis == "" {
			t.PriceBasis = models.PricePerPerson
		}
		if !models.ValidPriceBasis(t.PriceBasis) {
			return domain.ValidationError{Field: "priceBasis", Msg: "must be per-person or per-group"}
		}
		if err := s.store.UpsertTour(ctx, t); err != nil {
			return err
		}
	}
	s.logger.Info().Int("count", len(tours)).Msg("Tours seeded")
	return nil
}
