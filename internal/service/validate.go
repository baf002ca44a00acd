package service

import (
	"strings"

	"tourbook/internal/domain"
	"tourbook/internal/models"
	"tourbook/internal/money"

	"github.com/shopspring/decimal"
)

func parseDate(field, raw string) (models.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Date{}, domain.ValidationError{Field: field, Msg: "is required"}
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return models.Date{}, domain.ValidationError{Field: field, Msg: "must be a YYYY-MM-DD date", Err: err}
	}
	return d, nil
}

func requirePositive(field string, v int64) error {
	if v <= 0 {
		return domain.ValidationError{Field: field, Msg: "must be positive"}
	}
	return nil
}

func requireGuests(guests int) error {
	if guests < 1 {
		return domain.ValidationError{Field: "guests", Msg: "must be at least 1"}
	}
	return nil
}

func parsePrice(field, raw string) (decimal.Decimal, error) {
	d, err := money.Parse(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, domain.ValidationError{Field: field, Msg: err.Error(), Err: err}
	}
	return d, nil
}
