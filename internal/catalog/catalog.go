// Package catalog reads the tour seed file.
package catalog

import (
	"fmt"
	"os"

	"tourbook/internal/models"
	"tourbook/internal/money"

	"gopkg.in/yaml.v2"
)

type tourEntry struct {
	ID              int64  `yaml:"id"`
	MerchantID      int64  `yaml:"merchant_id"`
	Title           string `yaml:"title"`
	City            string `yaml:"city"`
	BasePrice       string `yaml:"base_price"`
	PriceBasis      string `yaml:"price_basis"`
	DefaultCapacity *int   `yaml:"default_capacity"`
	Inactive        bool   `yaml:"inactive"`
}

type file struct {
	Tours []tourEntry `yaml:"tours"`
}

// Load reads tours from a YAML file.
func Load(path string) ([]models.Tour, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tours: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]models.Tour, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tours: %w", err)
	}

	tours := make([]models.Tour, 0, len(f.Tours))
	for i, e := range f.Tours {
		price, err := money.Parse(e.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("tour #%d (%s): %w", i+1, e.Title, err)
		}
		tours = append(tours, models.Tour{
			ID:              e.ID,
			MerchantID:      e.MerchantID,
			Title:           e.Title,
			City:            e.City,
			BasePrice:       price,
			PriceBasis:      e.PriceBasis,
			DefaultCapacity: e.DefaultCapacity,
			IsActive:        !e.Inactive,
		})
	}
	return tours, nil
}
