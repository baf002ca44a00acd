package service

import (
	"context"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

// OutboxService exposes event deliveries that exhausted their retries.
type OutboxService struct {
	store  domain.OutboxStore
	logger *zerolog.Logger
}

func NewOutboxService(store domain.OutboxStore, logger *zerolog.Logger) *OutboxService {
	return &OutboxService{store: store, logger: logger}
}

// FailedDeliveries lists dead-lettered tasks, optionally narrowed to one event type.
func (s *OutboxService) FailedDeliveries(ctx context.Context, eventType string) ([]*models.OutboxTask, error) {
	tasks, err := s.store.GetFailedOutboxTasks(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list failed outbox tasks")
		return nil, err
	}
	if eventType == "" {
		return tasks, nil
	}
	out := make([]*models.OutboxTask, 0, len(tasks))
	for _, t := range tasks {
		if t.EventType == eventType {
			out = append(out, t)
		}
	}
	return out, nil
}
