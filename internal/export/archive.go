package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tourbook/internal/events"
	"tourbook/internal/models"
	"tourbook/internal/worker"
)

// SettlementReader loads a settlement with its lines.
type SettlementReader interface {
	Get(ctx context.Context, id int64) (*models.Settlement, error)
}

// Archive is an outbox sink that writes the statement of every new
// settlement into a directory.
type Archive struct {
	settlements SettlementReader
	dir         string
}

func NewArchive(settlements SettlementReader, dir string) *Archive {
	return &Archive{settlements: settlements, dir: dir}
}

func (a *Archive) Name() string { return worker.TargetArchive }

func (a *Archive) Accepts(eventType string) bool {
	return eventType == events.EventSettlementCreated
}

func (a *Archive) Deliver(ctx context.Context, _ string, payload []byte) error {
	var p events.SettlementEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode settlement event: %w", err)
	}
	if p.SettlementID == 0 {
		return errors.New("settlement event without settlement_id")
	}

	st, err := a.settlements.Get(ctx, p.SettlementID)
	if err != nil {
		return err
	}
	_, err = Save(a.dir, st)
	return err
}
