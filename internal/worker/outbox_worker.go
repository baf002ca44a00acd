package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sink delivers outbox events to one target.
type Sink interface {
	Name() string
	// Accepts reports whether the sink wants events of this type.
	Accepts(eventType string) bool
	Deliver(ctx context.Context, eventType string, payload []byte) error
}

// OutboxWorker persists one outbox task per (event, sink) and delivers it
// with exponential backoff, dead-lettering after MaxRetries attempts.
type OutboxWorker struct {
	store         domain.OutboxStore
	sinks         map[string]Sink
	order         []string
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.OutboxTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults. redisClient may be nil.
func NewOutboxWorker(store domain.OutboxStore, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger, sinks ...Sink) *OutboxWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	w := &OutboxWorker{
		store:         store,
		sinks:         make(map[string]Sink, len(sinks)),
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.OutboxTask, models.OutboxQueueSize),
		redisQueueKey: "outbox:queue",
		deadLetterKey: "outbox:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
	for _, s := range sinks {
		if _, dup := w.sinks[s.Name()]; !dup {
			w.order = append(w.order, s.Name())
		}
		w.sinks[s.Name()] = s
	}
	return w
}

// Subscribe forwards every event type in eventTypes from bus into the outbox.
func (w *OutboxWorker) Subscribe(bus *events.EventBus, eventTypes []string) {
	bus.SubscribeAll(eventTypes, func(e *events.Event) error {
		if err := w.Enqueue(context.Background(), e.Type, e.Payload); err != nil {
			w.logger.Error().Err(err).Str("event", e.Type).Msg("Failed to enqueue outbox event")
			return err
		}
		return nil
	})
}

// Enqueue persists a task for every sink accepting eventType and schedules
// it via redis or the in-memory queue.
func (w *OutboxWorker) Enqueue(ctx context.Context, eventType string, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload of %s is not valid JSON", eventType)
	}

	var errs []error
	for _, name := range w.order {
		if !w.sinks[name].Accepts(eventType) {
			continue
		}
		task := models.OutboxTask{
			EventType: eventType,
			Target:    name,
			Payload:   string(payload),
			Status:    models.OutboxStatusPending,
		}
		if err := w.store.CreateOutboxTask(ctx, &task); err != nil {
			errs = append(errs, fmt.Errorf("persist outbox task for %s: %w", name, err))
			continue
		}
		w.schedule(ctx, task)
	}
	return errors.Join(errs...)
}

func (w *OutboxWorker) schedule(ctx context.Context, task models.OutboxTask) {
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Outbox memory queue full, task left to polling")
	}
}

// Start runs the delivery loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Strs("sinks", w.order).Msg("Outbox worker started")
	defer w.logger.Info().Msg("Outbox worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if n := w.RunOnce(ctx); n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce processes queued tasks, then due tasks from the store, and returns
// how many were processed.
func (w *OutboxWorker) RunOnce(ctx context.Context) int {
	if t, ok := w.tryLocalQueue(); ok {
		w.processTask(ctx, &t)
		return 1
	}
	if t, ok := w.tryRedis(ctx); ok {
		w.processTask(ctx, &t)
		return 1
	}

	tasks, err := w.store.GetPendingOutboxTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending outbox tasks")
		return 0
	}
	for _, t := range tasks {
		w.processTask(ctx, t)
	}
	return len(tasks)
}

func (w *OutboxWorker) tryLocalQueue() (models.OutboxTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.OutboxTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.OutboxTask, bool) {
	if w.redis == nil {
		return models.OutboxTask{}, false
	}
	res, err := w.redis.RPop(ctx, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			w.logger.Warn().Err(err).Msg("Redis RPOP failed")
		}
		return models.OutboxTask{}, false
	}
	var task models.OutboxTask
	if err := json.Unmarshal([]byte(res), &task); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to decode redis outbox task")
		return models.OutboxTask{}, false
	}
	return task, true
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask) {
	// A queued task may already have been delivered by the polling path.
	if current, err := w.store.GetOutboxTask(ctx, task.ID); err == nil {
		if current.Status == models.OutboxStatusCompleted || current.Status == models.OutboxStatusFailed {
			return
		}
		task = current
	}

	sink, ok := w.sinks[task.Target]
	if !ok {
		w.failTask(ctx, task, fmt.Errorf("unknown outbox target: %s", task.Target))
		return
	}

	if err := sink.Deliver(ctx, task.EventType, []byte(task.Payload)); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncOutbox(task.Target, models.OutboxStatusCompleted)
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark outbox task completed")
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncOutbox(task.Target, models.OutboxStatusRetry)
	next := time.Now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Str("target", task.Target).Int("attempt", attempt).
		Time("next_retry_at", next).Msg("Outbox delivery failed, will retry")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark outbox task for retry")
	}
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.OutboxTask, cause error) {
	metrics.IncOutbox(task.Target, models.OutboxStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("target", task.Target).Msg("Outbox task dead-lettered")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark outbox task failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to push dead letter")
		}
	}
}

func (w *OutboxWorker) pushRedis(ctx context.Context, key string, task models.OutboxTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
