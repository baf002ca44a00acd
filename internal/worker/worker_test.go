package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tourbook/internal/database"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "fake"}
	worker := NewOutboxWorker(db, nil, RetryPolicy{}, 0, nil, sink)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingCreated, []byte(`{"booking_id":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if sink.calls != 1 || sink.lastEvent != events.EventBookingCreated {
		t.Fatalf("expected one delivery of booking.created, got %d (%s)", sink.calls, sink.lastEvent)
	}

	// A second pop of the same task is skipped.
	worker.processTask(ctx, &task)
	if sink.calls != 1 {
		t.Fatalf("expected completed task not to be redelivered, got %d calls", sink.calls)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "fake", err: errors.New("boom")}
	worker := NewOutboxWorker(db, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, 0, nil, sink)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventSettlementCreated, []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now().Add(-time.Second)) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	// Not due yet, so polling picks nothing up.
	if n := worker.RunOnce(ctx); n != 0 {
		t.Fatalf("expected no due tasks, got %d", n)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "fake", err: errors.New("fatal")}
	worker := NewOutboxWorker(db, nil, RetryPolicy{MaxRetries: 1}, 0, nil, sink)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingPaid, []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestEnqueueRoutesBySink(t *testing.T) {
	db := newTestDB(t)
	all := &fakeSink{name: "all"}
	settlementsOnly := &fakeSink{name: "settlements", only: events.EventSettlementCreated}
	worker := NewOutboxWorker(db, nil, RetryPolicy{}, 0, nil, all, settlementsOnly)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingCreated, []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := worker.Enqueue(ctx, events.EventSettlementCreated, []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for worker.RunOnce(ctx) > 0 {
	}
	if all.calls != 2 {
		t.Fatalf("expected 2 deliveries to the catch-all sink, got %d", all.calls)
	}
	if settlementsOnly.calls != 1 {
		t.Fatalf("expected 1 delivery to the settlement sink, got %d", settlementsOnly.calls)
	}
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, nil, RetryPolicy{}, 0, nil, &fakeSink{name: "fake"})
	ctx := context.Background()

	if err := worker.Enqueue(ctx, "", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty event type")
	}
	if err := worker.Enqueue(ctx, events.EventBookingCreated, []byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}

func TestSubscribeForwardsBusEvents(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "fake"}
	worker := NewOutboxWorker(db, nil, RetryPolicy{}, 0, nil, sink)
	bus := events.NewEventBus()
	worker.Subscribe(bus, events.AllEventTypes)

	if err := bus.PublishJSON(events.EventSettlementPaidOut, map[string]int64{"settlement_id": 4}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n := worker.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected one task processed, got %d", n)
	}
	var payload map[string]int64
	if err := json.Unmarshal(sink.lastPayload, &payload); err != nil || payload["settlement_id"] != 4 {
		t.Fatalf("unexpected payload %s: %v", sink.lastPayload, err)
	}
}

func TestRedisQueueAndDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newTestDB(t)
	sink := &fakeSink{name: "fake", err: errors.New("down")}
	worker := NewOutboxWorker(db, client, RetryPolicy{MaxRetries: 1}, 0, nil, sink)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingCreated, []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected redis to take the task, not the memory queue")
	}
	if n, _ := client.LLen(ctx, "outbox:queue").Result(); n != 1 {
		t.Fatalf("expected 1 queued task in redis, got %d", n)
	}

	if n := worker.RunOnce(ctx); n != 1 {
		t.Fatalf("expected one task processed, got %d", n)
	}
	if n, _ := client.LLen(ctx, "outbox:deadletter").Result(); n != 1 {
		t.Fatalf("expected 1 dead letter, got %d", n)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{name: "fake"}
	worker := NewOutboxWorker(db, nil, RetryPolicy{}, 10*time.Millisecond, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestWebhookSink(t *testing.T) {
	var gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Event-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if gotType == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, srv.Client())
	if err := sink.Deliver(context.Background(), events.EventBookingCreated, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if gotType != events.EventBookingCreated || gotBody != `{"a":1}` {
		t.Fatalf("unexpected request: %s %s", gotType, gotBody)
	}
	if err := sink.Deliver(context.Background(), "fail", []byte(`{}`)); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestDo(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	ctx := context.Background()

	t.Run("RetriesConflicts", func(t *testing.T) {
		calls := 0
		err := Do(ctx, policy, func(int) error {
			calls++
			if calls < 3 {
				return domain.ConflictError{Resource: "booking"}
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("expected success on third call, got %v after %d", err, calls)
		}
	})

	t.Run("StopsAfterMaxRetries", func(t *testing.T) {
		calls := 0
		err := Do(ctx, policy, func(int) error {
			calls++
			return domain.PersistenceError{Op: "x", Transient: true, Err: context.DeadlineExceeded}
		})
		if !domain.IsPersistence(err) || calls != 4 {
			t.Fatalf("expected 4 calls and the last error, got %v after %d", err, calls)
		}
	})

	t.Run("DoesNotRetryDomainErrors", func(t *testing.T) {
		calls := 0
		err := Do(ctx, policy, func(int) error {
			calls++
			return domain.CapacityExceededError{Remaining: 1}
		})
		if !domain.IsCapacityExceeded(err) || calls != 1 {
			t.Fatalf("expected a single call, got %d", calls)
		}
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		err := Do(cctx, RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour}, func(int) error {
			calls++
			return domain.ConflictError{}
		})
		if !domain.IsConflict(err) || calls != 1 {
			t.Fatalf("expected one call before cancellation, got %d", calls)
		}
	})
}

// Helpers

type fakeSink struct {
	name        string
	only        string
	err         error
	calls       int
	lastEvent   string
	lastPayload []byte
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Accepts(eventType string) bool { return f.only == "" || f.only == eventType }

func (f *fakeSink) Deliver(_ context.Context, eventType string, payload []byte) error {
	f.calls++
	f.lastEvent = eventType
	f.lastPayload = payload
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewSQLite(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM outbox WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
