package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailabilityUsesCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/tours/3/availability", r.URL.Path)
		assert.Equal(t, "2025-06-01", r.URL.Query().Get("date"))
		assert.Equal(t, "2", r.URL.Query().Get("guests"))
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "extra", r.Header.Get("x-api-extra"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tourId":3,"date":"2025-06-01","available":true,"remainingSpots":5,"requestedGuests":2,"capacity":8,"price":19.90}`))
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := New(server.URL+"/", "key", "extra")
	c.UseRedisCache(rdb, time.Minute)

	ctx := context.Background()
	a, err := c.Availability(ctx, 3, "2025-06-01", 2)
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, 5, a.RemainingSpots)
	assert.Equal(t, json.Number("19.90"), a.Price)

	a, err = c.Availability(ctx, 3, "2025-06-01", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, a.RemainingSpots)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, mr.Exists("tourbook:availability:3:2025-06-01:2"))
}

func TestReserveSendsIdempotencyKeyAndInvalidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/bookings", r.URL.Path)
		assert.Equal(t, "order-9", r.Header.Get("Idempotency-Key"))

		var req ReserveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(3), req.TourID)
		assert.Equal(t, 2, req.Guests)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":11,"tourId":3,"date":"2025-06-01","guests":2,"finalPrice":39.80,"status":"pending"}`))
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, mr.Set("tourbook:availability:3:2025-06-01:1", "{}"))
	require.NoError(t, mr.Set("tourbook:availability:4:2025-06-01:1", "{}"))

	c := New(server.URL, "", "")
	c.UseRedisCache(rdb, time.Minute)

	b, err := c.Reserve(context.Background(), ReserveRequest{TourID: 3, Date: "2025-06-01", Guests: 2}, "order-9")
	require.NoError(t, err)
	assert.Equal(t, int64(11), b.ID)
	assert.Equal(t, json.Number("39.80"), b.FinalPrice)
	assert.False(t, mr.Exists("tourbook:availability:3:2025-06-01:1"))
	assert.True(t, mr.Exists("tourbook:availability:4:2025-06-01:1"))
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"kind":"CapacityExceededError","message":"not enough spots","remainingSpots":1}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "", "").Reserve(context.Background(), ReserveRequest{TourID: 1, Date: "2025-06-01", Guests: 3}, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "CapacityExceededError", apiErr.Kind)
	require.NotNil(t, apiErr.RemainingSpots)
	assert.Equal(t, 1, *apiErr.RemainingSpots)
	assert.Contains(t, apiErr.Error(), "not enough spots")
}

func TestRangeAndSettlements(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tours/5/availability/range", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-06-01", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2", r.URL.Query().Get("days"))
		assert.Empty(t, r.URL.Query().Get("endDate"))
		_, _ = w.Write([]byte(`{"tourId":5,"startDate":"2025-06-01","endDate":"2025-06-02","days":[{"date":"2025-06-01","availableSpots":3,"price":10.00},{"date":"2025-06-02","availableSpots":0,"price":10.00}]}`))
	})
	mux.HandleFunc("/api/v1/settlements", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":2,"merchantId":7,"bookingCount":2,"totalRevenue":62.20,"totalPlatformFee":6.23,"netPayout":55.97,"status":"pending"}`))
			return
		}
		assert.Equal(t, "7", r.URL.Query().Get("merchantId"))
		_, _ = w.Write([]byte(`{"settlements":[{"id":2,"merchantId":7,"status":"pending"}]}`))
	})
	mux.HandleFunc("/api/v1/settlements/2/export", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("xlsx-bytes"))
	})
	mux.HandleFunc("/api/v1/outbox/failed", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "booking.paid", r.URL.Query().Get("eventType"))
		_, _ = w.Write([]byte(`{"tasks":[{"id":4,"eventType":"booking.paid","target":"webhook","retryCount":5,"lastError":"timeout","createdAt":"2025-06-01T10:00:00Z"}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(server.URL, "", "")
	ctx := context.Background()

	r, err := c.Range(ctx, 5, "2025-06-01", "", 2)
	require.NoError(t, err)
	require.Len(t, r.Days, 2)
	assert.Equal(t, 0, r.Days[1].AvailableSpots)

	st, err := c.Settle(ctx, SettleRequest{MerchantID: 7, PeriodStart: "2025-06-01", PeriodEnd: "2025-06-30"}, "")
	require.NoError(t, err)
	assert.Equal(t, json.Number("6.23"), st.TotalPlatformFee)

	list, err := c.ListSettlements(ctx, 7, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	var buf bytes.Buffer
	require.NoError(t, c.ExportSettlement(ctx, 2, &buf))
	assert.Equal(t, "xlsx-bytes", buf.String())

	failed, err := c.FailedDeliveries(ctx, "booking.paid")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 5, failed[0].RetryCount)
	assert.Equal(t, "timeout", failed[0].LastError)
}
