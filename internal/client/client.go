// Package client is a Go client for the tourbook REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client calls the booking API with an API key pair.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode     int
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	RemainingSpots *int   `json:"remainingSpots,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Kind, e.Message)
}

type Availability struct {
	TourID          int64       `json:"tourId"`
	Date            string      `json:"date"`
	Available       bool        `json:"available"`
	RemainingSpots  int         `json:"remainingSpots"`
	RequestedGuests int         `json:"requestedGuests"`
	Capacity        int         `json:"capacity"`
	Price           json.Number `json:"price"`
}

type Day struct {
	Date           string       `json:"date"`
	AvailableSpots int          `json:"availableSpots"`
	Capacity       int          `json:"capacity"`
	Available      bool         `json:"available"`
	MaxCapacity    *int         `json:"maxCapacity"`
	PriceOverride  *json.Number `json:"priceOverride"`
	Price          json.Number  `json:"price"`
}

type AvailabilityRange struct {
	TourID    int64  `json:"tourId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Days      []Day  `json:"days"`
}

type Tour struct {
	ID              int64       `json:"id"`
	MerchantID      int64       `json:"merchantId"`
	Title           string      `json:"title"`
	City            string      `json:"city"`
	BasePrice       json.Number `json:"basePrice"`
	PriceBasis      string      `json:"priceBasis"`
	DefaultCapacity *int        `json:"defaultCapacity,omitempty"`
	IsActive        bool        `json:"isActive"`
}

type ReserveRequest struct {
	TourID      int64  `json:"tourId"`
	Date        string `json:"date"`
	Guests      int    `json:"guests"`
	CustomerRef string `json:"customerRef,omitempty"`
}

type Booking struct {
	ID               int64       `json:"id"`
	TourID           int64       `json:"tourId"`
	MerchantID       int64       `json:"merchantId"`
	Date             string      `json:"date"`
	Guests           int         `json:"guests"`
	UnitPrice        json.Number `json:"unitPrice"`
	FinalPrice       json.Number `json:"finalPrice"`
	Status           string      `json:"status"`
	PaymentStatus    string      `json:"paymentStatus"`
	SettlementStatus string      `json:"settlementStatus"`
}

type SettleRequest struct {
	MerchantID  int64  `json:"merchantId,omitempty"`
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
}

type Settlement struct {
	ID                  int64       `json:"id"`
	Reference           string      `json:"reference"`
	MerchantID          int64       `json:"merchantId"`
	PeriodStart         string      `json:"periodStart"`
	PeriodEnd           string      `json:"periodEnd"`
	BookingCount        int         `json:"bookingCount"`
	TotalRevenue        json.Number `json:"totalRevenue"`
	TotalPlatformFee    json.Number `json:"totalPlatformFee"`
	TotalMerchantPayout json.Number `json:"totalMerchantPayout"`
	AdjustmentPayout    json.Number `json:"adjustmentPayout"`
	NetPayout           json.Number `json:"netPayout"`
	Status              string      `json:"status"`
}

type FailedDelivery struct {
	ID         int64     `json:"id"`
	EventType  string    `json:"eventType"`
	Target     string    `json:"target"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError"`
	CreatedAt  time.Time `json:"createdAt"`
}

func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache caches catalogue reads in Redis for ttl.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// Availability checks one tour date. Answers are cached when a cache is set.
func (c *Client) Availability(ctx context.Context, tourID int64, date string, guests int) (*Availability, error) {
	q := url.Values{"date": {date}, "guests": {strconv.Itoa(guests)}}
	endpoint := fmt.Sprintf("%s/api/v1/tours/%d/availability?%s", c.baseURL, tourID, q.Encode())
	cacheKey := fmt.Sprintf("tourbook:availability:%d:%s:%d", tourID, date, guests)

	var resp Availability
	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}
	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

// Range returns per-day availability. Empty start or end, and zero days, use
// the server defaults.
func (c *Client) Range(ctx context.Context, tourID int64, start, end string, days int) (*AvailabilityRange, error) {
	q := url.Values{}
	if start != "" {
		q.Set("startDate", start)
	}
	if end != "" {
		q.Set("endDate", end)
	}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	endpoint := fmt.Sprintf("%s/api/v1/tours/%d/availability/range", c.baseURL, tourID)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp AvailabilityRange
	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListTours(ctx context.Context) ([]Tour, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tours", c.baseURL)
	cacheKey := "tourbook:tours"
	var wrap struct {
		Tours []Tour `json:"tours"`
	}

	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Tours, nil
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Tours, nil
}

// Reserve books seats. A non-empty idempotencyKey makes retries safe.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest, idempotencyKey string) (*Booking, error) {
	var resp Booking
	if err := c.doPost(ctx, c.baseURL+"/api/v1/bookings", req, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	c.invalidate(ctx, fmt.Sprintf("tourbook:availability:%d:%s:*", req.TourID, req.Date))
	return &resp, nil
}

func (c *Client) Settle(ctx context.Context, req SettleRequest, idempotencyKey string) (*Settlement, error) {
	var resp Settlement
	if err := c.doPost(ctx, c.baseURL+"/api/v1/settlements", req, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListSettlements(ctx context.Context, merchantID int64, status string) ([]Settlement, error) {
	q := url.Values{}
	if merchantID > 0 {
		q.Set("merchantId", strconv.FormatInt(merchantID, 10))
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := c.baseURL + "/api/v1/settlements"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var wrap struct {
		Settlements []Settlement `json:"settlements"`
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	return wrap.Settlements, nil
}

// FailedDeliveries lists outbox events that ran out of retries. Admin only.
func (c *Client) FailedDeliveries(ctx context.Context, eventType string) ([]FailedDelivery, error) {
	endpoint := c.baseURL + "/api/v1/outbox/failed"
	if eventType != "" {
		endpoint += "?" + url.Values{"eventType": {eventType}}.Encode()
	}

	var wrap struct {
		Tasks []FailedDelivery `json:"tasks"`
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	return wrap.Tasks, nil
}

// ExportSettlement streams the xlsx statement of a settlement into w.
func (c *Client) ExportSettlement(ctx context.Context, id int64, w io.Writer) error {
	endpoint := fmt.Sprintf("%s/api/v1/settlements/%d/export", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) invalidate(ctx context.Context, pattern string) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		_ = c.redis.Del(ctx, iter.Val()).Err()
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, idempotencyKey string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var wrap struct {
		Error *APIError `json:"error"`
	}
	wrap.Error = apiErr
	_ = json.NewDecoder(resp.Body).Decode(&wrap)
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
