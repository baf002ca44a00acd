package events

import (
	"encoding/json"
	"sync"
	"time"

	"tourbook/internal/models"
	"tourbook/internal/money"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingConfirmed     = "booking.confirmed"
	EventBookingCompleted     = "booking.completed"
	EventBookingCancelled     = "booking.cancelled"
	EventBookingPaid          = "booking.paid"
	EventBookingPaymentFailed = "booking.payment_failed"
	EventBookingRefunded      = "booking.refunded"

	EventSettlementCreated            = "settlement.created"
	EventSettlementPaidOut            = "settlement.paid_out"
	EventSettlementAdjustmentRecorded = "settlement.adjustment_recorded"
)

// AllEventTypes lists every event the services publish.
var AllEventTypes = []string{
	EventBookingCreated,
	EventBookingConfirmed,
	EventBookingCompleted,
	EventBookingCancelled,
	EventBookingPaid,
	EventBookingPaymentFailed,
	EventBookingRefunded,
	EventSettlementCreated,
	EventSettlementPaidOut,
	EventSettlementAdjustmentRecorded,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID        int64  `json:"booking_id"`
	TourID           int64  `json:"tour_id"`
	MerchantID       int64  `json:"merchant_id"`
	CustomerRef      string `json:"customer_ref,omitempty"`
	Date             string `json:"date"`
	Guests           int    `json:"guests"`
	FinalPrice       string `json:"final_price"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	SettlementStatus string `json:"settlement_status"`
}

func NewBookingPayload(b *models.Booking) BookingEventPayload {
	return BookingEventPayload{
		BookingID:        b.ID,
		TourID:           b.TourID,
		MerchantID:       b.MerchantID,
		CustomerRef:      b.CustomerRef,
		Date:             b.Date.String(),
		Guests:           b.Guests,
		FinalPrice:       money.Format(b.FinalPrice),
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		SettlementStatus: b.SettlementStatus,
	}
}

// SettlementEventPayload carries settlement totals as fixed 2-dp strings.
type SettlementEventPayload struct {
	SettlementID        int64  `json:"settlement_id"`
	Reference           string `json:"reference"`
	MerchantID          int64  `json:"merchant_id"`
	PeriodStart         string `json:"period_start"`
	PeriodEnd           string `json:"period_end"`
	CommissionRate      string `json:"commission_rate"`
	BookingCount        int    `json:"booking_count"`
	TotalRevenue        string `json:"total_revenue"`
	TotalPlatformFee    string `json:"total_platform_fee"`
	TotalMerchantPayout string `json:"total_merchant_payout"`
	AdjustmentCount     int    `json:"adjustment_count"`
	AdjustmentPayout    string `json:"adjustment_payout"`
	NetPayout           string `json:"net_payout"`
	Status              string `json:"status"`
}

func NewSettlementPayload(s *models.Settlement) SettlementEventPayload {
	return SettlementEventPayload{
		SettlementID:        s.ID,
		Reference:           s.Reference,
		MerchantID:          s.MerchantID,
		PeriodStart:         s.PeriodStart.String(),
		PeriodEnd:           s.PeriodEnd.String(),
		CommissionRate:      s.CommissionRate.String(),
		BookingCount:        s.BookingCount,
		TotalRevenue:        money.Format(s.TotalRevenue),
		TotalPlatformFee:    money.Format(s.TotalPlatformFee),
		TotalMerchantPayout: money.Format(s.TotalMerchantPayout),
		AdjustmentCount:     s.AdjustmentCount,
		AdjustmentPayout:    money.Format(s.AdjustmentPayout),
		NetPayout:           money.Format(s.NetPayout),
		Status:              s.Status,
	}
}

type AdjustmentEventPayload struct {
	AdjustmentID       int64  `json:"adjustment_id"`
	BookingID          int64  `json:"booking_id"`
	MerchantID         int64  `json:"merchant_id"`
	SourceSettlementID int64  `json:"source_settlement_id"`
	Revenue            string `json:"revenue"`
	MerchantPayout     string `json:"merchant_payout"`
}

func NewAdjustmentPayload(a *models.SettlementAdjustment) AdjustmentEventPayload {
	return AdjustmentEventPayload{
		AdjustmentID:       a.ID,
		BookingID:          a.BookingID,
		MerchantID:         a.MerchantID,
		SourceSettlementID: a.SourceSettlementID,
		Revenue:            money.Format(a.Revenue),
		MerchantPayout:     money.Format(a.MerchantPayout),
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every type in eventTypes.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type. Handlers run synchronously;
// their errors are returned to nobody, so handlers log their own failures.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
