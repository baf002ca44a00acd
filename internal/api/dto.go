package api

import (
	"encoding/json"
	"time"

	"tourbook/internal/models"
	"tourbook/internal/money"

	"github.com/shopspring/decimal"
)

// amount renders money as a JSON number with exactly two decimals.
func amount(d decimal.Decimal) json.Number {
	return json.Number(money.Format(d))
}

func optionalAmount(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := amount(d.Decimal)
	return &n
}

func optionalString(n *json.Number) *string {
	if n == nil {
		return nil
	}
	s := n.String()
	return &s
}

type availabilityResponse struct {
	TourID          int64       `json:"tourId"`
	Date            string      `json:"date"`
	Available       bool        `json:"available"`
	RemainingSpots  int         `json:"remainingSpots"`
	RequestedGuests int         `json:"requestedGuests"`
	Capacity        int         `json:"capacity"`
	Price           json.Number `json:"price"`
}

func newAvailabilityResponse(a *models.AvailabilityCheck) availabilityResponse {
	return availabilityResponse{
		TourID:          a.TourID,
		Date:            a.Date.String(),
		Available:       a.Available,
		RemainingSpots:  a.Remaining,
		RequestedGuests: a.RequestedGuests,
		Capacity:        a.Capacity,
		Price:           amount(a.UnitPrice),
	}
}

type dayResponse struct {
	Date           string       `json:"date"`
	AvailableSpots int          `json:"availableSpots"`
	Capacity       int          `json:"capacity"`
	Available      bool         `json:"available"`
	MaxCapacity    *int         `json:"maxCapacity"`
	PriceOverride  *json.Number `json:"priceOverride"`
	Price          json.Number  `json:"price"`
}

type rangeResponse struct {
	TourID    int64         `json:"tourId"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	Days      []dayResponse `json:"days"`
}

func newRangeResponse(r *models.AvailabilityRange) rangeResponse {
	out := rangeResponse{
		TourID:    r.TourID,
		StartDate: r.Range.Start.String(),
		EndDate:   r.Range.End.String(),
		Days:      make([]dayResponse, 0, len(r.Days)),
	}
	for _, d := range r.Days {
		out.Days = append(out.Days, dayResponse{
			Date:           d.Date.String(),
			AvailableSpots: d.Remaining,
			Capacity:       d.Capacity,
			Available:      d.Available,
			MaxCapacity:    d.MaxCapacity,
			PriceOverride:  optionalAmount(d.PriceOverride),
			Price:          amount(d.UnitPrice),
		})
	}
	return out
}

type inventoryRequest struct {
	TourID         int64        `json:"tourId" binding:"required,gt=0"`
	Date           string       `json:"date" binding:"required"`
	MaxCapacity    *int         `json:"maxCapacity" binding:"omitempty,gte=0"`
	AvailableSpots *int         `json:"availableSpots" binding:"omitempty,gte=0"`
	PriceOverride  *json.Number `json:"priceOverride"`
	IsAvailable    *bool        `json:"isAvailable"`
}

type overrideResponse struct {
	ID             int64        `json:"id"`
	TourID         int64        `json:"tourId"`
	Date           string       `json:"date"`
	MaxCapacity    *int         `json:"maxCapacity"`
	AvailableSpots *int         `json:"availableSpots"`
	PriceOverride  *json.Number `json:"priceOverride"`
	IsAvailable    bool         `json:"isAvailable"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

func newOverrideResponse(o *models.CapacityOverride) overrideResponse {
	return overrideResponse{
		ID:             o.ID,
		TourID:         o.TourID,
		Date:           o.Date.String(),
		MaxCapacity:    o.MaxCapacity,
		AvailableSpots: o.AvailableSpots,
		PriceOverride:  optionalAmount(o.PriceOverride),
		IsAvailable:    o.IsAvailable,
		UpdatedAt:      o.UpdatedAt,
	}
}

type reserveRequest struct {
	TourID      int64  `json:"tourId" binding:"required,gt=0"`
	Date        string `json:"date" binding:"required"`
	Guests      int    `json:"guests" binding:"required,gte=1"`
	CustomerRef string `json:"customerRef" binding:"max=128"`
}

type paymentRequest struct {
	Status    string `json:"status" binding:"required,oneof=paid failed refunded"`
	Reference string `json:"reference" binding:"max=128"`
}

type bookingResponse struct {
	ID               int64       `json:"id"`
	TourID           int64       `json:"tourId"`
	MerchantID       int64       `json:"merchantId"`
	CustomerRef      string      `json:"customerRef,omitempty"`
	Date             string      `json:"date"`
	Guests           int         `json:"guests"`
	PriceBasis       string      `json:"priceBasis"`
	UnitPrice        json.Number `json:"unitPrice"`
	FinalPrice       json.Number `json:"finalPrice"`
	Status           string      `json:"status"`
	PaymentStatus    string      `json:"paymentStatus"`
	PaymentRef       *string     `json:"paymentReference,omitempty"`
	SettlementStatus string      `json:"settlementStatus"`
	SettlementID     *int64      `json:"settlementId,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

func newBookingResponse(b *models.Booking) bookingResponse {
	return bookingResponse{
		ID:               b.ID,
		TourID:           b.TourID,
		MerchantID:       b.MerchantID,
		CustomerRef:      b.CustomerRef,
		Date:             b.Date.String(),
		Guests:           b.Guests,
		PriceBasis:       b.PriceBasis,
		UnitPrice:        amount(b.UnitPrice),
		FinalPrice:       amount(b.FinalPrice),
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		PaymentRef:       b.PaymentRef,
		SettlementStatus: b.SettlementStatus,
		SettlementID:     b.SettlementID,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

type settleRequest struct {
	MerchantID  int64  `json:"merchantId" binding:"omitempty,gt=0"`
	PeriodStart string `json:"periodStart" binding:"required"`
	PeriodEnd   string `json:"periodEnd" binding:"required"`
}

type lineResponse struct {
	BookingID      int64       `json:"bookingId"`
	BookingDate    string      `json:"bookingDate"`
	Revenue        json.Number `json:"revenue"`
	PlatformFee    json.Number `json:"platformFee"`
	MerchantPayout json.Number `json:"merchantPayout"`
}

type adjustmentResponse struct {
	ID                 int64       `json:"id"`
	BookingID          int64       `json:"bookingId"`
	SourceSettlementID int64       `json:"sourceSettlementId"`
	Revenue            json.Number `json:"revenue"`
	PlatformFee        json.Number `json:"platformFee"`
	MerchantPayout     json.Number `json:"merchantPayout"`
	Reason             string      `json:"reason"`
}

type settlementResponse struct {
	ID                  int64                `json:"id"`
	Reference           string               `json:"reference"`
	MerchantID          int64                `json:"merchantId"`
	PeriodStart         string               `json:"periodStart"`
	PeriodEnd           string               `json:"periodEnd"`
	CommissionRate      string               `json:"commissionRate"`
	BookingCount        int                  `json:"bookingCount"`
	TotalRevenue        json.Number          `json:"totalRevenue"`
	TotalPlatformFee    json.Number          `json:"totalPlatformFee"`
	TotalMerchantPayout json.Number          `json:"totalMerchantPayout"`
	AdjustmentCount     int                  `json:"adjustmentCount"`
	AdjustmentPayout    json.Number          `json:"adjustmentPayout"`
	NetPayout           json.Number          `json:"netPayout"`
	Status              string               `json:"status"`
	CreatedAt           time.Time            `json:"createdAt"`
	PaidOutAt           *time.Time           `json:"paidOutAt,omitempty"`
	Lines               []lineResponse       `json:"lines,omitempty"`
	Adjustments         []adjustmentResponse `json:"adjustments,omitempty"`
}

func newSettlementResponse(s *models.Settlement) settlementResponse {
	out := settlementResponse{
		ID:                  s.ID,
		Reference:           s.Reference,
		MerchantID:          s.MerchantID,
		PeriodStart:         s.PeriodStart.String(),
		PeriodEnd:           s.PeriodEnd.String(),
		CommissionRate:      s.CommissionRate.String(),
		BookingCount:        s.BookingCount,
		TotalRevenue:        amount(s.TotalRevenue),
		TotalPlatformFee:    amount(s.TotalPlatformFee),
		TotalMerchantPayout: amount(s.TotalMerchantPayout),
		AdjustmentCount:     s.AdjustmentCount,
		AdjustmentPayout:    amount(s.AdjustmentPayout),
		NetPayout:           amount(s.NetPayout),
		Status:              s.Status,
		CreatedAt:           s.CreatedAt,
		PaidOutAt:           s.PaidOutAt,
	}
	for _, l := range s.Lines {
		out.Lines = append(out.Lines, lineResponse{
			BookingID:      l.BookingID,
			BookingDate:    l.BookingDate.String(),
			Revenue:        amount(l.Revenue),
			PlatformFee:    amount(l.PlatformFee),
			MerchantPayout: amount(l.MerchantPayout),
		})
	}
	for _, a := range s.Adjustments {
		out.Adjustments = append(out.Adjustments, adjustmentResponse{
			ID:                 a.ID,
			BookingID:          a.BookingID,
			SourceSettlementID: a.SourceSettlementID,
			Revenue:            amount(a.Revenue),
			PlatformFee:        amount(a.PlatformFee),
			MerchantPayout:     amount(a.MerchantPayout),
			Reason:             a.Reason,
		})
	}
	return out
}

type createTourRequest struct {
	MerchantID      int64       `json:"merchantId" binding:"omitempty,gt=0"`
	Title           string      `json:"title" binding:"required,max=200"`
	City            string      `json:"city" binding:"max=100"`
	BasePrice       json.Number `json:"basePrice" binding:"required"`
	PriceBasis      string      `json:"priceBasis" binding:"omitempty,oneof=per-person per-group"`
	DefaultCapacity *int        `json:"defaultCapacity" binding:"omitempty,gte=0"`
}

type tourActiveRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

type tourResponse struct {
	ID              int64       `json:"id"`
	MerchantID      int64       `json:"merchantId"`
	Title           string      `json:"title"`
	City            string      `json:"city"`
	BasePrice       json.Number `json:"basePrice"`
	PriceBasis      string      `json:"priceBasis"`
	DefaultCapacity *int        `json:"defaultCapacity,omitempty"`
	IsActive        bool        `json:"isActive"`
}

func newTourResponse(t *models.Tour) tourResponse {
	return tourResponse{
		ID:              t.ID,
		MerchantID:      t.MerchantID,
		Title:           t.Title,
		City:            t.City,
		BasePrice:       amount(t.BasePrice),
		PriceBasis:      t.PriceBasis,
		DefaultCapacity: t.DefaultCapacity,
		IsActive:        t.IsActive,
	}
}

type outboxTaskResponse struct {
	ID         int64      `json:"id"`
	EventType  string     `json:"eventType"`
	Target     string     `json:"target"`
	RetryCount int        `json:"retryCount"`
	LastError  *string    `json:"lastError,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FailedAt   *time.Time `json:"failedAt,omitempty"`
}

func newOutboxTaskResponse(t *models.OutboxTask) outboxTaskResponse {
	return outboxTaskResponse{
		ID:         t.ID,
		EventType:  t.EventType,
		Target:     t.Target,
		RetryCount: t.RetryCount,
		LastError:  t.LastError,
		CreatedAt:  t.CreatedAt,
		FailedAt:   t.ProcessedAt,
	}
}
