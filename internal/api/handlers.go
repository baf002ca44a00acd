package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tourbook/internal/domain"
	"tourbook/internal/export"
	"tourbook/internal/models"
	"tourbook/internal/service"

	"github.com/gin-gonic/gin"
)

func pathID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError{Field: name, Msg: fmt.Sprintf("invalid id %q", raw)}
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ValidationError{Field: name, Msg: "must be an integer"}
	}
	return v, nil
}

func queryID(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, domain.ValidationError{Field: name, Msg: "must be a positive integer"}
	}
	return v, nil
}

// scopedMerchant resolves the merchant filter of a listing. Merchants are
// pinned to their own id; admins may filter freely.
func scopedMerchant(c *gin.Context, requested int64) (int64, bool) {
	p := principal(c)
	if p.IsAdmin() {
		return requested, true
	}
	if requested != 0 && requested != p.MerchantID {
		abortWithKind(c, http.StatusForbidden, kindForbidden, "merchant scope mismatch")
		return 0, false
	}
	return p.MerchantID, true
}

// authorizeTour aborts unless the caller owns the tour.
func (s *HTTPServer) authorizeTour(c *gin.Context, tourID int64) bool {
	if principal(c).IsAdmin() {
		return true
	}
	tour, err := s.svc.Tours.Get(c.Request.Context(), tourID)
	if err != nil {
		s.abortWithError(c, err)
		return false
	}
	return requireMerchant(c, tour.MerchantID)
}

func (s *HTTPServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(c *gin.Context) {
	results := make(map[string]string, len(s.checks))
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	status := "ready"
	if code != http.StatusOK {
		status = "unavailable"
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}

func (s *HTTPServer) handleAvailability(c *gin.Context) {
	tourID, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	guests, err := queryInt(c, "guests", 1)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	check, err := s.svc.Availability.Check(c.Request.Context(), tourID, c.Query("date"), guests)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAvailabilityResponse(check))
}

func (s *HTTPServer) handleAvailabilityRange(c *gin.Context) {
	tourID, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	days, err := queryInt(c, "days", 0)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	r, err := s.svc.Availability.Range(c.Request.Context(), tourID, service.RangeQuery{
		Start: c.Query("startDate"),
		End:   c.Query("endDate"),
		Days:  days,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRangeResponse(r))
}

func (s *HTTPServer) handleUpsertInventory(c *gin.Context) {
	var req inventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	if !s.authorizeTour(c, req.TourID) {
		return
	}

	o, err := s.svc.Capacity.Upsert(c.Request.Context(), service.UpsertOverride{
		TourID:         req.TourID,
		Date:           req.Date,
		MaxCapacity:    req.MaxCapacity,
		AvailableSpots: req.AvailableSpots,
		PriceOverride:  optionalString(req.PriceOverride),
		IsAvailable:    req.IsAvailable,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOverrideResponse(o))
}

func (s *HTTPServer) handleDeleteInventory(c *gin.Context) {
	tourID, err := pathID(c, "tourId")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if !s.authorizeTour(c, tourID) {
		return
	}
	if err := s.svc.Capacity.Delete(c.Request.Context(), tourID, c.Param("date")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleListInventory(c *gin.Context) {
	tourID, err := queryID(c, "tourId")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if tourID == 0 {
		s.abortWithError(c, domain.ValidationError{Field: "tourId", Msg: "is required"})
		return
	}
	if !s.authorizeTour(c, tourID) {
		return
	}

	overrides, err := s.svc.Capacity.List(c.Request.Context(), tourID, c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, newOverrideResponse(o))
	}
	c.JSON(http.StatusOK, gin.H{"overrides": out})
}

func (s *HTTPServer) handleReserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}

	b, err := s.svc.Reservations.Reserve(c.Request.Context(), service.ReserveRequest{
		TourID:      req.TourID,
		Date:        req.Date,
		Guests:      req.Guests,
		CustomerRef: req.CustomerRef,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBookingResponse(b))
}

func (s *HTTPServer) handleGetBooking(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	b, err := s.svc.Bookings.Get(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if !requireMerchant(c, b.MerchantID) {
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleListBookings(c *gin.Context) {
	requested, err := queryID(c, "merchantId")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	merchantID, ok := scopedMerchant(c, requested)
	if !ok {
		return
	}
	tourID, err := queryID(c, "tourId")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	filter := models.BookingFilter{
		MerchantID:       merchantID,
		TourID:           tourID,
		Status:           c.Query("status"),
		PaymentStatus:    c.Query("paymentStatus"),
		SettlementStatus: c.Query("settlementStatus"),
		Limit:            limit,
	}
	if raw := c.Query("date"); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			s.abortWithError(c, domain.ValidationError{Field: "date", Msg: err.Error()})
			return
		}
		filter.Date = d
	}

	bookings, err := s.svc.Bookings.List(c.Request.Context(), filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, newBookingResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"bookings": out})
}

type transitionFunc func(ctx context.Context, id int64) (*models.Booking, error)

// handleTransition loads the booking to check merchant scope, then applies fn.
func (s *HTTPServer) handleTransition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		current, err := s.svc.Bookings.Get(c.Request.Context(), id)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if !requireMerchant(c, current.MerchantID) {
			return
		}

		b, err := fn(c.Request.Context(), id)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, newBookingResponse(b))
	}
}

func (s *HTTPServer) handlePayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}

	b, err := s.svc.Payments.MarkPayment(c.Request.Context(), id, req.Status, req.Reference)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleSettle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	p := principal(c)
	if req.MerchantID == 0 && !p.IsAdmin() {
		req.MerchantID = p.MerchantID
	}
	if req.MerchantID != 0 && !requireMerchant(c, req.MerchantID) {
		return
	}

	st, err := s.svc.Settlements.Settle(c.Request.Context(), service.SettleRequest{
		MerchantID:  req.MerchantID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSettlementResponse(st))
}

func (s *HTTPServer) handleListSettlements(c *gin.Context) {
	requested, err := queryID(c, "merchantId")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	merchantID, ok := scopedMerchant(c, requested)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	list, err := s.svc.Settlements.List(c.Request.Context(), models.SettlementFilter{
		MerchantID: merchantID,
		Status:     c.Query("status"),
		Limit:      limit,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]settlementResponse, 0, len(list))
	for _, st := range list {
		out = append(out, newSettlementResponse(st))
	}
	c.JSON(http.StatusOK, gin.H{"settlements": out})
}

func (s *HTTPServer) loadSettlement(c *gin.Context) (*models.Settlement, bool) {
	id, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return nil, false
	}
	st, err := s.svc.Settlements.Get(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return nil, false
	}
	if !requireMerchant(c, st.MerchantID) {
		return nil, false
	}
	return st, true
}

func (s *HTTPServer) handleGetSettlement(c *gin.Context) {
	st, ok := s.loadSettlement(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSettlementResponse(st))
}

func (s *HTTPServer) handleExportSettlement(c *gin.Context) {
	st, ok := s.loadSettlement(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, st); err != nil {
		s.abortWithError(c, domain.PersistenceError{Op: "export settlement", Err: err})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(st)))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

func (s *HTTPServer) handlePayout(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	st, err := s.svc.Settlements.MarkPaidOut(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettlementResponse(st))
}

func (s *HTTPServer) handleListTours(c *gin.Context) {
	merchantID, err := queryID(c, "merchantId")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	activeOnly := c.DefaultQuery("active", "true") != "false"
	if !activeOnly && !principal(c).hasRole(models.RoleAdmin, models.RoleMerchant) {
		activeOnly = true
	}

	tours, err := s.svc.Tours.List(c.Request.Context(), merchantID, activeOnly)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]tourResponse, 0, len(tours))
	for _, t := range tours {
		out = append(out, newTourResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tours": out})
}

func (s *HTTPServer) handleGetTour(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	t, err := s.svc.Tours.Get(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTourResponse(t))
}

func (s *HTTPServer) handleCreateTour(c *gin.Context) {
	var req createTourRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	p := principal(c)
	if req.MerchantID == 0 && !p.IsAdmin() {
		req.MerchantID = p.MerchantID
	}
	if !requireMerchant(c, req.MerchantID) {
		return
	}

	t, err := s.svc.Tours.Create(c.Request.Context(), service.CreateTourRequest{
		MerchantID:      req.MerchantID,
		Title:           req.Title,
		City:            req.City,
		BasePrice:       req.BasePrice.String(),
		PriceBasis:      req.PriceBasis,
		DefaultCapacity: req.DefaultCapacity,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTourResponse(t))
}

func (s *HTTPServer) handleSetTourActive(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	var req tourActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	if !s.authorizeTour(c, id) {
		return
	}

	t, err := s.svc.Tours.SetActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTourResponse(t))
}

func (s *HTTPServer) handleListFailedDeliveries(c *gin.Context) {
	tasks, err := s.svc.Outbox.FailedDeliveries(c.Request.Context(), c.Query("eventType"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]outboxTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newOutboxTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}
