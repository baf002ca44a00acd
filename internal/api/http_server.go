package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader   = "X-Request-ID"
	principalCtxKey   = "principal"
	requestIDCtxKey   = "request_id"
	idempotencyHeader = "Idempotency-Key"
)

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Availability *service.AvailabilityService
	Reservations *service.ReservationService
	Capacity     *service.CapacityService
	Settlements  *service.SettlementService
	Tours        *service.TourService
	Bookings     *service.BookingService
	Payments     *service.PaymentService
	Outbox       *service.OutboxService
}

// HealthCheck reports whether a dependency is ready to serve traffic.
type HealthCheck func(ctx context.Context) error

// HTTPServer is the gin based REST surface of the booking core.
type HTTPServer struct {
	cfg         config.APIConfig
	svc         Services
	idempotency domain.IdempotencyStore
	checks      map[string]HealthCheck
	keys        *keyring
	limiter     *rateLimiter
	debug       bool
	logger      *zerolog.Logger
	engine      *gin.Engine
	server      *http.Server
}

var validatorOnce sync.Once

func NewHTTPServer(
	cfg *config.Config,
	svc Services,
	idempotency domain.IdempotencyStore,
	checks map[string]HealthCheck,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	validatorOnce.Do(useJSONFieldNames)

	if cfg.App.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	httpLogger := logger.With().Str("component", "http").Logger()
	s := &HTTPServer{
		cfg:         cfg.API,
		svc:         svc,
		idempotency: idempotency,
		checks:      checks,
		keys:        newKeyring(cfg.API.Auth),
		limiter:     newRateLimiter(cfg.API.RateLimit),
		debug:       cfg.App.IsDevelopment(),
		logger:      &httpLogger,
	}
	s.engine = s.routes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.HTTP.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	if len(s.cfg.HTTP.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.HTTP.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", s.keys.apiKeyName, s.keys.extraName, idempotencyHeader, requestIDHeader},
			ExposeHeaders:    []string{"Content-Length", requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)

	v1 := r.Group("/api/v1", s.authenticate(), s.rateLimit())
	{
		v1.GET("/tours", s.permit(permReadTours), s.handleListTours)
		v1.GET("/tours/:id", s.permit(permReadTours), s.handleGetTour)
		v1.POST("/tours", s.permit(permWriteTours, models.RoleAdmin, models.RoleMerchant), s.handleCreateTour)
		v1.PATCH("/tours/:id/active", s.permit(permWriteTours, models.RoleAdmin, models.RoleMerchant), s.handleSetTourActive)

		v1.GET("/tours/:id/availability", s.permit(permReadAvailability), s.handleAvailability)
		v1.GET("/tours/:id/availability/range", s.permit(permReadAvailability), s.handleAvailabilityRange)

		inventory := v1.Group("/inventory", s.permit(permWriteInventory, models.RoleAdmin, models.RoleMerchant))
		{
			inventory.GET("", s.handleListInventory)
			inventory.POST("", s.handleUpsertInventory)
			inventory.DELETE("/:tourId/:date", s.handleDeleteInventory)
		}

		v1.POST("/bookings", s.permit(permWriteBookings), s.idempotent(), s.handleReserve)
		v1.GET("/bookings", s.permit(permReadBookings, models.RoleAdmin, models.RoleMerchant), s.handleListBookings)
		v1.GET("/bookings/:id", s.permit(permReadBookings, models.RoleAdmin, models.RoleMerchant), s.handleGetBooking)
		v1.POST("/bookings/:id/confirm", s.permit(permWriteBookings, models.RoleAdmin, models.RoleMerchant), s.handleTransition(s.svc.Bookings.Confirm))
		v1.POST("/bookings/:id/complete", s.permit(permWriteBookings, models.RoleAdmin, models.RoleMerchant), s.handleTransition(s.svc.Bookings.Complete))
		v1.POST("/bookings/:id/cancel", s.permit(permWriteBookings, models.RoleAdmin, models.RoleMerchant), s.handleTransition(s.svc.Bookings.Cancel))
		v1.POST("/bookings/:id/payment", s.permit(permWritePayments, models.RoleAdmin), s.handlePayment)

		settlements := v1.Group("/settlements")
		{
			settlements.POST("", s.permit(permWriteSettlements, models.RoleAdmin, models.RoleMerchant), s.idempotent(), s.handleSettle)
			settlements.GET("", s.permit(permReadSettlements, models.RoleAdmin, models.RoleMerchant), s.handleListSettlements)
			settlements.GET("/:id", s.permit(permReadSettlements, models.RoleAdmin, models.RoleMerchant), s.handleGetSettlement)
			settlements.GET("/:id/export", s.permit(permReadSettlements, models.RoleAdmin, models.RoleMerchant), s.handleExportSettlement)
			settlements.POST("/:id/payout", s.permit(permWriteSettlements, models.RoleAdmin), s.handlePayout)
		}

		v1.GET("/outbox/failed", s.permit(permReadOutbox, models.RoleAdmin), s.handleListFailedDeliveries)
	}
	return r
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler { return s.engine }

func (s *HTTPServer) Addr() string { return s.server.Addr }

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on an existing listener.
func (s *HTTPServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDCtxKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		event := s.logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

// authenticate resolves the caller and stores it on the gin context.
func (s *HTTPServer) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(s.keys.apiKeyName))
		principal, err := s.keys.authenticate(apiKey, strings.TrimSpace(c.GetHeader(s.keys.extraName)))
		if err != nil {
			abortWithKind(c, http.StatusUnauthorized, kindUnauthorized, err.Error())
			return
		}
		c.Set(principalCtxKey, principal)
		c.Request = c.Request.WithContext(withPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

func (s *HTTPServer) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(s.keys.apiKeyName))
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.allow(key) {
			abortWithKind(c, http.StatusTooManyRequests, kindRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// permit enforces the key's permission list and, when roles are given, the
// caller's role.
func (s *HTTPServer) permit(permission string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.keys.authorize(strings.TrimSpace(c.GetHeader(s.keys.apiKeyName)), permission); err != nil {
			abortWithKind(c, http.StatusForbidden, kindForbidden, err.Error())
			return
		}
		if len(roles) > 0 && !principal(c).hasRole(roles...) {
			abortWithKind(c, http.StatusForbidden, kindForbidden, errPermissionDenied.Error())
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) Principal {
	if v, ok := c.Get(principalCtxKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}

// requireMerchant aborts unless the caller may act for merchantID.
func requireMerchant(c *gin.Context, merchantID int64) bool {
	if principal(c).CanActFor(merchantID) {
		return true
	}
	abortWithKind(c, http.StatusForbidden, kindForbidden, "merchant scope mismatch")
	return false
}
