package api

import (
	"context"
	"testing"

	"tourbook/internal/config"
	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Extra: "valid-extra", Name: "storefront", Role: models.RoleClient, Permissions: []string{permReadTours}},
			},
		},
		RateLimit: config.APIRateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
	}

	auth := NewAuthInterceptor(&cfg)
	interceptor := auth.Unary()

	var seen Principal
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = PrincipalFrom(ctx)
		return "ok", nil
	}

	info := &grpc.UnaryServerInfo{FullMethod: methodListTours}

	t.Run("Success", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "valid-key", "x-api-extra", "valid-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		resp, err := interceptor(ctx, "req", info, handler)
		assert.NoError(t, err)
		assert.Equal(t, "ok", resp)
		assert.Equal(t, "storefront", seen.Name)
		assert.Equal(t, models.RoleClient, seen.Role)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("MissingHeaders", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs())
		_, err := interceptor(ctx, "req", info, handler)
		assert.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "invalid-key", "x-api-extra", "valid-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidExtra", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "valid-key", "x-api-extra", "invalid-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "valid-key", "x-api-extra", "valid-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		infoAvail := &grpc.UnaryServerInfo{FullMethod: methodGetAvailability}
		_, err := interceptor(ctx, "req", infoAvail, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})
}

func TestAuthInterceptorRateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "k", Extra: "e", Role: models.RoleClient}},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}
	interceptor := NewAuthInterceptor(&cfg).Unary()
	handler := func(context.Context, any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: methodListTours}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(apiKeyHeaderDefault, "k", apiExtraHeaderDefault, "e"))

	_, err := interceptor(ctx, "req", info, handler)
	assert.NoError(t, err)
	_, err = interceptor(ctx, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestAuthDisabled(t *testing.T) {
	interceptor := NewAuthInterceptor(&config.APIConfig{}).Unary()
	var seen Principal
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = PrincipalFrom(ctx)
		return "ok", nil
	}
	_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: methodGetAvailability}, handler)
	assert.NoError(t, err)
	assert.True(t, seen.IsAdmin())
}

func TestPrincipalScope(t *testing.T) {
	admin := Principal{Role: models.RoleAdmin}
	merchant := Principal{Role: models.RoleMerchant, MerchantID: 7}
	client := Principal{Role: models.RoleClient, MerchantID: 7}

	assert.True(t, admin.CanActFor(42))
	assert.True(t, merchant.CanActFor(7))
	assert.False(t, merchant.CanActFor(8))
	assert.False(t, client.CanActFor(7))
	assert.True(t, merchant.hasRole(models.RoleAdmin, models.RoleMerchant))
	assert.False(t, client.hasRole(models.RoleAdmin, models.RoleMerchant))
}

func TestKeyringAuthorize(t *testing.T) {
	k := newKeyring(config.APIAuthConfig{
		Enabled: true,
		APIKeys: []config.APIClientKey{
			{Key: "scoped", Extra: "e", Permissions: []string{" read:tours "}},
			{Key: "open", Extra: "e"},
		},
	})

	assert.NoError(t, k.authorize("scoped", permReadTours))
	assert.ErrorIs(t, k.authorize("scoped", permWriteBookings), errPermissionDenied)
	assert.NoError(t, k.authorize("open", permWriteSettlements))
	assert.Equal(t, apiKeyHeaderDefault, k.apiKeyName)
	assert.Equal(t, apiExtraHeaderDefault, k.extraName)
}

func TestRequiredPermission(t *testing.T) {
	assert.Equal(t, permReadAvailability, requiredPermission(methodGetAvailability))
	assert.Equal(t, permReadAvailability, requiredPermission(methodGetAvailabilityRange))
	assert.Equal(t, permReadTours, requiredPermission(methodListTours))
	assert.Empty(t, requiredPermission("/grpc.health.v1.Health/Check"))
}
