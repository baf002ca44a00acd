package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"tourbook/internal/config"
	"tourbook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"
)

const (
	permReadAvailability = "read:availability"
	permReadTours        = "read:tours"
	permWriteTours       = "write:tours"
	permWriteInventory   = "write:inventory"
	permReadBookings     = "read:bookings"
	permWriteBookings    = "write:bookings"
	permWritePayments    = "write:payments"
	permReadSettlements  = "read:settlements"
	permWriteSettlements = "write:settlements"
	permReadOutbox       = "read:outbox"
)

var (
	errMissingCredentials = errors.New("missing api key headers")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Name       string
	Role       string
	MerchantID int64
}

// anonymousAdmin is used when authentication is disabled.
var anonymousAdmin = Principal{Name: "anonymous", Role: models.RoleAdmin}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

// CanActFor reports whether the caller may touch data of merchantID.
func (p Principal) CanActFor(merchantID int64) bool {
	return p.IsAdmin() || (p.Role == models.RoleMerchant && p.MerchantID == merchantID)
}

func (p Principal) hasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// keyring resolves API keys to clients. It is shared by the HTTP and gRPC
// surfaces.
type keyring struct {
	enabled     bool
	apiKeyName  string
	extraName   string
	clientsByID map[string]config.APIClientKey
}

func newKeyring(cfg config.APIAuthConfig) *keyring {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}

	apiKeyHeader := strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}
	extraHeader := strings.ToLower(strings.TrimSpace(cfg.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}

	return &keyring{
		enabled:     cfg.Enabled,
		apiKeyName:  apiKeyHeader,
		extraName:   extraHeader,
		clientsByID: m,
	}
}

func (k *keyring) authenticate(apiKey, extra string) (Principal, error) {
	if !k.enabled {
		return anonymousAdmin, nil
	}
	if apiKey == "" || extra == "" {
		return Principal{}, errMissingCredentials
	}

	client, ok := k.clientsByID[apiKey]
	if !ok {
		return Principal{}, errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return Principal{}, errInvalidExtra
	}

	return Principal{Name: client.Name, Role: client.Role, MerchantID: client.MerchantID}, nil
}

// authorize checks a key's explicit permission list. Keys without a list may
// call everything their role allows.
func (k *keyring) authorize(apiKey, required string) error {
	if !k.enabled || required == "" {
		return nil
	}
	client := k.clientsByID[apiKey]
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored on ctx by the auth layer.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type AuthInterceptor struct {
	keys    *keyring
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := first(md.Get(a.keys.apiKeyName))

		principal, err := a.keys.authenticate(apiKey, first(md.Get(a.keys.extraName)))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if err := a.keys.authorize(apiKey, requiredPermission(info.FullMethod)); err != nil {
			return nil, status.Error(codes.PermissionDenied, err.Error())
		}

		if !a.limiter.allow(a.clientKey(ctx, apiKey)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(withPrincipal(ctx, principal), req)
	}
}

func requiredPermission(fullMethod string) string {
	switch fullMethod {
	case methodGetAvailability, methodGetAvailabilityRange:
		return permReadAvailability
	case methodListTours:
		return permReadTours
	default:
		return ""
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
