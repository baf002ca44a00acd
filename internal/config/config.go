package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"tourbook/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Settlement SettlementConfig `yaml:"settlement"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// IsDevelopment enables debug details in API error bodies.
func (a AppConfig) IsDevelopment() bool {
	return a.Environment == "development" || a.Environment == "dev"
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP           APIHTTPConfig      `yaml:"http"`
	GRPC           APIGRPCConfig      `yaml:"grpc"`
	Auth           APIAuthConfig      `yaml:"auth"`
	RateLimit      APIRateLimitConfig `yaml:"rate_limit"`
	IdempotencyTTL time.Duration      `yaml:"idempotency_ttl"`
}

type APIHTTPConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey identifies a caller. Merchant keys are scoped to MerchantID.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Role        string   `yaml:"role"`
	MerchantID  int64    `yaml:"merchant_id"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	DefaultCapacity  int `yaml:"default_capacity"`
	MaxAdvanceDays   int `yaml:"max_advance_days"`
	MaxRangeDays     int `yaml:"max_range_days"`
	DefaultRangeDays int `yaml:"default_range_days"`
	AdmissionRetries int `yaml:"admission_retries"`
}

type SettlementConfig struct {
	CommissionRate string             `yaml:"commission_rate"`
	Currency       string             `yaml:"currency"`
	Retries        int                `yaml:"retries"`
	Schedule       SettlementSchedule `yaml:"schedule"`
}

type SettlementSchedule struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	PeriodDays int           `yaml:"period_days"`
}

// Rate returns the parsed commission rate. Validate guarantees it parses.
func (s SettlementConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(s.CommissionRate)
	if err != nil {
		return decimal.RequireFromString(models.DefaultCommissionRate)
	}
	return rate
}

type OutboxConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	WebhookURL    string        `yaml:"webhook_url"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	CredentialsFile      string `yaml:"credentials_file"`
	PayoutsSpreadsheetID string `yaml:"payouts_spreadsheet_id"`
	PayoutsSheet         string `yaml:"payouts_sheet"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Booking.DefaultCapacity < 0 {
		return errors.New("booking.default_capacity must be >= 0")
	}

	rate, err := decimal.NewFromString(c.Settlement.CommissionRate)
	if err != nil {
		return fmt.Errorf("invalid settlement.commission_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("settlement.commission_rate must be between 0 and 1")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys checks that keys are unique and merchant keys name a merchant.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
		switch k.Role {
		case models.RoleAdmin, models.RoleClient:
		case models.RoleMerchant:
			if k.MerchantID == 0 {
				return fmt.Errorf("merchant key '%s' has no merchant_id", k.Name)
			}
		default:
			return fmt.Errorf("api key '%s' has unknown role %q", k.Name, k.Role)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.IdempotencyTTL == 0 {
		c.API.IdempotencyTTL = 24 * time.Hour
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	for i := range c.API.Auth.APIKeys {
		if c.API.Auth.APIKeys[i].Role == "" {
			c.API.Auth.APIKeys[i].Role = models.RoleClient
		}
	}

	if c.Booking.DefaultCapacity == 0 {
		c.Booking.DefaultCapacity = models.DefaultCapacity
	}
	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = 365
	}
	if c.Booking.MaxRangeDays == 0 {
		c.Booking.MaxRangeDays = models.MaxRangeDays
	}
	if c.Booking.DefaultRangeDays == 0 {
		c.Booking.DefaultRangeDays = models.DefaultRangeDays
	}
	if c.Booking.AdmissionRetries == 0 {
		c.Booking.AdmissionRetries = 3
	}

	if c.Settlement.CommissionRate == "" {
		c.Settlement.CommissionRate = models.DefaultCommissionRate
	}
	if c.Settlement.Currency == "" {
		c.Settlement.Currency = "USD"
	}
	if c.Settlement.Retries == 0 {
		c.Settlement.Retries = 3
	}
	if c.Settlement.Schedule.Interval == 0 {
		c.Settlement.Schedule.Interval = 24 * time.Hour
	}
	if c.Settlement.Schedule.PeriodDays == 0 {
		c.Settlement.Schedule.PeriodDays = 7
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Outbox.InitialDelay == 0 {
		c.Outbox.InitialDelay = 2 * time.Second
	}
	if c.Outbox.MaxDelay == 0 {
		c.Outbox.MaxDelay = time.Minute
	}
	if c.Outbox.BackoffFactor == 0 {
		c.Outbox.BackoffFactor = 2
	}

	if c.Google.PayoutsSheet == "" {
		c.Google.PayoutsSheet = "Payouts"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
