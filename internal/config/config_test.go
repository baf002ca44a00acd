package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tourbook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TOURBOOK_ADMIN_KEY", "secret-admin")

	yamlContent := `
database:
  path: "test.db"
booking:
  default_capacity: 40
settlement:
  commission_rate: "0.12"
  schedule:
    enabled: true
    interval: 12h
api:
  auth:
    enabled: true
    api_keys:
      - key: "${TOURBOOK_ADMIN_KEY}"
        name: "ops"
        role: "admin"
      - key: "m-7"
        name: "merchant seven"
        role: "merchant"
        merchant_id: 7
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("expected sqlite driver by default, got %s", cfg.Database.Driver)
	}
	if cfg.Booking.DefaultCapacity != 40 {
		t.Errorf("expected default capacity 40, got %d", cfg.Booking.DefaultCapacity)
	}
	if got := cfg.Settlement.Rate().String(); got != "0.12" {
		t.Errorf("expected commission rate 0.12, got %s", got)
	}
	if cfg.Settlement.Schedule.Interval != 12*time.Hour {
		t.Errorf("expected 12h schedule, got %s", cfg.Settlement.Schedule.Interval)
	}
	if len(cfg.API.Auth.APIKeys) != 2 || cfg.API.Auth.APIKeys[0].Key != "secret-admin" {
		t.Errorf("expected env-expanded admin key, got %+v", cfg.API.Auth.APIKeys)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing sqlite path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.Database.DSN = "postgres://localhost/tourbook"
		}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "negative capacity", mutate: func(c *Config) { c.Booking.DefaultCapacity = -1 }, wantErr: true},
		{name: "rate above one", mutate: func(c *Config) { c.Settlement.CommissionRate = "1.5" }, wantErr: true},
		{name: "rate not a number", mutate: func(c *Config) { c.Settlement.CommissionRate = "ten" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{API: APIConfig{Auth: APIAuthConfig{APIKeys: []APIClientKey{{Key: "k"}}}}}
	cfg.applyDefaults()

	if cfg.Booking.DefaultCapacity != models.DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", models.DefaultCapacity, cfg.Booking.DefaultCapacity)
	}
	if cfg.Settlement.CommissionRate != models.DefaultCommissionRate {
		t.Errorf("expected default commission %s, got %s", models.DefaultCommissionRate, cfg.Settlement.CommissionRate)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Booking.AdmissionRetries != 3 {
		t.Errorf("expected 3 admission retries, got %d", cfg.Booking.AdmissionRetries)
	}
	if cfg.API.Auth.APIKeys[0].Role != models.RoleClient {
		t.Errorf("expected client role by default, got %s", cfg.API.Auth.APIKeys[0].Role)
	}
}

func TestValidateAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []APIClientKey
		wantErr bool
	}{
		{
			name: "Valid keys",
			keys: []APIClientKey{
				{Key: "a", Name: "admin", Role: models.RoleAdmin},
				{Key: "m", Name: "merchant", Role: models.RoleMerchant, MerchantID: 3},
			},
		},
		{
			name:    "Duplicate key",
			keys:    []APIClientKey{{Key: "a", Role: models.RoleAdmin}, {Key: "a", Role: models.RoleClient}},
			wantErr: true,
		},
		{
			name:    "Merchant without id",
			keys:    []APIClientKey{{Key: "m", Role: models.RoleMerchant}},
			wantErr: true,
		},
		{
			name:    "Unknown role",
			keys:    []APIClientKey{{Key: "x", Role: "root"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeys(tt.keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
