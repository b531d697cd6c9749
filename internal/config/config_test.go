package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "3000" {
		t.Errorf("Server.Port = %q, want 3000", cfg.Server.Port)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 12h", cfg.Auth.TokenTTL)
	}
	if cfg.Access.StrictBranchScope {
		t.Error("StrictBranchScope should default to false")
	}
	if cfg.Location().String() != "Asia/Ho_Chi_Minh" {
		t.Errorf("Location() = %v", cfg.Location())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPS_SERVER__PORT", "8080")
	t.Setenv("OPS_AUTH__TOKEN_TTL", "90m")
	t.Setenv("OPS_ACCESS__STRICT_BRANCH_SCOPE", "true")
	t.Setenv("OPS_SERVER__CORS_ORIGINS", "https://a.test, https://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.TokenTTL != 90*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 90m", cfg.Auth.TokenTTL)
	}
	if !cfg.Access.StrictBranchScope {
		t.Error("StrictBranchScope should be true")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "production needs a real secret",
			mutate:  func(c *Config) { c.Environment = "production" },
			wantErr: "must be changed in production",
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database.url is required",
		},
		{
			name:    "notify without transport",
			mutate:  func(c *Config) { c.Notify.Enabled = true },
			wantErr: "telegram token or smtp host",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	if got := envTransform("OPS_NOTIFY__SMTP__HOST"); got != "notify.smtp.host" {
		t.Errorf("envTransform() = %q", got)
	}
	if got := envTransform("OPS_DATABASE__MAX_OPEN_CONNS"); got != "database.max_open_conns" {
		t.Errorf("envTransform() = %q", got)
	}
}
