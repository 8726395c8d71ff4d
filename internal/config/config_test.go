package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/cadence/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Tier != domain.TierCommunity {
			t.Errorf("tier = %q", cfg.Tier)
		}
		if cfg.Server.Port != 5000 || cfg.Server.DefaultTenant != "default" {
			t.Errorf("server = %+v", cfg.Server)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("driver = %q", cfg.Repository.Driver)
		}
		if cfg.Model != domain.DefaultModelConfig() {
			t.Errorf("model = %+v", cfg.Model)
		}
		if cfg.Policy != domain.DefaultPolicyConfig() {
			t.Errorf("policy = %+v", cfg.Policy)
		}
		if cfg.Cache.ProfileTTL != 10*time.Minute {
			t.Errorf("profile ttl = %v", cfg.Cache.ProfileTTL)
		}
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		t.Setenv("CADENCE_SERVER_PORT", "6000")
		t.Setenv("CADENCE_MODEL_WINDOWSIZE", "7")
		t.Setenv("CADENCE_POLICY_VERIFY", "confidence > 0.7")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != 6000 {
			t.Errorf("port = %d, want 6000", cfg.Server.Port)
		}
		if cfg.Model.WindowSize != 7 {
			t.Errorf("window = %d, want 7", cfg.Model.WindowSize)
		}
		if cfg.Policy.Verify != "confidence > 0.7" {
			t.Errorf("verify = %q", cfg.Policy.Verify)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("CADENCE_TIER", "pro")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
			t.Errorf("pro backends = %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
		}
		if cfg.Server.DefaultTenant != "" {
			t.Errorf("pro tier should require a tenant header, got default %q", cfg.Server.DefaultTenant)
		}
	})

	t.Run("File", func(t *testing.T) {
		path := writeFile(t, `
server:
  port: 7070
model:
  minThreshold: 20
  windowSize: 8
cache:
  profileTTL: 30s
worker:
  tenants: [acme, globex]
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("port = %d", cfg.Server.Port)
		}
		if cfg.Model.MinThreshold != 20 || cfg.Model.WindowSize != 8 {
			t.Errorf("model = %+v", cfg.Model)
		}
		if cfg.Model.CharCodeWeight != 1000 {
			t.Errorf("unset keys should keep defaults, char weight = %v", cfg.Model.CharCodeWeight)
		}
		if cfg.Cache.ProfileTTL != 30*time.Second {
			t.Errorf("profile ttl = %v", cfg.Cache.ProfileTTL)
		}
		if strings.Join(cfg.Worker.Tenants, ",") != "acme,globex" {
			t.Errorf("tenants = %v", cfg.Worker.Tenants)
		}
	})

	t.Run("FileSelectsTier", func(t *testing.T) {
		cfg, err := Load(writeFile(t, "tier: pro\n"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Repository.Driver != "postgres" {
			t.Errorf("driver = %q, want postgres", cfg.Repository.Driver)
		}
	})

	t.Run("EnvironmentBeatsFile", func(t *testing.T) {
		t.Setenv("CADENCE_SERVER_PORT", "9090")
		cfg, err := Load(writeFile(t, "server:\n  port: 7070\n"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("port = %d, want 9090", cfg.Server.Port)
		}
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("expected an error for a missing config file")
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		_, err := Load(writeFile(t, "model:\n  minSamples: 9\n  windowSize: 5\n"))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"Valid", func(*domain.Config) {}, ""},
		{"Port", func(c *domain.Config) { c.Server.Port = 70000 }, "server.port"},
		{"Driver", func(c *domain.Config) { c.Repository.Driver = "oracle" }, "repository.driver"},
		{"ThresholdBounds", func(c *domain.Config) { c.Model.MaxThreshold = 10 }, "threshold bounds"},
		{"Window", func(c *domain.Config) { c.Model.WindowSize = 0; c.Model.MinSamples = 0 }, "windowSize"},
		{"MinSamplesExceedsWindow", func(c *domain.Config) { c.Model.MinSamples = 6 }, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestWatchRequiresFile(t *testing.T) {
	if err := Watch("", func(*domain.Config) {}); err == nil {
		t.Fatal("expected an error when no config file is in use")
	}
}
