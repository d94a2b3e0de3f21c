package config

import (
	"os"
	"testing"
	"time"
)

// unsetEnv clears keys for the duration of the test. envconfig treats a set
// but empty variable as a value, so defaults only apply to unset keys.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	unsetEnv(t, "AUTH_SECRET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "COMMIT_MAX_ATTEMPTS", "INVENTORY_CACHE_TTL", "ACCESS_TOKEN_TTL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default address :8080, got %s", cfg.Address())
	}
	if cfg.CommitMaxAttempts != 5 {
		t.Fatalf("expected 5 commit attempts, got %d", cfg.CommitMaxAttempts)
	}
	if cfg.InventoryCacheTTL != 20*time.Second || cfg.AccessTokenTTL != 8*time.Hour {
		t.Fatalf("unexpected ttl defaults %v / %v", cfg.InventoryCacheTTL, cfg.AccessTokenTTL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_SECRET", "  padded-secret  ")
	t.Setenv("INVENTORY_CACHE_TTL", "1m")
	t.Setenv("COMMIT_MAX_ATTEMPTS", "8")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	unsetEnv(t, "MONGODB_DATABASE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.AuthSecret != "padded-secret" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.InventoryCacheTTL != time.Minute || cfg.CommitMaxAttempts != 8 {
		t.Fatalf("unexpected overrides %v / %d", cfg.InventoryCacheTTL, cfg.CommitMaxAttempts)
	}
	if cfg.MongoURI != "mongodb://localhost:27017" || cfg.MongoDatabase != "kioskpos" {
		t.Fatalf("unexpected mongo settings %q / %q", cfg.MongoURI, cfg.MongoDatabase)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("COMMIT_MAX_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected zero commit attempts to be rejected")
	}

	unsetEnv(t, "COMMIT_MAX_ATTEMPTS")
	t.Setenv("REDIS_DB", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatalf("expected a malformed REDIS_DB to be rejected")
	}
}
