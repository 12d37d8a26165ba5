package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
mode = "serve"
log_level = "debug"

[engine]
resolve_after_end_only = true
lock_ttl = "30s"

[postgres]
host = "db.internal"
database = "markets"

[server]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "serve" || cfg.LogLevel != "debug" {
		t.Fatalf("top-level overrides not applied: %+v", cfg)
	}
	if !cfg.Engine.ResolveAfterEndOnly {
		t.Fatal("engine.resolve_after_end_only not applied")
	}
	if cfg.Engine.LockTTL.Duration != 30*time.Second {
		t.Fatalf("lock_ttl = %v, want 30s", cfg.Engine.LockTTL.Duration)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Database != "markets" {
		t.Fatalf("postgres overrides not applied: %+v", cfg.Postgres)
	}
	// Untouched fields keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Fatalf("postgres.port = %d, want default 5432", cfg.Postgres.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis.addr = %q, want default", cfg.Redis.Addr)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("server.port = %d, want 9000", cfg.Server.Port)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeTempConfig(t, `
[postgres]
password = "from-file"
`)

	t.Setenv("SETTLED_POSTGRES_PASSWORD", "from-env")
	t.Setenv("SETTLED_ENGINE_ALLOW_EMERGENCY_WITHDRAW", "true")
	t.Setenv("SETTLED_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Postgres.Password != "from-env" {
		t.Fatalf("postgres.password = %q, want env override", cfg.Postgres.Password)
	}
	if !cfg.Engine.AllowEmergencyWithdraw {
		t.Fatal("engine.allow_emergency_withdraw env override not applied")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Fatalf("cors_origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "mystery"
	cfg.LogLevel = "loud"
	cfg.Engine.Store = "csv"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("want validation error")
	}
	for _, frag := range []string{"unknown mode", "unknown log_level", "unknown store", "redis: addr", "server: port"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("error missing %q:\n%v", frag, err)
		}
	}
}

func TestValidateMemoryStoreSkipsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Store = "memory"
	cfg.Postgres = PostgresConfig{}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory store should not require postgres: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.AdminTokenHash = "$2a$10$abcdef"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.Redis.Password != "***" ||
		red.S3.SecretKey != "***" || red.Server.AdminTokenHash != "***" ||
		red.Notify.TelegramToken != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}

	// Original untouched.
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("redaction mutated the original config")
	}

	// Slice copies are independent.
	red.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Fatal("redacted copy shares slice storage with the original")
	}
}
