package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PRE_DUE_OFFSETS", "")
	t.Setenv("NOTIFIER_TIMEOUT", "")
	t.Setenv("ADMIN_RATE_LIMIT", "")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "")
	t.Setenv("OUTBOX_RETENTION", "")
	t.Setenv("STALE_PROCESSING_AFTER", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if len(cfg.PreDueOffsets) != 5 || cfg.PreDueOffsets[0] != 7 || cfg.PreDueOffsets[4] != 0 {
		t.Fatalf("expected default pre-due ladder, got %v", cfg.PreDueOffsets)
	}
	if cfg.DefaultCooldownDays != 7 {
		t.Fatalf("expected default cooldown 7, got %d", cfg.DefaultCooldownDays)
	}
	if cfg.NotifierTimeout != 5*time.Second {
		t.Fatalf("expected notifier timeout 5s, got %s", cfg.NotifierTimeout)
	}
	if cfg.AdminRateLimit != 5 || cfg.AdminRateBurst != 20 {
		t.Fatalf("unexpected admin rate defaults: %v/%d", cfg.AdminRateLimit, cfg.AdminRateBurst)
	}
	if cfg.OutboxMaxAttempts != 10 || cfg.OutboxRetention != 7*24*time.Hour {
		t.Fatalf("unexpected outbox defaults: %d %s", cfg.OutboxMaxAttempts, cfg.OutboxRetention)
	}
	if cfg.StaleProcessing != 30*time.Minute {
		t.Fatalf("expected stale processing 30m, got %s", cfg.StaleProcessing)
	}
	if cfg.SMSProvider != "assertiva" || cfg.WhatsAppProvider != "debtapp" || cfg.EmailProvider != "sendgrid" {
		t.Fatalf("unexpected provider defaults: %s %s %s", cfg.SMSProvider, cfg.WhatsAppProvider, cfg.EmailProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("PRE_DUE_OFFSETS", "10, 3,0")
	t.Setenv("STEP0_COOLDOWN_DAYS", "5")
	t.Setenv("SMS_PROVIDER", " Telnyx ")
	t.Setenv("NOTIFIER_TIMEOUT", "3s")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("ADMIN_RATE_LIMIT", "0.5")
	t.Setenv("STALE_PROCESSING_AFTER", "90m")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if len(cfg.PreDueOffsets) != 3 || cfg.PreDueOffsets[0] != 10 || cfg.PreDueOffsets[1] != 3 {
		t.Fatalf("expected ladder override, got %v", cfg.PreDueOffsets)
	}
	if cfg.Step0CooldownDays != 5 {
		t.Fatalf("expected step0 cooldown override, got %d", cfg.Step0CooldownDays)
	}
	if cfg.SMSProvider != "telnyx" {
		t.Fatalf("expected normalized sms provider, got %q", cfg.SMSProvider)
	}
	if cfg.NotifierTimeout != 3*time.Second {
		t.Fatalf("expected notifier timeout override, got %s", cfg.NotifierTimeout)
	}
	if cfg.AdminRateLimit != 0.5 {
		t.Fatalf("expected fractional admin rate, got %v", cfg.AdminRateLimit)
	}
	if cfg.BatchSize != 25 {
		t.Fatalf("expected batch size override, got %d", cfg.BatchSize)
	}
	if cfg.StaleProcessing != 90*time.Minute {
		t.Fatalf("expected stale processing override, got %s", cfg.StaleProcessing)
	}
}

func TestGetEnvAsIntListRejectsMalformed(t *testing.T) {
	t.Setenv("LADDER", "7,x,1")
	got := getEnvAsIntList("LADDER", []int{1})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected default on malformed list, got %v", got)
	}
	t.Setenv("LADDER", "7,-1")
	got = getEnvAsIntList("LADDER", []int{2})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected default on negative entry, got %v", got)
	}
}
