package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	vars := []string{
		"PROVIDER_BASE_URL", "PROVIDER_SECRET_ID", "PROVIDER_SECRET_KEY",
		"BANK_ACCOUNT_ID", "AGREEMENT_ID", "ALERT_WEBHOOK_URL",
		"DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR", "SYNC_INTERVAL",
		"API_ADDR", "REVISION",
	}
	resetEnv := func() {
		for _, v := range vars {
			os.Unsetenv(v)
		}
	}
	resetEnv()
	defer resetEnv()

	// 1. Missing everything -> Fail, and the error names all missing vars.
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when env vars are missing, got nil")
	}
	for _, want := range []string{"PROVIDER_SECRET_ID", "PROVIDER_SECRET_KEY", "BANK_ACCOUNT_ID", "ALERT_WEBHOOK_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}

	// 2. Partial env -> Fail
	os.Setenv("PROVIDER_SECRET_ID", "secret-id")
	os.Setenv("PROVIDER_SECRET_KEY", "secret-key")
	_, err = Load()
	if err == nil {
		t.Error("expected error when some env vars are missing, got nil")
	}

	// 3. Valid config -> Success with defaults applied
	os.Setenv("BANK_ACCOUNT_ID", "acct-1")
	os.Setenv("ALERT_WEBHOOK_URL", "https://hooks.example.com/abc")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.ProviderBaseURL != "https://bankaccountdata.gocardless.com" {
		t.Errorf("unexpected default base url: %s", cfg.ProviderBaseURL)
	}
	if cfg.SyncInterval != time.Hour {
		t.Errorf("expected default interval 1h, got %s", cfg.SyncInterval)
	}
	if cfg.Revision != "unknown" {
		t.Errorf("expected default revision unknown, got %s", cfg.Revision)
	}

	// 4. Interval below the floor -> Fail
	os.Setenv("SYNC_INTERVAL", "10s")
	_, err = Load()
	if err == nil {
		t.Error("expected error for sub-minute interval, got nil")
	}

	// 5. Unparseable interval falls back to the default.
	os.Setenv("SYNC_INTERVAL", "often")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.SyncInterval != time.Hour {
		t.Errorf("expected fallback interval 1h, got %s", cfg.SyncInterval)
	}
}
