package config

import (
    "errors"
    "os"
    "strconv"
    "strings"
    "time"
)

// Config holds the daemon configuration.
type Config struct {
    ProviderBaseURL   string
    ProviderSecretID  string
    ProviderSecretKey string
    BankAccountID     string
    AgreementID       string
    AlertWebhookURL   string
    DatabaseURL       string
    SQLitePath        string
    RedisAddr         string
    SyncInterval      time.Duration
    APIAddr           string
    Revision          string

    // Token bucket for the on-demand trigger endpoint.
    TriggerRateCapacity int
    TriggerRateRefill   float64
}

// Load loads configuration from environment variables.
// DATABASE_URL selects the Postgres ledger store; without it the daemon
// falls back to SQLite at SQLITE_PATH.
func Load() (*Config, error) {
    cfg := &Config{
        ProviderBaseURL:   getenv("PROVIDER_BASE_URL", "https://bankaccountdata.gocardless.com"),
        ProviderSecretID:  os.Getenv("PROVIDER_SECRET_ID"),
        ProviderSecretKey: os.Getenv("PROVIDER_SECRET_KEY"),
        BankAccountID:     os.Getenv("BANK_ACCOUNT_ID"),
        AgreementID:       os.Getenv("AGREEMENT_ID"),
        AlertWebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
        DatabaseURL:       os.Getenv("DATABASE_URL"),
        SQLitePath:        getenv("SQLITE_PATH", "bank-sync.db"),
        RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
        SyncInterval:      getenvDuration("SYNC_INTERVAL", time.Hour),
        APIAddr:           getenv("API_ADDR", ":8080"),
        Revision:          getenv("REVISION", "unknown"),

        TriggerRateCapacity: getenvInt("TRIGGER_RATE_CAPACITY", 5),
        TriggerRateRefill:   float64(getenvInt("TRIGGER_RATE_REFILL_PER_MIN", 2)) / 60,
    }

    if err := cfg.Validate(); err != nil {
        return nil, err
    }

    return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
    var missing []string

    if c.ProviderSecretID == "" {
        missing = append(missing, "PROVIDER_SECRET_ID")
    }
    if c.ProviderSecretKey == "" {
        missing = append(missing, "PROVIDER_SECRET_KEY")
    }
    if c.BankAccountID == "" {
        missing = append(missing, "BANK_ACCOUNT_ID")
    }
    if c.AlertWebhookURL == "" {
        missing = append(missing, "ALERT_WEBHOOK_URL")
    }

    if len(missing) > 0 {
        return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
    }

    if c.SyncInterval < time.Minute {
        return errors.New("SYNC_INTERVAL must be at least one minute")
    }

    return nil
}

func getenv(key, def string) string {
    v := os.Getenv(key)
    if v == "" {
        return def
    }
    return v
}

func getenvInt(key string, def int) int {
    v := os.Getenv(key)
    if v == "" {
        return def
    }
    i, err := strconv.Atoi(v)
    if err != nil {
        return def
    }
    return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
    v := os.Getenv(key)
    if v == "" {
        return def
    }
    d, err := time.ParseDuration(v)
    if err != nil {
        return def
    }
    return d
}
