package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMemoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("EVENT_TIMEZONE", "UTC")
}

func TestNew_Defaults(t *testing.T) {
	setMemoryEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4.0, cfg.Schedule.CasualWindowHours)
	assert.Equal(t, time.Hour, cfg.Schedule.LateGrace)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.Lookahead)
	assert.Equal(t, 4*time.Hour+30*time.Minute, cfg.Schedule.Threshold)
	assert.Equal(t, NotifierNone, cfg.Notifier.Driver)
	assert.Equal(t, int64(16), cfg.Dispatch.Concurrency)
	assert.Equal(t, time.UTC, cfg.Schedule.Location)
}

func TestNew_Overrides(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("PROMOTE_THRESHOLD_HOURS", "3.5")
	t.Setenv("CARD_FEE_PERCENT", "4.99")
	t.Setenv("MONTHLY_FEE_CENTS", "12000")
	t.Setenv("NOTIFIER_DRIVER", "webhook")
	t.Setenv("NOTIFIER_WEBHOOK_URL", "http://relay.local/hook")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Hour+30*time.Minute, cfg.Schedule.Threshold)
	assert.InDelta(t, 4.99, cfg.Payment.CardFeePercent, 1e-9)
	assert.Equal(t, int64(12000), cfg.Payment.MonthlyFeeCents)
	assert.Equal(t, NotifierWebhook, cfg.Notifier.Driver)
}

func TestNew_ServerAndPoolSettings(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("CORS_ALLOW_ORIGINS", " https://app.example , ,https://admin.example")
	t.Setenv("POSTGRES_MAX_CONNS", "12")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int32(12), cfg.Postgres.MaxConns)
}

func TestNew_InvalidNumber(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("SERVER_PORT", "eighty")

	_, err := New()
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestNew_PostgresRequiresCredentials(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("EVENT_TIMEZONE", "UTC")
	t.Setenv("POSTGRES_USER", "")

	_, err := New()
	assert.ErrorContains(t, err, "POSTGRES_USER")
}

func TestNew_WebhookNeedsURL(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("NOTIFIER_DRIVER", "webhook")
	t.Setenv("NOTIFIER_WEBHOOK_URL", "")

	_, err := New()
	assert.ErrorContains(t, err, "NOTIFIER_WEBHOOK_URL")
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{User: "app", Password: "p@ss", Name: "pelada", Host: "db", Port: 5432, SSLMode: "disable"}

	assert.Equal(t, "postgres://app:p%40ss@db:5432/pelada?sslmode=disable", p.DSN())
}
