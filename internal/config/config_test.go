package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VENOM_URL", "http://venom:3000/")
	t.Setenv("REQUEST_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://venom:3000", cfg.VenomURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ExternalTimeout)
	assert.Equal(t, 14, cfg.SlotHorizonDays)
	assert.Equal(t, 25, cfg.SlotMaxResults)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SLOT_MAX_RESULTS", "10")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("EXTERNAL_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOG_FORMAT", "TEXT")

	cfg := Load()

	assert.Equal(t, 10, cfg.SlotMaxResults)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, 5*time.Second, cfg.ExternalTimeout)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLocation_FallsBackToFixedZone(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	loc := cfg.Location()
	_, offset := time.Date(2026, 1, 1, 12, 0, 0, 0, loc).Zone()
	assert.Equal(t, -3*60*60, offset)
}
