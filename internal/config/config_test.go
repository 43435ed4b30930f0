package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_ADDR", "")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "")
	t.Setenv("DELETE_FOR_EVERYONE_WINDOW", "")

	cfg := Load()
	assert.Equal(t, ":8085", cfg.Addr)
	assert.Equal(t, 20*time.Second, cfg.ExpirySweepInterval)
	assert.Equal(t, 20, cfg.PreKeyRefillThreshold)
	assert.Zero(t, cfg.DeleteForEveryoneWindow)
	assert.True(t, cfg.StrictKeyValidation)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "5s")
	t.Setenv("PRESENCE_DEBOUNCE", "soon")
	t.Setenv("DELETE_FOR_EVERYONE_WINDOW", "48h")
	t.Setenv("CONTACT_CACHE_TTL", "0s")
	t.Setenv("KEYS_STRICT_VALIDATION", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PREKEY_REFILL_THRESHOLD", "-3")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.ExpirySweepInterval)
	assert.Equal(t, 2*time.Second, cfg.PresenceDebounce)
	assert.Equal(t, 48*time.Hour, cfg.DeleteForEveryoneWindow)
	assert.Zero(t, cfg.ContactCacheTTL)
	assert.False(t, cfg.StrictKeyValidation)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 20, cfg.PreKeyRefillThreshold)
}
