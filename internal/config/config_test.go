package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "NODE_ENV", "SESSION_TTL", "SESSION_COOKIE_NAME", "AI_TIMEOUT",
		"AI_RATE_LIMIT_PER_MINUTE", "CORS_ORIGINS", "FRONTEND_URL", "CLEANUP_INTERVAL", "RUN_MIGRATIONS"} {
		t.Setenv(k, "")
	}

	c := Load()
	require.NotNil(t, c)

	assert.Equal(t, "5000", c.Port)
	assert.Equal(t, "development", c.Env)
	assert.True(t, c.IsDevelopment())
	assert.False(t, c.IsProduction())
	assert.Equal(t, 7*24*time.Hour, c.SessionTTL)
	assert.Equal(t, "bizmodel.sid", c.SessionCookieName)
	assert.Equal(t, 35*time.Second, c.AITimeout)
	assert.Equal(t, 20, c.AIRateLimitPerMin)
	assert.Equal(t, time.Hour, c.CleanupInterval)
	assert.True(t, c.RunMigrations)
	assert.Equal(t, []string{"http://localhost:5173"}, c.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("AI_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("RUN_MIGRATIONS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("PAYPAL_CLIENT_ID", "id")
	t.Setenv("PAYPAL_CLIENT_SECRET", "")

	c := Load()

	assert.Equal(t, "8080", c.Port)
	assert.True(t, c.IsProduction())
	assert.Equal(t, 2*time.Hour, c.SessionTTL)
	assert.Equal(t, 5, c.AIRateLimitPerMin)
	assert.False(t, c.RunMigrations)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.True(t, c.StripeEnabled())
	assert.False(t, c.PayPalEnabled())
}

func TestGetters_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_SLICE", " , ")

	assert.Equal(t, 3, getEnvInt("X_INT", 3))
	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
	assert.Equal(t, []string{"d"}, getEnvSlice("X_SLICE", []string{"d"}))
}
