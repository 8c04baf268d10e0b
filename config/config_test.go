package config_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-authsession/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_KEY", "anon")
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.Addr)
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, config.StoreMemory, cfg.Session.Store)
	assert.Equal(t, "sb-auth-token", cfg.Session.StorageKey)
	assert.True(t, cfg.Session.AutoRefresh)
	assert.Equal(t, 90*time.Second, cfg.Session.RefreshMargin())
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "HS256", cfg.Auth.GetSigningMethod())
	assert.Equal(t, "header:Authorization", cfg.Auth.GetTokenLookup())
	assert.Equal(t, "Bearer", cfg.Auth.GetAuthScheme())
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t)
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTH_REFRESH_MARGIN_SECONDS", "30")
	t.Setenv("AUTH_AUTO_REFRESH", "false")
	t.Setenv("SUPABASE_JWT_SECRET", "shh")
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "nope")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.StoreRedis, cfg.Session.Store)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Session.RefreshMargin())
	assert.False(t, cfg.Session.AutoRefresh)
	assert.Equal(t, "shh", cfg.Auth.GetSigningKey())
	assert.Equal(t, 30, cfg.App.RequestTimeoutSeconds)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad redis db", env: map[string]string{"REDIS_DB": "x"}},
		{name: "unknown store", env: map[string]string{"SESSION_STORE": "etcd"}},
		{name: "missing url", env: map[string]string{"SUPABASE_URL": ""}},
		{name: "url without scheme", env: map[string]string{"SUPABASE_URL": "example.supabase.co"}},
		{name: "missing key", env: map[string]string{"SUPABASE_KEY": ""}},
		{name: "negative margin", env: map[string]string{"AUTH_REFRESH_MARGIN_SECONDS": "-5"}},
		{name: "asymmetric secret method", env: map[string]string{"AUTH_SIGNING_METHOD": "RS256"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
