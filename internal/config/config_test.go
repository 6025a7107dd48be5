package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "local", cfg.ArtifactDriver)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, int64(110<<20), cfg.MaxUploadBytes())
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		StoreDriver:       "memory",
		ArtifactDriver:    "local",
		Workers:           1,
		ConversionTimeout: time.Minute,
		JWTSecret:         "0123456789abcdef",
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }},
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }},
		{"s3 without bucket", func(c *Config) { c.ArtifactDriver = "s3" }},
		{"unknown artifact driver", func(c *Config) { c.ArtifactDriver = "ftp" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"zero timeout", func(c *Config) { c.ConversionTimeout = 0 }},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
