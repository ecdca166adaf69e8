package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key LoadConfig reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "JWT_SECRET",
		"S3_BUCKET_NAME", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"STORE_DRIVER", "DATABASE_URL", "HISTORY_LINES", "CHUNK_LENGTH",
		"USER_VERIFY", "ADMIN_ACCESS_LEVEL", "COMMANDS_FILE",
		"MESSAGE_RATE", "MESSAGE_BURST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.NotEmpty(t, cfg.DatabaseDSN)
	assert.Equal(t, 80, cfg.HistoryLines)
	assert.Equal(t, 10, cfg.ChunkLength)
	assert.Equal(t, 11, cfg.AdminAccessLevel)
	assert.False(t, cfg.UserVerify)
	assert.False(t, cfg.HasS3())
	assert.Equal(t, 2.0, cfg.MessageRate)
	assert.Equal(t, 10, cfg.MessageBurst)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HISTORY_LINES", "25")
	t.Setenv("CHUNK_LENGTH", "5")
	t.Setenv("USER_VERIFY", "true")
	t.Setenv("MESSAGE_RATE", "0.5")
	t.Setenv("MESSAGE_BURST", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, 25, cfg.HistoryLines)
	assert.Equal(t, 5, cfg.ChunkLength)
	assert.True(t, cfg.UserVerify)
	assert.Equal(t, 0.5, cfg.MessageRate)
	assert.Equal(t, 3, cfg.MessageBurst)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"privileged port", map[string]string{"PORT": "80"}},
		{"non numeric port", map[string]string{"PORT": "http"}},
		{"production without secret", map[string]string{"ENVIRONMENT": "production", "DATABASE_URL": "postgres://x"}},
		{"production without database", map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "s"}},
		{"partial s3", map[string]string{"S3_BUCKET_NAME": "archives"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"zero chunk length", map[string]string{"CHUNK_LENGTH": "0"}},
		{"bad bool", map[string]string{"USER_VERIFY": "maybe"}},
		{"bad message rate", map[string]string{"MESSAGE_RATE": "fast"}},
		{"negative message rate", map[string]string{"MESSAGE_RATE": "-1"}},
		{"zero message burst", map[string]string{"MESSAGE_BURST": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
