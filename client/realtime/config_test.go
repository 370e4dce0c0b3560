package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnvReadsReconnectSettings(t *testing.T) {
	t.Setenv("CHAT_CLIENT_ENDPOINTS", "http://a:1, http://b:2")
	t.Setenv("CHAT_CLIENT_USER_ID", "u1")
	t.Setenv("CHAT_CLIENT_RECONNECT_BASE_MS", "250")
	t.Setenv("CHAT_CLIENT_RECONNECT_JITTER", "0.5")

	cfg := ConfigFromEnv()
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.Endpoints)
	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectBase)
	assert.Equal(t, 0.5, cfg.Jitter)
}

func TestConfigFromEnvJitterCanBeDisabled(t *testing.T) {
	t.Setenv("CHAT_CLIENT_RECONNECT_JITTER", "0")
	assert.Equal(t, 0.0, ConfigFromEnv().withDefaults().Jitter)

	t.Setenv("CHAT_CLIENT_RECONNECT_JITTER", "2")
	assert.Equal(t, defaultJitter, ConfigFromEnv().Jitter)

	t.Setenv("CHAT_CLIENT_RECONNECT_JITTER", "")
	assert.Equal(t, defaultJitter, ConfigFromEnv().Jitter)
}
