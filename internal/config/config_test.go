package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8000", cfg.BackendHTTPPort)
	assert.Equal(t, "8001", cfg.AgentHTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.RedisHistoryTTL)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.Equal(t, 7, cfg.MaxChatTurnsHistory)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenExpiry)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_CHAT_HISTORY_TTL_SECONDS", "60")
	t.Setenv("MAX_CHAT_TURNS_HISTORY", "3")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")

	cfg := Load()

	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr())
	assert.Equal(t, time.Minute, cfg.RedisHistoryTTL)
	assert.Equal(t, 3, cfg.MaxChatTurnsHistory)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenExpiry)
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("MAX_CHAT_TURNS_HISTORY", "not-a-number")
	cfg := Load()
	assert.Equal(t, 7, cfg.MaxChatTurnsHistory)
}
