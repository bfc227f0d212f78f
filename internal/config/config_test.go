package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := Load()

	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.WSURL)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.ReadBatchDelay)
	assert.Equal(t, 3*time.Second, cfg.TypingThrottle)
	assert.Equal(t, 5*time.Second, cfg.DuplicateWindow)
	assert.Equal(t, OutboxMemory, cfg.Outbox.Backend)
	assert.Equal(t, "chat_outbox", cfg.Outbox.Key)
	assert.Equal(t, 24*time.Hour, cfg.Outbox.TTL)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadSize)
	assert.Equal(t, "", cfg.DatabaseURL())
	assert.Equal(t, 20, cfg.DBMaxConnections())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://chat.example.com
user_id: "7"
read_batch_delay_ms: 500
outbox:
  backend: pebble
  pebble_path: /tmp/outbox
database:
  database_url: postgres://u:p@db/chat
  db_max_connections: 5
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CHAT_USER_ID", "42")
	t.Setenv("TYPING_THROTTLE_MS", "1000")
	t.Setenv("SEND_TIMEOUT", "not-a-number")

	cfg := Load()
	assert.Equal(t, "https://chat.example.com", cfg.APIURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WSURL)
	assert.Equal(t, "42", cfg.UserID)
	assert.Equal(t, 500*time.Millisecond, cfg.ReadBatchDelay)
	assert.Equal(t, time.Second, cfg.TypingThrottle)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, OutboxPebble, cfg.Outbox.Backend)
	assert.Equal(t, "/tmp/outbox", cfg.Outbox.PebblePath)
	assert.Equal(t, "postgres://u:p@db/chat", cfg.DatabaseURL())
	assert.Equal(t, 5, cfg.DBMaxConnections())
	assert.NoError(t, cfg.ValidateClient())
}

func TestLoadBrokenYAMLFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: [unterminated"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
}

func TestValidateClient(t *testing.T) {
	cfg := &Config{APIURL: "http://x", UserID: "1", Outbox: OutboxConfig{Backend: OutboxMemory}}
	assert.NoError(t, cfg.ValidateClient())

	cfg.UserID = ""
	assert.Error(t, cfg.ValidateClient())

	cfg.UserID = "1"
	cfg.Outbox.Backend = "sqlite"
	assert.Error(t, cfg.ValidateClient())

	cfg.Outbox.Backend = OutboxPebble
	assert.Error(t, cfg.ValidateClient())
}
