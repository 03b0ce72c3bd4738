package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090
mysql:
  dsn: "chat:chat@tcp(db:3306)/chat?parseTime=True"
chat:
  broadcast: amqp
  exchange: chat.test
  history_max_limit: 50
rate_limit:
  send_rps: 2
  send_burst: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, BroadcastLocal, cfg.Chat.Broadcast)
	assert.Equal(t, def.Chat.HistoryMaxLimit, cfg.Chat.HistoryMaxLimit)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	// 摘要缓存默认关闭
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_RedisEnablesWithEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("LOCALHUNT_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "chat:chat@tcp(db:3306)/chat?parseTime=True", cfg.MySQL.DSN)
	assert.Equal(t, BroadcastAMQP, cfg.Chat.Broadcast)
	assert.Equal(t, "chat.test", cfg.Chat.Exchange)
	assert.Equal(t, 50, cfg.Chat.HistoryMaxLimit)
	assert.Equal(t, 2.0, cfg.RateLimit.SendRPS)
	assert.Equal(t, 3, cfg.RateLimit.SendBurst)
	// 文件中未出现的 key 保持默认值
	assert.Equal(t, DefaultConfig().Chat.ListenerBuffer, cfg.Chat.ListenerBuffer)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("LOCALHUNT_SERVER_PORT", "7070")
	t.Setenv("LOCALHUNT_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
}

func TestLoad_InvalidBroadcast(t *testing.T) {
	_, err := Load(writeConfig(t, "chat:\n  broadcast: carrier-pigeon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat.broadcast")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
