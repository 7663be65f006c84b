package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "edufocus_system", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "school_", cfg.Store.SchoolDBPrefix)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "whatsapp/school/%d/cmd", cfg.MQTT.CommandTopic)
	assert.Equal(t, "whatsapp/school/%d/event", cfg.MQTT.EventTopic)

	assert.Equal(t, 2*time.Minute, cfg.WhatsApp.KeepAliveInterval)
	assert.Equal(t, 30*time.Second, cfg.WhatsApp.ConnectTimeout)
	assert.Equal(t, "55", cfg.WhatsApp.CountryCode)

	assert.Equal(t, "attendance:events", cfg.Stream.Name)
	assert.Equal(t, "notify-dispatcher", cfg.Stream.Group)

	assert.False(t, cfg.Push.Enabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("SCHOOL_DB_PREFIX", "escola_")
	os.Setenv("WA_KEEPALIVE_INTERVAL", "45s")
	os.Setenv("FCM_SERVER_KEY", "test-key")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "escola_", cfg.Store.SchoolDBPrefix)
	assert.Equal(t, 45*time.Second, cfg.WhatsApp.KeepAliveInterval)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, "test-key", cfg.Push.ServerKey)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PORT", "not-a-number")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}
