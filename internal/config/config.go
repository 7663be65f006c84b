package config

import (
	"os"
	"strconv"
	"time"

	"edufocus-notify/common/database"
	"edufocus-notify/common/redis"
)

// Config 通知服务配置
type Config struct {
	Database database.Config
	Redis    redis.Config

	// 多租户存储配置
	Store struct {
		SchoolDBPrefix string // 学校数据库名前缀，如 "school_" → school_3
	}

	// MQTT（WhatsApp 网桥）配置
	MQTT struct {
		Broker        string
		ClientIDBase  string // 实际 ClientID = ClientIDBase + "-" + schoolID
		Username      string
		Password      string
		QoS           byte
		CommandTopic  string // 命令主题模板，%d 为学校ID
		EventTopic    string // 事件主题模板，%d 为学校ID
	}

	// WhatsApp 会话配置
	WhatsApp struct {
		KeepAliveInterval time.Duration // 保活检测间隔
		ConnectTimeout    time.Duration // 连接/初始化超时
		SendTimeout       time.Duration // 发送超时
		ProbeTimeout      time.Duration // 保活探测超时
		CountryCode       string        // 默认国家区号（巴西 55）
	}

	// 出勤事件流配置
	Stream struct {
		Name     string // Redis Stream 名称
		Group    string // 消费者组
		Batch    int64  // 单次读取条数
		Block    time.Duration
	}

	// 监护人App推送配置（FCM）
	Push struct {
		Enabled   bool
		Endpoint  string
		ServerKey string
		Timeout   time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（带默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "edufocus_system")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Store.SchoolDBPrefix = getEnv("SCHOOL_DB_PREFIX", "school_")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientIDBase = getEnv("MQTT_CLIENT_ID", "edufocus-notify")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.CommandTopic = getEnv("MQTT_COMMAND_TOPIC", "whatsapp/school/%d/cmd")
	cfg.MQTT.EventTopic = getEnv("MQTT_EVENT_TOPIC", "whatsapp/school/%d/event")

	cfg.WhatsApp.KeepAliveInterval = getEnvDuration("WA_KEEPALIVE_INTERVAL", 2*time.Minute)
	cfg.WhatsApp.ConnectTimeout = getEnvDuration("WA_CONNECT_TIMEOUT", 30*time.Second)
	cfg.WhatsApp.SendTimeout = getEnvDuration("WA_SEND_TIMEOUT", 15*time.Second)
	cfg.WhatsApp.ProbeTimeout = getEnvDuration("WA_PROBE_TIMEOUT", 10*time.Second)
	cfg.WhatsApp.CountryCode = getEnv("WA_COUNTRY_CODE", "55")

	cfg.Stream.Name = getEnv("ATTENDANCE_STREAM", "attendance:events")
	cfg.Stream.Group = getEnv("ATTENDANCE_GROUP", "notify-dispatcher")
	cfg.Stream.Batch = int64(getEnvInt("ATTENDANCE_BATCH", 10))
	cfg.Stream.Block = getEnvDuration("ATTENDANCE_BLOCK", 5*time.Second)

	cfg.Push.Enabled = getEnv("FCM_SERVER_KEY", "") != ""
	cfg.Push.Endpoint = getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send")
	cfg.Push.ServerKey = getEnv("FCM_SERVER_KEY", "")
	cfg.Push.Timeout = getEnvDuration("FCM_TIMEOUT", 10*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// getEnv 获取环境变量（带默认值）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整数环境变量（带默认值）
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration 获取时长环境变量（带默认值）
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
