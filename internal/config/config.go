package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// EightSleepConfig Eight Sleep 厂家 API 配置
type EightSleepConfig struct {
	BaseURL string // Eight Sleep API 地址
	// EncryptionKey 用于加密存储用户凭证和会话 token（hex 编码的 32 字节密钥）
	EncryptionKey string
	// DefaultTimezone 新建同步计划的默认时区
	DefaultTimezone string
	// DefaultSyncTime 新建同步计划的默认时间（"HH:MM" 本地时间）
	DefaultSyncTime string
}

// SchedulerConfig 定时同步配置
type SchedulerConfig struct {
	Enabled bool
}

// Config singularity-sleep（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	EightSleep EightSleepConfig
	Scheduler  SchedulerConfig
}

func Load() *Config {
	// .env 仅用于本地开发；文件不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "singularity")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// Eight Sleep 配置
	cfg.EightSleep.BaseURL = getEnv("EIGHT_SLEEP_BASE_URL", "https://client-api.8slp.net/v1")
	cfg.EightSleep.EncryptionKey = getEnv("EIGHT_SLEEP_ENCRYPTION_KEY", "")
	cfg.EightSleep.DefaultTimezone = getEnv("EIGHT_SLEEP_DEFAULT_TIMEZONE", "America/New_York")
	cfg.EightSleep.DefaultSyncTime = getEnv("EIGHT_SLEEP_DEFAULT_SYNC_TIME", "08:00")

	// 定时同步（默认开启；测试环境可关闭）
	cfg.Scheduler.Enabled = getEnv("SCHEDULER_ENABLED", "true") == "true"

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
