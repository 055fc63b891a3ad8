// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	History  HistoryConfig  `mapstructure:"history"`
	Server   ServerConfig   `mapstructure:"server"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
}

// ExchangeConfig 交易所 REST 接口信息
type ExchangeConfig struct {
	RESTURL    string        `mapstructure:"rest_url"`
	Timeout    time.Duration `mapstructure:"timeout"`     // 单次调用超时上限
	QuoteAsset string        `mapstructure:"quote_asset"` // 只保留以此结尾的交易对
}

// RefreshConfig 定时刷新
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// latest_issued: 只应用代数最大的周期结果; last_completed: 最后完成者覆盖
	Policy string `mapstructure:"policy"`
}

type HistoryConfig struct {
	Interval string `mapstructure:"interval"`
	Limit    int    `mapstructure:"limit"`
	Timezone string `mapstructure:"timezone"` // 空表示本地时区
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig 可选的 Redis 中间缓存
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Fresh     time.Duration `mapstructure:"fresh"`
	Stale     time.Duration `mapstructure:"stale"`
}

// KafkaConfig 可选的快照推送
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const envPrefix = "MARKET"

// LoadConfig 读取 configPath 下的 config.yaml（可选），再叠加 .env 与 MARKET_* 环境变量
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时直接使用系统环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// exchange.rest_url -> MARKET_EXCHANGE_REST_URL
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("could not bind env var for key %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.rest_url", "https://api.binance.com/api/v3")
	v.SetDefault("exchange.timeout", 25*time.Second)
	v.SetDefault("exchange.quote_asset", "USDT")

	v.SetDefault("refresh.interval", 30*time.Second)
	v.SetDefault("refresh.policy", "latest_issued")

	v.SetDefault("history.interval", "1h")
	v.SetDefault("history.limit", 24)
	v.SetDefault("history.timezone", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.fresh", 30*time.Second)
	v.SetDefault("cache.stale", 60*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_snapshots")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate 基本校验
func (c *Config) Validate() error {
	if c.Exchange.RESTURL == "" {
		return errors.New("exchange.rest_url cannot be empty")
	}
	if c.Exchange.Timeout <= 0 {
		return errors.New("exchange.timeout must be positive")
	}
	if c.Exchange.QuoteAsset == "" {
		return errors.New("exchange.quote_asset cannot be empty")
	}
	if c.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be positive")
	}
	switch c.Refresh.Policy {
	case "latest_issued", "last_completed":
	default:
		return fmt.Errorf("unknown refresh.policy %q", c.Refresh.Policy)
	}
	// 同时决定 Cache-Control 头，即使不启用 Redis 也要求为正
	if c.Cache.Fresh <= 0 {
		return errors.New("cache.fresh must be positive")
	}
	if c.Cache.Stale <= 0 {
		return errors.New("cache.stale must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers cannot be empty")
	}
	return nil
}

// Location 解析 history.timezone
func (c *Config) Location() (*time.Location, error) {
	if c.History.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.History.Timezone)
}
