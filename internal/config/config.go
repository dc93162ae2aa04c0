package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	MySQL        MySQLConfig        `mapstructure:"mysql"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Rate         RateConfig         `mapstructure:"rate"`
	Business     BusinessConfig     `mapstructure:"business"`
	Verification VerificationConfig `mapstructure:"verification"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// FallbackConfig 本地降级缓存（SQLite 文件）
type FallbackConfig struct {
	Path    string `mapstructure:"path"`
	LogMode bool   `mapstructure:"log_mode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

// RateConfig 金价来源。Source=redis 时从外部行情写入的哈希读取
type RateConfig struct {
	Source        string `mapstructure:"source"`
	RedisKey      string `mapstructure:"redis_key"`
	StaticBuy     string `mapstructure:"static_buy"`
	StaticSell    string `mapstructure:"static_sell"`
	MaxAgeSeconds int    `mapstructure:"max_age_seconds"`
}

type BusinessConfig struct {
	FeeRate               string `mapstructure:"fee_rate"`
	MinSipInstallment     string `mapstructure:"min_sip_installment"`
	SipDuePolicy          string `mapstructure:"sip_due_policy"`
	GiftRequiresRecipient bool   `mapstructure:"gift_requires_recipient"`
	StoreTimeoutMs        int    `mapstructure:"store_timeout_ms"`
	LockTTLSeconds        int    `mapstructure:"lock_ttl_seconds"`
	MaxRetryCount         int    `mapstructure:"max_retry_count"`
	ReconcileIntervalSec  int    `mapstructure:"reconcile_interval_seconds"`
	SipDueIntervalSec     int    `mapstructure:"sip_due_interval_seconds"`
}

type VerificationConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

const (
	SipDueStrict  = "strict"
	SipDueLenient = "lenient"
)

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("fallback.path", "data/fallback.db")
	v.SetDefault("kafka.topic.ledger_events", "gold_ledger_events")
	v.SetDefault("rate.source", "static")
	v.SetDefault("rate.redis_key", "gold:rate")
	v.SetDefault("rate.static_buy", "7250.45")
	v.SetDefault("rate.static_sell", "7010.20")
	v.SetDefault("rate.max_age_seconds", 300)
	v.SetDefault("business.fee_rate", "0.03")
	v.SetDefault("business.min_sip_installment", "100")
	v.SetDefault("business.sip_due_policy", SipDueStrict)
	v.SetDefault("business.gift_requires_recipient", false)
	v.SetDefault("business.store_timeout_ms", 3000)
	v.SetDefault("business.lock_ttl_seconds", 30)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval_seconds", 30)
	v.SetDefault("business.sip_due_interval_seconds", 60)
	v.SetDefault("verification.timeout_ms", 5000)
	v.SetDefault("log.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.namespace", "goldledger")
}

// LoadConfig 加载配置文件，同目录下的 .env 会先注入环境变量。
// 环境变量优先于文件，例如 MYSQL_HOST 覆盖 mysql.host
func LoadConfig(configPath string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("加载 .env 失败: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Business.SipDuePolicy {
	case SipDueStrict, SipDueLenient:
	default:
		return fmt.Errorf("business.sip_due_policy 不合法: %q", c.Business.SipDuePolicy)
	}
	if c.Business.StoreTimeoutMs <= 0 {
		return errors.New("business.store_timeout_ms 必须大于0")
	}
	return nil
}

func (b BusinessConfig) StoreTimeout() time.Duration {
	return time.Duration(b.StoreTimeoutMs) * time.Millisecond
}

func (b BusinessConfig) LockTTL() time.Duration {
	return time.Duration(b.LockTTLSeconds) * time.Second
}

func (r RateConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeSeconds) * time.Second
}

func (v VerificationConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutMs) * time.Millisecond
}
