package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Automation AutomationConfig `mapstructure:"automation"`
	Transfer   TransferConfig   `mapstructure:"transfer"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int             `mapstructure:"port"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes"`
	CORS         CORSConfig      `mapstructure:"cors"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 接口限流配置（依赖 Redis；requests 为 0 时关闭）
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// LoginRequests 登录接口单独限流，按客户端 IP 计数
	LoginRequests int `mapstructure:"login_requests"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 分钟
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置（执行队列、巡检锁、限流、Token 黑名单）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 认证配置
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AutomationConfig 自动化引擎配置
type AutomationConfig struct {
	QueueKey          string        `mapstructure:"queue_key"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	WebhookTimeout    time.Duration `mapstructure:"webhook_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"` // >0 时 server 内置定时巡检；0 则依赖外部调度器（crmctl）
	SweepLockTTL      time.Duration `mapstructure:"sweep_lock_ttl"`
	MemoryQueueSize   int           `mapstructure:"memory_queue_size"`
	// ClaimTimeout 已领取但超过该时长仍未写入终态的执行视为中断，巡检时重新投递；0 关闭
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
}

// TransferConfig 卡片转移审批配置
type TransferConfig struct {
	RequireApproval    bool          `mapstructure:"require_approval"`
	ApprovalWindow     time.Duration `mapstructure:"approval_window"`
	ForbidSelfApproval bool          `mapstructure:"forbid_self_approval"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HSG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit.requests", 300)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.rate_limit.login_requests", 10)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "hsgrowth")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "12h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("automation.queue_key", "automation:executions")
	v.SetDefault("automation.worker_concurrency", 4)
	v.SetDefault("automation.webhook_timeout", "10s")
	v.SetDefault("automation.sweep_interval", "0s")
	v.SetDefault("automation.sweep_lock_ttl", "2m")
	v.SetDefault("automation.memory_queue_size", 256)
	v.SetDefault("automation.claim_timeout", "15m")

	v.SetDefault("transfer.require_approval", true)
	v.SetDefault("transfer.approval_window", "72h")
	v.SetDefault("transfer.forbid_self_approval", true)
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if c.Automation.WorkerConcurrency <= 0 {
		return fmt.Errorf("配置校验失败: automation.worker_concurrency 必须大于 0")
	}
	if c.Automation.WebhookTimeout <= 0 {
		return fmt.Errorf("配置校验失败: automation.webhook_timeout 必须大于 0")
	}
	if c.Automation.ClaimTimeout < 0 ||
		(c.Automation.ClaimTimeout > 0 && c.Automation.ClaimTimeout <= c.Automation.WebhookTimeout) {
		return fmt.Errorf("配置校验失败: automation.claim_timeout 必须为 0 或大于 webhook_timeout")
	}
	if c.Transfer.ApprovalWindow <= 0 {
		return fmt.Errorf("配置校验失败: transfer.approval_window 必须大于 0")
	}
	return nil
}
