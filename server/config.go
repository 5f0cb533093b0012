package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	DefaultPort       = 3001
	DefaultLogLevel   = "info"
	DefaultLogFile    = "relay.log"
	DefaultReadLimit  = 64 << 10 // 64KB
	DefaultSendBuffer = 64
	DefaultPongWait   = 60 * time.Second
	DefaultPingPeriod = 54 * time.Second
	DefaultWriteWait  = 5 * time.Second
	DefaultInboxSize  = 256
	DefaultRatePerSec = 60
	DefaultRateBurst  = 120
)

// Config 服务配置：默认值 → YAML 文件 → PORT 环境变量 → 命令行参数
type Config struct {
	Port      int             `yaml:"port"`
	Log       LogConfig       `yaml:"log"`
	WS        WSConfig        `yaml:"ws"`
	Lobby     LobbyConfig     `yaml:"lobby"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Defaults  PlayerDefaults  `yaml:"defaults"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // 为空则只输出到 stdout
}

type WSConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"` // 含 "*" 表示不限制来源
	ReadLimit      int64         `yaml:"read_limit"`
	SendBuffer     int           `yaml:"send_buffer"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingPeriod     time.Duration `yaml:"ping_period"`
	WriteWait      time.Duration `yaml:"write_wait"`
}

type LobbyConfig struct {
	InboxSize int `yaml:"inbox_size"`
}

// RateLimitConfig 每个连接的入站令牌桶
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DefaultConfig 未提供任何配置时的取值
func DefaultConfig() Config {
	return Config{
		Port: DefaultPort,
		Log: LogConfig{
			Level: DefaultLogLevel,
			File:  DefaultLogFile,
		},
		WS: WSConfig{
			AllowedOrigins: []string{"*"},
			ReadLimit:      DefaultReadLimit,
			SendBuffer:     DefaultSendBuffer,
			PongWait:       DefaultPongWait,
			PingPeriod:     DefaultPingPeriod,
			WriteWait:      DefaultWriteWait,
		},
		Lobby: LobbyConfig{InboxSize: DefaultInboxSize},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerSecond: DefaultRatePerSec,
			Burst:     DefaultRateBurst,
		},
		Defaults: DefaultPlayerDefaults(),
	}
}

// LoadConfig path 为空时跳过文件；随后应用 PORT 环境变量并校验
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	v := strings.TrimSpace(os.Getenv("PORT"))
	if v == "" {
		return nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid PORT %q: %w", v, err)
	}
	c.Port = port
	return nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if c.WS.ReadLimit <= 0 {
		errs = append(errs, errors.New("ws.read_limit must be positive"))
	}
	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	if c.WS.WriteWait <= 0 {
		errs = append(errs, errors.New("ws.write_wait must be positive"))
	}
	if c.WS.PingPeriod <= 0 || c.WS.PingPeriod >= c.WS.PongWait {
		errs = append(errs, errors.New("ws.ping_period must be positive and shorter than ws.pong_wait"))
	}
	if c.Lobby.InboxSize <= 0 {
		errs = append(errs, errors.New("lobby.inbox_size must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.per_second and rate_limit.burst must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr 监听地址
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
