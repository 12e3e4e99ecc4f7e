package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	ws "github.com/thereayou/voxus/internal/websocket"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabaseURL    string   `mapstructure:"database_url"`
	RedisURL       string   `mapstructure:"redis_url"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	RegistryPolicy string        `mapstructure:"registry_policy"`

	MaxChannelCallParticipants int `mapstructure:"max_channel_call_participants"`
	MaxDMCallParticipants      int `mapstructure:"max_dm_call_participants"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	CleanupRetryDelay time.Duration `mapstructure:"cleanup_retry_delay"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var keys = []string{
	"port", "database_url", "redis_url", "jwt_secret", "allowed_origins",
	"token_ttl", "registry_policy",
	"max_channel_call_participants", "max_dm_call_participants",
	"read_limit", "ping_period", "pong_wait", "write_wait", "send_buffer",
	"cleanup_retry_delay", "log_level", "log_format",
}

// Load читает .env.local, затем .env, затем переменные окружения.
// CONFIG_FILE может указывать на yaml-файл с теми же ключами.
func Load() (*Config, error) {
	// отсутствие файлов не ошибка; уже заданные переменные не перезаписываются
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("port", 8080)
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("registry_policy", string(ws.PolicyMultiDevice))
	v.SetDefault("max_channel_call_participants", 25)
	v.SetDefault("max_dm_call_participants", 10)
	v.SetDefault("read_limit", 512*1024)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("cleanup_retry_delay", "250ms")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if _, err := ws.ParsePolicy(c.RegistryPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.MaxChannelCallParticipants <= 0 || c.MaxDMCallParticipants <= 0 {
		errs = append(errs, errors.New("call participant limits must be positive"))
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("PING_PERIOD must be shorter than PONG_WAIT"))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c *Config) Policy() ws.Policy {
	p, _ := ws.ParsePolicy(c.RegistryPolicy)
	return p
}
