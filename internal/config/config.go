package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	SocketPath string `mapstructure:"socket_path"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`

	StableRooms       bool          `mapstructure:"stable_rooms"`
	MessageRateLimit  int           `mapstructure:"message_rate_limit"`
	MessageRateWindow time.Duration `mapstructure:"message_rate_window"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("socket_path", "/api/socket")
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("stable_rooms", false)
	v.SetDefault("message_rate_limit", 30)
	v.SetDefault("message_rate_window", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists, then applies RELAY_* environment
// overrides on top of defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
		log.Warn().Str("module", "config").Msg("no cookie secret configured, generated an ephemeral one")
	}
	if !strings.HasPrefix(cfg.SocketPath, "/") {
		return nil, errors.Errorf("socket_path must start with '/': %q", cfg.SocketPath)
	}
	if cfg.SendBuffer <= 0 {
		return nil, errors.Errorf("send_buffer must be positive: %d", cfg.SendBuffer)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("socket", cfg.SocketPath).Bool("stable_rooms", cfg.StableRooms).Msg("config ready")
	return &cfg, nil
}
