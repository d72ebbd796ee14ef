package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DaemonConfig holds command bus daemon settings.
type DaemonConfig struct {
	Addr            string        `mapstructure:"addr"`
	WSPath          string        `mapstructure:"ws_path"`
	MaxClients      int           `mapstructure:"max_clients"`
	Heartbeat       bool          `mapstructure:"heartbeat"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ClientTimeout   time.Duration `mapstructure:"client_timeout"`
	UpgradeTimeout  time.Duration `mapstructure:"upgrade_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *DaemonConfig {
	return &DaemonConfig{
		Addr:            ":8765",
		WSPath:          "/ws",
		MaxClients:      1000,
		Heartbeat:       true,
		PingInterval:    30 * time.Second,
		ClientTimeout:   90 * time.Second,
		UpgradeTimeout:  10 * time.Second,
		CommandTimeout:  30 * time.Second,
		GracePeriod:     5 * time.Second,
		SendBuffer:      256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// FromEnv loads daemon configuration from environment variables, falling
// back to defaults for any missing values.
func FromEnv() *DaemonConfig {
	cfg := DefaultConfig()

	if addr := os.Getenv("CMDBUS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if path := os.Getenv("CMDBUS_WS_PATH"); path != "" {
		cfg.WSPath = path
	}
	if maxStr := os.Getenv("CMDBUS_MAX_CLIENTS"); maxStr != "" {
		if max, err := strconv.Atoi(maxStr); err == nil {
			cfg.MaxClients = max
		}
	}
	if hbStr := os.Getenv("CMDBUS_HEARTBEAT"); hbStr != "" {
		if hb, err := strconv.ParseBool(hbStr); err == nil {
			cfg.Heartbeat = hb
		}
	}
	for env, dst := range map[string]*time.Duration{
		"CMDBUS_PING_INTERVAL":   &cfg.PingInterval,
		"CMDBUS_CLIENT_TIMEOUT":  &cfg.ClientTimeout,
		"CMDBUS_UPGRADE_TIMEOUT": &cfg.UpgradeTimeout,
		"CMDBUS_COMMAND_TIMEOUT": &cfg.CommandTimeout,
		"CMDBUS_GRACE_PERIOD":    &cfg.GracePeriod,
	} {
		if s := os.Getenv(env); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}
	return cfg
}

// Load reads configuration from an optional file plus the environment.
// Env var overrides use prefix CMDBUS_.
func Load(path string) (*DaemonConfig, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("ws_path", def.WSPath)
	v.SetDefault("max_clients", def.MaxClients)
	v.SetDefault("heartbeat", def.Heartbeat)
	v.SetDefault("ping_interval", def.PingInterval)
	v.SetDefault("client_timeout", def.ClientTimeout)
	v.SetDefault("upgrade_timeout", def.UpgradeTimeout)
	v.SetDefault("command_timeout", def.CommandTimeout)
	v.SetDefault("grace_period", def.GracePeriod)
	v.SetDefault("send_buffer", def.SendBuffer)
	v.SetDefault("read_buffer_size", def.ReadBufferSize)
	v.SetDefault("write_buffer_size", def.WriteBufferSize)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cmdbus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cmdbus")
	}

	v.SetEnvPrefix("CMDBUS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; a broken one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg DaemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
