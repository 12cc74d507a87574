// Package config loads plannerd settings from a config file,
// environment variables and defaults, in that order of precedence.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
)

// Config is the full plannerd configuration tree.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Remote   RemoteConfig   `mapstructure:"remote"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// RemoteConfig points at the remote document store.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	AutoSaveDelay time.Duration `mapstructure:"auto_save_delay"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
	RetryCap      time.Duration `mapstructure:"retry_cap"`
	MaxAttempts   int           `mapstructure:"max_attempts"` // 0 = unbounded
}

// ReminderConfig tunes the reminder scheduler.
type ReminderConfig struct {
	LocalWindow      time.Duration `mapstructure:"local_window"`
	PreScheduleDelay time.Duration `mapstructure:"pre_schedule_delay"`
	FireMissed       bool          `mapstructure:"fire_missed"`
	DefaultLead      time.Duration `mapstructure:"default_lead"`
}

// ServerConfig tunes the local daemon surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty = stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plannerd"
	}
	return filepath.Join(home, ".plannerd")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.token", "")

	v.SetDefault("sync.auto_save_delay", 2*time.Second)
	v.SetDefault("sync.retry_base", time.Minute)
	v.SetDefault("sync.retry_cap", time.Hour)
	v.SetDefault("sync.max_attempts", 0)

	v.SetDefault("reminder.local_window", 30*time.Minute)
	v.SetDefault("reminder.pre_schedule_delay", 2*time.Second)
	v.SetDefault("reminder.fire_missed", false)
	v.SetDefault("reminder.default_lead", 15*time.Minute)

	v.SetDefault("server.listen_addr", "127.0.0.1:8123")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from path when given, otherwise from
// plannerd.yaml in the working directory or data dir if present.
// Environment variables use the PLANNERD_ prefix with underscores, e.g.
// PLANNERD_REMOTE_ENDPOINT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLANNERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "reading config file", err)
		}
	} else {
		v.SetConfigName("plannerd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, apperrors.Wrap(apperrors.ErrInvalid, "reading config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "parsing config", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrValidation, "data_dir must not be empty")
	}
	if c.Sync.AutoSaveDelay < 0 {
		return apperrors.New(apperrors.ErrValidation, "sync.auto_save_delay must not be negative")
	}
	if c.Sync.MaxAttempts < 0 {
		return apperrors.New(apperrors.ErrValidation, "sync.max_attempts must not be negative")
	}
	if c.Reminder.LocalWindow <= 0 {
		return apperrors.New(apperrors.ErrValidation, "reminder.local_window must be positive")
	}
	return nil
}
