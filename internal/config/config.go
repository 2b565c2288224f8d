// Package config resolves runtime settings from defaults, the config file and
// HP_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".hiddenprofile"
	envPrefix  = "HP"
)

const (
	KeyDataDir           = "data.dir"
	KeyStoreDriver       = "store.driver"
	KeyStorePath         = "store.path"
	KeyCatalogPath       = "catalog.path"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyServerListen      = "server.listen"
	KeyFeedPollInterval  = "feed.poll_interval"
	KeyFeedRetention     = "feed.change_retention"
	KeyFeedRetryInitial  = "feed.retry.initial"
	KeyFeedRetryMax      = "feed.retry.max"
	KeyFeedRetryAttempts = "feed.retry.attempts"
	KeyRequireApproval   = "task.require_approval"
	KeyConflictRetries   = "coordinator.conflict_retries"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// minRetentionPolls keeps change log entries around long enough for a
// tailer that misses a few polls.
const minRetentionPolls = 20

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	DataDir         string
	StoreDriver     string
	StorePath       string
	CatalogPath     string
	LogLevel        string
	LogFormat       string
	ServerListen    string
	PollInterval    time.Duration
	ChangeRetention time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryAttempts   uint
	RequireApproval bool
	ConflictRetries uint
	// File is the config file that was read, empty when none exists.
	File string
}

// New returns a viper instance with defaults and the environment bound, and
// the config file read when one exists under home.
func New(home string) (*viper.Viper, error) {
	cfg := viper.New()
	dataDir := filepath.Join(home, configDir)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(dataDir)

	cfg.SetDefault(KeyDataDir, dataDir)
	cfg.SetDefault(KeyStoreDriver, DriverSQLite)
	cfg.SetDefault(KeyStorePath, "")
	cfg.SetDefault(KeyCatalogPath, "")
	cfg.SetDefault(KeyLogLevel, "warn")
	cfg.SetDefault(KeyLogFormat, "text")
	cfg.SetDefault(KeyServerListen, "127.0.0.1:8080")
	cfg.SetDefault(KeyFeedPollInterval, "500ms")
	cfg.SetDefault(KeyFeedRetention, "10m")
	cfg.SetDefault(KeyFeedRetryInitial, "100ms")
	cfg.SetDefault(KeyFeedRetryMax, "5s")
	cfg.SetDefault(KeyFeedRetryAttempts, 4)
	cfg.SetDefault(KeyRequireApproval, false)
	cfg.SetDefault(KeyConflictRetries, 8)

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return cfg, nil
}

// Load resolves the configuration for the current user.
func Load() (Config, *viper.Viper, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg, err := New(home)
	if err != nil {
		return Config{}, nil, err
	}

	resolved, err := FromViper(cfg)
	if err != nil {
		return Config{}, nil, err
	}

	return resolved, cfg, nil
}

func FromViper(cfg *viper.Viper) (Config, error) {
	resolved := Config{
		DataDir:         cfg.GetString(KeyDataDir),
		StoreDriver:     strings.ToLower(cfg.GetString(KeyStoreDriver)),
		StorePath:       cfg.GetString(KeyStorePath),
		CatalogPath:     cfg.GetString(KeyCatalogPath),
		LogLevel:        cfg.GetString(KeyLogLevel),
		LogFormat:       cfg.GetString(KeyLogFormat),
		ServerListen:    cfg.GetString(KeyServerListen),
		PollInterval:    cfg.GetDuration(KeyFeedPollInterval),
		ChangeRetention: cfg.GetDuration(KeyFeedRetention),
		RetryInitial:    cfg.GetDuration(KeyFeedRetryInitial),
		RetryMax:        cfg.GetDuration(KeyFeedRetryMax),
		RetryAttempts:   cfg.GetUint(KeyFeedRetryAttempts),
		RequireApproval: cfg.GetBool(KeyRequireApproval),
		ConflictRetries: cfg.GetUint(KeyConflictRetries),
		File:            cfg.ConfigFileUsed(),
	}

	if resolved.StorePath == "" {
		resolved.StorePath = filepath.Join(resolved.DataDir, "hiddenprofile.db")
	}

	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}

	return resolved, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %s must be %q or %q, got %q", ErrInvalidConfig, KeyStoreDriver, DriverSQLite, DriverMemory, c.StoreDriver))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyFeedPollInterval))
	}
	if c.ChangeRetention < minRetentionPolls*c.PollInterval {
		errs = append(errs, fmt.Errorf("%w: %s must be at least %d times %s", ErrInvalidConfig, KeyFeedRetention, minRetentionPolls, KeyFeedPollInterval))
	}
	if c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial {
		errs = append(errs, fmt.Errorf("%w: %s must be positive and not exceed %s", ErrInvalidConfig, KeyFeedRetryInitial, KeyFeedRetryMax))
	}

	return errors.Join(errs...)
}

// SecretsDir holds files that must stay private to the user, such as the
// instructor API token.
func (c Config) SecretsDir() string {
	return filepath.Join(c.DataDir, "secrets")
}
