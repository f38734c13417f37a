package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for hydrod.
type Config struct {
	ListenAddr string        `mapstructure:"listen_addr"`
	LogFormat  string        `mapstructure:"log_format"`
	Storage    StorageConfig `mapstructure:"storage"`
	Hubeau     HubeauConfig  `mapstructure:"hubeau"`
}

// StorageConfig defines the database backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HubeauConfig defines how the upstream écoulement API is queried.
type HubeauConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	PageSize  int           `mapstructure:"page_size"`
	StartPage int           `mapstructure:"start_page"`
	PageDelay time.Duration `mapstructure:"page_delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $HYDROD_CONFIG env → ~/.config/hydrod/config.yaml → /etc/hydrod/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "ecoulement.db")
	v.SetDefault("hubeau.base_url", "https://hubeau.eaufrance.fr/api/v1/ecoulement")
	v.SetDefault("hubeau.page_size", 500)
	v.SetDefault("hubeau.start_page", 1)
	v.SetDefault("hubeau.page_delay", 200*time.Millisecond)
	v.SetDefault("hubeau.timeout", 30*time.Second)

	// Env var support: HYDROD_STORAGE_SQLITE_PATH overrides storage.sqlite.path.
	v.SetEnvPrefix("HYDROD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("HYDROD_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		// Try ~/.config/hydrod/config.yaml first
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "hydrod"))
		}
		// Fall back to /etc/hydrod/config.yaml
		v.AddConfigPath("/etc/hydrod")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite' or 'postgres', got %q", c.Storage.Driver)
	}

	if c.Hubeau.BaseURL == "" {
		return fmt.Errorf("hubeau.base_url is required")
	}
	if c.Hubeau.PageSize < 1 || c.Hubeau.PageSize > 500 {
		return fmt.Errorf("hubeau.page_size must be in 1..500, got %d", c.Hubeau.PageSize)
	}
	if c.Hubeau.StartPage < 1 {
		return fmt.Errorf("hubeau.start_page must be >= 1, got %d", c.Hubeau.StartPage)
	}
	if c.Hubeau.PageDelay < 0 {
		return fmt.Errorf("hubeau.page_delay must not be negative")
	}

	// Validate listen_addr.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// DSN returns the appropriate DSN for the configured storage driver.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case "sqlite":
		return c.Storage.SQLite.Path
	case "postgres":
		return c.Storage.Postgres.DSN
	default:
		return ""
	}
}
