package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Export   ExportConfig   `mapstructure:"export"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds metadata store configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// PortalConfig holds billing portal access configuration. Credentials come
// from the environment, never from the config file.
type PortalConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Email         string        `mapstructure:"email"`
	Password      string        `mapstructure:"password"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	WaitBudget    time.Duration `mapstructure:"wait_budget"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

// BatchConfig holds orchestrator configuration
type BatchConfig struct {
	PropertiesPath         string             `mapstructure:"properties_path"`
	MaxConcurrentDownloads int                `mapstructure:"max_concurrent_downloads"`
	SelectionTargets       map[string]int     `mapstructure:"selection_targets"`
	RoomLimits             map[string]float64 `mapstructure:"room_limits"`
	RetryMaxAttempts       int                `mapstructure:"retry_max_attempts"`
	RetryBaseBackoff       time.Duration      `mapstructure:"retry_base_backoff"`
	RetryMaxBackoff        time.Duration      `mapstructure:"retry_max_backoff"`
}

// RoomLimitsTable converts the string-keyed YAML mapping into the int-keyed
// tier table. Unparseable keys are rejected by Validate.
func (b BatchConfig) RoomLimitsTable() map[int]float64 {
	table := make(map[int]float64, len(b.RoomLimits))
	for key, limit := range b.RoomLimits {
		rooms, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		table[rooms] = limit
	}
	return table
}

// StorageConfig holds invoice file bucket configuration. The bucket is any
// S3-compatible object store.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// ExportConfig holds report export configuration
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/utility_recon.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Portal defaults; waits are deliberately generous, the portal UI backend
	// is slow to settle after date-range changes.
	viper.SetDefault("portal.action_timeout", 30*time.Second)
	viper.SetDefault("portal.wait_budget", 90*time.Second)
	viper.SetDefault("portal.rate_per_second", 2.0)
	viper.SetDefault("portal.rate_burst", 4)

	// Batch defaults
	viper.SetDefault("batch.properties_path", "configs/properties.yaml")
	viper.SetDefault("batch.max_concurrent_downloads", 5)
	viper.SetDefault("batch.selection_targets", map[string]int{
		"electricity": 2,
		"water":       1,
	})
	viper.SetDefault("batch.retry_max_attempts", 3)
	viper.SetDefault("batch.retry_base_backoff", 1*time.Second)
	viper.SetDefault("batch.retry_max_backoff", 8*time.Second)

	// Storage defaults
	viper.SetDefault("storage.prefix", "invoices")
	viper.SetDefault("storage.region", "eu-west-1")
	viper.SetDefault("storage.use_path_style", true)

	// Export defaults
	viper.SetDefault("export.output_dir", "exports")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("portal.email", "PORTAL_EMAIL")
	viper.BindEnv("portal.password", "PORTAL_PASSWORD")
	viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Portal.Email == "" {
		return fmt.Errorf("portal.email is required (set PORTAL_EMAIL)")
	}
	if c.Portal.Password == "" {
		return fmt.Errorf("portal.password is required (set PORTAL_PASSWORD)")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required (set STORAGE_BUCKET)")
	}
	if c.Batch.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("batch.max_concurrent_downloads must be at least 1")
	}
	for service, target := range c.Batch.SelectionTargets {
		if target < 0 {
			return fmt.Errorf("batch.selection_targets[%s] must not be negative", service)
		}
	}
	for key := range c.Batch.RoomLimits {
		if _, err := strconv.Atoi(key); err != nil {
			return fmt.Errorf("batch.room_limits key %q is not a room count", key)
		}
	}
	return nil
}
