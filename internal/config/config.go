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

// Database driver names accepted by DatabaseConfig.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // seconds
}

// DatabaseConfig holds database configuration. SQLite is the default; a
// Postgres section can be supplied for deployments that outgrow a single file.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite database file
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// MediaConfig holds managed media directory configuration
type MediaConfig struct {
	Dir           string        `mapstructure:"dir"`            // directory that owns downloaded and uploaded files
	FFprobeBinary string        `mapstructure:"ffprobe_binary"` // ffprobe executable, resolved via PATH when bare
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// BackupConfig holds backup archive configuration
type BackupConfig struct {
	Dir string `mapstructure:"dir"` // directory where backup archives are written and served from
}

// NATSConfig holds NATS configuration for viewer control commands
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Subject        string        `mapstructure:"subject"`
	ConnectionName string        `mapstructure:"connection_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

// ResolverConfig holds remote video resolution configuration
type ResolverConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	MaxVideoSize int64         `mapstructure:"max_video_size"` // bytes, 0 means unlimited
}

// SweeperConfig holds processing reconciler configuration
type SweeperConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	ProcessingDeadline time.Duration `mapstructure:"processing_deadline"` // how long an asset may stay in processing before it is failed
}

// AuthConfig holds API authentication configuration.
// When no JWT public key and no API keys are configured, the API is open.
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"` // PEM-encoded RSA public key
	APIKeys      []string `mapstructure:"api_keys"`
}

// Config is the configuration for the screenlyd daemon
type Config struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Media      MediaConfig    `mapstructure:"media"`
	Backup     BackupConfig   `mapstructure:"backup"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Resolver   ResolverConfig `mapstructure:"resolver"`
	Sweeper    SweeperConfig  `mapstructure:"sweeper"`
	Auth       AuthConfig     `mapstructure:"auth"`
}

// LoadConfig loads the daemon configuration from config file and environment variables
func LoadConfig(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("media.ffprobe_binary", "ffprobe")
	v.SetDefault("media.probe_timeout", 30*time.Second)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "screenly.viewer")
	v.SetDefault("nats.connection_name", "screenlyd")
	v.SetDefault("nats.max_reconnects", -1) // retry forever
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("resolver.workers", 2)
	v.SetDefault("resolver.queue_size", 64)
	v.SetDefault("resolver.job_timeout", 10*time.Minute)
	v.SetDefault("resolver.max_video_size", int64(1024*1024*1024)) // 1GB
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.processing_deadline", 30*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyHomeDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for values the daemon cannot run without
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Media.Dir == "" {
		return fmt.Errorf("media.dir is required")
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}
	if c.Resolver.Workers <= 0 {
		return fmt.Errorf("resolver.workers must be positive")
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.ProcessingDeadline <= 0 {
		return fmt.Errorf("sweeper.interval and sweeper.processing_deadline must be positive")
	}

	return nil
}

// applyHomeDefaults fills path settings that default to directories under the
// invoking user's home, mirroring the layout the player historically used.
func applyHomeDefaults(c *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	if c.Media.Dir == "" {
		c.Media.Dir = filepath.Join(home, "screenly_assets")
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(home, "screenly_backups")
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = filepath.Join(home, ".screenly", "screenly.db")
	}
}

// configureViper creates a viper instance with common configuration
func configureViper(configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Daemon directory
		v.AddConfigPath("cmd/screenlyd/")
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("SCREENLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds environment variables for all config keys.
// This is needed because viper.AutomaticEnv() doesn't work with Unmarshal()
// unless the keys are explicitly bound.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Database
		"database.driver",
		"database.path",
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Media
		"media.dir",
		"media.ffprobe_binary",
		"media.probe_timeout",
		// Backup
		"backup.dir",
		// NATS
		"nats.url",
		"nats.subject",
		"nats.connection_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		// Resolver
		"resolver.workers",
		"resolver.queue_size",
		"resolver.job_timeout",
		"resolver.max_video_size",
		// Sweeper
		"sweeper.interval",
		"sweeper.processing_deadline",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from .env files.
// Files are loaded in order so later files override earlier ones.
func loadEnv(envPath string) {
	envFiles := []string{".env", ".env.local"}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// DSN returns the database connection string for the configured driver
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverPostgres {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}

	// SQLite: keep readers and the single writer from tripping over each other.
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL"
}
