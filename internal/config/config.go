package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the service.
type Config struct {
	Service struct {
		Name        string `mapstructure:"name"`
		Version     string `mapstructure:"version"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"service"`
	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	GRPC struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Database struct {
		Host              string        `mapstructure:"host"`
		Port              int           `mapstructure:"port"`
		User              string        `mapstructure:"user"`
		Password          string        `mapstructure:"password"`
		Database          string        `mapstructure:"database"`
		SSLMode           string        `mapstructure:"sslmode"`
		MaxConns          int32         `mapstructure:"max_conns"`
		MinConns          int32         `mapstructure:"min_conns"`
		MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
		MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
		HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	} `mapstructure:"database"`
	Storage struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`
	Dispatcher struct {
		QueueSize int           `mapstructure:"queue_size"`
		Workers   int           `mapstructure:"workers"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"dispatcher"`
	Upload struct {
		MaxFileSize  int64    `mapstructure:"max_file_size"`
		AllowedTypes []string `mapstructure:"allowed_types"`
	} `mapstructure:"upload"`
	Workflow struct {
		AuditAssignments bool `mapstructure:"audit_assignments"`
	} `mapstructure:"workflow"`
	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Output  string `mapstructure:"output"`
	} `mapstructure:"tracing"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Load reads configuration from file (when present) and DOCFLOW_* environment
// variables. An explicit path must exist; the default search path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("server and grpc ports must be positive")
	}
	if c.Dispatcher.Workers <= 0 || c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher workers and queue_size must be positive")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.Database, c.Database.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "docflow")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("grpc.port", 9090)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "docflow")
	v.SetDefault("database.password", "docflow")
	v.SetDefault("database.database", "docflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check_period", time.Minute)

	v.SetDefault("storage.driver", StorageDriverPostgres)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "docflow")

	v.SetDefault("dispatcher.queue_size", 256)
	v.SetDefault("dispatcher.workers", 2)
	v.SetDefault("dispatcher.timeout", 5*time.Second)

	v.SetDefault("upload.max_file_size", 5*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"application/pdf", "image/jpeg", "image/png", "image/jpg"})

	v.SetDefault("workflow.audit_assignments", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")

	v.SetDefault("log.level", "info")
}
