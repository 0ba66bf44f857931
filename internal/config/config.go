// Package config loads service settings from defaults, an optional config
// file, a .env file and KRAKE_-prefixed environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. KRAKE_HTTP_ADDR.
const EnvPrefix = "KRAKE"

// Config is the full service configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Reader  ReaderConfig  `mapstructure:"reader"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Export  ExportConfig  `mapstructure:"export"`
	Label   LabelConfig   `mapstructure:"label"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       string        `mapstructure:"body_limit"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects and sizes the persistence backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	MySQLDSN        string        `mapstructure:"mysql_dsn"`
	MySQL           MySQLConfig   `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MySQLConfig holds discrete MySQL settings used when no DSN is set.
type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// ReaderConfig tunes the detail reader.
type ReaderConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// BlobConfig selects the artifact store for labels and exports.
type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config configures the S3-compatible blob backend.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// ExportConfig sizes the async export worker.
type ExportConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	Retention   time.Duration `mapstructure:"retention"`
	MaxFinished int           `mapstructure:"max_finished"`
}

// LabelConfig holds label rendering defaults.
type LabelConfig struct {
	DefaultWidthMM  float64 `mapstructure:"default_width_mm"`
	DefaultHeightMM float64 `mapstructure:"default_height_mm"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Blob drivers.
const (
	BlobFS     = "fs"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "127.0.0.1:4000")
	v.SetDefault("http.static_dir", "public")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.body_limit", "10M")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "data/krakefactory.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.mysql_dsn", "")
	v.SetDefault("storage.mysql.host", "127.0.0.1")
	v.SetDefault("storage.mysql.port", 3306)
	v.SetDefault("storage.mysql.user", "")
	v.SetDefault("storage.mysql.password", "")
	v.SetDefault("storage.mysql.database", "krake_factory")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("reader.concurrency", 4)
	v.SetDefault("blob.driver", BlobFS)
	v.SetDefault("blob.fs_root", "data/blobs")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("export.queue_size", 16)
	v.SetDefault("export.retention", 24*time.Hour)
	v.SetDefault("export.max_finished", 256)
	v.SetDefault("label.default_width_mm", 50.0)
	v.SetDefault("label.default_height_mm", 30.0)
}

// legacyEnv keeps the variable names deployments of the original server use.
var legacyEnv = map[string]string{
	"storage.mysql.host":     "DB_HOST",
	"storage.mysql.user":     "DB_USER",
	"storage.mysql.password": "DB_PASS",
	"storage.mysql.database": "DB_NAME",
}

// Options controls where Load looks for input.
type Options struct {
	// ConfigFile is an optional TOML/YAML/JSON file; empty skips it.
	ConfigFile string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored. Defaults to ".env".
	EnvFiles []string
}

// Load builds a validated Config.
func Load(opts Options) (Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case BlobFS, BlobMemory:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required when blob.driver is s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver: unknown driver %q", c.Blob.Driver))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Reader.Concurrency < 1 {
		errs = append(errs, errors.New("reader.concurrency must be at least 1"))
	}
	if c.Export.QueueSize < 1 {
		errs = append(errs, errors.New("export.queue_size must be at least 1"))
	}
	if c.Export.Retention <= 0 || c.Export.MaxFinished < 1 {
		errs = append(errs, errors.New("export.retention and export.max_finished must be positive"))
	}
	if c.Label.DefaultWidthMM <= 0 || c.Label.DefaultHeightMM <= 0 {
		errs = append(errs, errors.New("label dimensions must be positive"))
	}
	return errors.Join(errs...)
}
