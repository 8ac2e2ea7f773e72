package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ethpandaops/buildstatsoor/pkg/fsutil"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultTimezone is the location used for the query window and row labels.
	DefaultTimezone = "Local"

	// DefaultMorningHour is the hour of day that separates two report days.
	DefaultMorningHour = 6

	// DefaultDateLayout is the Go time layout for row date labels.
	DefaultDateLayout = "2006/01/02"

	// DefaultProviderBaseURL is the Bitrise v0.1 API base URL.
	DefaultProviderBaseURL = "https://api.bitrise.io/v0.1"

	// DefaultProviderTimeout bounds a single provider HTTP request.
	DefaultProviderTimeout = 30 * time.Second

	// DefaultProviderConcurrency is the number of apps whose builds are
	// fetched in parallel.
	DefaultProviderConcurrency = 4

	// DefaultProviderRequestsPerSecond throttles provider requests.
	DefaultProviderRequestsPerSecond = 5.0

	// DefaultStoreDriver is the table store used when none is configured.
	DefaultStoreDriver = "file"

	// DefaultStoreFilePath is the default YAML table store path.
	DefaultStoreFilePath = "./buildstatsoor-tables.yaml"

	// DefaultNotifierTimeout bounds the webhook POST.
	DefaultNotifierTimeout = 10 * time.Second

	// DefaultLockKey is the redis key guarding a report run.
	DefaultLockKey = "buildstatsoor:run"

	// DefaultLockTTL is how long a run lock lives without being released.
	DefaultLockTTL = 15 * time.Minute

	// DefaultMetricsJob is the pushgateway job label.
	DefaultMetricsJob = "buildstatsoor"

	// DefaultAPIListen is the read API listen address.
	DefaultAPIListen = ":8080"

	// Default table names.
	DefaultBuildAvgTimeTable = "Build Avg Time"
	DefaultBuildCountTable   = "Build Count"
	DefaultHoldAvgTimeTable  = "Hold Avg Time"

	envPrefix = "BUILDSTATSOOR"
)

// Config is the root configuration for buildstatsoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Notifier NotifierConfig `yaml:"notifier" mapstructure:"notifier"`
	Lock     LockConfig     `yaml:"lock" mapstructure:"lock"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// ProviderConfig configures the CI provider API client.
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Token             string        `yaml:"token" mapstructure:"token"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Concurrency       int           `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// StoreConfig selects and configures the table store backend.
type StoreConfig struct {
	Driver   string              `yaml:"driver" mapstructure:"driver"`
	File     FileStoreConfig     `yaml:"file,omitempty" mapstructure:"file"`
	Database DatabaseStoreConfig `yaml:"database,omitempty" mapstructure:"database"`
	Sheets   SheetsStoreConfig   `yaml:"sheets,omitempty" mapstructure:"sheets"`
}

// FileStoreConfig keeps all tables in a single YAML document.
type FileStoreConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// DatabaseStoreConfig contains database connection settings.
type DatabaseStoreConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// SheetsStoreConfig points at a Google spreadsheet.
type SheetsStoreConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file,omitempty" mapstructure:"credentials_file"`
}

// ReportConfig controls what a run writes.
type ReportConfig struct {
	MorningHour   int          `yaml:"morning_hour" mapstructure:"morning_hour"`
	DateLayout    string       `yaml:"date_layout" mapstructure:"date_layout"`
	LabelTimezone string       `yaml:"label_timezone,omitempty" mapstructure:"label_timezone"`
	Tables        TablesConfig `yaml:"tables" mapstructure:"tables"`
}

// TablesConfig names the three report tables.
type TablesConfig struct {
	BuildAvgTime string `yaml:"build_avg_time" mapstructure:"build_avg_time"`
	BuildCount   string `yaml:"build_count" mapstructure:"build_count"`
	HoldAvgTime  string `yaml:"hold_avg_time" mapstructure:"hold_avg_time"`
}

// NotifierConfig configures the chat webhook. An empty URL disables it.
type NotifierConfig struct {
	WebhookURL string        `yaml:"webhook_url,omitempty" mapstructure:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Prefix     string        `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// LockConfig configures the optional redis run lock.
type LockConfig struct {
	Redis RedisLockConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisLockConfig contains redis connection and lock settings.
type RedisLockConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Address  string        `yaml:"address" mapstructure:"address"`
	Password string        `yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	Key      string        `yaml:"key" mapstructure:"key"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// UploadConfig configures table snapshot uploads.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// MetricsConfig configures run metrics publication.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// Load reads the configuration file at path (optional when empty), applies
// BUILDSTATSOOR_* environment overrides and defaults, and decodes the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// applyDefaults registers every key with viper. Registered keys are the only
// ones AutomaticEnv can override, so optional settings get empty defaults.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.timezone", DefaultTimezone)

	v.SetDefault("provider.base_url", DefaultProviderBaseURL)
	v.SetDefault("provider.token", "")
	v.SetDefault("provider.timeout", DefaultProviderTimeout)
	v.SetDefault("provider.concurrency", DefaultProviderConcurrency)
	v.SetDefault("provider.requests_per_second", DefaultProviderRequestsPerSecond)

	v.SetDefault("store.driver", DefaultStoreDriver)
	v.SetDefault("store.file.path", DefaultStoreFilePath)
	v.SetDefault("store.file.owner", "")
	v.SetDefault("store.database.driver", "sqlite")
	v.SetDefault("store.database.sqlite.path", "./buildstatsoor.db")
	v.SetDefault("store.database.postgres.host", "localhost")
	v.SetDefault("store.database.postgres.port", 5432)
	v.SetDefault("store.database.postgres.user", "")
	v.SetDefault("store.database.postgres.password", "")
	v.SetDefault("store.database.postgres.database", "buildstatsoor")
	v.SetDefault("store.database.postgres.ssl_mode", "disable")
	v.SetDefault("store.sheets.spreadsheet_id", "")
	v.SetDefault("store.sheets.credentials_file", "")

	v.SetDefault("report.morning_hour", DefaultMorningHour)
	v.SetDefault("report.date_layout", DefaultDateLayout)
	v.SetDefault("report.label_timezone", "")
	v.SetDefault("report.tables.build_avg_time", DefaultBuildAvgTimeTable)
	v.SetDefault("report.tables.build_count", DefaultBuildCountTable)
	v.SetDefault("report.tables.hold_avg_time", DefaultHoldAvgTimeTable)

	v.SetDefault("notifier.webhook_url", "")
	v.SetDefault("notifier.timeout", DefaultNotifierTimeout)
	v.SetDefault("notifier.prefix", "")

	v.SetDefault("lock.redis.enabled", false)
	v.SetDefault("lock.redis.address", "localhost:6379")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.key", DefaultLockKey)
	v.SetDefault("lock.redis.ttl", DefaultLockTTL)

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.storage_class", "")
	v.SetDefault("upload.s3.acl", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", DefaultMetricsJob)

	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", 120)
}

// Validate checks the configuration needed by the run command.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.Provider.Token == "" {
		return fmt.Errorf("provider.token is required")
	}

	if _, err := url.ParseRequestURI(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("provider.base_url is invalid: %w", err)
	}

	if c.Provider.Concurrency < 1 {
		return fmt.Errorf("provider.concurrency must be at least 1")
	}

	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("provider.requests_per_second must not be negative")
	}

	if c.Report.MorningHour < 0 || c.Report.MorningHour > 23 {
		return fmt.Errorf("report.morning_hour must be between 0 and 23")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if _, err := c.LabelLocation(); err != nil {
		return err
	}

	tables := map[string]string{
		"build_avg_time": c.Report.Tables.BuildAvgTime,
		"build_count":    c.Report.Tables.BuildCount,
		"hold_avg_time":  c.Report.Tables.HoldAvgTime,
	}
	seen := make(map[string]struct{}, len(tables))

	for key, name := range tables {
		if name == "" {
			return fmt.Errorf("report.tables.%s must not be empty", key)
		}

		if _, exists := seen[name]; exists {
			return fmt.Errorf("report.tables.%s: duplicate table name %q", key, name)
		}

		seen[name] = struct{}{}
	}

	if c.Notifier.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Notifier.WebhookURL); err != nil {
			return fmt.Errorf("notifier.webhook_url is invalid: %w", err)
		}
	}

	if c.Lock.Redis.Enabled {
		if c.Lock.Redis.Address == "" {
			return fmt.Errorf("lock.redis.address is required when the lock is enabled")
		}

		if c.Lock.Redis.TTL <= 0 {
			return fmt.Errorf("lock.redis.ttl must be positive")
		}
	}

	if c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}

// ValidateStore checks the table store section on its own; the read API
// needs nothing else.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.File.Path == "" {
			return fmt.Errorf("store.file.path is required for the file driver")
		}

		if _, err := fsutil.ParseOwner(c.Store.File.Owner); err != nil {
			return fmt.Errorf("store.file.owner: %w", err)
		}
	case "database":
		switch c.Store.Database.Driver {
		case "sqlite":
			if c.Store.Database.SQLite.Path == "" {
				return fmt.Errorf("store.database.sqlite.path is required")
			}
		case "postgres":
			if c.Store.Database.Postgres.Host == "" {
				return fmt.Errorf("store.database.postgres.host is required")
			}
		default:
			return fmt.Errorf("unsupported database driver: %q", c.Store.Database.Driver)
		}
	case "sheets":
		if c.Store.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("store.sheets.spreadsheet_id is required for the sheets driver")
		}
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}

	return nil
}

// Location returns the timezone used for the query window.
func (c *Config) Location() (*time.Location, error) {
	return loadLocation("global.timezone", c.Global.Timezone)
}

// LabelLocation returns the timezone used to format row date labels. It
// falls back to the global timezone.
func (c *Config) LabelLocation() (*time.Location, error) {
	if c.Report.LabelTimezone == "" {
		return c.Location()
	}

	return loadLocation("report.label_timezone", c.Report.LabelTimezone)
}

func loadLocation(key, name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: loading timezone %q: %w", key, name, err)
	}

	return loc, nil
}
