package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/observability"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// Sink names
const (
	SinkText     = "text"
	SinkJSON     = "json"
	SinkCallback = "callback"
	SinkSQL      = "sql"
	SinkMulti    = "multi"
)

// Repository drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Audit         AuditConfig         `yaml:"audit"`
	Retention     RetentionConfig     `yaml:"retention"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Repository    RepositoryConfig    `yaml:"repository"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AuditConfig selects the sink and drives file rotation
type AuditConfig struct {
	// Verbosity is the audit threshold; 0 disables recording
	Verbosity int    `yaml:"verbosity"`
	Sink      string `yaml:"sink"`

	// MultiSinks lists the sinks fanned out to when Sink is "multi"
	MultiSinks []string `yaml:"multi_sinks"`

	// SQL sink connection
	SQLDriver string `yaml:"sql_driver"`
	SQLDSN    string `yaml:"sql_dsn"`

	Rotate             bool   `yaml:"rotate"`
	RotationPeriodDays int    `yaml:"rotation_period_days"`
	Directory          string `yaml:"directory"`
	Prefix             string `yaml:"prefix"`
	// Extension defaults to "json" for the json sink and "log" otherwise
	Extension string `yaml:"extension"`
}

// RetentionConfig controls pruning of rotated files
type RetentionConfig struct {
	Days     int    `yaml:"days"`
	Archive  bool   `yaml:"archive"`
	Schedule string `yaml:"schedule"`
}

// ArchiveConfig is the S3 destination for archived files
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	KeyPrefix    string `yaml:"key_prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// RepositoryConfig selects the entity store
type RepositoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// MetricsFile receives a Prometheus text dump when a command exits
	MetricsFile string `yaml:"metrics_file"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
	OTelInsecure bool   `yaml:"otel_insecure"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	rotation := audit.DefaultRotationConfig()
	return &Config{
		Audit: AuditConfig{
			Verbosity:          int(audit.LevelInfo),
			Sink:               SinkText,
			SQLDriver:          DriverSQLite,
			Rotate:             rotation.Rotate,
			RotationPeriodDays: 1,
			Directory:          "./logs",
			Prefix:             rotation.Prefix,
		},
		Retention: RetentionConfig{
			Days:     audit.DefaultRetentionPolicy().RetentionDays,
			Schedule: "0 3 * * *",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		Repository: RepositoryConfig{
			Driver: DriverMemory,
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			OTelEndpoint: "localhost:4317",
			OTelInsecure: true,
			ServiceName:  "ledger",
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path when path is not empty, then LEDGER_* environment variables
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w: %w", sentinel.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w: %w", sentinel.ErrConfiguration, err)
		}
	}

	loadAuditEnv(&cfg.Audit)
	loadRetentionEnv(&cfg.Retention)
	loadArchiveEnv(&cfg.Archive)
	loadRepositoryEnv(&cfg.Repository)
	loadObservabilityEnv(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadAuditEnv(cfg *AuditConfig) {
	cfg.Verbosity = getEnvInt("LEDGER_AUDIT_VERBOSITY", cfg.Verbosity)
	cfg.Sink = getEnv("LEDGER_AUDIT_SINK", cfg.Sink)
	if sinks := getEnv("LEDGER_AUDIT_MULTI_SINKS", ""); sinks != "" {
		cfg.MultiSinks = splitList(sinks)
	}
	cfg.SQLDriver = getEnv("LEDGER_AUDIT_SQL_DRIVER", cfg.SQLDriver)
	cfg.SQLDSN = getEnv("LEDGER_AUDIT_SQL_DSN", cfg.SQLDSN)
	cfg.Rotate = getEnvBool("LEDGER_AUDIT_ROTATE", cfg.Rotate)
	cfg.RotationPeriodDays = getEnvInt("LEDGER_AUDIT_ROTATION_PERIOD_DAYS", cfg.RotationPeriodDays)
	cfg.Directory = getEnv("LEDGER_AUDIT_DIR", cfg.Directory)
	cfg.Prefix = getEnv("LEDGER_AUDIT_PREFIX", cfg.Prefix)
	cfg.Extension = getEnv("LEDGER_AUDIT_EXTENSION", cfg.Extension)
}

func loadRetentionEnv(cfg *RetentionConfig) {
	cfg.Days = getEnvInt("LEDGER_RETENTION_DAYS", cfg.Days)
	cfg.Archive = getEnvBool("LEDGER_RETENTION_ARCHIVE", cfg.Archive)
	cfg.Schedule = getEnv("LEDGER_RETENTION_SCHEDULE", cfg.Schedule)
}

func loadArchiveEnv(cfg *ArchiveConfig) {
	cfg.Bucket = getEnv("LEDGER_S3_BUCKET", cfg.Bucket)
	cfg.Region = getEnv("LEDGER_S3_REGION", cfg.Region)
	cfg.Endpoint = getEnv("LEDGER_S3_ENDPOINT", cfg.Endpoint)
	cfg.KeyPrefix = getEnv("LEDGER_S3_PREFIX", cfg.KeyPrefix)
	cfg.AccessKey = getEnv("LEDGER_S3_ACCESS_KEY", cfg.AccessKey)
	cfg.SecretKey = getEnv("LEDGER_S3_SECRET_KEY", cfg.SecretKey)
	cfg.UsePathStyle = getEnvBool("LEDGER_S3_USE_PATH_STYLE", cfg.UsePathStyle)
}

func loadRepositoryEnv(cfg *RepositoryConfig) {
	cfg.Driver = getEnv("LEDGER_REPOSITORY_DRIVER", cfg.Driver)
	cfg.DSN = getEnv("LEDGER_REPOSITORY_DSN", cfg.DSN)
}

func loadObservabilityEnv(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("LEDGER_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsFile = getEnv("LEDGER_METRICS_FILE", cfg.MetricsFile)
	cfg.OTelEnabled = getEnvBool("LEDGER_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("LEDGER_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelInsecure = getEnvBool("LEDGER_OTEL_INSECURE", cfg.OTelInsecure)
	cfg.ServiceName = getEnv("LEDGER_SERVICE_NAME", cfg.ServiceName)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Audit.Verbosity < 0 || c.Audit.Verbosity > int(audit.LevelCritical) {
		return fmt.Errorf("audit verbosity must be between 0 and %d: %w", int(audit.LevelCritical), sentinel.ErrConfiguration)
	}

	if err := validateSink(c.Audit.Sink, true); err != nil {
		return err
	}
	if c.Audit.Sink == SinkMulti {
		if len(c.Audit.MultiSinks) == 0 {
			return fmt.Errorf("multi sink requires at least one member sink: %w", sentinel.ErrConfiguration)
		}
		for _, name := range c.Audit.MultiSinks {
			if err := validateSink(name, false); err != nil {
				return err
			}
		}
		if err := c.Audit.validateMultiMembers(); err != nil {
			return err
		}
	}
	if c.usesSink(SinkSQL) {
		if c.Audit.SQLDriver != DriverSQLite && c.Audit.SQLDriver != DriverPostgres {
			return fmt.Errorf("invalid sql sink driver: %s (must be sqlite or postgres): %w", c.Audit.SQLDriver, sentinel.ErrConfiguration)
		}
		if c.Audit.SQLDSN == "" {
			return fmt.Errorf("sql sink requires a DSN: %w", sentinel.ErrConfiguration)
		}
	}

	if c.Audit.Directory == "" {
		return fmt.Errorf("audit log directory is required: %w", sentinel.ErrConfiguration)
	}
	if c.Audit.Prefix == "" {
		return fmt.Errorf("audit log prefix is required: %w", sentinel.ErrConfiguration)
	}
	if c.Audit.Rotate && c.Audit.RotationPeriodDays < 1 {
		return fmt.Errorf("rotation period must be at least one day: %w", sentinel.ErrConfiguration)
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days cannot be negative: %w", sentinel.ErrConfiguration)
	}
	if c.Retention.Archive && c.Archive.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when archiving is enabled: %w", sentinel.ErrConfiguration)
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OpenTelemetry is enabled: %w", sentinel.ErrConfiguration)
	}

	switch c.Repository.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverRedis:
		if c.Repository.DSN == "" {
			return fmt.Errorf("%s repository requires a DSN: %w", c.Repository.Driver, sentinel.ErrConfiguration)
		}
	default:
		return fmt.Errorf("invalid repository driver: %s (must be memory, sqlite, postgres, or redis): %w", c.Repository.Driver, sentinel.ErrConfiguration)
	}

	return nil
}

func validateSink(name string, allowMulti bool) error {
	switch name {
	case SinkText, SinkJSON, SinkCallback, SinkSQL:
		return nil
	case SinkMulti:
		if allowMulti {
			return nil
		}
		return fmt.Errorf("multi sink cannot contain another multi sink: %w", sentinel.ErrConfiguration)
	default:
		return fmt.Errorf("invalid audit sink: %s (must be text, json, callback, sql, or multi): %w", name, sentinel.ErrConfiguration)
	}
}

func (c *Config) usesSink(name string) bool {
	if c.Audit.Sink == name {
		return true
	}
	if c.Audit.Sink != SinkMulti {
		return false
	}
	for _, member := range c.Audit.MultiSinks {
		if member == name {
			return true
		}
	}
	return false
}

// FileExtension returns the extension of files written by sink
// validateMultiMembers rejects repeated members and file sinks that would
// write the same files, since each file sink locks its files on its own
func (c AuditConfig) validateMultiMembers() error {
	seen := make(map[string]bool, len(c.MultiSinks))
	files := make(map[string]string, len(c.MultiSinks))
	for _, name := range c.MultiSinks {
		if seen[name] {
			return fmt.Errorf("multi sink lists %s more than once: %w", name, sentinel.ErrConfiguration)
		}
		seen[name] = true

		if name != SinkText && name != SinkJSON {
			continue
		}
		key := filepath.Join(filepath.Clean(c.Directory), c.Prefix) + "*." + strings.TrimPrefix(c.FileExtension(name), ".")
		if other, ok := files[key]; ok {
			return fmt.Errorf("multi sink members %s and %s share log files %s (set distinct extensions): %w", other, name, key, sentinel.ErrConfiguration)
		}
		files[key] = name
	}
	return nil
}

// FileExtension returns the extension of the files written by sink
func (c AuditConfig) FileExtension(sink string) string {
	if c.Extension != "" {
		return c.Extension
	}
	if sink == SinkJSON {
		return "json"
	}
	return "log"
}

// Threshold returns the audit threshold as a level
func (c AuditConfig) Threshold() audit.Level {
	return audit.Level(c.Verbosity)
}

// RotationConfig builds the rotation settings for files written by sink
func (c AuditConfig) RotationConfig(sink string) audit.RotationConfig {
	return audit.RotationConfig{
		Directory: c.Directory,
		Prefix:    c.Prefix,
		Extension: c.FileExtension(sink),
		Rotate:    c.Rotate,
		Period:    time.Duration(c.RotationPeriodDays) * 24 * time.Hour,
	}
}

// Policy converts the retention settings
func (c RetentionConfig) Policy() audit.RetentionPolicy {
	return audit.RetentionPolicy{RetentionDays: c.Days, ArchiveEnabled: c.Archive}
}

// S3Config converts the archive settings
func (c ArchiveConfig) S3Config() audit.S3Config {
	return audit.S3Config{
		Bucket:       c.Bucket,
		Region:       c.Region,
		Endpoint:     c.Endpoint,
		KeyPrefix:    c.KeyPrefix,
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		UsePathStyle: c.UsePathStyle,
	}
}

// Level parses the configured log level
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// OTel returns the OpenTelemetry exporter settings
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:     c.OTelEnabled,
		Endpoint:    c.OTelEndpoint,
		ServiceName: c.ServiceName,
		Insecure:    c.OTelInsecure,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
