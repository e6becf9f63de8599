// Package config holds the configuration of the batch engine and its loaders.
package config

import "time"

// EmbeddedConfig holds the raw YAML configuration, typically embedded in the binary.
type EmbeddedConfig []byte

// ItemRetryConfig holds item-level retry configuration.
type ItemRetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`     // Retries allowed per item. Zero disables retries.
	InitialInterval time.Duration `yaml:"initial_interval"` // Delay before the first retry.
	MaxInterval     time.Duration `yaml:"max_interval"`     // Upper bound of the delay.
	Backoff         string        `yaml:"backoff"`          // "none", "constant", "linear" or "exponential".
	// RetryableExceptions are failure kinds that may be retried.
	RetryableExceptions []string `yaml:"retryable_exceptions"`
	// NoRetryExceptions are never retried.
	NoRetryExceptions []string `yaml:"no_retry_exceptions"`
}

// ItemSkipConfig holds item-level skip configuration.
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`           // Items a step may skip in total.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // Failure kinds that may be skipped.
	NoSkipExceptions    []string `yaml:"no_skip_exceptions"`   // Failure kinds that always fail the step.
}

// BatchConfig holds the defaults of the batch engine.
type BatchConfig struct {
	// ChunkSize is the default number of items per chunk.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkTimeout bounds the processing of one chunk. Zero means no timeout.
	ChunkTimeout time.Duration   `yaml:"chunk_timeout"`
	ItemRetry    ItemRetryConfig `yaml:"item_retry"`
	ItemSkip     ItemSkipConfig  `yaml:"item_skip"`
	// MaxTotalRetries caps the retries of one step run. Zero means no cap.
	MaxTotalRetries int `yaml:"max_total_retries"`
	// MaxConcurrentRuns bounds the runs executing at once in one process.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	// IsolationLevel of chunk transactions, e.g. "READ_COMMITTED". Empty uses the driver default.
	IsolationLevel string `yaml:"isolation_level"`
	// MetricsAsyncBufferSize is the queue length of the asynchronous metric recorder.
	MetricsAsyncBufferSize int `yaml:"metrics_async_buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // DEBUG, INFO, WARN, ERROR or SILENT.
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig selects the infrastructure used by the engine itself.
type InfrastructureConfig struct {
	// JobRepositoryType is "sql" or "inmemory".
	JobRepositoryType string `yaml:"job_repository_type"`
	// JobRepositoryDBRef names the entry of Database used by the SQL JobRepository.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// AutoMigrate creates the metadata tables of the SQL JobRepository on start.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DatabaseConfig holds the settings of one database connection.
type DatabaseConfig struct {
	Type     string     `yaml:"type"` // "sqlite", "postgres" or "mysql".
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"` // Database name, or file path for SQLite.
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Schema   string     `yaml:"schema"`
	Sslmode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
}

// StorageConfig holds the settings of one object storage.
type StorageConfig struct {
	Type            string `yaml:"type"` // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`
	CredentialsFile string `yaml:"credentials_file"`
	BaseDir         string `yaml:"base_dir"`
}

// ExporterConfig configures an OTLP exporter.
type ExporterConfig struct {
	Protocol string `yaml:"protocol"` // "grpc" or "http".
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// PrometheusConfig configures the Prometheus recorder.
type PrometheusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // Serves /metrics when set.
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	ServiceName string           `yaml:"service_name"`
	Tracing     bool             `yaml:"tracing"`
	OTLPMetrics bool             `yaml:"otlp_metrics"`
	Exporter    ExporterConfig   `yaml:"exporter"`
	Prometheus  PrometheusConfig `yaml:"prometheus"`
}

// RedisConfig configures the Redis notifier.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// NotificationConfig configures listener-driven notifications.
type NotificationConfig struct {
	Redis RedisConfig `yaml:"redis"`
	// Steps also notifies every finished step, not only finished jobs.
	Steps bool `yaml:"steps"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys are JobParameters keys whose values are masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// ChunkBatchConfig holds everything under the "chunkbatch" key.
type ChunkBatchConfig struct {
	Batch          BatchConfig               `yaml:"batch"`
	System         SystemConfig              `yaml:"system"`
	Infrastructure InfrastructureConfig      `yaml:"infrastructure"`
	Database       map[string]DatabaseConfig `yaml:"database"`
	Storage        map[string]StorageConfig  `yaml:"storage"`
	Telemetry      TelemetryConfig           `yaml:"telemetry"`
	Notification   NotificationConfig        `yaml:"notification"`
	Security       SecurityConfig            `yaml:"security"`
}

// Config is the root of the configuration.
type Config struct {
	ChunkBatch ChunkBatchConfig `yaml:"chunkbatch"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		ChunkBatch: ChunkBatchConfig{
			Batch: BatchConfig{
				ChunkSize:              10,
				MaxConcurrentRuns:      4,
				MetricsAsyncBufferSize: 100,
				ItemRetry: ItemRetryConfig{
					InitialInterval: 100 * time.Millisecond,
					MaxInterval:     5 * time.Second,
					Backoff:         "exponential",
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  "sql",
				JobRepositoryDBRef: "metadata",
				AutoMigrate:        true,
			},
			Database: map[string]DatabaseConfig{
				"metadata": {Type: "sqlite", Database: "chunkbatch.db"},
			},
			Storage: map[string]StorageConfig{
				"local": {Type: "local", BaseDir: "./output"},
			},
			Telemetry: TelemetryConfig{
				ServiceName: "chunkbatch",
				Exporter:    ExporterConfig{Protocol: "grpc", Endpoint: "localhost:4317", Insecure: true},
			},
			Notification: NotificationConfig{
				Redis: RedisConfig{Addr: "localhost:6379", Channel: "chunkbatch:events"},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
		},
	}
}

// MetadataDatabase returns the database configuration used by the SQL JobRepository.
func (c *Config) MetadataDatabase() (DatabaseConfig, bool) {
	db, ok := c.ChunkBatch.Database[c.ChunkBatch.Infrastructure.JobRepositoryDBRef]
	return db, ok
}
