package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	App            AppConfig            `mapstructure:"app"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Filtering      FilteringConfig      `mapstructure:"filtering"`
	Coordinator    CoordinatorConfig    `mapstructure:"coordinator"`
	Flush          FlushConfig          `mapstructure:"flush"`
	Store          StoreConfig          `mapstructure:"store"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AppConfig identifies the application whose events the agent handles
// when a request does not carry its own identity.
type AppConfig struct {
	AppID       string `mapstructure:"app_id"`
	ClientToken string `mapstructure:"client_token"`
	// DeviceContext is merged into the data audience rules are evaluated on.
	DeviceContext map[string]string `mapstructure:"device_context"`
}

type LoggingConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   LoggingFileConfig `mapstructure:"file"`
}

type LoggingFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type CacheConfig struct {
	Freshness time.Duration     `mapstructure:"freshness"`
	Loader    LoaderConfig      `mapstructure:"loader"`
	AppEvents CacheSourceConfig `mapstructure:"app_events"`
	Rules     CacheSourceConfig `mapstructure:"rules"`
}

type LoaderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AccessToken string        `mapstructure:"access_token"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

type CacheSourceConfig struct {
	Fields []string `mapstructure:"fields"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type FilteringConfig struct {
	ProtectedMode bool           `mapstructure:"protected_mode"`
	Fallback      FallbackConfig `mapstructure:"fallback"`
}

type FallbackConfig struct {
	OnError string `mapstructure:"on_error"` // "allow" or "deny"
}

type CoordinatorConfig struct {
	IncludeImplicit        bool `mapstructure:"include_implicit"`
	RequireEventCollection bool `mapstructure:"require_event_collection"`
}

type FlushConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	EventThreshold int           `mapstructure:"event_threshold"`
}

type StoreConfig struct {
	Backend                  string         `mapstructure:"backend"`
	KeyPrefix                string         `mapstructure:"key_prefix"`
	CompressionThresholdByte int            `mapstructure:"compression_threshold_bytes"`
	CircuitBreaker           bool           `mapstructure:"circuit_breaker"`
	File                     FileConfig     `mapstructure:"file"`
	Redis                    RedisConfig    `mapstructure:"redis"`
	Postgres                 PostgresConfig `mapstructure:"postgres"`
	MongoDB                  MongoDBConfig  `mapstructure:"mongodb"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type PostgresConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"dbname"`
	SSLMode       string `mapstructure:"sslmode"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"` // "kafka" or "none"
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	BatchTopic        string      `mapstructure:"batch_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
