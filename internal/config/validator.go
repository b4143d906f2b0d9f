package config

import (
	"fmt"
	"net/url"
	"strings"

	"appevents/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateCache(c.Cache) },
		func(c *Config) error { return validateFiltering(c.Filtering) },
		func(c *Config) error { return validateFlush(c.Flush) },
		func(c *Config) error { return validateStore(c.Store) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateLogging(c.Logging) },
	}
	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}

	return nil
}

func validateCache(cfg CacheConfig) error {
	if cfg.Freshness <= 0 {
		return &ValidationError{Field: "cache.freshness", Message: "freshness window must be positive"}
	}

	if cfg.Loader.BaseURL != "" {
		u, err := url.Parse(cfg.Loader.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{
				Field:   "cache.loader.base_url",
				Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.Loader.BaseURL),
			}
		}
	}

	if cfg.Loader.Timeout < 0 {
		return &ValidationError{Field: "cache.loader.timeout", Message: "timeout must be non-negative"}
	}

	return validateRetry("cache.loader.retry", cfg.Loader.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{Field: prefix + ".max_attempts", Message: "max_attempts must be non-negative"}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{Field: prefix + ".initial_interval", Message: "initial_interval must be non-negative"}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{Field: prefix + ".max_interval", Message: "max_interval must be non-negative"}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{Field: prefix + ".multiplier", Message: "multiplier must be non-negative"}
	}

	return nil
}

func validateFiltering(cfg FilteringConfig) error {
	switch strings.ToLower(cfg.Fallback.OnError) {
	case "", constants.FallbackAllow, constants.FallbackDeny:
		return nil
	default:
		return &ValidationError{
			Field:   "filtering.fallback.on_error",
			Message: fmt.Sprintf("invalid value: %s (valid: allow, deny)", cfg.Fallback.OnError),
		}
	}
}

func validateFlush(cfg FlushConfig) error {
	if cfg.Interval <= 0 {
		return &ValidationError{Field: "flush.interval", Message: "flush interval must be positive"}
	}

	if cfg.EventThreshold < 0 {
		return &ValidationError{Field: "flush.event_threshold", Message: "event threshold must be non-negative"}
	}

	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch cfg.Format {
	case "", "json", "console":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format: %s (supported: json, console)", cfg.Format),
		}
	}
	return nil
}

func validateStore(cfg StoreConfig) error {
	if cfg.CompressionThresholdByte < 0 {
		return &ValidationError{
			Field:   "store.compression_threshold_bytes",
			Message: "threshold must be non-negative",
		}
	}

	switch cfg.Backend {
	case constants.StoreBackendMemory:
		return nil
	case constants.StoreBackendFile:
		if cfg.File.Dir == "" {
			return &ValidationError{Field: "store.file.dir", Message: "directory is required"}
		}
		return nil
	case constants.StoreBackendRedis:
		return validateRedis(cfg.Redis)
	case constants.StoreBackendPostgres:
		return validatePostgres(cfg.Postgres)
	case constants.StoreBackendMongoDB:
		return validateMongoDB(cfg.MongoDB)
	default:
		return &ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown store backend: %s (supported: memory, file, redis, postgres, mongodb)", cfg.Backend),
		}
	}
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "", "none":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, none)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.BatchTopic == "" {
		return &ValidationError{Field: "broker.kafka.batch_topic", Message: "batch topic is required"}
	}

	if cfg.ConfigUpdateTopic != "" && cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required when config_update_topic is set",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "store.postgres.host", Message: "PostgreSQL host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "store.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{Field: "store.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "store.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "store.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "store.redis.host", Message: "Redis host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "store.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{Field: "store.redis.ttl_seconds", Message: "TTL must be non-negative"}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{Field: "store.mongodb.uri", Message: "MongoDB URI is required"}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "store.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{Field: "store.mongodb.database", Message: "MongoDB database name is required"}
	}

	return nil
}
