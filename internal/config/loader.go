package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"appevents/internal/constants"
)

// LoadConfig reads configFile (optional) on top of the defaults, applies
// environment overrides and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("app.app_id", "")
	v.SetDefault("app.client_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("cache.freshness", time.Hour)
	v.SetDefault("cache.loader.base_url", "https://graph.facebook.com/v17.0")
	v.SetDefault("cache.loader.timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("cache.loader.access_token", "")
	v.SetDefault("cache.loader.retry.max_attempts", 3)
	v.SetDefault("cache.loader.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("cache.loader.retry.max_interval", 5*time.Second)
	v.SetDefault("cache.loader.retry.multiplier", 2.0)
	v.SetDefault("cache.loader.retry.max_elapsed_time", 30*time.Second)
	v.SetDefault("cache.app_events.fields", []string{"app_events_config"})
	v.SetDefault("cache.rules.fields", []string{"protected_mode_rules", "restrictive_data_filter_params"})

	v.SetDefault("filtering.protected_mode", false)
	v.SetDefault("filtering.fallback.on_error", constants.FallbackAllow)

	v.SetDefault("coordinator.include_implicit", true)
	v.SetDefault("coordinator.require_event_collection", false)

	v.SetDefault("flush.interval", 15*time.Second)
	v.SetDefault("flush.event_threshold", 100)

	v.SetDefault("store.backend", constants.StoreBackendMemory)
	v.SetDefault("store.key_prefix", "appevents:")
	v.SetDefault("store.compression_threshold_bytes", 4096)
	v.SetDefault("store.circuit_breaker", false)
	v.SetDefault("store.file.dir", "./data")
	v.SetDefault("store.redis.host", "")
	v.SetDefault("store.redis.port", 6379)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.ttl_seconds", 0)
	v.SetDefault("store.postgres.host", "")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.run_migrations", true)
	v.SetDefault("store.mongodb.uri", "")
	v.SetDefault("store.mongodb.database", constants.DefaultMongoDBName)
	v.SetDefault("store.mongodb.collection", constants.DefaultMongoCollection)

	v.SetDefault("broker.type", "none")
	v.SetDefault("broker.kafka.group_id", constants.ServiceName)
	v.SetDefault("broker.kafka.batch_topic", constants.DefaultBatchTopic)
	v.SetDefault("broker.kafka.config_update_topic", constants.DefaultConfigUpdateTopic)
	v.SetDefault("broker.kafka.dlq_topic", "")
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", time.Second)
	v.SetDefault("broker.kafka.retry.max_interval", 30*time.Second)
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)
	v.SetDefault("broker.kafka.retry.max_elapsed_time", 5*time.Minute)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 3)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 100.0)
	v.SetDefault("rate_limit.burst", 200)
	v.SetDefault("rate_limit.cleanup_interval", time.Minute)
	v.SetDefault("rate_limit.max_age", 10*time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	v.SetDefault("tracing.otlp.insecure", true)
	v.SetDefault("tracing.sampler.type", "always_on")
	v.SetDefault("tracing.sampler.param", 1.0)
}

func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("app.app_id", "APPEVENTS_APP_ID")
	_ = v.BindEnv("app.client_token", "APPEVENTS_CLIENT_TOKEN")
	_ = v.BindEnv("cache.loader.access_token", "APPEVENTS_ACCESS_TOKEN")

	_ = v.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	_ = v.BindEnv("store.redis.password", "STORE_REDIS_PASSWORD")
	_ = v.BindEnv("store.postgres.password", "STORE_POSTGRES_PASSWORD")
	_ = v.BindEnv("store.mongodb.uri", "STORE_MONGODB_URI")

	_ = v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	// A comma separated env value arrives as one element.
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
