package constants

import "time"

const (
	ServiceName = "appevents-agent"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultBatchTopic        = "appevents_batches"
	DefaultConfigUpdateTopic = "appevents_config_updates"
)

const (
	DefaultMongoDBName     = "appevents"
	DefaultMongoCollection = "blobs"
	DefaultPostgresTable   = "appevents_blobs"
)

// Persistence keys. Backends may prefix them.
const (
	BufferStoreKey       = "persisted_buffers"
	AppEventsConfigKey   = "cache:app_events_config"
	ServerRulesConfigKey = "cache:server_rules"
)

const (
	StoreBackendMemory   = "memory"
	StoreBackendFile     = "file"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMongoDB  = "mongodb"
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	CacheNameAppEvents = "app_events_config"
	CacheNameRules     = "server_rules"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
