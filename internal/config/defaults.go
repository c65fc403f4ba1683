package config

import "github.com/spf13/viper"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9980"
	defaultCachePath       = "data/cache.db"
	defaultCacheMaxBatch   = 500
	defaultSourceProvider  = "yahoo"
	defaultSourceTimeout   = 15
	defaultSourceRateLimit = 120
	defaultRetryAttempts   = 3
	defaultRetryBaseMS     = 500
	defaultRetryMaxMS      = 10_000
	defaultBreakerThresh   = 5
	defaultBreakerCooldown = 30
	defaultBulkConcurrent  = 4
	defaultJournalPath     = "data/journal.db"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", defaultAppEnv)
	v.SetDefault("app.log_level", defaultAppLogLevel)
	v.SetDefault("app.http_addr", defaultAppHTTPAddr)
	v.SetDefault("cache.path", defaultCachePath)
	v.SetDefault("cache.max_batch", defaultCacheMaxBatch)
	v.SetDefault("source.provider", defaultSourceProvider)
	v.SetDefault("source.timeout_seconds", defaultSourceTimeout)
	v.SetDefault("source.rate_limit_per_min", defaultSourceRateLimit)
	v.SetDefault("source.retry.max_attempts", defaultRetryAttempts)
	v.SetDefault("source.retry.base_delay_ms", defaultRetryBaseMS)
	v.SetDefault("source.retry.max_delay_ms", defaultRetryMaxMS)
	v.SetDefault("source.breaker.threshold", defaultBreakerThresh)
	v.SetDefault("source.breaker.cooldown_seconds", defaultBreakerCooldown)
	v.SetDefault("bulk.max_concurrent", defaultBulkConcurrent)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", defaultJournalPath)
}
