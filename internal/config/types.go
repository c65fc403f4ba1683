package config

// Config 是 quotecache 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Cache   CacheConfig   `toml:"cache"`
	Source  SourceConfig  `toml:"source"`
	Bulk    BulkConfig    `toml:"bulk"`
	Journal JournalConfig `toml:"journal"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	WarmlistPath string `toml:"warmlist_path"` // 可选：启动时预热的 ticker 清单
}

type CacheConfig struct {
	Path     string `toml:"path"`
	MaxBatch int    `toml:"max_batch"`
}

type SourceConfig struct {
	Provider        string        `toml:"provider"` // "yahoo" | "binance"
	TimeoutSeconds  int           `toml:"timeout_seconds"`
	RateLimitPerMin int           `toml:"rate_limit_per_min"`
	Yahoo           YahooConfig   `toml:"yahoo"`
	Binance         BinanceConfig `toml:"binance"`
	Retry           RetryConfig   `toml:"retry"`
	Breaker         BreakerConfig `toml:"breaker"`
}

type YahooConfig struct {
	BaseURL string `toml:"base_url"`
}

type BinanceConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// RetryConfig 是显式退避配置；不依赖库内部默认值。
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type BulkConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}
