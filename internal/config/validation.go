package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.Bulk.validate(); err != nil {
		return err
	}
	if err := c.Journal.validate(); err != nil {
		return err
	}
	return nil
}

func (c *CacheConfig) validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("cache.path cannot be empty")
	}
	if c.MaxBatch < 0 {
		return fmt.Errorf("cache.max_batch must be >= 0")
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "yahoo", "binance":
	default:
		return fmt.Errorf("source.provider must be yahoo or binance, got %q", s.Provider)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("source.timeout_seconds must be >= 0")
	}
	if s.RateLimitPerMin < 0 {
		return fmt.Errorf("source.rate_limit_per_min must be >= 0")
	}
	if s.Retry.MaxAttempts < 0 {
		return fmt.Errorf("source.retry.max_attempts must be >= 0")
	}
	if s.Retry.BaseDelayMS < 0 || s.Retry.MaxDelayMS < 0 {
		return fmt.Errorf("source.retry delays must be >= 0")
	}
	if s.Retry.MaxDelayMS > 0 && s.Retry.BaseDelayMS > s.Retry.MaxDelayMS {
		return fmt.Errorf("source.retry.base_delay_ms must be <= max_delay_ms")
	}
	return nil
}

func (b *BulkConfig) validate() error {
	if b.MaxConcurrent < 0 {
		return fmt.Errorf("bulk.max_concurrent must be >= 0")
	}
	return nil
}

func (j *JournalConfig) validate() error {
	if j.Enabled && strings.TrimSpace(j.Path) == "" {
		return fmt.Errorf("journal.path cannot be empty when journal.enabled")
	}
	return nil
}
