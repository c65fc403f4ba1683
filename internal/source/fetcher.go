package source

import (
	"context"
	"fmt"
	"time"

	"quotecache/internal/logger"
	"quotecache/internal/market"

	"golang.org/x/time/rate"
)

// RetryPolicy 显式退避配置，取代库默认的隐式重试常量。
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// delay 返回第 attempt 次失败（从 0 计）后的等待时长，指数增长并封顶。
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// FetcherConfig 配置 Fetcher 的限速、熔断、超时与重试行为。
type FetcherConfig struct {
	Retry           RetryPolicy
	Timeout         time.Duration
	RateLimitPerMin int
	Breaker         *Breaker
}

// Fetcher 在 CandleSource 之上叠加限速、熔断、单次超时与指数退避重试。
// 只有暂时性错误（网络、超时、5xx）会被重试；提供方明确的
// "ticker 不存在 / 区间无数据 / 响应结构非法" 立即上抛。
type Fetcher struct {
	src     CandleSource
	policy  RetryPolicy
	timeout time.Duration
	limiter *rate.Limiter
	breaker *Breaker
}

func NewFetcher(src CandleSource, cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMin)/60.0), cfg.RateLimitPerMin)
	}
	return &Fetcher{
		src:     src,
		policy:  cfg.Retry.normalized(),
		timeout: timeout,
		limiter: limiter,
		breaker: cfg.Breaker,
	}
}

func (f *Fetcher) Name() string { return f.src.Name() }

func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if f.breaker != nil && !f.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s 熔断中", ErrUnavailable, f.src.Name())
	}
	var lastErr error
	for attempt := 0; attempt < f.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := f.policy.delay(attempt - 1)
			logger.Debugf("[fetch] %s %s 第 %d 次重试，等待 %s", f.src.Name(), req.Ticker, attempt, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		data, err := f.src.Fetch(attemptCtx, req)
		cancel()
		if err == nil {
			if f.breaker != nil {
				f.breaker.Success()
			}
			return data, nil
		}
		if permanent(err) {
			return nil, err
		}
		if f.breaker != nil {
			f.breaker.Failure()
		}
		lastErr = err
		logger.Warnf("[fetch] %s %s [%d,%d] 失败: %v", f.src.Name(), req.Ticker, req.Start, req.End, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
