package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quotecache/internal/cache"
	qcfg "quotecache/internal/config"
	"quotecache/internal/journal"
	"quotecache/internal/logger"
	"quotecache/internal/source"
	httpapi "quotecache/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：按配置构建存储、上游、编排器与 HTTP 服务。
type App struct {
	cfg     *qcfg.Config
	store   *cache.Store
	journal *journal.Journal
	manager *cache.Manager
	server  *httpapi.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("打开缓存存储失败: %w", err)
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("打开拉取流水失败: %w", err)
		}
	}

	src, err := buildSource(cfg)
	if err != nil {
		_ = store.Close()
		_ = jnl.Close()
		return nil, err
	}

	mgr, err := cache.NewManager(cache.ManagerConfig{
		Store:           store,
		Source:          src,
		Journal:         jnl,
		MaxBatch:        cfg.Cache.MaxBatch,
		BulkConcurrency: cfg.Bulk.MaxConcurrent,
	})
	if err != nil {
		_ = store.Close()
		_ = jnl.Close()
		return nil, err
	}

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Manager: mgr,
		Journal: jnl,
	})
	if err != nil {
		_ = store.Close()
		_ = jnl.Close()
		return nil, err
	}

	return &App{cfg: cfg, store: store, journal: jnl, manager: mgr, server: srv}, nil
}

func buildSource(cfg *qcfg.Config) (source.CandleSource, error) {
	var base source.CandleSource
	switch strings.ToLower(strings.TrimSpace(cfg.Source.Provider)) {
	case "yahoo":
		base = source.NewYahooSource(cfg.Source.Yahoo.BaseURL)
	case "binance":
		base = source.NewBinanceSource(cfg.Source.Binance.APIKey, cfg.Source.Binance.APISecret)
	default:
		return nil, fmt.Errorf("未知数据源: %s", cfg.Source.Provider)
	}
	breaker := source.NewBreaker(base.Name(),
		cfg.Source.Breaker.Threshold,
		time.Duration(cfg.Source.Breaker.CooldownSeconds)*time.Second)
	return source.NewFetcher(base, source.FetcherConfig{
		Retry: source.RetryPolicy{
			MaxAttempts: cfg.Source.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Source.Retry.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Source.Retry.MaxDelayMS) * time.Millisecond,
		},
		Timeout:         time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		RateLimitPerMin: cfg.Source.RateLimitPerMin,
		Breaker:         breaker,
	}), nil
}

// Manager 暴露编排器（测试/内嵌使用）。
func (a *App) Manager() *cache.Manager { return a.manager }

// Run 启动 HTTP 服务与可选的预热任务，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(gctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if path := strings.TrimSpace(a.cfg.App.WarmlistPath); path != "" {
		group.Go(func() error {
			a.warmUp(gctx, path)
			return nil
		})
	}
	err := group.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("[app] 关闭流水失败: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("[app] 关闭存储失败: %v", err)
		}
	}
}
