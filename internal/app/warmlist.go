package app

import (
	"context"
	"os"
	"time"

	"quotecache/internal/logger"

	"gopkg.in/yaml.v3"
)

// WarmEntry 是预热清单的一项：启动时把最近 Days 天拉进缓存，
// 避免首个回测请求冷启动打上游。
type WarmEntry struct {
	Tickers  []string `yaml:"tickers"`
	Interval string   `yaml:"interval"`
	Days     int      `yaml:"days"`
}

func loadWarmlist(path string) ([]WarmEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Warmlist []WarmEntry `yaml:"warmlist"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Warmlist, nil
}

// warmUp 按清单批量下载；失败只告警，不影响服务启动。
func (a *App) warmUp(ctx context.Context, path string) {
	entries, err := loadWarmlist(path)
	if err != nil {
		logger.Warnf("[warmup] 读取清单失败 (%s): %v", path, err)
		return
	}
	for _, e := range entries {
		if len(e.Tickers) == 0 || e.Interval == "" {
			continue
		}
		days := e.Days
		if days <= 0 {
			days = 30
		}
		end := time.Now().UnixMilli()
		start := end - int64(days)*24*time.Hour.Milliseconds()
		results := a.manager.BulkDownload(ctx, e.Tickers, e.Interval, start, end)
		okCount := 0
		for ticker, r := range results {
			if r.Err != nil {
				logger.Warnf("[warmup] %s %s 失败: %v", ticker, e.Interval, r.Err)
				continue
			}
			okCount++
		}
		logger.Infof("[warmup] %s 完成 %d/%d", e.Interval, okCount, len(results))
		if ctx.Err() != nil {
			return
		}
	}
}
