package source

import (
	"context"
	"errors"

	"quotecache/internal/market"
)

// FetchRequest 描述一次远端 K 线请求（Unix 毫秒闭区间）。
type FetchRequest struct {
	Ticker   string
	Interval market.Interval
	Start    int64
	End      int64
	Limit    int
}

// CandleSource 统一不同行情提供方的拉取行为。
// 实现负责把提供方响应归一化为 market.Candle；字段名差异、
// 时区、多层列标签等提供方怪癖只允许出现在实现内部。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}

var (
	// ErrNoData 提供方正常响应但该 ticker/区间没有数据（与暂时性故障区分）。
	ErrNoData = errors.New("provider has no data for range")
	// ErrSymbolNotFound 提供方明确表示 ticker 不存在；不重试。
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrBadPayload 响应整体结构非法，整批拒收。
	ErrBadPayload = errors.New("malformed provider payload")
	// ErrUnsupportedInterval 提供方不支持该周期。是能力缺口而非"区间无数据"，
	// 调用方不得据此标记覆盖，换一个提供方可能就有数据。
	ErrUnsupportedInterval = errors.New("interval not supported by provider")
	// ErrUnavailable 暂时性故障重试耗尽后仍失败。
	ErrUnavailable = errors.New("upstream unavailable")
)

// permanent 判断错误是否不应重试。
func permanent(err error) bool {
	return errors.Is(err, ErrNoData) ||
		errors.Is(err, ErrSymbolNotFound) ||
		errors.Is(err, ErrBadPayload) ||
		errors.Is(err, ErrUnsupportedInterval)
}
