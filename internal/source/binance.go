package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"quotecache/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// binanceIntervals 将内部周期映射为 Binance kline interval。
var binanceIntervals = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "1h",
	"4h":  "4h",
	"1d":  "1d",
	"1w":  "1w",
	"1M":  "1M",
}

// BinanceSource 基于 go-binance SDK 拉取现货 K 线。
// SDK 返回字符串数值，统一在 normalize 中转为 float64。
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource(apiKey, secretKey string) *BinanceSource {
	return &BinanceSource{client: binance.NewClient(apiKey, secretKey)}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Ticker == "" || req.Interval.IsZero() {
		return nil, fmt.Errorf("ticker/interval 不能为空")
	}
	iv, ok := binanceIntervals[req.Interval.Key]
	if !ok {
		return nil, fmt.Errorf("%w: binance 没有 %s", ErrUnsupportedInterval, req.Interval.Key)
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(req.Ticker).
		Interval(iv).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case -1121, -1100:
				return nil, fmt.Errorf("%w: %s (%s)", ErrSymbolNotFound, req.Ticker, apiErr.Message)
			case -1120:
				return nil, fmt.Errorf("%w: %s", ErrBadPayload, apiErr.Message)
			}
		}
		return nil, err
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: %s [%d,%d]", ErrNoData, req.Ticker, req.Start, req.End)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
		})
	}
	return out, nil
}

// parsePrice 解析 SDK 的字符串数值；解析失败写成 NaN，交由验证层丢弃。
func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
