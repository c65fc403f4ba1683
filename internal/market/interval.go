package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval 描述 K 线周期；不同周期的缓存彼此完全独立。
type Interval struct {
	Key      string
	Duration time.Duration
}

var supportedIntervals = map[string]Interval{
	"1m":  {Key: "1m", Duration: time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour},
	// 月线按 30 天网格对齐；提供方按自然月返回，区间判断只依赖毫秒范围
	"1M": {Key: "1M", Duration: 30 * 24 * time.Hour},
}

// 常见别名；注意 "1m"（分钟）与 "1M"（月）大小写敏感，别名统一小写匹配
var intervalAliases = map[string]string{
	"60m":     "1h",
	"hourly":  "1h",
	"daily":   "1d",
	"1wk":     "1w",
	"weekly":  "1w",
	"1mo":     "1M",
	"monthly": "1M",
}

// ParseInterval 返回标准化周期定义。
func ParseInterval(input string) (Interval, error) {
	key := strings.TrimSpace(input)
	if iv, ok := supportedIntervals[key]; ok {
		return iv, nil
	}
	if canon, ok := intervalAliases[strings.ToLower(key)]; ok {
		return supportedIntervals[canon], nil
	}
	return Interval{}, fmt.Errorf("不支持的周期: %s", input)
}

// SupportedIntervals 返回所有支持的 key（排序后）。
func SupportedIntervals() []string {
	keys := make([]string, 0, len(supportedIntervals))
	for k := range supportedIntervals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Millis 返回周期步长（毫秒）。
func (iv Interval) Millis() int64 {
	return iv.Duration.Milliseconds()
}

// IsZero 判断是否为空周期。
func (iv Interval) IsZero() bool { return iv.Key == "" }

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 将毫秒区间对齐到周期网格：start 向下取整，
// end 扩展到所在桶的最后一毫秒，保证尾部整根 K 线落在区间内。
func (iv Interval) AlignRange(start, end int64) (int64, int64) {
	step := iv.Millis()
	if end < start {
		start, end = end, start
	}
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step) + step - 1
	return alStart, alEnd
}

// ExpectedBars 计算 start~end（含）区间最多应有的 K 线数量。
func (iv Interval) ExpectedBars(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := iv.Millis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}
