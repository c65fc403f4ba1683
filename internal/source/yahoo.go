package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quotecache/internal/market"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// chartEnvelopeSchema 校验 chart API 响应的外层结构；
// 结构对不上说明提供方整体返回异常，整批拒收。
const chartEnvelopeSchema = `{
	"type": "object",
	"required": ["chart"],
	"properties": {
		"chart": {
			"type": "object",
			"properties": {
				"result": {"type": ["array", "null"]},
				"error":  {"type": ["object", "null"]}
			}
		}
	}
}`

var chartSchema = jsonschema.MustCompileString("chart.json", chartEnvelopeSchema)

// yahooIntervals 将内部周期映射为 chart API 的 interval 参数。
var yahooIntervals = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "60m",
	"1d":  "1d",
	"1w":  "1wk",
	"1M":  "1mo",
}

// YahooSource 基于 Yahoo Finance chart API 拉取股票/指数历史 K 线。
// 该接口无需鉴权，时间戳为秒、按 null 表示缺失值，统一在此归一化。
type YahooSource struct {
	baseURL string
	client  *http.Client
	aliases map[string]string
}

func NewYahooSource(base string) *YahooSource {
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	return &YahooSource{
		baseURL: base,
		client:  &http.Client{Timeout: 30 * time.Second},
		aliases: map[string]string{
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
			"SPX500": "^GSPC",
			"NDX":    "^NDX",
			"DJI":    "^DJI",
		},
	}
}

func (y *YahooSource) Name() string { return "yahoo" }

func (y *YahooSource) symbol(ticker string) string {
	if mapped, ok := y.aliases[ticker]; ok {
		return mapped
	}
	return ticker
}

func (y *YahooSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Ticker == "" || req.Interval.IsZero() {
		return nil, fmt.Errorf("ticker/interval 不能为空")
	}
	iv, ok := yahooIntervals[req.Interval.Key]
	if !ok {
		return nil, fmt.Errorf("%w: yahoo 没有 %s", ErrUnsupportedInterval, req.Interval.Key)
	}
	u, err := url.Parse(y.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/v8/finance/chart/" + y.symbol(req.Ticker)
	q := u.Query()
	q.Set("interval", iv)
	q.Set("period1", strconv.FormatInt(req.Start/1000, 10))
	// period2 为开区间上界，多补一个周期覆盖尾根
	q.Set("period2", strconv.FormatInt(req.End/1000+req.Interval.Millis()/1000, 10))
	q.Set("events", "history")
	u.RawQuery = q.Encode()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	httpReq.Header.Set("User-Agent", "quotecache/1.0")
	resp, err := y.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, req.Ticker)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("yahoo 返回状态码 %d", resp.StatusCode)
	}
	return y.normalize(req, body)
}

// normalize 将 chart 响应整形为 Candle 序列。
// 结构先过 schema，再用 gjson 按路径取值；缺失值写成 NaN，交由验证层丢弃。
func (y *YahooSource) normalize(req FetchRequest, body []byte) ([]market.Candle, error) {
	var doc any
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := chartSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if errCode := gjson.GetBytes(body, "chart.error.code"); errCode.Exists() {
		desc := gjson.GetBytes(body, "chart.error.description").String()
		if errCode.String() == "Not Found" {
			return nil, fmt.Errorf("%w: %s (%s)", ErrSymbolNotFound, req.Ticker, desc)
		}
		return nil, fmt.Errorf("yahoo 错误 %s: %s", errCode.String(), desc)
	}
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %s [%d,%d]", ErrNoData, req.Ticker, req.Start, req.End)
	}
	stamps := result.Get("timestamp").Array()
	if len(stamps) == 0 {
		return nil, fmt.Errorf("%w: %s [%d,%d]", ErrNoData, req.Ticker, req.Start, req.End)
	}
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	step := req.Interval.Millis()
	out := make([]market.Candle, 0, len(stamps))
	for i, ts := range stamps {
		openTime := ts.Int() * 1000
		if openTime < req.Start || openTime > req.End {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + step - 1,
			Open:      floatAt(opens, i),
			High:      floatAt(highs, i),
			Low:       floatAt(lows, i),
			Close:     floatAt(closes, i),
			Volume:    floatAt(volumes, i),
		})
	}
	return out, nil
}

// floatAt 读取数组第 i 位；null/缺位返回 NaN。
func floatAt(arr []gjson.Result, i int) float64 {
	if i >= len(arr) {
		return math.NaN()
	}
	r := arr[i]
	if r.Type == gjson.Null || !r.Exists() {
		return math.NaN()
	}
	return r.Float()
}
