package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"quotecache/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dayInterval(t *testing.T) market.Interval {
	t.Helper()
	iv, err := market.ParseInterval("1d")
	require.NoError(t, err)
	return iv
}

func chartBody(stamps []int64, opens, highs, lows, closes, volumes string) string {
	ts := ""
	for i, s := range stamps {
		if i > 0 {
			ts += ","
		}
		ts += fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf(`{
		"chart": {
			"result": [{
				"timestamp": [%s],
				"indicators": {"quote": [{
					"open": %s, "high": %s, "low": %s, "close": %s, "volume": %s
				}]}
			}],
			"error": null
		}
	}`, ts, opens, highs, lows, closes, volumes)
}

func TestYahooFetchNormalizes(t *testing.T) {
	const day = int64(86_400)
	base := int64(1_704_067_200) // 2024-01-01 00:00:00 UTC，秒
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartBody(
			[]int64{base, base + day, base + 2*day},
			"[100.5, 101.0, null]",
			"[110.0, 111.0, 112.0]",
			"[95.0, 96.0, 97.0]",
			"[105.0, 106.0, 107.0]",
			"[1000, 2000, 3000]",
		))
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	req := FetchRequest{
		Ticker:   "AAPL",
		Interval: dayInterval(t),
		Start:    base * 1000,
		End:      (base+3*day)*1000 - 1,
	}
	out, err := y.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	require.Len(t, out, 3)

	assert.Equal(t, base*1000, out[0].OpenTime)
	assert.Equal(t, (base+day)*1000-1, out[0].CloseTime)
	assert.Equal(t, 100.5, out[0].Open)
	assert.Equal(t, float64(1000), out[0].Volume)
	// null 透传为 NaN，由验证层负责丢弃
	assert.True(t, math.IsNaN(out[2].Open))
}

func TestYahooFetchFiltersOutOfRange(t *testing.T) {
	const day = int64(86_400)
	base := int64(1_704_067_200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartBody(
			[]int64{base - day, base, base + day},
			"[1, 2, 3]", "[1, 2, 3]", "[1, 2, 3]", "[1, 2, 3]", "[1, 2, 3]",
		))
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	out, err := y.Fetch(context.Background(), FetchRequest{
		Ticker:   "AAPL",
		Interval: dayInterval(t),
		Start:    base * 1000,
		End:      (base+2*day)*1000 - 1,
	})
	require.NoError(t, err)
	// 提供方多返回的越界行被裁掉
	require.Len(t, out, 2)
	assert.Equal(t, base*1000, out[0].OpenTime)
}

func TestYahooSymbolAlias(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, chartBody([]int64{1_704_067_200}, "[1]", "[1]", "[1]", "[1]", "[1]"))
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	_, err := y.Fetch(context.Background(), FetchRequest{
		Ticker:   "SPX",
		Interval: dayInterval(t),
		Start:    1_704_067_200_000,
		End:      1_704_153_599_999,
	})
	require.NoError(t, err)
	assert.Equal(t, "/v8/finance/chart/^GSPC", gotPath)
}

func TestYahooNotFoundErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	_, err := y.Fetch(context.Background(), FetchRequest{
		Ticker: "NOSUCH", Interval: dayInterval(t), Start: 1, End: 2,
	})
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestYahooHTTP404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	_, err := y.Fetch(context.Background(), FetchRequest{
		Ticker: "NOSUCH", Interval: dayInterval(t), Start: 1, End: 2,
	})
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestYahooMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected": true`)
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	_, err := y.Fetch(context.Background(), FetchRequest{
		Ticker: "AAPL", Interval: dayInterval(t), Start: 1, End: 2,
	})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestYahooSchemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"something_else": []}`)
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	_, err := y.Fetch(context.Background(), FetchRequest{
		Ticker: "AAPL", Interval: dayInterval(t), Start: 1, End: 2,
	})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestYahooEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
	}))
	defer srv.Close()

	y := NewYahooSource(srv.URL)
	_, err := y.Fetch(context.Background(), FetchRequest{
		Ticker: "AAPL", Interval: dayInterval(t), Start: 1, End: 2,
	})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestYahooUnsupportedInterval(t *testing.T) {
	iv, err := market.ParseInterval("4h")
	require.NoError(t, err)

	y := NewYahooSource("http://unreachable.invalid")
	_, err = y.Fetch(context.Background(), FetchRequest{
		Ticker: "AAPL", Interval: iv, Start: 1, End: 2,
	})
	// 能力缺口与"区间无数据"严格区分，后者会被上层标记为已覆盖
	assert.ErrorIs(t, err, ErrUnsupportedInterval)
	assert.NotErrorIs(t, err, ErrNoData)
}
