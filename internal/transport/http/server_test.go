package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"quotecache/internal/cache"
	"quotecache/internal/market"
	"quotecache/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// stubSource 返回请求区间内的日线网格数据，未知 ticker 报不存在。
type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Fetch(ctx context.Context, req source.FetchRequest) ([]market.Candle, error) {
	if req.Ticker == "BADTICKER" {
		return nil, fmt.Errorf("%w: %s", source.ErrSymbolNotFound, req.Ticker)
	}
	step := req.Interval.Millis()
	first := req.Start
	if rem := first % step; rem != 0 {
		first += step - rem
	}
	var out []market.Candle
	for ts := first; ts <= req.End; ts += step {
		out = append(out, market.Candle{
			OpenTime: ts, CloseTime: ts + step - 1,
			Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100,
		})
	}
	if len(out) == 0 {
		return nil, source.ErrNoData
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mgr, err := cache.NewManager(cache.ManagerConfig{Store: store, Source: stubSource{}})
	require.NoError(t, err)
	srv, err := NewServer(ServerConfig{Manager: mgr})
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCandlesHappyPath(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet,
		"/api/data/candles?ticker=AAPL&interval=1d&start=2024-01-01&end=2024-01-31", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.Bytes()
	assert.Equal(t, int64(31), gjson.GetBytes(body, "count").Int())
	assert.Equal(t, "AAPL", gjson.GetBytes(body, "ticker").String())
	first := gjson.GetBytes(body, "candles.0.open_time").Int()
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), first)
}

func TestCandlesBadTimeFormat(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet,
		"/api/data/candles?ticker=AAPL&interval=1d&start=notadate&end=2024-01-31", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCandlesBadInterval(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet,
		"/api/data/candles?ticker=AAPL&interval=7d&start=2024-01-01&end=2024-01-31", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCandlesSymbolNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet,
		"/api/data/candles?ticker=BADTICKER&interval=1d&start=2024-01-01&end=2024-01-31", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkEndpoint(t *testing.T) {
	srv := newTestServer(t)
	payload := []byte(`{
		"tickers": ["AAPL", "BADTICKER"],
		"interval": "1d",
		"start": "2024-01-01",
		"end": "2024-01-31"
	}`)
	w := doRequest(t, srv, http.MethodPost, "/api/data/bulk", payload)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.Bytes()
	assert.Equal(t, int64(31), gjson.GetBytes(body, "results.AAPL.count").Int())
	assert.False(t, gjson.GetBytes(body, "results.AAPL.error").Exists())
	assert.True(t, gjson.GetBytes(body, "results.BADTICKER.error").Exists())
}

func TestBulkMissingFields(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/data/bulk", []byte(`{"tickers": ["AAPL"]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodGet,
		"/api/data/candles?ticker=AAPL&interval=1d&start=2024-01-01&end=2024-01-31", nil)

	w := doRequest(t, srv, http.MethodGet, "/api/data/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.Bytes()
	assert.Equal(t, int64(31), gjson.GetBytes(body, "total_rows").Int())
	assert.Equal(t, "AAPL", gjson.GetBytes(body, "keys.0.ticker").String())
}

func TestIntervalsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/data/intervals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(9), int64(len(gjson.GetBytes(w.Body.Bytes(), "intervals").Array())))
}

func TestClearEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodGet,
		"/api/data/candles?ticker=AAPL&interval=1d&start=2024-01-01&end=2024-01-31", nil)

	w := doRequest(t, srv, http.MethodDelete, "/api/data/cache?ticker=AAPL", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/data/stats", nil)
	assert.Equal(t, int64(0), gjson.GetBytes(w.Body.Bytes(), "total_rows").Int())
}

func TestJournalDisabled(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/data/journal", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", cache.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: x", source.ErrUnsupportedInterval), http.StatusBadRequest},
		{fmt.Errorf("%w: x", cache.ErrNoData), http.StatusNotFound},
		{fmt.Errorf("%w: x", source.ErrNoData), http.StatusNotFound},
		{fmt.Errorf("%w: x", source.ErrSymbolNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", source.ErrUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: x", source.ErrBadPayload), http.StatusBadGateway},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
