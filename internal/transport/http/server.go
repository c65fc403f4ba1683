package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quotecache/internal/cache"
	"quotecache/internal/journal"
	"quotecache/internal/logger"
	"quotecache/internal/market"
	"quotecache/internal/source"

	"github.com/gin-gonic/gin"
)

// Server 提供 /api/data HTTP 服务，把缓存引擎的错误语义映射为状态码。
type Server struct {
	addr    string
	mgr     *cache.Manager
	journal *journal.Journal
	router  *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr    string
	Manager *cache.Manager
	Journal *journal.Journal // 可为 nil
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("http server requires manager")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{addr: cfg.Addr, mgr: cfg.Manager, journal: cfg.Journal, router: router}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api/data")
	api.GET("/candles", s.handleCandles)
	api.POST("/bulk", s.handleBulk)
	api.GET("/stats", s.handleStats)
	api.GET("/intervals", s.handleIntervals)
	api.GET("/journal", s.handleJournal)
	api.DELETE("/cache", s.handleClear)
}

// Start 启动服务并在 ctx 取消时优雅退出。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] 监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Router 暴露内部路由（测试用）。
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleCandles(c *gin.Context) {
	ticker := c.Query("ticker")
	interval := c.Query("interval")
	start, err1 := parseTime(c.Query("start"), false)
	end, err2 := parseTime(c.Query("end"), true)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start/end 需为 RFC3339、YYYY-MM-DD 或毫秒时间戳"})
		return
	}
	res, err := s.mgr.GetData(c.Request.Context(), ticker, interval, start, end)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticker":   ticker,
		"interval": interval,
		"count":    len(res.Candles),
		"candles":  res.Candles,
		"warnings": res.Warnings,
	})
}

func (s *Server) handleBulk(c *gin.Context) {
	var req struct {
		Tickers  []string `json:"tickers" binding:"required"`
		Interval string   `json:"interval" binding:"required"`
		Start    string   `json:"start" binding:"required"`
		End      string   `json:"end" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err1 := parseTime(req.Start, false)
	end, err2 := parseTime(req.End, true)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start/end 需为 RFC3339、YYYY-MM-DD 或毫秒时间戳"})
		return
	}
	results := s.mgr.BulkDownload(c.Request.Context(), req.Tickers, req.Interval, start, end)
	payload := make(map[string]gin.H, len(results))
	for ticker, r := range results {
		item := gin.H{"count": len(r.Candles), "warnings": r.Warnings}
		if r.Err != nil {
			item["error"] = r.Err.Error()
		}
		payload[ticker] = item
	}
	c.JSON(http.StatusOK, gin.H{"results": payload})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.mgr.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleIntervals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"intervals": market.SupportedIntervals()})
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleClear(c *gin.Context) {
	ticker := c.Query("ticker")
	if err := s.mgr.Clear(c.Request.Context(), ticker); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true, "ticker": ticker})
}

// abortWith 把引擎错误映射为 HTTP 状态码。
func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cache.ErrInvalidRequest),
		errors.Is(err, source.ErrUnsupportedInterval):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrNoData),
		errors.Is(err, source.ErrNoData),
		errors.Is(err, source.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrUnavailable),
		errors.Is(err, source.ErrBadPayload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseTime 接受 RFC3339、YYYY-MM-DD 或毫秒时间戳。
// 仅给日期时，end 取当日最后一毫秒，保证闭区间语义。
func parseTime(s string, isEnd bool) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, err
	}
	if isEnd {
		return t.Add(24*time.Hour).UnixMilli() - 1, nil
	}
	return t.UnixMilli(), nil
}
