package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quotecache/internal/journal"
	"quotecache/internal/logger"
	"quotecache/internal/market"
	"quotecache/internal/source"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig 配置 Manager 的依赖与并发参数。
type ManagerConfig struct {
	Store           *Store
	Source          source.CandleSource
	Journal         *journal.Journal // 可为 nil；记录失败不阻断主流程
	MaxBatch        int              // 单次上游请求最多拉多少根
	BulkConcurrency int              // 批量下载的 worker 上限
}

// Manager 是缓存引擎的编排层：解析缺口 → 拉取 → 验证 → 落库 → 回读。
// 同一 (ticker, interval) 的并发请求在 per-key 锁上串行，
// 保证任一时刻每个 Key 至多一次在途上游拉取。
type Manager struct {
	store    *Store
	src      source.CandleSource
	journal  *journal.Journal
	maxBatch int
	bulkConc int

	mu       sync.Mutex
	keyLocks map[Key]*sync.Mutex
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 500
	}
	bulkConc := cfg.BulkConcurrency
	if bulkConc <= 0 {
		bulkConc = 4
	}
	return &Manager{
		store:    cfg.Store,
		src:      cfg.Source,
		journal:  cfg.Journal,
		maxBatch: maxBatch,
		bulkConc: bulkConc,
		keyLocks: make(map[Key]*sync.Mutex),
	}, nil
}

// Result 携带最终序列与非致命告警（某个缺口拉取失败但整体仍有数据时）。
type Result struct {
	Candles  []market.Candle `json:"candles"`
	Warnings []string        `json:"warnings,omitempty"`
}

// TickerResult 是批量下载中单个 ticker 的结果。
type TickerResult struct {
	Result
	Err error `json:"-"`
}

// GetData 返回 [start,end]（毫秒，对齐到周期网格）内完整、升序、
// 去重的 K 线序列，按需补拉缺口。返回值一律从存储回读，
// 反映的是当前真正持久化的内容而非瞬时拉取结果。
func (m *Manager) GetData(ctx context.Context, ticker, interval string, start, end int64) (Result, error) {
	key, iv, req, err := m.normalize(ticker, interval, start, end)
	if err != nil {
		return Result{}, err
	}

	lk := m.lockFor(key)
	lk.Lock()
	defer lk.Unlock()

	cov, ok, err := m.store.GetCoverage(ctx, key)
	if err != nil {
		return Result{}, err
	}
	var covPtr *Coverage
	if ok {
		covPtr = &cov
	}
	gaps := ResolveGaps(req, covPtr)
	if len(gaps) > 0 {
		logger.Debugf("[cache] %s 请求 [%d,%d]，缺口 %d 个", key, req.Start, req.End, len(gaps))
	}

	var warnings []string
	var fetchErr error
	for _, gap := range gaps {
		if err := m.fillGap(ctx, key, iv, gap); err != nil {
			if fetchErr == nil {
				fetchErr = err
			}
			warnings = append(warnings, fmt.Sprintf("区间 [%d,%d] 拉取失败: %v", gap.Start, gap.End, err))
			logger.Warnf("[cache] %s 缺口 [%d,%d] 拉取失败: %v", key, gap.Start, gap.End, err)
		}
	}

	out, err := m.store.Read(ctx, key, req.Start, req.End)
	if err != nil {
		return Result{}, err
	}
	if len(out) == 0 {
		if fetchErr != nil {
			return Result{}, fetchErr
		}
		return Result{}, fmt.Errorf("%w: %s [%d,%d]", ErrNoData, key, req.Start, req.End)
	}
	return Result{Candles: out, Warnings: warnings}, nil
}

// fillGap 分批拉取一个缺口并事务性落库。每批：拉取 → 验证 → 写入，
// coverage 推进到已确认的子区间；批次失败时已提交的批次保留。
func (m *Manager) fillGap(ctx context.Context, key Key, iv market.Interval, gap Range) error {
	traceID := uuid.NewString()
	step := iv.Millis()
	cursor := gap.Start
	for cursor <= gap.End {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := m.maxBatch
		if remaining := int(iv.ExpectedBars(cursor, gap.End)); remaining < limit {
			limit = remaining
		}
		if limit < 1 {
			limit = 1
		}
		began := time.Now()
		data, err := m.src.Fetch(ctx, source.FetchRequest{
			Ticker:   key.Ticker,
			Interval: iv,
			Start:    cursor,
			End:      gap.End,
			Limit:    limit,
		})
		if errors.Is(err, source.ErrUnsupportedInterval) {
			// 提供方能力缺口，不是该区间无数据：绝不标记覆盖，
			// 换 provider 后同一请求必须能重新打上游。
			m.record(ctx, traceID, key, cursor, gap.End, 0, 0, began, err)
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if errors.Is(err, source.ErrNoData) {
			// 提供方确认剩余区间无数据（周末、上市前、停牌）。
			// 把已成为历史的部分标记为已覆盖，避免反复重拉；未来区间不标记。
			m.markEmptyCovered(ctx, key, Range{Start: cursor, End: gap.End})
			m.record(ctx, traceID, key, cursor, gap.End, 0, 0, began, nil)
			return nil
		}
		if err != nil {
			m.record(ctx, traceID, key, cursor, gap.End, 0, 0, began, err)
			return err
		}
		clean, rejected := market.ValidateCandles(data)
		if rejected > 0 {
			logger.Warnf("[cache] %s 丢弃 %d 行脏数据", key, rejected)
		}
		if len(clean) == 0 {
			err := fmt.Errorf("%w: 全批 %d 行均未通过验证", source.ErrBadPayload, len(data))
			m.record(ctx, traceID, key, cursor, gap.End, 0, rejected, began, err)
			return err
		}
		last := clean[len(clean)-1].OpenTime
		covered := Range{Start: cursor, End: last}
		if last+step > gap.End {
			covered.End = gap.End
		}
		written, err := m.store.Write(ctx, key, clean, covered)
		if err != nil {
			m.record(ctx, traceID, key, cursor, gap.End, 0, rejected, began, err)
			return fmt.Errorf("写入失败: %w", err)
		}
		m.record(ctx, traceID, key, covered.Start, covered.End, written, rejected, began, nil)
		logger.Debugf("[cache] %s 写入 %d 根，覆盖推进至 %d", key, written, covered.End)
		if last+step <= cursor {
			break
		}
		cursor = last + step
	}
	return nil
}

// markEmptyCovered 只把不晚于当前时刻的空区间并入覆盖。
func (m *Manager) markEmptyCovered(ctx context.Context, key Key, gap Range) {
	now := time.Now().UnixMilli()
	if gap.Start > now {
		return
	}
	end := gap.End
	if end > now {
		end = now
	}
	if err := m.store.MarkCovered(ctx, key, Range{Start: gap.Start, End: end}); err != nil {
		logger.Warnf("[cache] %s 标记空区间失败: %v", key, err)
	}
}

// BulkDownload 对每个 ticker 独立执行 GetData，受固定并发上限约束。
// 单个 ticker 失败不会中断批次，错误记录在对应条目中。
func (m *Manager) BulkDownload(ctx context.Context, tickers []string, interval string, start, end int64) map[string]TickerResult {
	results := make(map[string]TickerResult, len(tickers))
	var rmu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.bulkConc)
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		ticker := strings.ToUpper(strings.TrimSpace(t))
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		g.Go(func() error {
			res, err := m.GetData(gctx, ticker, interval, start, end)
			rmu.Lock()
			results[ticker] = TickerResult{Result: res, Err: err}
			rmu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats 返回缓存的行数分布（只读）。
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

// Clear 清除某个 ticker 的全部缓存（所有周期）；ticker 为空则清空整库。
func (m *Manager) Clear(ctx context.Context, ticker string) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		logger.Infof("[cache] 清空整库")
	} else {
		logger.Infof("[cache] 清除 %s", ticker)
	}
	return m.store.Clear(ctx, ticker)
}

func (m *Manager) normalize(ticker, interval string, start, end int64) (Key, market.Interval, Range, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return Key{}, market.Interval{}, Range{}, fmt.Errorf("%w: ticker 不能为空", ErrInvalidRequest)
	}
	iv, err := market.ParseInterval(interval)
	if err != nil {
		return Key{}, market.Interval{}, Range{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if start <= 0 || end <= 0 || start > end {
		return Key{}, market.Interval{}, Range{}, fmt.Errorf("%w: 区间 [%d,%d] 非法", ErrInvalidRequest, start, end)
	}
	alStart, alEnd := iv.AlignRange(start, end)
	key := Key{Ticker: ticker, Interval: iv.Key}
	return key, iv, Range{Start: alStart, End: alEnd}, nil
}

// lockFor 返回 key 的串行锁。锁表只增不减：上界是进程生命期内
// 出现过的不同 (ticker, interval) 数，每项一个裸 mutex。不在 Clear
// 里回收，否则在途持锁者与新请求会拿到不同的锁，破坏单飞保证。
func (m *Manager) lockFor(key Key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.keyLocks[key]
	if !ok {
		lk = &sync.Mutex{}
		m.keyLocks[key] = lk
	}
	return lk
}

// record 向拉取流水写入一条审计记录；失败只告警。
func (m *Manager) record(ctx context.Context, traceID string, key Key, start, end int64, rows, rejected int, began time.Time, fetchErr error) {
	if m.journal == nil {
		return
	}
	rec := journal.FetchRecord{
		TraceID:    traceID,
		Ticker:     key.Ticker,
		Interval:   key.Interval,
		StartTime:  start,
		EndTime:    end,
		Rows:       rows,
		Rejected:   rejected,
		Source:     m.src.Name(),
		DurationMS: time.Since(began).Milliseconds(),
	}
	if fetchErr != nil {
		rec.Error = fetchErr.Error()
	}
	if err := m.journal.Record(ctx, &rec); err != nil {
		logger.Warnf("[journal] 记录失败: %v", err)
	}
}
