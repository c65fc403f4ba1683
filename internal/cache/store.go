package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quotecache/internal/market"

	_ "modernc.org/sqlite"
)

// Key 标识一个缓存序列；同一 ticker 的不同周期永远是独立条目。
type Key struct {
	Ticker   string
	Interval string
}

func (k Key) String() string { return k.Ticker + "@" + k.Interval }

// Coverage 记录某个 Key 已覆盖区间的统计信息，
// 与实际存储行在同一事务内更新，二者不会漂移。
type Coverage struct {
	Ticker      string `json:"ticker"`
	Interval    string `json:"interval"`
	MinTime     int64  `json:"min_time"`
	MaxTime     int64  `json:"max_time"`
	Rows        int64  `json:"rows"`
	LastUpdated int64  `json:"last_updated"`
}

// Stats 汇总整个存储的行数分布。
type Stats struct {
	Keys      []Coverage `json:"keys"`
	TotalRows int64      `json:"total_rows"`
}

// Store 是 K 线的持久存储：bars 表按 (ticker, interval, open_time) 主键，
// coverage 表按 (ticker, interval) 记录覆盖区间。所有写入走单一事务，
// 写到一半失败会整体回滚，coverage 不可能声称多于实际存储的范围。
type Store struct {
	path string
	db   *sql.DB
}

// Open 打开（必要时创建）存储文件。生命周期由调用方管理，用完需 Close。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			ticker     TEXT NOT NULL,
			interval   TEXT NOT NULL,
			open_time  INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (ticker, interval, open_time)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bars_key ON bars(ticker, interval);`,
		`CREATE TABLE IF NOT EXISTS coverage (
			ticker       TEXT NOT NULL,
			interval     TEXT NOT NULL,
			min_time     INTEGER NOT NULL,
			max_time     INTEGER NOT NULL,
			row_count    INTEGER NOT NULL DEFAULT 0,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (ticker, interval)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetCoverage 返回 Key 的覆盖记录；不存在时 ok=false。
func (s *Store) GetCoverage(ctx context.Context, key Key) (Coverage, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticker, interval, min_time, max_time, row_count, last_updated
		FROM coverage WHERE ticker = ? AND interval = ?`, key.Ticker, key.Interval)
	var c Coverage
	err := row.Scan(&c.Ticker, &c.Interval, &c.MinTime, &c.MaxTime, &c.Rows, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return Coverage{}, false, nil
	}
	if err != nil {
		return Coverage{}, false, err
	}
	return c, true, nil
}

// Read 返回区间内的 K 线（open_time 闭区间，升序）。
func (s *Store) Read(ctx context.Context, key Key, start, end int64) ([]market.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume
		FROM bars
		WHERE ticker = ? AND interval = ? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, key.Ticker, key.Interval, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Write 批量落库（重复 open_time 被新值覆盖，重复拉取安全），
// 并在同一事务内把 coverage 扩展到 covered 区间。covered 取拉取
// 的请求区间而非首尾 K 线时间，否则周末/停牌日会导致边缘反复重拉。
func (s *Store) Write(ctx context.Context, key Key, candles []market.Candle, covered Range) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (ticker, interval, open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, interval, open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, key.Ticker, key.Interval, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := upsertCoverage(ctx, tx, key, covered); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkCovered 把 coverage 扩展到一个确认无数据的区间（例如周末尾部），
// 避免相同请求反复打上游。不新增任何行。
func (s *Store) MarkCovered(ctx context.Context, key Key, covered Range) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertCoverage(ctx, tx, key, covered); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func upsertCoverage(ctx context.Context, tx *sql.Tx, key Key, covered Range) error {
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coverage (ticker, interval, min_time, max_time, row_count, last_updated)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(ticker, interval) DO UPDATE SET
		    min_time = MIN(min_time, excluded.min_time),
		    max_time = MAX(max_time, excluded.max_time),
		    last_updated = excluded.last_updated`,
		key.Ticker, key.Interval, covered.Start, covered.End, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE coverage
		SET row_count = (SELECT COUNT(1) FROM bars WHERE ticker = ? AND interval = ?)
		WHERE ticker = ? AND interval = ?`,
		key.Ticker, key.Interval, key.Ticker, key.Interval)
	return err
}

// Clear 删除指定 ticker 的全部数据（所有周期）；ticker 为空则清空整库。
func (s *Store) Clear(ctx context.Context, ticker string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if ticker == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bars`); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM coverage`); err != nil {
			_ = tx.Rollback()
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bars WHERE ticker = ?`, ticker); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM coverage WHERE ticker = ?`, ticker); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Stats 返回每个 Key 的行数与总行数。
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, interval, min_time, max_time, row_count, last_updated
		FROM coverage ORDER BY ticker, interval`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	var out Stats
	for rows.Next() {
		var c Coverage
		if err := rows.Scan(&c.Ticker, &c.Interval, &c.MinTime, &c.MaxTime, &c.Rows, &c.LastUpdated); err != nil {
			return Stats{}, err
		}
		out.Keys = append(out.Keys, c)
		out.TotalRows += c.Rows
	}
	return out, rows.Err()
}
