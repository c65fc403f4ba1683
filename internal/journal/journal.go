package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FetchRecord 是一次上游拉取的审计流水。
// 关键字段展开成列便于查询，完整请求另存一份 JSON。
type FetchRecord struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	TraceID    string `gorm:"size:64;index" json:"trace_id"`
	Ticker     string `gorm:"size:32;index:idx_journal_key" json:"ticker"`
	Interval   string `gorm:"size:8;index:idx_journal_key" json:"interval"`
	StartTime  int64  `json:"start_time"`
	EndTime    int64  `json:"end_time"`
	Rows       int    `json:"rows"`
	Rejected   int    `json:"rejected"`
	Source     string `gorm:"size:32" json:"source"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`

	Request   datatypes.JSON `json:"request"`
	CreatedAt time.Time      `json:"created_at"`
}

func (FetchRecord) TableName() string { return "fetch_journal" }

// Journal 用 Gorm + SQLite 持久化拉取流水。写入是 best-effort：
// 流水失败不应影响主链路，由调用方决定降级与否。
type Journal struct {
	db *gorm.DB
}

func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&FetchRecord{}); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 插入一条流水；Request 快照由既有字段序列化生成。
func (j *Journal) Record(ctx context.Context, rec *FetchRecord) error {
	if j == nil || j.db == nil || rec == nil {
		return nil
	}
	if rec.Request == nil {
		snap, err := json.Marshal(map[string]any{
			"ticker":   rec.Ticker,
			"interval": rec.Interval,
			"start":    rec.StartTime,
			"end":      rec.EndTime,
			"source":   rec.Source,
		})
		if err == nil {
			rec.Request = datatypes.JSON(snap)
		}
	}
	return j.db.WithContext(ctx).Create(rec).Error
}

// Recent 返回最近 limit 条流水（新→旧）。
func (j *Journal) Recent(ctx context.Context, limit int) ([]FetchRecord, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var out []FetchRecord
	err := j.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
