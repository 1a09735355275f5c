package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/reclip/reclip/types"
)

// =============================================================================
// 💾 归档存储（GORM）
// =============================================================================

// DatabaseConfig 配置归档数据库.
type DatabaseConfig struct {
	// Driver 可选 postgres / sqlite。
	Driver string `yaml:"driver" json:"driver"`
	// DSN 连接串；sqlite 时为文件路径。
	DSN string `yaml:"dsn" json:"dsn"`
}

// DefaultDatabaseConfig 返回默认配置：本地 sqlite 文件.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Driver: "sqlite", DSN: "reclip.db"}
}

// SessionRecord 是终态会话的归档行.
type SessionRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	SourceURL    string `gorm:"size:2048"`
	ProductName  string `gorm:"size:255;index"`
	Provider     string `gorm:"size:32;index"`
	Model        string `gorm:"size:64"`
	Strategy     string `gorm:"size:16"`
	NumVariants  int
	Status       string `gorm:"size:16;index"`
	TotalCost    float64
	ErrorMessage string `gorm:"size:2048"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Clips []ClipRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// ClipRecord 是一条生成产物记录；只归档成功的 clip.
type ClipRecord struct {
	ID           uint   `gorm:"primaryKey"`
	SessionID    string `gorm:"size:64;index"`
	VariantIndex int
	ClipIndex    int
	SceneIndex   int
	Prompt       string `gorm:"type:text"`
	MediaRef     string `gorm:"size:2048"`
	Duration     float64
	Cost         float64
	Retries      int
	CreatedAt    time.Time
}

// Store 持久化终态会话并提供素材库查询.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开归档数据库并迁移表结构.
func Open(cfg DatabaseConfig, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, logger)
}

// New 基于已打开的连接创建归档存储并迁移表结构.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&SessionRecord{}, &ClipRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// ArchiveSession 归档一个终态会话：会话行整写覆盖，
// clip 行重建（会话重试后归档会携带新的成功 clip）。
func (s *Store) ArchiveSession(ctx context.Context, sess types.Session) error {
	record := SessionRecord{
		ID:           sess.ID,
		SourceURL:    sess.SourceURL,
		ProductName:  sess.ProductName,
		Provider:     string(sess.Provider),
		Model:        string(sess.Model),
		Strategy:     string(sess.Strategy),
		NumVariants:  sess.NumVariants,
		Status:       string(sess.Status),
		TotalCost:    sess.TotalCost,
		ErrorMessage: sess.ErrorMessage,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}

	var clips []ClipRecord
	for _, v := range sess.Variants {
		for _, c := range v.Clips {
			if c.Status != types.ClipSucceeded {
				continue
			}
			clips = append(clips, ClipRecord{
				SessionID:    sess.ID,
				VariantIndex: v.Index,
				ClipIndex:    c.Index,
				SceneIndex:   c.SceneIndex,
				Prompt:       c.Prompt,
				MediaRef:     c.MediaRef,
				Duration:     c.Duration,
				Cost:         c.Cost,
				Retries:      c.Retries,
			})
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("save session record: %w", err)
		}
		if err := tx.Where("session_id = ?", sess.ID).Delete(&ClipRecord{}).Error; err != nil {
			return fmt.Errorf("clear clip records: %w", err)
		}
		if len(clips) > 0 {
			if err := tx.Create(&clips).Error; err != nil {
				return fmt.Errorf("save clip records: %w", err)
			}
		}
		return nil
	})
}

// LibraryQuery 过滤素材库结果.
type LibraryQuery struct {
	Provider    string `json:"provider,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// LibraryItem 是素材库中的一个成功产物.
type LibraryItem struct {
	SessionID    string    `json:"session_id"`
	ProductName  string    `json:"product_name"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	VariantIndex int       `json:"variant_index"`
	ClipIndex    int       `json:"clip_index"`
	MediaRef     string    `json:"media_ref"`
	Duration     float64   `json:"duration"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// Normalize 约束分页参数：非法或超界的 limit 回落到默认页大小。
func (q *LibraryQuery) Normalize() {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// Library 查询成功产物，按归档时间倒序.
func (s *Store) Library(ctx context.Context, q LibraryQuery) ([]LibraryItem, int64, error) {
	q.Normalize()

	base := s.db.WithContext(ctx).
		Model(&ClipRecord{}).
		Joins("JOIN session_records ON session_records.id = clip_records.session_id")
	if q.Provider != "" {
		base = base.Where("session_records.provider = ?", q.Provider)
	}
	if q.ProductName != "" {
		base = base.Where("session_records.product_name LIKE ?", "%"+q.ProductName+"%")
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count library items: %w", err)
	}

	var items []LibraryItem
	err := base.
		Select(`clip_records.session_id, session_records.product_name,
			session_records.provider, session_records.model,
			clip_records.variant_index, clip_records.clip_index,
			clip_records.media_ref, clip_records.duration,
			clip_records.cost, clip_records.created_at`).
		Order("clip_records.created_at DESC, clip_records.id DESC").
		Limit(q.Limit).Offset(q.Offset).
		Scan(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query library: %w", err)
	}
	return items, total, nil
}

// TotalSpend 汇总全部归档会话的实际成本.
func (s *Store) TotalSpend(ctx context.Context) (float64, error) {
	var total *float64
	err := s.db.WithContext(ctx).
		Model(&SessionRecord{}).
		Select("SUM(total_cost)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum total cost: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// Ping 健康检查.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
