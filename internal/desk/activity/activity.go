// Package activity keeps an audit trail of desk actions in Postgres.
package activity

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActionRecordCreated = "record_created"
	ActionRecordUpdated = "record_updated"
	ActionJobAccepted   = "job_accepted"
	ActionStatusChanged = "status_changed"
)

// Metadata is stored as jsonb.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan Metadata: %v", value)
	}
	return json.Unmarshal(bytes, m)
}

// Log 工作台操作日志
type Log struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	RecordID int64  `json:"recordId" gorm:"not null;index:idx_desk_activity_record"`

	Action     string `json:"action" gorm:"size:50;not null"`
	FromStatus string `json:"fromStatus" gorm:"size:20"`
	ToStatus   string `json:"toStatus" gorm:"size:20"`

	Content  string   `json:"content" gorm:"type:text"`
	Metadata Metadata `json:"metadata" gorm:"type:jsonb"`

	OperatorID   int64     `json:"operatorId"`
	OperatorName string    `json:"operatorName" gorm:"size:100"`
	CreatedAt    time.Time `json:"createdAt" gorm:"index:idx_desk_activity_record"`
}

func (Log) TableName() string {
	return "desk_activity_logs"
}

// Recorder accepts audit entries. Implementations never fail the caller.
type Recorder interface {
	Record(ctx context.Context, entry *Log)
}

// Nop discards entries. Used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, *Log) {}

func (Nop) FindByRecord(context.Context, int64, int, int) ([]Log, int64, error) {
	return []Log{}, 0, nil
}

// Repository 操作日志仓库
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// AutoMigrate creates or updates the table.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Log{})
}

// Create 创建操作日志
func (r *Repository) Create(ctx context.Context, entry *Log) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// Record writes entry and logs, rather than returns, a failure.
func (r *Repository) Record(ctx context.Context, entry *Log) {
	if err := r.Create(ctx, entry); err != nil {
		r.logger.Warn("write activity log failed",
			zap.Int64("record_id", entry.RecordID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

// FindByRecord lists a record's entries, newest first.
func (r *Repository) FindByRecord(ctx context.Context, recordID int64, page, pageSize int) ([]Log, int64, error) {
	var items []Log
	var total int64

	query := r.db.WithContext(ctx).Model(&Log{}).Where("record_id = ?", recordID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}
