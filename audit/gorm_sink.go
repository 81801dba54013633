package audit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LogRow is the gateway log row a completed request's sanitised audit dict
// is persisted into. One row per request; the audit dict itself is stored
// as compact JSON in Payload since its shape varies by channel/capability.
type LogRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TraceID    string `gorm:"column:trace_id;size:64;index"`
	TenantID   string `gorm:"column:tenant_id;size:64;index"`
	APIKeyID   string `gorm:"column:api_key_id;size:64;index"`
	Success    bool   `gorm:"column:success"`
	ErrorCode  string `gorm:"column:error_code;size:64"`
	Payload    []byte `gorm:"column:payload;type:jsonb"`
	CreatedAt  time.Time
}

// TableName pins the row to the gateway_logs table regardless of GORM's
// pluralisation of LogRow.
func (LogRow) TableName() string { return "gateway_logs" }

// GormSink persists sanitised audit dicts as append-only gateway log rows.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink constructs a GormSink.
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Migrate creates the gateway_logs table if absent.
func (s *GormSink) Migrate() error {
	return s.db.AutoMigrate(&LogRow{})
}

// Write inserts entry as a new gateway log row. Never updates or deletes
// existing rows: the sink is append-only by construction.
func (s *GormSink) Write(ctx context.Context, entry map[string]any) error {
	payload, err := MarshalCompact(entry)
	if err != nil {
		return err
	}

	row := LogRow{
		TraceID:   stringField(entry, "trace_id"),
		TenantID:  stringField(entry, "tenant_id"),
		APIKeyID:  stringField(entry, "api_key_id"),
		Success:   boolField(entry, "success"),
		ErrorCode: stringField(entry, "error_code"),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func stringField(dict map[string]any, key string) string {
	if v, ok := dict[key].(string); ok {
		return v
	}
	return ""
}

func boolField(dict map[string]any, key string) bool {
	if v, ok := dict[key].(bool); ok {
		return v
	}
	return false
}
