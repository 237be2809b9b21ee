package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"crypto-key-service/internal/domain"
)

// AuditEventModel はgorm用のモデル定義。追記専用テーブル。
type AuditEventModel struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	ActorID    *string   `gorm:"type:varchar(64);index:idx_actor_id"`
	Action     string    `gorm:"type:varchar(64);not null"`
	Resource   string    `gorm:"type:varchar(16);not null"`
	ResourceID string    `gorm:"type:varchar(64)"`
	Details    []byte    `gorm:"type:json"`
	OccurredAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime;index:idx_occurred_at"`
}

// TableName はテーブル名を返す。
func (AuditEventModel) TableName() string {
	return "audit_events"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *AuditEventModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *AuditEventModel) toDomain() *domain.AuditEvent {
	var details map[string]any
	if len(m.Details) > 0 {
		// 不正なJSONは無視してイベント本体のみ返す
		_ = json.Unmarshal(m.Details, &details)
	}
	return &domain.AuditEvent{
		ID:         m.ID,
		ActorID:    m.ActorID,
		Action:     m.Action,
		Resource:   domain.AuditResource(m.Resource),
		ResourceID: m.ResourceID,
		Details:    details,
		OccurredAt: m.OccurredAt,
	}
}

// AuditRepository は監査イベントのデータアクセスを提供する。
// 更新・削除は提供しない（追記専用）。
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository は新しいAuditRepositoryを生成する。
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record は監査イベントを1件追記する。呼び出し元に成功を報告する前に完了する必要がある。
func (r *AuditRepository) Record(ctx context.Context, event *domain.AuditEvent) error {
	var details []byte
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal audit details",
				"operation", "record",
				"action", event.Action,
				"error", err,
			)
			return err
		}
		details = b
	}

	model := &AuditEventModel{
		ID:         event.ID,
		ActorID:    event.ActorID,
		Action:     event.Action,
		Resource:   string(event.Resource),
		ResourceID: event.ResourceID,
		Details:    details,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record audit event",
			"operation", "record",
			"action", event.Action,
			"resource", event.Resource,
			"error", err,
		)
		return err
	}
	event.ID = model.ID
	event.OccurredAt = model.OccurredAt
	return nil
}

// FindRecent は最新の監査イベントを取得する。管理画面の監査ビューで使用する。
func (r *AuditRepository) FindRecent(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []AuditEventModel
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find recent audit events",
			"operation", "find_recent",
			"error", err,
		)
		return nil, err
	}

	events := make([]*domain.AuditEvent, len(models))
	for i, m := range models {
		events[i] = m.toDomain()
	}
	return events, nil
}

// FindByActor は指定アクターの監査イベントを新しい順で取得する。
func (r *AuditRepository) FindByActor(ctx context.Context, actorID string, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []AuditEventModel
	err := r.db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find audit events by actor",
			"operation", "find_by_actor",
			"actor_id", actorID,
			"error", err,
		)
		return nil, err
	}

	events := make([]*domain.AuditEvent, len(models))
	for i, m := range models {
		events[i] = m.toDomain()
	}
	return events, nil
}
