// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crypto-key-service/internal/domain"
)

// KeyRecordModel はgorm用のモデル定義。
type KeyRecordModel struct {
	ID                string     `gorm:"type:char(36);primaryKey"`
	OwnerID           string     `gorm:"type:varchar(64);not null;index:idx_owner_id;index:idx_owner_status"`
	Name              string     `gorm:"type:varchar(255);not null"`
	Algorithm         string     `gorm:"type:varchar(8);not null"`
	KeySizeBits       int        `gorm:"not null"`
	EncryptedMaterial []byte     `gorm:"type:blob;not null"`
	PublicMaterial    []byte     `gorm:"type:blob"`
	Status            string     `gorm:"type:enum('active','revoked');not null;default:'active';index:idx_owner_status"`
	ExpiresAt         *time.Time `gorm:"type:datetime(6)"`
	CreatedAt         time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (KeyRecordModel) TableName() string {
	return "crypto_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *KeyRecordModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *KeyRecordModel) toDomain() *domain.KeyRecord {
	return &domain.KeyRecord{
		ID:                m.ID,
		OwnerID:           m.OwnerID,
		Name:              m.Name,
		Algorithm:         domain.KeyAlgorithm(m.Algorithm),
		KeySizeBits:       m.KeySizeBits,
		EncryptedMaterial: m.EncryptedMaterial,
		PublicMaterial:    m.PublicMaterial,
		Status:            domain.KeyStatus(m.Status),
		ExpiresAt:         m.ExpiresAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// KeyRepository は鍵レコードのデータアクセスを提供する。
// すべてのクエリは所有者IDでスコープし、他者の鍵は存在しないものとして扱う。
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository は新しいKeyRepositoryを生成する。
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// lockForUpdate は行ロック句を付与する。SQLiteはFOR UPDATE構文を持たないが、
// トランザクション全体が単一ライタのため行ロックなしでも直列化される。
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Create は新しい鍵レコードを保存する。
func (r *KeyRepository) Create(ctx context.Context, key *domain.KeyRecord) error {
	model := &KeyRecordModel{
		ID:                key.ID,
		OwnerID:           key.OwnerID,
		Name:              key.Name,
		Algorithm:         string(key.Algorithm),
		KeySizeBits:       key.KeySizeBits,
		EncryptedMaterial: key.EncryptedMaterial,
		PublicMaterial:    key.PublicMaterial,
		Status:            string(key.Status),
		ExpiresAt:         key.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create key record",
			"operation", "create",
			"owner_id", key.OwnerID,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	key.ID = model.ID
	key.CreatedAt = model.CreatedAt
	key.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByOwnerAndID は所有者の鍵を1件取得する。存在しない場合はnilを返す。
func (r *KeyRepository) FindByOwnerAndID(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error) {
	var model KeyRecordModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key record",
			"operation", "find_by_owner_and_id",
			"owner_id", ownerID,
			"key_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByOwner は所有者の全鍵を新しい順で取得する。
func (r *KeyRepository) FindAllByOwner(ctx context.Context, ownerID string) ([]*domain.KeyRecord, error) {
	var models []KeyRecordModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find key records",
			"operation", "find_all_by_owner",
			"owner_id", ownerID,
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.KeyRecord, len(models))
	for i, m := range models {
		keys[i] = m.toDomain()
	}
	return keys, nil
}

// Update は鍵の名前と有効期限を更新する。
func (r *KeyRepository) Update(ctx context.Context, key *domain.KeyRecord) error {
	err := r.db.WithContext(ctx).
		Model(&KeyRecordModel{}).
		Where("owner_id = ? AND id = ?", key.OwnerID, key.ID).
		Updates(map[string]any{
			"name":       key.Name,
			"expires_at": key.ExpiresAt,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update key record",
			"operation", "update",
			"owner_id", key.OwnerID,
			"key_id", key.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// Revoke は鍵を失効させる。状態チェックは行ロック下で行い、
// 並行するrevoke/delete/exportと直列化する。既に失効済みならErrKeyAlreadyRevokedを返す。
func (r *KeyRepository) Revoke(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error) {
	var revoked *domain.KeyRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model KeyRecordModel
		err := lockForUpdate(tx).
			Where("owner_id = ? AND id = ?", ownerID, id).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrKeyNotFound
			}
			return err
		}
		if model.Status == string(domain.KeyStatusRevoked) {
			return domain.ErrKeyAlreadyRevoked
		}

		if err := tx.Model(&model).Update("status", string(domain.KeyStatusRevoked)).Error; err != nil {
			return err
		}
		revoked = model.toDomain()
		revoked.Status = domain.KeyStatusRevoked
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) && !errors.Is(err, domain.ErrKeyAlreadyRevoked) {
			slog.ErrorContext(ctx, "failed to revoke key record",
				"operation", "revoke",
				"owner_id", ownerID,
				"key_id", id,
				"error", err,
			)
		}
		return nil, err
	}
	return revoked, nil
}

// Delete は鍵レコードを物理削除する。ステータスに関わらず削除できる。
func (r *KeyRepository) Delete(ctx context.Context, ownerID, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model KeyRecordModel
		err := lockForUpdate(tx).
			Where("owner_id = ? AND id = ?", ownerID, id).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrKeyNotFound
			}
			return err
		}
		return tx.Delete(&model).Error
	})
	if err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
		slog.ErrorContext(ctx, "failed to delete key record",
			"operation", "delete",
			"owner_id", ownerID,
			"key_id", id,
			"error", err,
		)
	}
	return err
}

// FindForExport はエクスポート対象の鍵を行ロック付きで取得する。
// 並行するrevokeに負けた場合は失効後の状態を観測し、ErrKeyRevokedを返す。
func (r *KeyRepository) FindForExport(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error) {
	var record *domain.KeyRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model KeyRecordModel
		err := lockForUpdate(tx).
			Where("owner_id = ? AND id = ?", ownerID, id).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrKeyNotFound
			}
			return err
		}
		if model.Status == string(domain.KeyStatusRevoked) {
			return domain.ErrKeyRevoked
		}
		record = model.toDomain()
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) && !errors.Is(err, domain.ErrKeyRevoked) {
			slog.ErrorContext(ctx, "failed to find key record for export",
				"operation", "find_for_export",
				"owner_id", ownerID,
				"key_id", id,
				"error", err,
			)
		}
		return nil, err
	}
	return record, nil
}

// DeleteAllByOwner は所有者の全鍵を削除する。所有者アカウント削除時のカスケードで使用する。
func (r *KeyRepository) DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Delete(&KeyRecordModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete key records",
			"operation", "delete_all_by_owner",
			"owner_id", ownerID,
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
