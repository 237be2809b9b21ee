// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// KeyAlgorithm は鍵のアルゴリズム種別を表す。
type KeyAlgorithm string

const (
	// KeyAlgorithmAES は共通鍵（AES）を表す。
	KeyAlgorithmAES KeyAlgorithm = "AES"
	// KeyAlgorithmRSA は公開鍵ペア（RSA）を表す。
	KeyAlgorithmRSA KeyAlgorithm = "RSA"
)

// KeyStatus は鍵のライフサイクルステータスを表す。
type KeyStatus string

const (
	// KeyStatusActive は有効な鍵を表す。
	KeyStatusActive KeyStatus = "active"
	// KeyStatusRevoked は失効済みの鍵を表す。失効は終端状態であり復帰しない。
	KeyStatusRevoked KeyStatus = "revoked"
)

// KeyRecord は永続化される鍵エンティティを表す。
// EncryptedMaterial は保管時暗号化済みのバイト列で、平文の鍵素材は含まない。
type KeyRecord struct {
	ID                string
	OwnerID           string
	Name              string
	Algorithm         KeyAlgorithm
	KeySizeBits       int
	EncryptedMaterial []byte
	PublicMaterial    []byte // RSAの場合のみ（SPKI形式PEM）。秘匿情報ではない。
	Status            KeyStatus
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// KeyMetadata は鍵のメタデータを表す（鍵素材を含まない）。一覧取得で使用する。
type KeyMetadata struct {
	ID          string
	OwnerID     string
	Name        string
	Algorithm   KeyAlgorithm
	KeySizeBits int
	Status      KeyStatus
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key は復号済みの鍵素材を含む鍵を表す。単一鍵取得でのみ返却する。
type Key struct {
	ID             string
	OwnerID        string
	Name           string
	Algorithm      KeyAlgorithm
	KeySizeBits    int
	Material       []byte // 平文の鍵素材（AESはhex文字列、RSAはPKCS#8形式PEM）
	PublicMaterial []byte
	Status         KeyStatus
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KeyExport はエクスポート結果を表す。失効済み鍵はエクスポートできない。
type KeyExport struct {
	Name           string
	Algorithm      KeyAlgorithm
	KeySizeBits    int
	Material       []byte
	PublicMaterial []byte
	ExportedAt     time.Time
}

// Metadata はKeyRecordからメタデータのみを抽出する。
func (k *KeyRecord) Metadata() *KeyMetadata {
	return &KeyMetadata{
		ID:          k.ID,
		OwnerID:     k.OwnerID,
		Name:        k.Name,
		Algorithm:   k.Algorithm,
		KeySizeBits: k.KeySizeBits,
		Status:      k.Status,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
	}
}
