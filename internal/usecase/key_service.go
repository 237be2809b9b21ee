// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crypto-key-service/internal/crypto"
	"crypto-key-service/internal/domain"
)

// KeyRepository はデータアクセスのインターフェース。
type KeyRepository interface {
	Create(ctx context.Context, key *domain.KeyRecord) error
	FindByOwnerAndID(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error)
	FindAllByOwner(ctx context.Context, ownerID string) ([]*domain.KeyRecord, error)
	Update(ctx context.Context, key *domain.KeyRecord) error
	Revoke(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error)
	Delete(ctx context.Context, ownerID, id string) error
	FindForExport(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error)
	DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error)
}

// MaterialCipher は鍵素材の保管時暗号化のインターフェース。
// ストレージ層での保護は外部コラボレータ（Cloud KMS等）の責務。
type MaterialCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// AuditRecorder は監査イベント書き込みのインターフェース。
type AuditRecorder interface {
	Record(ctx context.Context, event *domain.AuditEvent) error
}

// KeyGenerator は鍵素材生成のインターフェース。
type KeyGenerator interface {
	RandomKeyHex(byteLength int) (string, error)
	GenerateRSAKeyPair(bits int) (*crypto.RSAKeyPair, error)
}

// KeyService は鍵ライフサイクルのビジネスロジックを提供する。
// すべての操作は呼び出しごとに1件の監査イベントを書き込む（失敗時も含む）。
type KeyService struct {
	repo       KeyRepository
	cipher     MaterialCipher
	recorder   AuditRecorder
	generator  KeyGenerator
	rsaMinBits int
}

// NewKeyService は新しいKeyServiceを生成する。
// rsaMinBitsはRSA鍵生成の下限ポリシー（0の場合は1024）。
func NewKeyService(repo KeyRepository, cipher MaterialCipher, recorder AuditRecorder, generator KeyGenerator, rsaMinBits int) *KeyService {
	if rsaMinBits <= 0 {
		rsaMinBits = 1024
	}
	return &KeyService{
		repo:       repo,
		cipher:     cipher,
		recorder:   recorder,
		generator:  generator,
		rsaMinBits: rsaMinBits,
	}
}

// audit は監査イベントを1件書き込み、操作結果のエラーを返す。
// 操作が成功していても監査書き込みに失敗した場合はエラーを返す
// （成功報告と監査記録が乖離しないようにするため）。
func (s *KeyService) audit(ctx context.Context, actorID *string, action, resourceID string, details map[string]any, opErr error) error {
	if details == nil {
		details = map[string]any{}
	}
	if opErr != nil {
		details["outcome"] = "failure"
	} else {
		details["outcome"] = "success"
	}

	event := &domain.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		Resource:   domain.AuditResourceKey,
		ResourceID: resourceID,
		Details:    details,
	}
	if rerr := s.recorder.Record(ctx, event); rerr != nil {
		slog.ErrorContext(ctx, "failed to write audit event",
			"operation", action,
			"error", rerr,
		)
		if opErr == nil {
			return fmt.Errorf("recording audit event: %w", rerr)
		}
	}
	return opErr
}

// CreateKeyInput は外部から素材を持ち込む鍵作成の入力。
type CreateKeyInput struct {
	Name           string
	Algorithm      domain.KeyAlgorithm
	KeySizeBits    int
	Material       []byte
	PublicMaterial []byte
	ExpiresAt      *time.Time
}

// Create は持ち込み素材で新しい鍵を作成する。素材は保管時暗号化のうえ永続化する。
func (s *KeyService) Create(ctx context.Context, ownerID string, in CreateKeyInput) (meta *domain.KeyMetadata, err error) {
	details := map[string]any{"algorithm": in.Algorithm, "key_size_bits": in.KeySizeBits}
	defer func() {
		err = s.audit(ctx, &ownerID, "create_key", resourceID(meta), details, err)
	}()

	if in.Algorithm != domain.KeyAlgorithmAES && in.Algorithm != domain.KeyAlgorithmRSA {
		return nil, fmt.Errorf("%w: algorithm must be AES or RSA", domain.ErrInvalidInput)
	}
	if in.KeySizeBits < 128 {
		return nil, fmt.Errorf("%w: key size must be at least 128 bits", domain.ErrInvalidInput)
	}
	if len(in.Material) == 0 {
		return nil, fmt.Errorf("%w: material is required", domain.ErrInvalidInput)
	}

	encrypted, err := s.cipher.Encrypt(ctx, in.Material)
	if err != nil {
		return nil, fmt.Errorf("encrypting material: %w", err)
	}

	key := &domain.KeyRecord{
		OwnerID:           ownerID,
		Name:              in.Name,
		Algorithm:         in.Algorithm,
		KeySizeBits:       in.KeySizeBits,
		EncryptedMaterial: encrypted,
		PublicMaterial:    in.PublicMaterial,
		Status:            domain.KeyStatusActive,
		ExpiresAt:         in.ExpiresAt,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("creating key: %w", err)
	}
	return key.Metadata(), nil
}

// GenerateKeyInput は鍵生成の入力。
type GenerateKeyInput struct {
	Name        string
	Algorithm   domain.KeyAlgorithm
	KeySizeBits int
	ExpiresAt   *time.Time
}

// Generate は新しい鍵素材を生成して鍵を作成する。
// AESは乱数鍵、RSAは鍵ペアを生成する。
func (s *KeyService) Generate(ctx context.Context, ownerID string, in GenerateKeyInput) (meta *domain.KeyMetadata, err error) {
	details := map[string]any{"algorithm": in.Algorithm, "key_size_bits": in.KeySizeBits}
	defer func() {
		err = s.audit(ctx, &ownerID, "generate_key", resourceID(meta), details, err)
	}()

	var material, publicMaterial []byte
	switch in.Algorithm {
	case domain.KeyAlgorithmAES:
		if in.KeySizeBits != 128 && in.KeySizeBits != 192 && in.KeySizeBits != 256 {
			return nil, fmt.Errorf("%w: AES key size must be 128, 192 or 256 bits", domain.ErrInvalidInput)
		}
		hexKey, err := s.generator.RandomKeyHex(in.KeySizeBits / 8)
		if err != nil {
			return nil, fmt.Errorf("generating AES key: %w", err)
		}
		material = []byte(hexKey)
	case domain.KeyAlgorithmRSA:
		if in.KeySizeBits < s.rsaMinBits {
			return nil, fmt.Errorf("%w: RSA key size must be at least %d bits", domain.ErrInvalidInput, s.rsaMinBits)
		}
		pair, err := s.generator.GenerateRSAKeyPair(in.KeySizeBits)
		if err != nil {
			return nil, fmt.Errorf("generating RSA key pair: %w", err)
		}
		material = []byte(pair.PrivateKeyPEM)
		publicMaterial = []byte(pair.PublicKeyPEM)
	default:
		return nil, fmt.Errorf("%w: algorithm must be AES or RSA", domain.ErrInvalidInput)
	}

	encrypted, err := s.cipher.Encrypt(ctx, material)
	if err != nil {
		return nil, fmt.Errorf("encrypting material: %w", err)
	}

	key := &domain.KeyRecord{
		OwnerID:           ownerID,
		Name:              in.Name,
		Algorithm:         in.Algorithm,
		KeySizeBits:       in.KeySizeBits,
		EncryptedMaterial: encrypted,
		PublicMaterial:    publicMaterial,
		Status:            domain.KeyStatusActive,
		ExpiresAt:         in.ExpiresAt,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("creating key: %w", err)
	}
	return key.Metadata(), nil
}

// List は所有者の全鍵のメタデータを新しい順で取得する。鍵素材は含まない。
func (s *KeyService) List(ctx context.Context, ownerID string) (metas []*domain.KeyMetadata, err error) {
	defer func() {
		err = s.audit(ctx, &ownerID, "list_keys", "", map[string]any{"count": len(metas)}, err)
	}()

	keys, err := s.repo.FindAllByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("finding keys: %w", err)
	}

	metas = make([]*domain.KeyMetadata, len(keys))
	for i, k := range keys {
		metas[i] = k.Metadata()
	}
	return metas, nil
}

// Get は鍵を素材込みで1件取得する。失効済みの鍵は素材を返さない
// （メタデータのみ返し、呼び出し元がライフサイクル状態を確認できるようにする）。
func (s *KeyService) Get(ctx context.Context, ownerID, id string) (key *domain.Key, err error) {
	defer func() {
		err = s.audit(ctx, &ownerID, "access_key", id, nil, err)
	}()

	record, err := s.repo.FindByOwnerAndID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if record == nil {
		return nil, domain.ErrKeyNotFound
	}

	key = &domain.Key{
		ID:          record.ID,
		OwnerID:     record.OwnerID,
		Name:        record.Name,
		Algorithm:   record.Algorithm,
		KeySizeBits: record.KeySizeBits,
		Status:      record.Status,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if record.Status == domain.KeyStatusRevoked {
		return key, nil
	}

	material, err := s.cipher.Decrypt(ctx, record.EncryptedMaterial)
	if err != nil {
		return nil, fmt.Errorf("decrypting material: %w", err)
	}
	key.Material = material
	key.PublicMaterial = record.PublicMaterial
	return key, nil
}

// UpdateKeyInput は鍵更新の入力。nilのフィールドは変更しない。
type UpdateKeyInput struct {
	Name      *string
	ExpiresAt *time.Time
}

// Update は鍵の名前と有効期限を更新する。名前は有効な鍵の間のみ変更できる。
func (s *KeyService) Update(ctx context.Context, ownerID, id string, in UpdateKeyInput) (meta *domain.KeyMetadata, err error) {
	defer func() {
		err = s.audit(ctx, &ownerID, "update_key", id, nil, err)
	}()

	record, err := s.repo.FindByOwnerAndID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if record == nil {
		return nil, domain.ErrKeyNotFound
	}
	if record.Status == domain.KeyStatusRevoked {
		return nil, domain.ErrKeyRevoked
	}

	if in.Name != nil {
		record.Name = *in.Name
	}
	if in.ExpiresAt != nil {
		record.ExpiresAt = in.ExpiresAt
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("updating key: %w", err)
	}
	return record.Metadata(), nil
}

// Revoke は鍵を失効させる。失効は終端状態で、以後のエクスポートは禁止される。
func (s *KeyService) Revoke(ctx context.Context, ownerID, id string) (meta *domain.KeyMetadata, err error) {
	defer func() {
		err = s.audit(ctx, &ownerID, "revoke_key", id, nil, err)
	}()

	record, err := s.repo.Revoke(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return record.Metadata(), nil
}

// Delete は鍵を物理削除する。ステータスに関わらず削除できる。
func (s *KeyService) Delete(ctx context.Context, ownerID, id string) (err error) {
	defer func() {
		err = s.audit(ctx, &ownerID, "delete_key", id, nil, err)
	}()

	return s.repo.Delete(ctx, ownerID, id)
}

// Export は鍵素材をエクスポートする。失効済みの鍵はErrKeyRevokedで拒否する。
func (s *KeyService) Export(ctx context.Context, ownerID, id string) (export *domain.KeyExport, err error) {
	defer func() {
		err = s.audit(ctx, &ownerID, "export_key", id, nil, err)
	}()

	record, err := s.repo.FindForExport(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	material, err := s.cipher.Decrypt(ctx, record.EncryptedMaterial)
	if err != nil {
		return nil, fmt.Errorf("decrypting material: %w", err)
	}

	return &domain.KeyExport{
		Name:           record.Name,
		Algorithm:      record.Algorithm,
		KeySizeBits:    record.KeySizeBits,
		Material:       material,
		PublicMaterial: record.PublicMaterial,
		ExportedAt:     time.Now().UTC(),
	}, nil
}

// DeleteAllForOwner は所有者の全鍵を削除する。
// 所有者アカウント削除時のカスケードとして外部コラボレータから呼ばれる。
// システム起因の操作としてActorIDなしの監査イベントを書き込む。
func (s *KeyService) DeleteAllForOwner(ctx context.Context, ownerID string) (deleted int64, err error) {
	defer func() {
		err = s.audit(ctx, nil, "cascade_delete_keys", "", map[string]any{"owner_id": ownerID, "deleted": deleted}, err)
	}()

	deleted, err = s.repo.DeleteAllByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting keys: %w", err)
	}
	return deleted, nil
}

// resourceID はメタデータからリソースIDを安全に取り出す。
func resourceID(meta *domain.KeyMetadata) string {
	if meta == nil {
		return ""
	}
	return meta.ID
}
