package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"crypto-key-service/internal/crypto"
	"crypto-key-service/internal/domain"
)

// mockKeyRepository はテスト用のモックリポジトリ。
type mockKeyRepository struct {
	createErr       error
	findResult      *domain.KeyRecord
	findErr         error
	findAllResult   []*domain.KeyRecord
	findAllErr      error
	updateErr       error
	revokeResult    *domain.KeyRecord
	revokeErr       error
	deleteErr       error
	exportResult    *domain.KeyRecord
	exportErr       error
	deleteAllResult int64
	deleteAllErr    error
	createdKeys     []*domain.KeyRecord
}

func (m *mockKeyRepository) Create(ctx context.Context, key *domain.KeyRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	key.ID = "generated-id"
	m.createdKeys = append(m.createdKeys, key)
	return nil
}

func (m *mockKeyRepository) FindByOwnerAndID(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error) {
	return m.findResult, m.findErr
}

func (m *mockKeyRepository) FindAllByOwner(ctx context.Context, ownerID string) ([]*domain.KeyRecord, error) {
	return m.findAllResult, m.findAllErr
}

func (m *mockKeyRepository) Update(ctx context.Context, key *domain.KeyRecord) error {
	return m.updateErr
}

func (m *mockKeyRepository) Revoke(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error) {
	return m.revokeResult, m.revokeErr
}

func (m *mockKeyRepository) Delete(ctx context.Context, ownerID, id string) error {
	return m.deleteErr
}

func (m *mockKeyRepository) FindForExport(ctx context.Context, ownerID, id string) (*domain.KeyRecord, error) {
	return m.exportResult, m.exportErr
}

func (m *mockKeyRepository) DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error) {
	return m.deleteAllResult, m.deleteAllErr
}

// mockMaterialCipher はテスト用の保管時暗号化モック。プレフィックス付与で暗号化を模倣する。
type mockMaterialCipher struct {
	encryptErr error
	decryptErr error
}

func (m *mockMaterialCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if m.encryptErr != nil {
		return nil, m.encryptErr
	}
	return append([]byte("enc:"), plaintext...), nil
}

func (m *mockMaterialCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if m.decryptErr != nil {
		return nil, m.decryptErr
	}
	return []byte(strings.TrimPrefix(string(ciphertext), "enc:")), nil
}

// mockAuditRecorder はテスト用の監査レコーダー。書き込まれたイベントを保持する。
type mockAuditRecorder struct {
	recordErr error
	events    []*domain.AuditEvent
}

func (m *mockAuditRecorder) Record(ctx context.Context, event *domain.AuditEvent) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditRecorder) lastEvent(t *testing.T) *domain.AuditEvent {
	t.Helper()
	if len(m.events) == 0 {
		t.Fatal("want at least one audit event")
	}
	return m.events[len(m.events)-1]
}

func newTestKeyService(repo *mockKeyRepository, cipher *mockMaterialCipher, recorder *mockAuditRecorder) *KeyService {
	return NewKeyService(repo, cipher, recorder, crypto.NewEngine(), 0)
}

func TestKeyService_Generate_AES(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	meta, err := svc.Generate(context.Background(), "owner-1", GenerateKeyInput{
		Name:        "K1",
		Algorithm:   domain.KeyAlgorithmAES,
		KeySizeBits: 256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Status != domain.KeyStatusActive {
		t.Errorf("want status active, got %s", meta.Status)
	}
	if len(repo.createdKeys) != 1 {
		t.Fatalf("want 1 created key, got %d", len(repo.createdKeys))
	}

	created := repo.createdKeys[0]
	if !strings.HasPrefix(string(created.EncryptedMaterial), "enc:") {
		t.Error("material must be encrypted at rest")
	}
	// 256bit = 32バイト = 64 hex文字
	if len(created.EncryptedMaterial) != len("enc:")+64 {
		t.Errorf("want 64 hex chars of material, got %d", len(created.EncryptedMaterial)-len("enc:"))
	}

	ev := recorder.lastEvent(t)
	if ev.Action != "generate_key" || ev.Details["outcome"] != "success" {
		t.Errorf("unexpected audit event: %+v", ev)
	}
	if ev.ResourceID != "generated-id" {
		t.Errorf("want resource id generated-id, got %s", ev.ResourceID)
	}
}

func TestKeyService_Generate_RSA(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	_, err := svc.Generate(context.Background(), "owner-1", GenerateKeyInput{
		Name:        "signing-key",
		Algorithm:   domain.KeyAlgorithmRSA,
		KeySizeBits: 1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := repo.createdKeys[0]
	if !strings.Contains(string(created.PublicMaterial), "PUBLIC KEY") {
		t.Error("RSA key must carry public material")
	}
}

func TestKeyService_Generate_InvalidSize(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	_, err := svc.Generate(context.Background(), "owner-1", GenerateKeyInput{
		Name:        "bad",
		Algorithm:   domain.KeyAlgorithmAES,
		KeySizeBits: 100,
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("want ErrInvalidInput, got %v", err)
	}

	// 失敗時も監査イベントが書き込まれる
	ev := recorder.lastEvent(t)
	if ev.Action != "generate_key" || ev.Details["outcome"] != "failure" {
		t.Errorf("unexpected audit event: %+v", ev)
	}
}

func TestKeyService_Generate_RSAPolicyFloor(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{}
	svc := NewKeyService(repo, &mockMaterialCipher{}, recorder, crypto.NewEngine(), 2048)

	_, err := svc.Generate(context.Background(), "owner-1", GenerateKeyInput{
		Name:        "weak",
		Algorithm:   domain.KeyAlgorithmRSA,
		KeySizeBits: 1024,
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("want ErrInvalidInput below policy floor, got %v", err)
	}
}

func TestKeyService_Create_Validation(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateKeyInput
	}{
		{"invalid algorithm", CreateKeyInput{Algorithm: "DSA", KeySizeBits: 256, Material: []byte("m")}},
		{"too small", CreateKeyInput{Algorithm: domain.KeyAlgorithmAES, KeySizeBits: 64, Material: []byte("m")}},
		{"empty material", CreateKeyInput{Algorithm: domain.KeyAlgorithmAES, KeySizeBits: 256}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, "owner-1", tc.in); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%s: want ErrInvalidInput, got %v", tc.name, err)
		}
	}

	// 有効な入力
	meta, err := svc.Create(ctx, "owner-1", CreateKeyInput{
		Name:        "imported",
		Algorithm:   domain.KeyAlgorithmAES,
		KeySizeBits: 256,
		Material:    []byte("imported-material"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Status != domain.KeyStatusActive {
		t.Errorf("want status active, got %s", meta.Status)
	}
}

func TestKeyService_Get_DecryptsMaterial(t *testing.T) {
	repo := &mockKeyRepository{
		findResult: &domain.KeyRecord{
			ID:                "key-1",
			OwnerID:           "owner-1",
			Algorithm:         domain.KeyAlgorithmAES,
			KeySizeBits:       256,
			EncryptedMaterial: []byte("enc:plain-material"),
			Status:            domain.KeyStatusActive,
		},
	}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	key, err := svc.Get(context.Background(), "owner-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(key.Material) != "plain-material" {
		t.Errorf("want decrypted material, got %q", key.Material)
	}

	ev := recorder.lastEvent(t)
	if ev.Action != "access_key" {
		t.Errorf("want access_key audit event, got %s", ev.Action)
	}
}

func TestKeyService_Get_RevokedOmitsMaterial(t *testing.T) {
	repo := &mockKeyRepository{
		findResult: &domain.KeyRecord{
			ID:                "key-1",
			OwnerID:           "owner-1",
			EncryptedMaterial: []byte("enc:plain-material"),
			Status:            domain.KeyStatusRevoked,
		},
	}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	key, err := svc.Get(context.Background(), "owner-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Material != nil {
		t.Error("revoked key must not expose material")
	}
	if key.Status != domain.KeyStatusRevoked {
		t.Errorf("want status revoked, got %s", key.Status)
	}
}

func TestKeyService_Get_NotFound(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	_, err := svc.Get(context.Background(), "owner-1", "missing")
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound, got %v", err)
	}
}

func TestKeyService_Update(t *testing.T) {
	repo := &mockKeyRepository{
		findResult: &domain.KeyRecord{
			ID:      "key-1",
			OwnerID: "owner-1",
			Name:    "old-name",
			Status:  domain.KeyStatusActive,
		},
	}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	newName := "new-name"
	meta, err := svc.Update(context.Background(), "owner-1", "key-1", UpdateKeyInput{Name: &newName})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Name != "new-name" {
		t.Errorf("want name new-name, got %s", meta.Name)
	}
}

func TestKeyService_Update_Revoked(t *testing.T) {
	repo := &mockKeyRepository{
		findResult: &domain.KeyRecord{
			ID:      "key-1",
			OwnerID: "owner-1",
			Status:  domain.KeyStatusRevoked,
		},
	}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	name := "renamed"
	_, err := svc.Update(context.Background(), "owner-1", "key-1", UpdateKeyInput{Name: &name})
	if !errors.Is(err, domain.ErrKeyRevoked) {
		t.Errorf("want ErrKeyRevoked, got %v", err)
	}
}

func TestKeyService_Revoke(t *testing.T) {
	repo := &mockKeyRepository{
		revokeResult: &domain.KeyRecord{
			ID:      "key-1",
			OwnerID: "owner-1",
			Status:  domain.KeyStatusRevoked,
		},
	}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	meta, err := svc.Revoke(context.Background(), "owner-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Status != domain.KeyStatusRevoked {
		t.Errorf("want status revoked, got %s", meta.Status)
	}

	ev := recorder.lastEvent(t)
	if ev.Action != "revoke_key" || ev.Details["outcome"] != "success" {
		t.Errorf("unexpected audit event: %+v", ev)
	}
}

func TestKeyService_Revoke_AlreadyRevoked(t *testing.T) {
	repo := &mockKeyRepository{revokeErr: domain.ErrKeyAlreadyRevoked}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	_, err := svc.Revoke(context.Background(), "owner-1", "key-1")
	if !errors.Is(err, domain.ErrKeyAlreadyRevoked) {
		t.Errorf("want ErrKeyAlreadyRevoked, got %v", err)
	}

	ev := recorder.lastEvent(t)
	if ev.Details["outcome"] != "failure" {
		t.Error("failed revoke must still be audited")
	}
}

func TestKeyService_Export(t *testing.T) {
	repo := &mockKeyRepository{
		exportResult: &domain.KeyRecord{
			ID:                "key-1",
			OwnerID:           "owner-1",
			Name:              "K1",
			Algorithm:         domain.KeyAlgorithmAES,
			KeySizeBits:       256,
			EncryptedMaterial: []byte("enc:exportable"),
			Status:            domain.KeyStatusActive,
		},
	}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	export, err := svc.Export(context.Background(), "owner-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(export.Material) != "exportable" {
		t.Errorf("want decrypted material, got %q", export.Material)
	}
	if export.ExportedAt.IsZero() {
		t.Error("ExportedAt must be set")
	}

	ev := recorder.lastEvent(t)
	if ev.Action != "export_key" {
		t.Errorf("want export_key audit event, got %s", ev.Action)
	}
}

func TestKeyService_Export_Revoked(t *testing.T) {
	repo := &mockKeyRepository{exportErr: domain.ErrKeyRevoked}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	_, err := svc.Export(context.Background(), "owner-1", "key-1")
	if !errors.Is(err, domain.ErrKeyRevoked) {
		t.Errorf("want ErrKeyRevoked, got %v", err)
	}
}

func TestKeyService_AuditWriteFailureSurfaced(t *testing.T) {
	repo := &mockKeyRepository{}
	recorder := &mockAuditRecorder{recordErr: errors.New("audit store down")}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	// 操作自体が成功しても、監査書き込みの失敗は成功として報告しない
	_, err := svc.Generate(context.Background(), "owner-1", GenerateKeyInput{
		Name:        "K1",
		Algorithm:   domain.KeyAlgorithmAES,
		KeySizeBits: 256,
	})
	if err == nil {
		t.Error("audit write failure must not be reported as success")
	}
}

func TestKeyService_DeleteAllForOwner(t *testing.T) {
	repo := &mockKeyRepository{deleteAllResult: 3}
	recorder := &mockAuditRecorder{}
	svc := newTestKeyService(repo, &mockMaterialCipher{}, recorder)

	deleted, err := svc.DeleteAllForOwner(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 3 {
		t.Errorf("want 3 deleted, got %d", deleted)
	}

	// システム起因イベントはActorIDなし
	ev := recorder.lastEvent(t)
	if ev.ActorID != nil {
		t.Error("cascade delete must be recorded as a system event")
	}
	if ev.Action != "cascade_delete_keys" {
		t.Errorf("want cascade_delete_keys, got %s", ev.Action)
	}
}
