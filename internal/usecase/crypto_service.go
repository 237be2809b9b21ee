package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"crypto-key-service/internal/crypto"
	"crypto-key-service/internal/domain"
)

// defaultSignAlgorithm はドキュメント署名のデフォルトアルゴリズム。
const defaultSignAlgorithm = "RSA-SHA256"

// CryptoEngine は暗号プリミティブのインターフェース。
type CryptoEngine interface {
	EncryptSymmetric(plaintext, passphrase string, keySizeBits int) (*crypto.SymmetricBundle, error)
	DecryptSymmetric(bundle *crypto.SymmetricBundle, passphrase string, keySizeBits int) (string, error)
	EncryptRSA(plaintext, publicKeyPEM string) (string, error)
	DecryptRSA(ciphertextBase64, privateKeyPEM string) (string, error)
	Digest(text, algorithm string) (string, error)
	FileDigest(data []byte, algorithm string) (string, error)
	VerifyFileIntegrity(data []byte, expectedHex, algorithm string) (*crypto.IntegrityResult, error)
	Sign(data, privateKeyPEM, algorithm string) (string, error)
	Verify(data, signatureBase64, publicKeyPEM, algorithm string) (bool, error)
	RandomKeyHex(byteLength int) (string, error)
}

// CryptoService は暗号操作のオーケストレーションを提供する。
// 入力を検証し、適切なプリミティブへ振り分け、呼び出しごとに
// 1件の監査イベントを書き込む（失敗時も含む）。
type CryptoService struct {
	engine   CryptoEngine
	recorder AuditRecorder
}

// NewCryptoService は新しいCryptoServiceを生成する。
func NewCryptoService(engine CryptoEngine, recorder AuditRecorder) *CryptoService {
	return &CryptoService{
		engine:   engine,
		recorder: recorder,
	}
}

// audit は監査イベントを1件書き込み、操作結果のエラーを返す。
// detailsには鍵素材や平文を決して含めない。
func (s *CryptoService) audit(ctx context.Context, actorID, action string, resource domain.AuditResource, details map[string]any, opErr error) error {
	if details == nil {
		details = map[string]any{}
	}
	if opErr != nil {
		details["outcome"] = "failure"
	} else {
		details["outcome"] = "success"
	}

	event := &domain.AuditEvent{
		ActorID:  &actorID,
		Action:   action,
		Resource: resource,
		Details:  details,
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

// EncryptInput は暗号化の入力。PublicKeyPEMを指定するとRSA-OAEP、
// 指定しない場合はパスフレーズ由来のAES-GCMで暗号化する。
type EncryptInput struct {
	Plaintext    string
	Passphrase   string
	KeySizeBits  int
	PublicKeyPEM string
}

// EncryptResult は暗号化の結果。共通鍵暗号ではBundle、公開鍵暗号ではCiphertextBase64が設定される。
type EncryptResult struct {
	Bundle           *crypto.SymmetricBundle
	CiphertextBase64 string
	Algorithm        string
}

// Encrypt は入力に応じたプリミティブで平文を暗号化する。
func (s *CryptoService) Encrypt(ctx context.Context, actorID string, in EncryptInput) (result *EncryptResult, err error) {
	details := map[string]any{}
	defer func() {
		if result != nil {
			details["algorithm"] = result.Algorithm
		}
		err = s.audit(ctx, actorID, "encrypt", domain.AuditResourceCrypto, details, err)
	}()

	if in.PublicKeyPEM != "" {
		ciphertext, err := s.engine.EncryptRSA(in.Plaintext, in.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		return &EncryptResult{CiphertextBase64: ciphertext, Algorithm: "rsa-oaep-sha256"}, nil
	}

	bundle, err := s.engine.EncryptSymmetric(in.Plaintext, in.Passphrase, in.KeySizeBits)
	if err != nil {
		return nil, err
	}
	return &EncryptResult{Bundle: bundle, Algorithm: bundle.Algorithm}, nil
}

// DecryptInput は復号の入力。PrivateKeyPEMを指定するとRSA-OAEP、
// 指定しない場合はパスフレーズ由来のAES-GCMで復号する。
type DecryptInput struct {
	CiphertextHex    string
	IVHex            string
	AuthTagHex       string
	Passphrase       string
	KeySizeBits      int
	CiphertextBase64 string
	PrivateKeyPEM    string
}

// Decrypt は入力に応じたプリミティブで暗号文を復号する。
func (s *CryptoService) Decrypt(ctx context.Context, actorID string, in DecryptInput) (plaintext string, err error) {
	defer func() {
		err = s.audit(ctx, actorID, "decrypt", domain.AuditResourceCrypto, nil, err)
	}()

	if in.PrivateKeyPEM != "" {
		return s.engine.DecryptRSA(in.CiphertextBase64, in.PrivateKeyPEM)
	}

	bundle := &crypto.SymmetricBundle{
		CiphertextHex: in.CiphertextHex,
		IVHex:         in.IVHex,
		AuthTagHex:    in.AuthTagHex,
	}
	return s.engine.DecryptSymmetric(bundle, in.Passphrase, in.KeySizeBits)
}

// Hash はテキストのメッセージダイジェストを計算する。
func (s *CryptoService) Hash(ctx context.Context, actorID, text, algorithm string) (digest string, err error) {
	defer func() {
		err = s.audit(ctx, actorID, "hash", domain.AuditResourceCrypto, map[string]any{"algorithm": algorithm}, err)
	}()

	return s.engine.Digest(text, algorithm)
}

// VerifyIntegrity はデータの完全性をダイジェスト比較で検証する。
// 不一致はエラーではなく結果のIsValid=falseで表す。
func (s *CryptoService) VerifyIntegrity(ctx context.Context, actorID string, data []byte, expectedHex, algorithm string) (result *crypto.IntegrityResult, err error) {
	details := map[string]any{"algorithm": algorithm}
	defer func() {
		if result != nil {
			details["is_valid"] = result.IsValid
		}
		err = s.audit(ctx, actorID, "verify_integrity", domain.AuditResourceCrypto, details, err)
	}()

	return s.engine.VerifyFileIntegrity(data, expectedHex, algorithm)
}

// GenerateKeyMaterial は一時的な乱数鍵素材を生成する。永続化はしない。
func (s *CryptoService) GenerateKeyMaterial(ctx context.Context, actorID string, byteLength int) (hexKey string, err error) {
	defer func() {
		err = s.audit(ctx, actorID, "generate_key_material", domain.AuditResourceCrypto, map[string]any{"byte_length": byteLength}, err)
	}()

	return s.engine.RandomKeyHex(byteLength)
}

// Sign はデータをRSA秘密鍵で署名する。
func (s *CryptoService) Sign(ctx context.Context, actorID, data, privateKeyPEM, algorithm string) (signature string, err error) {
	if algorithm == "" {
		algorithm = defaultSignAlgorithm
	}
	defer func() {
		err = s.audit(ctx, actorID, "sign", domain.AuditResourceSignature, map[string]any{"algorithm": algorithm}, err)
	}()

	return s.engine.Sign(data, privateKeyPEM, algorithm)
}

// Verify は署名を検証する。意味的な不一致はfalseを返し、エラーにはしない。
func (s *CryptoService) Verify(ctx context.Context, actorID, data, signatureBase64, publicKeyPEM, algorithm string) (valid bool, err error) {
	if algorithm == "" {
		algorithm = defaultSignAlgorithm
	}
	details := map[string]any{"algorithm": algorithm}
	defer func() {
		details["is_valid"] = valid
		err = s.audit(ctx, actorID, "verify", domain.AuditResourceSignature, details, err)
	}()

	return s.engine.Verify(data, signatureBase64, publicKeyPEM, algorithm)
}

// DocumentSignature はドキュメント署名の結果を表す。
// Payloadは署名対象の正準形ペイロードで、呼び出し元はこれをそのまま保存・伝送する。
type DocumentSignature struct {
	Signature    string
	Payload      map[string]any
	DocumentHash string
}

// canonicalizePayload はペイロードを決定的にシリアライズする。
// encoding/jsonはマップのキーを常にソートして出力するため、
// 論理的に同一のペイロードは常に同一のバイト列になる。
// この正準化が崩れると意味的に同じペイロードでも検証が失敗する。
func canonicalizePayload(payload map[string]any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}
	return string(b), nil
}

// SignDocument はドキュメントのハッシュとメタデータを含むペイロードを構築し、
// 正準形にシリアライズしたうえで署名する。
func (s *CryptoService) SignDocument(ctx context.Context, actorID, document, privateKeyPEM, algorithm string, metadata map[string]any) (result *DocumentSignature, err error) {
	if algorithm == "" {
		algorithm = defaultSignAlgorithm
	}
	defer func() {
		err = s.audit(ctx, actorID, "sign_document", domain.AuditResourceSignature, map[string]any{"algorithm": algorithm}, err)
	}()

	documentHash, err := s.engine.Digest(document, "sha256")
	if err != nil {
		return nil, err
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	payload := map[string]any{
		"algorithm":    algorithm,
		"documentHash": documentHash,
		"metadata":     metadata,
		"signer":       actorID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	canonical, err := canonicalizePayload(payload)
	if err != nil {
		return nil, err
	}
	signature, err := s.engine.Sign(canonical, privateKeyPEM, algorithm)
	if err != nil {
		return nil, err
	}

	return &DocumentSignature{
		Signature:    signature,
		Payload:      payload,
		DocumentHash: documentHash,
	}, nil
}

// DocumentVerification はドキュメント検証の結果を表す。
// ドキュメント改ざんと署名不正を区別できるよう、両方の判定を個別に返す。
type DocumentVerification struct {
	IsValid                bool
	DocumentIntegrityValid bool
	SignatureValid         bool
}

// VerifyDocument はドキュメントのハッシュ再計算と署名検証を行う。
// ペイロードは署名時と同一の正準化で再シリアライズする。
func (s *CryptoService) VerifyDocument(ctx context.Context, actorID, document, signatureBase64 string, payload map[string]any, publicKeyPEM string) (result *DocumentVerification, err error) {
	details := map[string]any{}
	defer func() {
		if result != nil {
			details["is_valid"] = result.IsValid
		}
		err = s.audit(ctx, actorID, "verify_document", domain.AuditResourceSignature, details, err)
	}()

	if payload == nil {
		return nil, fmt.Errorf("%w: signature payload is required", domain.ErrInvalidInput)
	}

	documentHash, err := s.engine.Digest(document, "sha256")
	if err != nil {
		return nil, err
	}
	expectedHash, _ := payload["documentHash"].(string)
	integrityValid := expectedHash != "" && expectedHash == documentHash

	algorithm, _ := payload["algorithm"].(string)
	if algorithm == "" {
		algorithm = defaultSignAlgorithm
	}

	canonical, err := canonicalizePayload(payload)
	if err != nil {
		return nil, err
	}
	signatureValid, err := s.engine.Verify(canonical, signatureBase64, publicKeyPEM, algorithm)
	if err != nil {
		return nil, err
	}

	return &DocumentVerification{
		IsValid:                integrityValid && signatureValid,
		DocumentIntegrityValid: integrityValid,
		SignatureValid:         signatureValid,
	}, nil
}
