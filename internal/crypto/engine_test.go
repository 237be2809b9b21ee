package crypto

import (
	"errors"
	"strings"
	"testing"

	"crypto-key-service/internal/domain"
)

func TestEngine_EncryptSymmetric_RoundTrip(t *testing.T) {
	e := NewEngine()

	for _, bits := range []int{128, 192, 256} {
		bundle, err := e.EncryptSymmetric("hello world", "secret-passphrase", bits)
		if err != nil {
			t.Fatalf("EncryptSymmetric(%d) failed: %v", bits, err)
		}
		if bundle.Algorithm != "aes-"+map[int]string{128: "128", 192: "192", 256: "256"}[bits]+"-gcm" {
			t.Errorf("unexpected algorithm label: %s", bundle.Algorithm)
		}
		if len(bundle.IVHex) != 32 {
			t.Errorf("want 16-byte IV (32 hex chars), got %d", len(bundle.IVHex))
		}

		plaintext, err := e.DecryptSymmetric(bundle, "secret-passphrase", bits)
		if err != nil {
			t.Fatalf("DecryptSymmetric(%d) failed: %v", bits, err)
		}
		if plaintext != "hello world" {
			t.Errorf("want %q, got %q", "hello world", plaintext)
		}
	}
}

func TestEngine_EncryptSymmetric_FreshIV(t *testing.T) {
	e := NewEngine()

	b1, err := e.EncryptSymmetric("same plaintext", "same passphrase", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b2, err := e.EncryptSymmetric("same plaintext", "same passphrase", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b1.IVHex == b2.IVHex {
		t.Error("IV must be freshly generated per call")
	}
	if b1.CiphertextHex == b2.CiphertextHex {
		t.Error("ciphertexts with distinct IVs must differ")
	}
}

func TestEngine_EncryptSymmetric_InvalidInput(t *testing.T) {
	e := NewEngine()

	if _, err := e.EncryptSymmetric("", "pass", 256); !errors.Is(err, domain.ErrEncryption) {
		t.Errorf("empty plaintext: want ErrEncryption, got %v", err)
	}
	if _, err := e.EncryptSymmetric("data", "", 256); !errors.Is(err, domain.ErrEncryption) {
		t.Errorf("empty passphrase: want ErrEncryption, got %v", err)
	}
	if _, err := e.EncryptSymmetric("data", "pass", 100); !errors.Is(err, domain.ErrEncryption) {
		t.Errorf("invalid key size: want ErrEncryption, got %v", err)
	}
}

func TestEngine_DecryptSymmetric_Failures(t *testing.T) {
	e := NewEngine()

	bundle, err := e.EncryptSymmetric("top secret", "correct", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// パスフレーズ誤り
	if _, err := e.DecryptSymmetric(bundle, "wrong", 256); !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("wrong passphrase: want ErrDecryption, got %v", err)
	}

	// 認証タグ改ざん
	tampered := *bundle
	tampered.AuthTagHex = strings.Repeat("0", len(bundle.AuthTagHex))
	if _, err := e.DecryptSymmetric(&tampered, "correct", 256); !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("tampered tag: want ErrDecryption, got %v", err)
	}

	// hex不正
	malformed := *bundle
	malformed.CiphertextHex = "not-hex"
	if _, err := e.DecryptSymmetric(&malformed, "correct", 256); !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("malformed hex: want ErrDecryption, got %v", err)
	}
}

func TestEngine_GenerateRSAKeyPair(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(pair.PrivateKeyPEM, "PRIVATE KEY") {
		t.Error("private key must be PEM encoded")
	}
	if !strings.Contains(pair.PublicKeyPEM, "PUBLIC KEY") {
		t.Error("public key must be PEM encoded")
	}

	// 範囲外のサイズ
	if _, err := e.GenerateRSAKeyPair(512); !errors.Is(err, domain.ErrKeyGeneration) {
		t.Errorf("512 bits: want ErrKeyGeneration, got %v", err)
	}
	if _, err := e.GenerateRSAKeyPair(8192); !errors.Is(err, domain.ErrKeyGeneration) {
		t.Errorf("8192 bits: want ErrKeyGeneration, got %v", err)
	}
}

func TestEngine_EncryptRSA_RoundTrip(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ciphertext, err := e.EncryptRSA("asymmetric secret", pair.PublicKeyPEM)
	if err != nil {
		t.Fatalf("EncryptRSA failed: %v", err)
	}
	plaintext, err := e.DecryptRSA(ciphertext, pair.PrivateKeyPEM)
	if err != nil {
		t.Fatalf("DecryptRSA failed: %v", err)
	}
	if plaintext != "asymmetric secret" {
		t.Errorf("want %q, got %q", "asymmetric secret", plaintext)
	}
}

func TestEngine_EncryptRSA_PlaintextTooLarge(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1024bit鍵のOAEP(SHA-256)上限は62バイト
	large := strings.Repeat("a", 200)
	if _, err := e.EncryptRSA(large, pair.PublicKeyPEM); !errors.Is(err, domain.ErrEncryption) {
		t.Errorf("want ErrEncryption, got %v", err)
	}
}

func TestEngine_DecryptRSA_WrongKey(t *testing.T) {
	e := NewEngine()

	pair1, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pair2, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ciphertext, err := e.EncryptRSA("secret", pair1.PublicKeyPEM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.DecryptRSA(ciphertext, pair2.PrivateKeyPEM); !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("wrong key: want ErrDecryption, got %v", err)
	}
}

func TestEngine_Digest(t *testing.T) {
	e := NewEngine()

	// 既知のSHA-256値
	got, err := e.Digest("abc", "sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("want %s, got %s", want, got)
	}

	// アルゴリズム名は大文字小文字を区別しない
	upper, err := e.Digest("abc", "SHA256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upper != got {
		t.Error("algorithm name must be case-insensitive")
	}

	// サポート対象の全アルゴリズム
	for _, alg := range []string{"md5", "sha1", "sha256", "sha512"} {
		if _, err := e.Digest("abc", alg); err != nil {
			t.Errorf("Digest(%s) failed: %v", alg, err)
		}
	}

	// サポート外
	_, err = e.Digest("abc", "sha3")
	if !errors.Is(err, domain.ErrUnsupportedAlgorithm) {
		t.Errorf("want ErrUnsupportedAlgorithm, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "sha3") {
		t.Error("error must name the rejected algorithm")
	}
}

func TestEngine_VerifyFileIntegrity(t *testing.T) {
	e := NewEngine()
	data := []byte("file contents")

	digest, err := e.FileDigest(data, "sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 大文字の期待値でも一致する
	result, err := e.VerifyFileIntegrity(data, strings.ToUpper(digest), "sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsValid {
		t.Error("comparison must be case-insensitive")
	}
	if result.ExpectedHex != digest {
		t.Error("expected hex must be lower-cased in the result")
	}
	if result.ActualHex != digest {
		t.Error("actual hex must be lower-cased in the result")
	}

	// 不一致
	result, err = e.VerifyFileIntegrity([]byte("other contents"), digest, "sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsValid {
		t.Error("want IsValid=false for mismatched digest")
	}
}

func TestEngine_Sign_Deterministic(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig1, err := e.Sign("data to sign", pair.PrivateKeyPEM, "RSA-SHA256")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sig2, err := e.Sign("data to sign", pair.PrivateKeyPEM, "RSA-SHA256")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig1 != sig2 {
		t.Error("PKCS#1 v1.5 signatures must be deterministic")
	}
}

func TestEngine_SignAndVerify(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, alg := range []string{"RSA-SHA1", "RSA-SHA256", "RSA-SHA384", "RSA-SHA512"} {
		sig, err := e.Sign("payload", pair.PrivateKeyPEM, alg)
		if err != nil {
			t.Fatalf("Sign(%s) failed: %v", alg, err)
		}
		ok, err := e.Verify("payload", sig, pair.PublicKeyPEM, alg)
		if err != nil {
			t.Fatalf("Verify(%s) failed: %v", alg, err)
		}
		if !ok {
			t.Errorf("Verify(%s): want true for valid signature", alg)
		}
	}
}

func TestEngine_Verify_SemanticMismatchReturnsFalse(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig, err := e.Sign("payload", pair.PrivateKeyPEM, "RSA-SHA256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// データ改ざん
	ok, err := e.Verify("tampered payload", sig, pair.PublicKeyPEM, "RSA-SHA256")
	if err != nil {
		t.Fatalf("tampered data must not raise: %v", err)
	}
	if ok {
		t.Error("want false for tampered data")
	}

	// 無関係な公開鍵
	ok, err = e.Verify("payload", sig, other.PublicKeyPEM, "RSA-SHA256")
	if err != nil {
		t.Fatalf("unrelated key must not raise: %v", err)
	}
	if ok {
		t.Error("want false for unrelated public key")
	}

	// 署名の破損（base64不正）も意味的な不一致として扱う
	ok, err = e.Verify("payload", "%%%not-base64%%%", pair.PublicKeyPEM, "RSA-SHA256")
	if err != nil {
		t.Fatalf("corrupted signature must not raise: %v", err)
	}
	if ok {
		t.Error("want false for corrupted signature")
	}
}

func TestEngine_Verify_MalformedPublicKeyRaises(t *testing.T) {
	e := NewEngine()

	_, err := e.Verify("payload", "c2ln", "not a pem block", "RSA-SHA256")
	if !errors.Is(err, domain.ErrVerification) {
		t.Errorf("want ErrVerification for malformed public key, got %v", err)
	}
}

func TestEngine_Sign_InvalidInput(t *testing.T) {
	e := NewEngine()

	pair, err := e.GenerateRSAKeyPair(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := e.Sign("data", pair.PrivateKeyPEM, "RSA-MD4"); !errors.Is(err, domain.ErrSigning) {
		t.Errorf("unsupported algorithm: want ErrSigning, got %v", err)
	}
	if _, err := e.Sign("data", "broken key", "RSA-SHA256"); !errors.Is(err, domain.ErrSigning) {
		t.Errorf("malformed key: want ErrSigning, got %v", err)
	}
}

func TestEngine_RandomKeyHex(t *testing.T) {
	e := NewEngine()

	hex16, err := e.RandomKeyHex(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hex16) != 32 {
		t.Errorf("want 32 hex chars for 16 bytes, got %d", len(hex16))
	}

	// デフォルトは32バイト
	hexDefault, err := e.RandomKeyHex(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hexDefault) != 64 {
		t.Errorf("want 64 hex chars by default, got %d", len(hexDefault))
	}

	other, err := e.RandomKeyHex(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hex16 == other {
		t.Error("consecutive random keys must differ")
	}
}
