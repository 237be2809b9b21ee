// Package crypto は暗号プリミティブを提供する。
// すべての操作は純粋関数であり、I/Oや共有状態を持たない。
package crypto

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/scrypt"

	"crypto-key-service/internal/domain"
)

const (
	// ivSize はAES-GCMのIV長（バイト）。
	ivSize = 16
	// defaultRandomKeyBytes はRandomKeyHexのデフォルト鍵長（バイト）。
	defaultRandomKeyBytes = 32
	// kdfSalt はパスフレーズからの鍵導出に使う固定ソルトラベル。
	// 鍵ごとのランダムソルト化はワイヤフォーマット変更を伴うため保留中。
	kdfSalt = "crypto-key-service.kdf.v1"
)

// gcmAAD はAES-GCMの固定AADタグ。秘匿情報ではない。
var gcmAAD = []byte("crypto-key-service")

// scryptパラメータ（N, r, p）。
const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// SymmetricBundle はAES-GCM暗号化の結果を表す。各フィールドはhexエンコード済み。
type SymmetricBundle struct {
	CiphertextHex string
	IVHex         string
	AuthTagHex    string
	Algorithm     string // 例: "aes-256-gcm"
}

// RSAKeyPair はPEMエンコード済みのRSA鍵ペアを表す。
type RSAKeyPair struct {
	PublicKeyPEM  string // SPKI形式
	PrivateKeyPEM string // PKCS#8形式
}

// IntegrityResult は完全性検証の結果を表す。hex値は常に小文字で返す。
type IntegrityResult struct {
	IsValid     bool
	ActualHex   string
	ExpectedHex string
}

// Engine は暗号プリミティブの実装を提供する。状態を持たず並行利用できる。
type Engine struct{}

// NewEngine は新しいEngineを生成する。
func NewEngine() *Engine {
	return &Engine{}
}

// deriveKey はパスフレーズからscryptで共通鍵を導出する。
func deriveKey(passphrase string, keySizeBits int) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), []byte(kdfSalt), scryptN, scryptR, scryptP, keySizeBits/8)
}

func validAESKeySize(bits int) bool {
	return bits == 128 || bits == 192 || bits == 256
}

// EncryptSymmetric は平文をパスフレーズ由来の鍵でAES-GCM暗号化する。
// IVは呼び出しごとに新しく生成する。
func (e *Engine) EncryptSymmetric(plaintext, passphrase string, keySizeBits int) (*SymmetricBundle, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("%w: plaintext is empty", domain.ErrEncryption)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase is empty", domain.ErrEncryption)
	}
	if !validAESKeySize(keySizeBits) {
		return nil, fmt.Errorf("%w: key size must be 128, 192 or 256 bits", domain.ErrEncryption)
	}

	key, err := deriveKey(passphrase, keySizeBits)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving key", domain.ErrEncryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher", domain.ErrEncryption)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM", domain.ErrEncryption)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generating IV", domain.ErrEncryption)
	}

	// Sealはciphertextの末尾に認証タグを付加する
	sealed := gcm.Seal(nil, iv, []byte(plaintext), gcmAAD)
	tagStart := len(sealed) - gcm.Overhead()

	return &SymmetricBundle{
		CiphertextHex: hex.EncodeToString(sealed[:tagStart]),
		IVHex:         hex.EncodeToString(iv),
		AuthTagHex:    hex.EncodeToString(sealed[tagStart:]),
		Algorithm:     fmt.Sprintf("aes-%d-gcm", keySizeBits),
	}, nil
}

// DecryptSymmetric はEncryptSymmetricの結果を復号する。
// 認証タグの検証に成功するまで平文は一切返さない。失敗要因
// （タグ不一致・hex不正・パスフレーズ誤り）は外部から区別できない。
func (e *Engine) DecryptSymmetric(bundle *SymmetricBundle, passphrase string, keySizeBits int) (string, error) {
	if bundle == nil || passphrase == "" || !validAESKeySize(keySizeBits) {
		return "", domain.ErrDecryption
	}

	ciphertext, err := hex.DecodeString(bundle.CiphertextHex)
	if err != nil {
		return "", domain.ErrDecryption
	}
	iv, err := hex.DecodeString(bundle.IVHex)
	if err != nil || len(iv) != ivSize {
		return "", domain.ErrDecryption
	}
	tag, err := hex.DecodeString(bundle.AuthTagHex)
	if err != nil {
		return "", domain.ErrDecryption
	}

	key, err := deriveKey(passphrase, keySizeBits)
	if err != nil {
		return "", domain.ErrDecryption
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", domain.ErrDecryption
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", domain.ErrDecryption
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), gcmAAD)
	if err != nil {
		return "", domain.ErrDecryption
	}
	return string(plaintext), nil
}

// GenerateRSAKeyPair は指定ビット数のRSA鍵ペアを生成する。
// 許容範囲は[1024,4096]。下限の引き上げはポリシー設定で行う。
func (e *Engine) GenerateRSAKeyPair(bits int) (*RSAKeyPair, error) {
	if bits < 1024 || bits > 4096 {
		return nil, fmt.Errorf("%w: key size must be between 1024 and 4096 bits", domain.ErrKeyGeneration)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generating RSA key", domain.ErrKeyGeneration)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding private key", domain.ErrKeyGeneration)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding public key", domain.ErrKeyGeneration)
	}

	return &RSAKeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}

// parsePublicKey はPEMエンコードされたRSA公開鍵を解析する。SPKI形式とPKCS#1形式に対応する。
func parsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPub, nil
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

// parsePrivateKey はPEMエンコードされたRSA秘密鍵を解析する。PKCS#8形式とPKCS#1形式に対応する。
func parsePrivateKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if priv, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaPriv, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaPriv, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// EncryptRSA は公開鍵でRSA-OAEP（SHA-256）暗号化し、base64で返す。
// 平文長は鍵サイズからパディングを引いた長さまで。
func (e *Engine) EncryptRSA(plaintext, publicKeyPEM string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: plaintext is empty", domain.ErrEncryption)
	}
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return "", fmt.Errorf("%w: parsing public key", domain.ErrEncryption)
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("%w: plaintext too large for key size", domain.ErrEncryption)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptRSA はEncryptRSAの結果を秘密鍵で復号する。
func (e *Engine) DecryptRSA(ciphertextBase64, privateKeyPEM string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", domain.ErrDecryption
	}
	priv, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", domain.ErrDecryption
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return "", domain.ErrDecryption
	}
	return string(plaintext), nil
}

// newDigest はアルゴリズム名からハッシュ関数を生成する。名前は大文字小文字を区別しない。
func newDigest(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedAlgorithm, algorithm)
	}
}

// Digest はテキストのメッセージダイジェストをhexで返す。
func (e *Engine) Digest(text, algorithm string) (string, error) {
	return e.FileDigest([]byte(text), algorithm)
}

// FileDigest はバイト列のメッセージダイジェストをhexで返す。
func (e *Engine) FileDigest(data []byte, algorithm string) (string, error) {
	h, err := newDigest(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFileIntegrity はバイト列のダイジェストを期待値と比較する。
// 比較は大文字小文字を区別せず、結果のhex値は小文字に正規化して返す。
func (e *Engine) VerifyFileIntegrity(data []byte, expectedHex, algorithm string) (*IntegrityResult, error) {
	actual, err := e.FileDigest(data, algorithm)
	if err != nil {
		return nil, err
	}
	expected := strings.ToLower(expectedHex)
	return &IntegrityResult{
		IsValid:     actual == expected,
		ActualHex:   actual,
		ExpectedHex: expected,
	}, nil
}

// signHash は署名アルゴリズム名からハッシュ種別を解決する。
func signHash(algorithm string) (stdcrypto.Hash, bool) {
	switch strings.ToUpper(algorithm) {
	case "RSA-SHA1":
		return stdcrypto.SHA1, true
	case "RSA-SHA256":
		return stdcrypto.SHA256, true
	case "RSA-SHA384":
		return stdcrypto.SHA384, true
	case "RSA-SHA512":
		return stdcrypto.SHA512, true
	default:
		return 0, false
	}
}

// Sign はデータをRSA PKCS#1 v1.5で署名し、base64で返す。
// 同一の(データ, 鍵, アルゴリズム)に対する署名は常に同一になる。
func (e *Engine) Sign(data, privateKeyPEM, algorithm string) (string, error) {
	h, ok := signHash(algorithm)
	if !ok {
		return "", fmt.Errorf("%w: unsupported algorithm %q", domain.ErrSigning, algorithm)
	}
	priv, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("%w: parsing private key", domain.ErrSigning)
	}

	hasher := h.New()
	hasher.Write([]byte(data))
	signature, err := rsa.SignPKCS1v15(nil, priv, h, hasher.Sum(nil))
	if err != nil {
		return "", fmt.Errorf("%w: signing data", domain.ErrSigning)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verify は署名を検証する。改ざん・鍵違いなど意味的な不一致はfalseを返し、
// エラーにはしない。公開鍵のエンコードが不正な場合のみエラーを返す。
func (e *Engine) Verify(data, signatureBase64, publicKeyPEM, algorithm string) (bool, error) {
	h, ok := signHash(algorithm)
	if !ok {
		return false, fmt.Errorf("%w: unsupported algorithm %q", domain.ErrVerification, algorithm)
	}
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return false, fmt.Errorf("%w: parsing public key", domain.ErrVerification)
	}

	signature, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		// 署名の破損は意味的な不一致として扱う
		return false, nil
	}

	hasher := h.New()
	hasher.Write([]byte(data))
	if err := rsa.VerifyPKCS1v15(pub, h, hasher.Sum(nil), signature); err != nil {
		return false, nil
	}
	return true, nil
}

// RandomKeyHex は暗号学的に安全な乱数鍵をhexで返す。
// byteLengthが0以下の場合は32バイトを生成する。
func (e *Engine) RandomKeyHex(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = defaultRandomKeyBytes
	}
	key := make([]byte, byteLength)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("%w: reading random bytes", domain.ErrKeyGeneration)
	}
	return hex.EncodeToString(key), nil
}
