package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"crypto-key-service/internal/middleware"
	"crypto-key-service/internal/usecase"
	"crypto-key-service/pkg/httputil"
)

// CryptoHandler は暗号操作のHTTPハンドラを提供する。
type CryptoHandler struct {
	service *usecase.CryptoService
}

// NewCryptoHandler は新しいCryptoHandlerを生成する。
func NewCryptoHandler(service *usecase.CryptoService) *CryptoHandler {
	return &CryptoHandler{service: service}
}

// encryptRequest は暗号化のリクエスト形式。
// public_key_pemを指定するとRSA-OAEP、指定しない場合はパスフレーズ由来のAES-GCM。
type encryptRequest struct {
	Plaintext    string `json:"plaintext"`
	Passphrase   string `json:"passphrase"`
	KeySizeBits  int    `json:"key_size_bits"`
	PublicKeyPEM string `json:"public_key_pem"`
}

// encryptResponse は暗号化のレスポンス形式。
type encryptResponse struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv,omitempty"`
	AuthTag    string `json:"auth_tag,omitempty"`
	Algorithm  string `json:"algorithm"`
}

// Encrypt は平文を暗号化する。
func (h *CryptoHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	result, err := h.service.Encrypt(r.Context(), middleware.OwnerID(r.Context()), usecase.EncryptInput{
		Plaintext:    req.Plaintext,
		Passphrase:   req.Passphrase,
		KeySizeBits:  req.KeySizeBits,
		PublicKeyPEM: req.PublicKeyPEM,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := encryptResponse{Algorithm: result.Algorithm}
	if result.Bundle != nil {
		resp.Ciphertext = result.Bundle.CiphertextHex
		resp.IV = result.Bundle.IVHex
		resp.AuthTag = result.Bundle.AuthTagHex
	} else {
		resp.Ciphertext = result.CiphertextBase64
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// decryptRequest は復号のリクエスト形式。
type decryptRequest struct {
	Ciphertext    string `json:"ciphertext"`
	IV            string `json:"iv"`
	AuthTag       string `json:"auth_tag"`
	Passphrase    string `json:"passphrase"`
	KeySizeBits   int    `json:"key_size_bits"`
	PrivateKeyPEM string `json:"private_key_pem"`
}

// Decrypt は暗号文を復号する。
func (h *CryptoHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	in := usecase.DecryptInput{
		Passphrase:    req.Passphrase,
		KeySizeBits:   req.KeySizeBits,
		PrivateKeyPEM: req.PrivateKeyPEM,
	}
	if req.PrivateKeyPEM != "" {
		in.CiphertextBase64 = req.Ciphertext
	} else {
		in.CiphertextHex = req.Ciphertext
		in.IVHex = req.IV
		in.AuthTagHex = req.AuthTag
	}

	plaintext, err := h.service.Decrypt(r.Context(), middleware.OwnerID(r.Context()), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"plaintext": plaintext})
}

// hashRequest はダイジェスト計算のリクエスト形式。
type hashRequest struct {
	Text      string `json:"text"`
	Algorithm string `json:"algorithm"`
}

// Hash はテキストのメッセージダイジェストを計算する。
func (h *CryptoHandler) Hash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	digest, err := h.service.Hash(r.Context(), middleware.OwnerID(r.Context()), req.Text, req.Algorithm)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{
		"digest":    digest,
		"algorithm": req.Algorithm,
	})
}

// verifyIntegrityRequest は完全性検証のリクエスト形式。データはbase64エンコードする。
type verifyIntegrityRequest struct {
	Data      string `json:"data"`
	Expected  string `json:"expected"`
	Algorithm string `json:"algorithm"`
}

// VerifyIntegrity はデータの完全性をダイジェスト比較で検証する。
func (h *CryptoHandler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	var req verifyIntegrityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", "data must be base64 encoded")
		return
	}

	result, err := h.service.VerifyIntegrity(r.Context(), middleware.OwnerID(r.Context()), data, req.Expected, req.Algorithm)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"is_valid": result.IsValid,
		"actual":   result.ActualHex,
		"expected": result.ExpectedHex,
	})
}

// generateKeyMaterialRequest は一時鍵素材生成のリクエスト形式。
type generateKeyMaterialRequest struct {
	ByteLength int `json:"byte_length"`
}

// GenerateKeyMaterial は一時的な乱数鍵素材を生成する。永続化はしない。
func (h *CryptoHandler) GenerateKeyMaterial(w http.ResponseWriter, r *http.Request) {
	var req generateKeyMaterialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	hexKey, err := h.service.GenerateKeyMaterial(r.Context(), middleware.OwnerID(r.Context()), req.ByteLength)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"key": hexKey})
}

// signRequest は署名のリクエスト形式。
type signRequest struct {
	Data          string `json:"data"`
	PrivateKeyPEM string `json:"private_key_pem"`
	Algorithm     string `json:"algorithm"`
}

// Sign はデータをRSA秘密鍵で署名する。
func (h *CryptoHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	signature, err := h.service.Sign(r.Context(), middleware.OwnerID(r.Context()), req.Data, req.PrivateKeyPEM, req.Algorithm)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"signature": signature})
}

// verifyRequest は署名検証のリクエスト形式。
type verifyRequest struct {
	Data         string `json:"data"`
	Signature    string `json:"signature"`
	PublicKeyPEM string `json:"public_key_pem"`
	Algorithm    string `json:"algorithm"`
}

// Verify は署名を検証する。意味的な不一致はis_valid=falseで返す。
func (h *CryptoHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	valid, err := h.service.Verify(r.Context(), middleware.OwnerID(r.Context()), req.Data, req.Signature, req.PublicKeyPEM, req.Algorithm)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{"is_valid": valid})
}

// signDocumentRequest はドキュメント署名のリクエスト形式。
type signDocumentRequest struct {
	Document      string         `json:"document"`
	PrivateKeyPEM string         `json:"private_key_pem"`
	Algorithm     string         `json:"algorithm"`
	Metadata      map[string]any `json:"metadata"`
}

// SignDocument はドキュメントのハッシュとメタデータを含むペイロードを署名する。
func (h *CryptoHandler) SignDocument(w http.ResponseWriter, r *http.Request) {
	var req signDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	result, err := h.service.SignDocument(r.Context(), middleware.OwnerID(r.Context()), req.Document, req.PrivateKeyPEM, req.Algorithm, req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"signature":     result.Signature,
		"payload":       result.Payload,
		"document_hash": result.DocumentHash,
	})
}

// verifyDocumentRequest はドキュメント検証のリクエスト形式。
type verifyDocumentRequest struct {
	Document     string         `json:"document"`
	Signature    string         `json:"signature"`
	Payload      map[string]any `json:"payload"`
	PublicKeyPEM string         `json:"public_key_pem"`
}

// VerifyDocument はドキュメントのハッシュ再計算と署名検証を行う。
func (h *CryptoHandler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	var req verifyDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	result, err := h.service.VerifyDocument(r.Context(), middleware.OwnerID(r.Context()), req.Document, req.Signature, req.Payload, req.PublicKeyPEM)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{
		"is_valid":                 result.IsValid,
		"document_integrity_valid": result.DocumentIntegrityValid,
		"signature_valid":          result.SignatureValid,
	})
}
