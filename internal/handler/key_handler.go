// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crypto-key-service/internal/domain"
	"crypto-key-service/internal/middleware"
	"crypto-key-service/internal/usecase"
	"crypto-key-service/pkg/httputil"
)

// KeyHandler は鍵ライフサイクルのHTTPハンドラを提供する。
type KeyHandler struct {
	service *usecase.KeyService
}

// NewKeyHandler は新しいKeyHandlerを生成する。
func NewKeyHandler(service *usecase.KeyService) *KeyHandler {
	return &KeyHandler{service: service}
}

// writeDomainError はドメインエラーをHTTPレスポンスに変換する。
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, domain.ErrKeyNotFound):
		httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
	case errors.Is(err, domain.ErrKeyAlreadyRevoked):
		httputil.Error(w, http.StatusConflict, "KEY_ALREADY_REVOKED", "key is already revoked")
	case errors.Is(err, domain.ErrKeyRevoked):
		httputil.Error(w, http.StatusForbidden, "KEY_REVOKED", "operation is forbidden on a revoked key")
	case errors.Is(err, domain.ErrUnsupportedAlgorithm):
		httputil.Error(w, http.StatusUnprocessableEntity, "UNSUPPORTED_ALGORITHM", err.Error())
	case errors.Is(err, domain.ErrEncryption):
		httputil.Error(w, http.StatusUnprocessableEntity, "ENCRYPTION_FAILED", "encryption failed")
	case errors.Is(err, domain.ErrDecryption):
		httputil.Error(w, http.StatusUnprocessableEntity, "DECRYPTION_FAILED", "decryption failed")
	case errors.Is(err, domain.ErrKeyGeneration):
		httputil.Error(w, http.StatusUnprocessableEntity, "KEY_GENERATION_FAILED", "key generation failed")
	case errors.Is(err, domain.ErrSigning):
		httputil.Error(w, http.StatusUnprocessableEntity, "SIGNING_FAILED", "signing failed")
	case errors.Is(err, domain.ErrVerification):
		httputil.Error(w, http.StatusUnprocessableEntity, "VERIFICATION_FAILED", "verification failed")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// KeyMetadataResponse は鍵メタデータのレスポンス形式。
type KeyMetadataResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Algorithm   string `json:"algorithm"`
	KeySizeBits int    `json:"key_size_bits"`
	Status      string `json:"status"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toMetadataResponse(meta *domain.KeyMetadata) KeyMetadataResponse {
	resp := KeyMetadataResponse{
		ID:          meta.ID,
		Name:        meta.Name,
		Algorithm:   string(meta.Algorithm),
		KeySizeBits: meta.KeySizeBits,
		Status:      string(meta.Status),
		CreatedAt:   meta.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   meta.UpdatedAt.Format(time.RFC3339),
	}
	if meta.ExpiresAt != nil {
		resp.ExpiresAt = meta.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// KeyResponse は鍵素材を含むレスポンス形式。素材はbase64エンコードする。
type KeyResponse struct {
	KeyMetadataResponse
	Material       string `json:"material,omitempty"`
	PublicMaterial string `json:"public_material,omitempty"`
}

// KeyListResponse は鍵一覧のレスポンス形式。
type KeyListResponse struct {
	Keys []KeyMetadataResponse `json:"keys"`
}

// createKeyRequest は持ち込み素材による鍵作成のリクエスト形式。
type createKeyRequest struct {
	Name           string `json:"name"`
	Algorithm      string `json:"algorithm"`
	KeySizeBits    int    `json:"key_size_bits"`
	Material       string `json:"material"`        // base64
	PublicMaterial string `json:"public_material"` // base64
	ExpiresAt      string `json:"expires_at"`
}

func parseExpiresAt(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	return &t, nil
}

// CreateKey は持ち込み素材で鍵を作成する。
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	material, err := base64.StdEncoding.DecodeString(req.Material)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", "material must be base64 encoded")
		return
	}
	var publicMaterial []byte
	if req.PublicMaterial != "" {
		publicMaterial, err = base64.StdEncoding.DecodeString(req.PublicMaterial)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", "public_material must be base64 encoded")
			return
		}
	}
	expiresAt, err := parseExpiresAt(req.ExpiresAt)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", "expires_at must be RFC3339")
		return
	}

	meta, err := h.service.Create(r.Context(), middleware.OwnerID(r.Context()), usecase.CreateKeyInput{
		Name:           req.Name,
		Algorithm:      domain.KeyAlgorithm(req.Algorithm),
		KeySizeBits:    req.KeySizeBits,
		Material:       material,
		PublicMaterial: publicMaterial,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toMetadataResponse(meta))
}

// generateKeyRequest は鍵生成のリクエスト形式。
type generateKeyRequest struct {
	Name        string `json:"name"`
	Algorithm   string `json:"algorithm"`
	KeySizeBits int    `json:"key_size_bits"`
	ExpiresAt   string `json:"expires_at"`
}

// GenerateKey は新しい鍵素材を生成して鍵を作成する。
func (h *KeyHandler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	expiresAt, err := parseExpiresAt(req.ExpiresAt)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", "expires_at must be RFC3339")
		return
	}

	meta, err := h.service.Generate(r.Context(), middleware.OwnerID(r.Context()), usecase.GenerateKeyInput{
		Name:        req.Name,
		Algorithm:   domain.KeyAlgorithm(req.Algorithm),
		KeySizeBits: req.KeySizeBits,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toMetadataResponse(meta))
}

// ListKeys は鍵一覧を取得する。鍵素材は含まない。
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	metas, err := h.service.List(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := KeyListResponse{Keys: make([]KeyMetadataResponse, len(metas))}
	for i, m := range metas {
		response.Keys[i] = toMetadataResponse(m)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// GetKey は鍵を素材込みで取得する。
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.Get(r.Context(), middleware.OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := KeyResponse{
		KeyMetadataResponse: toMetadataResponse(&domain.KeyMetadata{
			ID:          key.ID,
			Name:        key.Name,
			Algorithm:   key.Algorithm,
			KeySizeBits: key.KeySizeBits,
			Status:      key.Status,
			ExpiresAt:   key.ExpiresAt,
			CreatedAt:   key.CreatedAt,
			UpdatedAt:   key.UpdatedAt,
		}),
		Material:       base64.StdEncoding.EncodeToString(key.Material),
		PublicMaterial: base64.StdEncoding.EncodeToString(key.PublicMaterial),
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// updateKeyRequest は鍵更新のリクエスト形式。省略したフィールドは変更しない。
type updateKeyRequest struct {
	Name      *string `json:"name"`
	ExpiresAt *string `json:"expires_at"`
}

// UpdateKey は鍵の名前と有効期限を更新する。
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	var req updateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	in := usecase.UpdateKeyInput{Name: req.Name}
	if req.ExpiresAt != nil {
		expiresAt, err := parseExpiresAt(*req.ExpiresAt)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", "expires_at must be RFC3339")
			return
		}
		in.ExpiresAt = expiresAt
	}

	meta, err := h.service.Update(r.Context(), middleware.OwnerID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toMetadataResponse(meta))
}

// RevokeKey は鍵を失効させる。
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	meta, err := h.service.Revoke(r.Context(), middleware.OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toMetadataResponse(meta))
}

// DeleteKey は鍵を物理削除する。
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.OwnerID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

// KeyExportResponse はエクスポートのレスポンス形式。
type KeyExportResponse struct {
	Name           string `json:"name"`
	Algorithm      string `json:"algorithm"`
	KeySizeBits    int    `json:"key_size_bits"`
	Material       string `json:"material"`
	PublicMaterial string `json:"public_material,omitempty"`
	ExportedAt     string `json:"exported_at"`
}

// ExportKey は鍵素材をエクスポートする。失効済み鍵は403で拒否する。
func (h *KeyHandler) ExportKey(w http.ResponseWriter, r *http.Request) {
	export, err := h.service.Export(r.Context(), middleware.OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, KeyExportResponse{
		Name:           export.Name,
		Algorithm:      string(export.Algorithm),
		KeySizeBits:    export.KeySizeBits,
		Material:       base64.StdEncoding.EncodeToString(export.Material),
		PublicMaterial: base64.StdEncoding.EncodeToString(export.PublicMaterial),
		ExportedAt:     export.ExportedAt.Format(time.RFC3339),
	})
}
