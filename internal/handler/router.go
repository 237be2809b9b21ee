package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crypto-key-service/config"
	"crypto-key-service/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(keyH *KeyHandler, cryptoH *CryptoHandler, auditH *AuditHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	if cfg != nil && cfg.OtelEnabled {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "crypto-key-service")
		})
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireOwner)

		r.Route("/keys", func(r chi.Router) {
			r.Post("/", keyH.CreateKey)
			r.Post("/generate", keyH.GenerateKey)
			r.Get("/", keyH.ListKeys)
			r.Get("/{id}", keyH.GetKey)
			r.Patch("/{id}", keyH.UpdateKey)
			r.Post("/{id}/revoke", keyH.RevokeKey)
			r.Delete("/{id}", keyH.DeleteKey)
			r.Get("/{id}/export", keyH.ExportKey)
		})

		r.Route("/crypto", func(r chi.Router) {
			r.Post("/encrypt", cryptoH.Encrypt)
			r.Post("/decrypt", cryptoH.Decrypt)
			r.Post("/hash", cryptoH.Hash)
			r.Post("/verify-integrity", cryptoH.VerifyIntegrity)
			r.Post("/generate-key", cryptoH.GenerateKeyMaterial)
			r.Post("/sign", cryptoH.Sign)
			r.Post("/verify", cryptoH.Verify)
			r.Post("/sign-document", cryptoH.SignDocument)
			r.Post("/verify-document", cryptoH.VerifyDocument)
		})

		r.Get("/audit", auditH.ListEvents)
	})

	return r
}
