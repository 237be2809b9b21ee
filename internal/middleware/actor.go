// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"crypto-key-service/pkg/httputil"
)

// OwnerIDHeader は認証済みコラボレータが設定する所有者IDのヘッダー名。
// 認証自体はこのサービスの責務ではない。
const OwnerIDHeader = "X-Owner-ID"

type contextKey string

const ownerIDKey contextKey = "owner_id"

var ownerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// RequireOwner は所有者IDヘッダーを検証し、リクエストコンテキストに格納する。
// ヘッダーが欠落または不正な場合は401を返す。
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(OwnerIDHeader)
		if !ownerIDRegex.MatchString(ownerID) {
			httputil.Error(w, http.StatusUnauthorized, "MISSING_OWNER_ID", "valid X-Owner-ID header is required")
			return
		}
		ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerID はコンテキストから所有者IDを取り出す。
func OwnerID(ctx context.Context) string {
	ownerID, _ := ctx.Value(ownerIDKey).(string)
	return ownerID
}
