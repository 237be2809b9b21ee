package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"crypto-key-service/internal/domain"
	"crypto-key-service/pkg/httputil"
)

// AuditReader は監査イベント照会のインターフェース。
type AuditReader interface {
	FindRecent(ctx context.Context, limit int) ([]*domain.AuditEvent, error)
	FindByActor(ctx context.Context, actorID string, limit int) ([]*domain.AuditEvent, error)
}

// AuditHandler は監査ビューのHTTPハンドラを提供する。
type AuditHandler struct {
	reader AuditReader
}

// NewAuditHandler は新しいAuditHandlerを生成する。
func NewAuditHandler(reader AuditReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// AuditEventResponse は監査イベントのレスポンス形式。
type AuditEventResponse struct {
	ID         string         `json:"id"`
	ActorID    *string        `json:"actor_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

// ListEvents は監査イベントを新しい順で取得する。
// actorクエリパラメータで特定アクターに絞り込める。
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	actorID := r.URL.Query().Get("actor")

	var (
		events []*domain.AuditEvent
		err    error
	)
	if actorID != "" {
		events, err = h.reader.FindByActor(r.Context(), actorID, limit)
	} else {
		events, err = h.reader.FindRecent(r.Context(), limit)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]AuditEventResponse, len(events))
	for i, e := range events {
		response[i] = AuditEventResponse{
			ID:         e.ID,
			ActorID:    e.ActorID,
			Action:     e.Action,
			Resource:   string(e.Resource),
			ResourceID: e.ResourceID,
			Details:    e.Details,
			OccurredAt: e.OccurredAt.Format(time.RFC3339),
		}
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"events": response})
}
