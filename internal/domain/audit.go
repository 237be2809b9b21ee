package domain

import "time"

// AuditResource は監査イベントの対象リソース種別を表す。
type AuditResource string

const (
	// AuditResourceKey は鍵ライフサイクル操作を表す。
	AuditResourceKey AuditResource = "key"
	// AuditResourceCrypto は暗号化・復号・ハッシュ操作を表す。
	AuditResourceCrypto AuditResource = "crypto"
	// AuditResourceSignature は署名・検証操作を表す。
	AuditResourceSignature AuditResource = "signature"
)

// AuditEvent は監査イベントを表す。追記専用で、鍵素材や平文は決して含めない。
// ActorID はシステム起因のイベントではnilになる。
type AuditEvent struct {
	ID         string
	ActorID    *string
	Action     string
	Resource   AuditResource
	ResourceID string
	Details    map[string]any
	OccurredAt time.Time
}
