package models

import "time"

// Audit event kinds recorded by the monitoring core.
const (
	EventSpamDetected    = "SPAM_DETECTED"
	EventTargetDown      = "TARGET_UNREACHABLE"
	EventMappingFailed   = "MAPPING_FAILED"
	EventDiscoveryFailed = "DISCOVERY_FAILED"
	EventHealthCheck     = "HEALTH_CHECK"
)

// Status transitions for spam-detected events. A detection starts in
// StatusDetected; a later authorized deletion moves it to StatusDeleted or
// StatusDeleteFailed. Events are never deleted automatically.
const (
	StatusDetected     = "detected"
	StatusDeleted      = "deleted"
	StatusDeleteFailed = "delete_failed"
)

// AuditEvent is the durable record of a detection or failure during a scan.
// Only the status field and deletion metadata are ever mutated after
// creation.
type AuditEvent struct {
	ID        string                 `json:"id" db:"id"`
	TargetID  string                 `json:"target_id" db:"target_id"`
	Kind      string                 `json:"kind" db:"kind"`
	Message   string                 `json:"message" db:"message"`
	Status    string                 `json:"status" db:"status"`
	Trace     []string               `json:"trace,omitempty" db:"trace"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Meta keys used on spam-detected events.
const (
	MetaRemotePostID = "remote_post_id"
	MetaBoardTable   = "board_table"
	MetaScore        = "score"
	MetaReasons      = "reasons"
	MetaActedBy      = "acted_by"
	MetaActedAt      = "acted_at"
	MetaDeleteError  = "delete_error"
)

// RemotePostID returns the remote row id recorded on a spam-detected
// event, or empty if absent.
func (e *AuditEvent) RemotePostID() string {
	if e.Meta == nil {
		return ""
	}
	if v, ok := e.Meta[MetaRemotePostID].(string); ok {
		return v
	}
	return ""
}

// BoardTable returns the board table recorded on the event, or empty.
func (e *AuditEvent) BoardTable() string {
	if e.Meta == nil {
		return ""
	}
	if v, ok := e.Meta[MetaBoardTable].(string); ok {
		return v
	}
	return ""
}

// EventFilter for querying audit events
type EventFilter struct {
	TargetID *string `json:"target_id,omitempty"`
	Kind     *string `json:"kind,omitempty"`
	Status   *string `json:"status,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}
