// Package bridge defines the signed wire protocol between the monitor and
// the remote bridge endpoints, and the HTTP client that speaks it.
package bridge

import (
	"github.com/whalez0416/keepy/internal/schema"
)

// Actions dispatched on by the bridge endpoint.
const (
	ActionStatus         = "status"
	ActionTestConnection = "test_connection"
	ActionListBoards     = "list_boards"
	ActionFetchRecent    = "fetch_recent_posts"
	ActionDeletePost     = "delete_post"
)

// Fixed error vocabulary returned in Response.Error. Callers must be able
// to branch on these values, so they are never localized or rephrased.
const (
	ErrDBParamsMissing = "DB_PARAMS_MISSING"
	ErrNotFound        = "NOT_FOUND"
	ErrForbiddenTable  = "FORBIDDEN_TABLE"
	ErrBridgeError     = "BRIDGE_ERROR"
	ErrAuthFailed      = "AUTH_FAILED"
)

// Authentication headers carried by every non-status request.
const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderTimestamp = "X-TIMESTAMP"
	HeaderSignature = "X-SIGNATURE"
)

// TimeLayout is the datetime shape boards store and the shape since_date
// cursors are compared in. Cursors sent in any other layout would compare
// lexicographically against stored values and skip rows.
const TimeLayout = "2006-01-02 15:04:05"

// DBParams are remote database credentials supplied fresh in each signed
// request body. The bridge must never store them at rest.
type DBParams struct {
	Driver   string `json:"driver,omitempty"`
	Host     string `json:"host,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Request is the body of every bridge call.
type Request struct {
	Action string    `json:"action"`
	DB     *DBParams `json:"db,omitempty"`

	// fetch_recent_posts / delete_post
	Table     string `json:"table,omitempty"`
	SinceID   string `json:"since_id,omitempty"`
	SinceDate string `json:"since_date,omitempty"` // RFC 3339, UTC
	Limit     int    `json:"limit,omitempty"`
	PostID    string `json:"post_id,omitempty"`
}

// Response is the common envelope of every bridge reply. Success is always
// present; Error is drawn from the fixed vocabulary above.
type Response struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Trace   []string `json:"trace,omitempty"`

	// status
	Status   string `json:"status,omitempty"`
	Service  string `json:"service,omitempty"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database,omitempty"`

	// list_boards
	Boards []BoardMeta `json:"boards,omitempty"`

	// fetch_recent_posts
	Posts   []map[string]interface{} `json:"posts,omitempty"`
	Mapping map[schema.Role]string   `json:"mapping,omitempty"`

	// delete_post
	Deleted int `json:"deleted,omitempty"`
}

// BoardMeta describes one candidate board table.
type BoardMeta struct {
	Table        string `json:"table"`
	Count        int64  `json:"count"`
	LastActivity string `json:"last_activity,omitempty"`
}
