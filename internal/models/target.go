package models

import (
	"strings"
	"time"
)

// Target status values reported by the health check pass.
const (
	TargetStatusUnknown = "unknown"
	TargetStatusHealthy = "healthy"
	TargetStatusError   = "error"
)

// Onboarding levels a target moves through before active monitoring.
const (
	OnboardingNone      = 0 // registered, bridge never seen
	OnboardingPinged    = 1 // bridge status verified
	OnboardingDiscover  = 2 // board candidates listed
	OnboardingActivated = 3 // board linked, monitoring enabled
)

// Target represents one remote site under observation. The secret key is
// per-target and must never appear in logs or API responses.
type Target struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Domain    string `json:"domain" db:"domain"`
	TargetURL string `json:"target_url" db:"target_url"`
	SecretKey string `json:"-" db:"secret_key"`

	// BoardTable is empty until the operator links a board during onboarding.
	BoardTable string `json:"board_table,omitempty" db:"board_table"`

	// CheckpointID and CheckpointDate mark how far the board has been
	// scanned. They only ever move forward; see Scanner.
	CheckpointID   string     `json:"checkpoint_id,omitempty" db:"checkpoint_id"`
	CheckpointDate *time.Time `json:"checkpoint_date,omitempty" db:"checkpoint_date"`

	// IntervalMinutes is the per-target monitoring cadence (1-10).
	IntervalMinutes int `json:"interval_minutes" db:"interval_minutes"`

	Active          bool       `json:"active" db:"active"`
	CurrentStatus   string     `json:"current_status" db:"current_status"`
	BridgeVersion   string     `json:"bridge_version,omitempty" db:"bridge_version"`
	OnboardingLevel int        `json:"onboarding_level" db:"onboarding_level"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty" db:"last_checked_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// BridgeURL returns the bridge endpoint for this target's domain. A
// domain that already carries a scheme is used as-is, which covers local
// and plain-HTTP deployments.
func (t *Target) BridgeURL() string {
	if strings.Contains(t.Domain, "://") {
		return strings.TrimSuffix(t.Domain, "/") + "/keepy_bridge.php"
	}
	return "https://" + t.Domain + "/keepy_bridge.php"
}

// Due reports whether the target's monitoring interval has elapsed since
// the previous check. A target that has never been checked is always due.
func (t *Target) Due(now time.Time) bool {
	if t.LastCheckedAt == nil {
		return true
	}
	interval := time.Duration(t.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	return now.Sub(*t.LastCheckedAt) >= interval
}

// Checkpoint is the (id, date) cursor pair for a windowed scan.
type Checkpoint struct {
	LastID   string     `json:"last_id"`
	LastDate *time.Time `json:"last_date,omitempty"`
}

// TargetFilter for querying targets
type TargetFilter struct {
	Active *bool `json:"active,omitempty"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}
