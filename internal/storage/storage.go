package storage

import (
	"context"
	"time"

	"github.com/whalez0416/keepy/internal/models"
)

// Storage defines the interface for monitor persistence. The scheduler
// reads the authoritative target list from here on every tick rather than
// trusting an in-process cache, so checkpoints survive restarts.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Target operations
	SaveTarget(ctx context.Context, target *models.Target) error
	GetTarget(ctx context.Context, id string) (*models.Target, error)
	GetTargets(ctx context.Context, filter models.TargetFilter) ([]*models.Target, error)
	UpdateTarget(ctx context.Context, target *models.Target) error
	DeleteTarget(ctx context.Context, id string) error

	// UpdateTargetStatus persists the health outcome of one sweep pass
	// regardless of whether a scan followed it.
	UpdateTargetStatus(ctx context.Context, id, status, bridgeVersion string, checkedAt time.Time) error

	// AdvanceCheckpoint moves a target's scan cursors forward atomically.
	// It must never regress either cursor; callers only invoke it after a
	// batch was fully processed.
	AdvanceCheckpoint(ctx context.Context, id string, cp models.Checkpoint) error

	// Audit event operations
	SaveEvent(ctx context.Context, event *models.AuditEvent) error
	GetEvent(ctx context.Context, id string) (*models.AuditEvent, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error)

	// TransitionEventStatus performs the detected -> deleted/delete_failed
	// state change, merging extra metadata. It fails with a conflict when
	// the event is not currently in fromStatus, so a second deletion
	// attempt is rejected rather than silently repeated.
	TransitionEventStatus(ctx context.Context, id, fromStatus, toStatus string, meta map[string]interface{}) error

	// Statistics and monitoring
	GetStats(ctx context.Context) (*StorageStats, error)
	GetHealth() *StorageHealth
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalTargets  int64      `json:"total_targets"`
	ActiveTargets int64      `json:"active_targets"`
	TotalEvents   int64      `json:"total_events"`
	SpamDetected  int64      `json:"spam_detected"`
	OldestEvent   *time.Time `json:"oldest_event,omitempty"`
	NewestEvent   *time.Time `json:"newest_event,omitempty"`
}

// StorageHealth provides storage health information
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"` // sqlite, postgres
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
