package storage

import (
	"context"
	"time"

	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation, table, status, time.Since(start))
}

// SaveTarget saves a target and records metrics
func (s *StorageWithMetrics) SaveTarget(ctx context.Context, target *models.Target) error {
	start := time.Now()
	err := s.Storage.SaveTarget(ctx, target)
	s.record("upsert", "targets", err, start)
	return err
}

// UpdateTarget updates a target and records metrics
func (s *StorageWithMetrics) UpdateTarget(ctx context.Context, target *models.Target) error {
	start := time.Now()
	err := s.Storage.UpdateTarget(ctx, target)
	s.record("update", "targets", err, start)
	return err
}

// UpdateTargetStatus persists a sweep outcome and records metrics
func (s *StorageWithMetrics) UpdateTargetStatus(ctx context.Context, id, status, bridgeVersion string, checkedAt time.Time) error {
	start := time.Now()
	err := s.Storage.UpdateTargetStatus(ctx, id, status, bridgeVersion, checkedAt)
	s.record("update", "targets", err, start)
	return err
}

// AdvanceCheckpoint moves scan cursors forward and records metrics
func (s *StorageWithMetrics) AdvanceCheckpoint(ctx context.Context, id string, cp models.Checkpoint) error {
	start := time.Now()
	err := s.Storage.AdvanceCheckpoint(ctx, id, cp)
	s.record("update", "targets", err, start)
	return err
}

// SaveEvent saves an audit event and records metrics
func (s *StorageWithMetrics) SaveEvent(ctx context.Context, event *models.AuditEvent) error {
	start := time.Now()
	err := s.Storage.SaveEvent(ctx, event)
	s.record("insert", "monitoring_events", err, start)
	return err
}

// TransitionEventStatus transitions an event and records metrics
func (s *StorageWithMetrics) TransitionEventStatus(ctx context.Context, id, fromStatus, toStatus string, meta map[string]interface{}) error {
	start := time.Now()
	err := s.Storage.TransitionEventStatus(ctx, id, fromStatus, toStatus, meta)
	s.record("update", "monitoring_events", err, start)
	return err
}
