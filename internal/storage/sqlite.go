package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// SaveTarget saves a target
func (s *SQLiteStorage) SaveTarget(ctx context.Context, target *models.Target) error {
	query := `
		INSERT OR REPLACE INTO targets
		(id, name, domain, target_url, secret_key, board_table, checkpoint_id, checkpoint_date,
		 interval_minutes, active, current_status, bridge_version, onboarding_level,
		 last_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		target.ID, target.Name, target.Domain, target.TargetURL, target.SecretKey,
		target.BoardTable, target.CheckpointID, target.CheckpointDate,
		target.IntervalMinutes, target.Active, target.CurrentStatus, target.BridgeVersion,
		target.OnboardingLevel, target.LastCheckedAt, target.CreatedAt, target.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save target", err.Error())
	}
	return nil
}

const targetColumns = `id, name, domain, target_url, secret_key, board_table, checkpoint_id,
	checkpoint_date, interval_minutes, active, current_status, bridge_version,
	onboarding_level, last_checked_at, created_at, updated_at`

func scanTarget(row interface{ Scan(...interface{}) error }) (*models.Target, error) {
	var target models.Target
	var checkpointDate, lastChecked sql.NullTime

	err := row.Scan(&target.ID, &target.Name, &target.Domain, &target.TargetURL,
		&target.SecretKey, &target.BoardTable, &target.CheckpointID, &checkpointDate,
		&target.IntervalMinutes, &target.Active, &target.CurrentStatus, &target.BridgeVersion,
		&target.OnboardingLevel, &lastChecked, &target.CreatedAt, &target.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if checkpointDate.Valid {
		target.CheckpointDate = &checkpointDate.Time
	}
	if lastChecked.Valid {
		target.LastCheckedAt = &lastChecked.Time
	}
	return &target, nil
}

// GetTarget retrieves a target by ID
func (s *SQLiteStorage) GetTarget(ctx context.Context, id string) (*models.Target, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets WHERE id = ?", id)

	target, err := scanTarget(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get target", err.Error())
	}
	return target, nil
}

// GetTargets retrieves targets matching the filter
func (s *SQLiteStorage) GetTargets(ctx context.Context, filter models.TargetFilter) ([]*models.Target, error) {
	query := "SELECT " + targetColumns + " FROM targets"
	args := []interface{}{}

	if filter.Active != nil {
		query += " WHERE active = ?"
		args = append(args, *filter.Active)
	}

	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query targets", err.Error())
	}
	defer rows.Close()

	var targets []*models.Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan target", err.Error())
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// UpdateTarget updates an existing target
func (s *SQLiteStorage) UpdateTarget(ctx context.Context, target *models.Target) error {
	query := `
		UPDATE targets SET name = ?, domain = ?, target_url = ?, secret_key = ?,
			board_table = ?, interval_minutes = ?, active = ?, onboarding_level = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		target.Name, target.Domain, target.TargetURL, target.SecretKey,
		target.BoardTable, target.IntervalMinutes, target.Active, target.OnboardingLevel,
		time.Now().UTC(), target.ID)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update target", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Target not found", target.ID)
	}
	return nil
}

// DeleteTarget deletes a target by ID
func (s *SQLiteStorage) DeleteTarget(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM targets WHERE id = ?", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete target", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Target not found", id)
	}
	return nil
}

// UpdateTargetStatus persists the health outcome of a sweep pass
func (s *SQLiteStorage) UpdateTargetStatus(ctx context.Context, id, status, bridgeVersion string, checkedAt time.Time) error {
	query := "UPDATE targets SET current_status = ?, last_checked_at = ?, updated_at = ? WHERE id = ?"
	args := []interface{}{status, checkedAt, time.Now().UTC(), id}

	if bridgeVersion != "" {
		query = "UPDATE targets SET current_status = ?, bridge_version = ?, last_checked_at = ?, updated_at = ? WHERE id = ?"
		args = []interface{}{status, bridgeVersion, checkedAt, time.Now().UTC(), id}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update target status", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Target not found", id)
	}
	return nil
}

// AdvanceCheckpoint moves the scan cursors forward. The guards keep a
// concurrent or replayed write from regressing either cursor. Id cursors
// are decimal strings; comparing length before value orders them
// numerically without a cast.
func (s *SQLiteStorage) AdvanceCheckpoint(ctx context.Context, id string, cp models.Checkpoint) error {
	query := `
		UPDATE targets SET checkpoint_id = ?, checkpoint_date = ?, updated_at = ?
		WHERE id = ?
			AND (checkpoint_date IS NULL OR ? IS NULL OR checkpoint_date <= ?)
			AND (checkpoint_id IS NULL OR checkpoint_id = '' OR ? = ''
				OR length(checkpoint_id) < length(?)
				OR (length(checkpoint_id) = length(?) AND checkpoint_id <= ?))
	`

	result, err := s.db.ExecContext(ctx, query,
		cp.LastID, cp.LastDate, time.Now().UTC(), id,
		cp.LastDate, cp.LastDate,
		cp.LastID, cp.LastID, cp.LastID, cp.LastID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to advance checkpoint", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeConflict, "Checkpoint advance rejected", id)
	}
	return nil
}

// SaveEvent saves an audit event
func (s *SQLiteStorage) SaveEvent(ctx context.Context, event *models.AuditEvent) error {
	traceJSON, err := json.Marshal(event.Trace)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event trace", err.Error())
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event meta", err.Error())
	}

	query := `
		INSERT INTO monitoring_events (id, target_id, kind, message, status, trace, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.TargetID, event.Kind, event.Message, event.Status,
		string(traceJSON), string(metaJSON), event.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}
	return nil
}

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.AuditEvent, error) {
	var event models.AuditEvent
	var traceJSON, metaJSON sql.NullString

	err := row.Scan(&event.ID, &event.TargetID, &event.Kind, &event.Message,
		&event.Status, &traceJSON, &metaJSON, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	if traceJSON.Valid && traceJSON.String != "" && traceJSON.String != "null" {
		if err := json.Unmarshal([]byte(traceJSON.String), &event.Trace); err != nil {
			return nil, err
		}
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &event.Meta); err != nil {
			return nil, err
		}
	}
	return &event, nil
}

const eventColumns = "id, target_id, kind, message, status, trace, meta, created_at"

// GetEvent retrieves a single event by ID
func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.AuditEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM monitoring_events WHERE id = ?", id)

	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}
	return event, nil
}

// GetEvents retrieves events based on filter
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	query := "SELECT " + eventColumns + " FROM monitoring_events WHERE 1=1"
	args := []interface{}{}

	if filter.TargetID != nil {
		query += " AND target_id = ?"
		args = append(args, *filter.TargetID)
	}
	if filter.Kind != nil {
		query += " AND kind = ?"
		args = append(args, *filter.Kind)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query events", err.Error())
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
		}
		events = append(events, event)
	}
	return events, nil
}

// TransitionEventStatus performs a guarded status transition in one
// transaction, merging the supplied metadata into the stored object.
func (s *SQLiteStorage) TransitionEventStatus(ctx context.Context, id, fromStatus, toStatus string, meta map[string]interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var currentStatus string
	var metaJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT status, meta FROM monitoring_events WHERE id = ?", id).Scan(&currentStatus, &metaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return utils.NewAppError(utils.ErrCodeNotFound, "Event not found", id)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to load event", err.Error())
	}

	if currentStatus != fromStatus {
		return utils.NewAppError(utils.ErrCodeConflict,
			fmt.Sprintf("Event is %s, expected %s", currentStatus, fromStatus), id)
	}

	merged := map[string]interface{}{}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &merged); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal event meta", err.Error())
		}
	}
	for k, v := range meta {
		merged[k] = v
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event meta", err.Error())
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE monitoring_events SET status = ?, meta = ? WHERE id = ? AND status = ?",
		toStatus, string(mergedJSON), id, fromStatus)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event status", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeConflict, "Event status changed concurrently", id)
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return nil
}

// GetStats returns storage statistics
func (s *SQLiteStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM targets").Scan(&stats.TotalTargets); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count targets", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM targets WHERE active = TRUE").Scan(&stats.ActiveTargets); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count active targets", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM monitoring_events").Scan(&stats.TotalEvents); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM monitoring_events WHERE kind = ?", models.EventSpamDetected).Scan(&stats.SpamDetected); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count detections", err.Error())
	}

	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(created_at), MAX(created_at) FROM monitoring_events").Scan(&oldest, &newest)
	if err == nil {
		if oldest.Valid {
			stats.OldestEvent = &oldest.Time
		}
		if newest.Valid {
			stats.NewestEvent = &newest.Time
		}
	}

	return stats, nil
}

// GetHealth returns storage health information
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "SQLite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"connection_string": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}
