package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/pkg/utils"
)

// PostgresStorage implements Storage interface using PostgreSQL
type PostgresStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *StorageConfig) *PostgresStorage {
	return &PostgresStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (s *PostgresStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStorage) Migrate() error {
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
func (s *PostgresStorage) SaveTarget(ctx context.Context, target *models.Target) error {
	query := `
		INSERT INTO targets
		(id, name, domain, target_url, secret_key, board_table, checkpoint_id, checkpoint_date,
		 interval_minutes, active, current_status, bridge_version, onboarding_level,
		 last_checked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, domain = EXCLUDED.domain, target_url = EXCLUDED.target_url,
			secret_key = EXCLUDED.secret_key, board_table = EXCLUDED.board_table,
			interval_minutes = EXCLUDED.interval_minutes, active = EXCLUDED.active,
			onboarding_level = EXCLUDED.onboarding_level, updated_at = EXCLUDED.updated_at
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

// GetTarget retrieves a target by ID
func (s *PostgresStorage) GetTarget(ctx context.Context, id string) (*models.Target, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets WHERE id = $1", id)

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
func (s *PostgresStorage) GetTargets(ctx context.Context, filter models.TargetFilter) ([]*models.Target, error) {
	query := "SELECT " + targetColumns + " FROM targets"
	args := []interface{}{}
	argIndex := 1

	if filter.Active != nil {
		query += fmt.Sprintf(" WHERE active = $%d", argIndex)
		args = append(args, *filter.Active)
		argIndex++
	}

	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
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
func (s *PostgresStorage) UpdateTarget(ctx context.Context, target *models.Target) error {
	query := `
		UPDATE targets SET name = $1, domain = $2, target_url = $3, secret_key = $4,
			board_table = $5, interval_minutes = $6, active = $7, onboarding_level = $8,
			updated_at = $9
		WHERE id = $10
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
func (s *PostgresStorage) DeleteTarget(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM targets WHERE id = $1", id)
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
func (s *PostgresStorage) UpdateTargetStatus(ctx context.Context, id, status, bridgeVersion string, checkedAt time.Time) error {
	query := "UPDATE targets SET current_status = $1, last_checked_at = $2, updated_at = $3 WHERE id = $4"
	args := []interface{}{status, checkedAt, time.Now().UTC(), id}

	if bridgeVersion != "" {
		query = "UPDATE targets SET current_status = $1, bridge_version = $2, last_checked_at = $3, updated_at = $4 WHERE id = $5"
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

// AdvanceCheckpoint moves the scan cursors forward, never backward. Id
// cursors are decimal strings; comparing length before value orders them
// numerically without a cast.
func (s *PostgresStorage) AdvanceCheckpoint(ctx context.Context, id string, cp models.Checkpoint) error {
	query := `
		UPDATE targets SET checkpoint_id = $1, checkpoint_date = $2, updated_at = $3
		WHERE id = $4
			AND (checkpoint_date IS NULL OR $2::timestamptz IS NULL OR checkpoint_date <= $2)
			AND (checkpoint_id IS NULL OR checkpoint_id = '' OR $1 = ''
				OR length(checkpoint_id) < length($1)
				OR (length(checkpoint_id) = length($1) AND checkpoint_id <= $1))
	`

	result, err := s.db.ExecContext(ctx, query, cp.LastID, cp.LastDate, time.Now().UTC(), id)
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
func (s *PostgresStorage) SaveEvent(ctx context.Context, event *models.AuditEvent) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.TargetID, event.Kind, event.Message, event.Status,
		string(traceJSON), string(metaJSON), event.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}
	return nil
}

// GetEvent retrieves a single event by ID
func (s *PostgresStorage) GetEvent(ctx context.Context, id string) (*models.AuditEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM monitoring_events WHERE id = $1", id)

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
func (s *PostgresStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	query := "SELECT " + eventColumns + " FROM monitoring_events WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.TargetID != nil {
		query += fmt.Sprintf(" AND target_id = $%d", argIndex)
		args = append(args, *filter.TargetID)
		argIndex++
	}
	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIndex)
		args = append(args, *filter.Kind)
		argIndex++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
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
func (s *PostgresStorage) TransitionEventStatus(ctx context.Context, id, fromStatus, toStatus string, meta map[string]interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var currentStatus string
	var metaJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT status, meta FROM monitoring_events WHERE id = $1 FOR UPDATE", id).Scan(&currentStatus, &metaJSON)
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
		"UPDATE monitoring_events SET status = $1, meta = $2 WHERE id = $3 AND status = $4",
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
func (s *PostgresStorage) GetStats(ctx context.Context) (*StorageStats, error) {
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
		"SELECT COUNT(*) FROM monitoring_events WHERE kind = $1", models.EventSpamDetected).Scan(&stats.SpamDetected); err != nil {
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
func (s *PostgresStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "PostgreSQL",
		Healthy:     s.Ping() == nil,
		LastPing:    time.Now(),
	}
}
