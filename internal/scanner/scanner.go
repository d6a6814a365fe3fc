// Package scanner implements the windowed incremental scan over a target's
// linked board. Each pass fetches rows past the stored checkpoint, judges
// them, records detections, and advances the checkpoint. Cursors move
// forward only; a failed fetch leaves them untouched.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/detector"
	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/schema"
	"github.com/whalez0416/keepy/internal/storage"
	"github.com/whalez0416/keepy/pkg/utils"
)

// LookbackMax caps how far back a scan will reach when a target has been
// offline. Without the clamp a long outage would turn the next scan into a
// full-table sweep.
const LookbackMax = 7 * 24 * time.Hour

// Config holds scanner configuration
type Config struct {
	BatchSize   int
	LookbackMax time.Duration
}

// DefaultConfig returns scanner defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:   100,
		LookbackMax: LookbackMax,
	}
}

// Result summarizes one scan pass over a target.
type Result struct {
	Scanned    int               `json:"scanned"`
	Detected   int               `json:"detected"`
	Advanced   bool              `json:"advanced"`
	Checkpoint models.Checkpoint `json:"checkpoint"`
}

// Scanner runs windowed scans against remote boards through the bridge.
type Scanner struct {
	config   *Config
	storage  storage.Storage
	client   *bridge.Client
	detector *detector.Detector
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry
	now      func() time.Time
}

// New creates a scanner
func New(config *Config, store storage.Storage, client *bridge.Client, det *detector.Detector, prom *metrics.PrometheusMetrics) *Scanner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scanner{
		config:   config,
		storage:  store,
		client:   client,
		detector: det,
		metrics:  prom,
		logger:   utils.GetLogger().WithField("component", "scanner"),
		now:      time.Now,
	}
}

// Scan performs one incremental pass over the target's linked board. The
// checkpoint advances only after every returned row has been judged and all
// detections persisted; any failure before that point leaves the cursors
// exactly where they were.
func (s *Scanner) Scan(ctx context.Context, target *models.Target) (*Result, error) {
	if target.BoardTable == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Target has no linked board", target.ID)
	}

	started := s.now()
	since := s.effectiveSince(target)

	resp, err := s.client.FetchRecentPosts(ctx, target.BridgeURL(), target.SecretKey, nil,
		target.BoardTable, target.CheckpointID, since.UTC().Format(bridge.TimeLayout), s.config.BatchSize)
	if err != nil {
		s.recordFailure(ctx, target, models.EventTargetDown,
			fmt.Sprintf("Fetch from board %s failed: %v", target.BoardTable, err), nil)
		return nil, err
	}
	if !resp.Success {
		kind := models.EventDiscoveryFailed
		if resp.Error == bridge.ErrForbiddenTable || resp.Error == bridge.ErrNotFound {
			kind = models.EventMappingFailed
		}
		s.recordFailure(ctx, target, kind,
			fmt.Sprintf("Bridge rejected fetch from board %s: %s", target.BoardTable, resp.Error), resp.Trace)
		return nil, utils.NewAppError(utils.ErrCodeBridge, "Bridge rejected fetch", resp.Error)
	}

	result := &Result{
		Checkpoint: models.Checkpoint{LastID: target.CheckpointID, LastDate: target.CheckpointDate},
	}
	if len(resp.Posts) == 0 {
		s.observe(target, result, started)
		return result, nil
	}

	if resp.Mapping == nil || resp.Mapping[schema.RoleID] == "" {
		s.recordFailure(ctx, target, models.EventMappingFailed,
			fmt.Sprintf("No usable column mapping for board %s", target.BoardTable), resp.Trace)
		return nil, utils.NewAppError(utils.ErrCodeBridge, "No usable column mapping", target.BoardTable)
	}

	cursor := result.Checkpoint
	for _, row := range resp.Posts {
		post := normalize(row, resp.Mapping)
		if post.ID == "" {
			continue
		}
		result.Scanned++

		judgment := s.detector.Judge(post)
		if judgment.IsSpam {
			if err := s.recordDetection(ctx, target, post, judgment); err != nil {
				// Stop before advancing past a detection we could not record.
				return result, err
			}
			result.Detected++
			if s.metrics != nil {
				s.metrics.RecordSpamDetected(target.ID)
			}
		}

		cursor.LastID = post.ID
		if post.Date != nil && (cursor.LastDate == nil || post.Date.After(*cursor.LastDate)) {
			d := post.Date.UTC()
			cursor.LastDate = &d
		}
	}

	if result.Scanned > 0 {
		if err := s.storage.AdvanceCheckpoint(ctx, target.ID, cursor); err != nil {
			return result, err
		}
		result.Advanced = true
		result.Checkpoint = cursor
		if s.metrics != nil {
			s.metrics.RecordCheckpointAdvance()
		}
	}

	s.observe(target, result, started)
	s.logger.WithFields(logrus.Fields{
		"target_id": target.ID,
		"board":     target.BoardTable,
		"scanned":   result.Scanned,
		"detected":  result.Detected,
	}).Debug("Scan pass completed")

	return result, nil
}

// effectiveSince clamps the date cursor to the look-back window.
func (s *Scanner) effectiveSince(target *models.Target) time.Time {
	floor := s.now().UTC().Add(-s.config.LookbackMax)
	if target.CheckpointDate == nil || target.CheckpointDate.Before(floor) {
		return floor
	}
	return target.CheckpointDate.UTC()
}

func (s *Scanner) observe(target *models.Target, result *Result, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordPostsScanned(target.ID, result.Scanned)
	s.metrics.RecordScanDuration(target.ID, s.now().Sub(started))
}

// recordDetection persists a spam-detected audit event in the initial
// detected status.
func (s *Scanner) recordDetection(ctx context.Context, target *models.Target, post *models.Post, judgment models.Judgment) error {
	event := &models.AuditEvent{
		ID:       uuid.New().String(),
		TargetID: target.ID,
		Kind:     models.EventSpamDetected,
		Message:  fmt.Sprintf("Spam detected on %s (post %s): %s", target.BoardTable, post.ID, detector.Describe(judgment)),
		Status:   models.StatusDetected,
		Meta: map[string]interface{}{
			models.MetaRemotePostID: post.ID,
			models.MetaBoardTable:   target.BoardTable,
			models.MetaScore:        judgment.Score,
			models.MetaReasons:      judgment.Reasons,
		},
		CreatedAt: s.now().UTC(),
	}
	return s.storage.SaveEvent(ctx, event)
}

// recordFailure persists a scan failure event. Failure events carry no
// status and never transition.
func (s *Scanner) recordFailure(ctx context.Context, target *models.Target, kind, message string, trace []string) {
	event := &models.AuditEvent{
		ID:        uuid.New().String(),
		TargetID:  target.ID,
		Kind:      kind,
		Message:   message,
		Trace:     trace,
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.SaveEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("target_id", target.ID).Warn("Failed to record scan failure event")
	}
}

// normalize projects a raw bridge row onto a Post using the resolved
// column mapping. Values arrive as generic JSON, so everything is
// stringified before use.
func normalize(row map[string]interface{}, mapping map[schema.Role]string) *models.Post {
	post := &models.Post{
		ID:      stringField(row, mapping[schema.RoleID]),
		Subject: stringField(row, mapping[schema.RoleSubject]),
		Content: stringField(row, mapping[schema.RoleContent]),
		Phone:   stringField(row, mapping[schema.RolePhone]),
	}
	if raw := stringField(row, mapping[schema.RoleDate]); raw != "" {
		if t, ok := parseDate(raw); ok {
			post.Date = &t
		}
	}
	return post
}

func stringField(row map[string]interface{}, column string) string {
	if column == "" {
		return ""
	}
	v, ok := row[column]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; row ids are integral.
		return fmt.Sprintf("%.0f", val)
	default:
		return fmt.Sprint(val)
	}
}

// parseDate accepts the datetime shapes boards actually store.
func parseDate(raw string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
