// Package moderation implements the authorized deletion workflow for
// detected spam posts. Permission is checked before any bridge traffic,
// and every outcome is recorded on the originating audit event.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/storage"
	"github.com/whalez0416/keepy/pkg/utils"
)

// Actor roles permitted to request deletions.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// Actor identifies who requested a deletion. Owners act only on targets
// they hold an explicit grant for; admins act on any target.
type Actor struct {
	ID     string          `json:"id"`
	Role   string          `json:"role"`
	Grants map[string]bool `json:"-"`
}

// Authorized reports whether the actor may delete posts on the target.
func (a Actor) Authorized(targetID string) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleOwner:
		return a.Grants[targetID]
	default:
		return false
	}
}

// Service executes remote deletions and drives the event status machine.
type Service struct {
	storage storage.Storage
	client  *bridge.Client
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
	now     func() time.Time
}

// NewService creates a moderation service
func NewService(store storage.Storage, client *bridge.Client, prom *metrics.PrometheusMetrics) *Service {
	return &Service{
		storage: store,
		client:  client,
		metrics: prom,
		logger:  utils.GetLogger().WithField("component", "moderation"),
		now:     time.Now,
	}
}

// DeletePost removes the remote post behind a spam-detected event and
// transitions the event to deleted or delete_failed. A repeated request
// for an event that already left the detected status is a conflict, never
// a second remote deletion. A NOT_FOUND from the bridge means the post is
// already gone and counts as resolved.
func (s *Service) DeletePost(ctx context.Context, eventID string, actor Actor) (*models.AuditEvent, error) {
	event, err := s.storage.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Event not found", eventID)
	}
	if event.Kind != models.EventSpamDetected {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Event is not a spam detection", event.Kind)
	}
	if event.Status != models.StatusDetected {
		return nil, utils.NewAppError(utils.ErrCodeConflict,
			fmt.Sprintf("Event already resolved with status %s", event.Status), eventID)
	}

	if !actor.Authorized(event.TargetID) {
		s.logger.WithFields(logrus.Fields{
			"actor_id":  actor.ID,
			"event_id":  eventID,
			"target_id": event.TargetID,
		}).Warn("Unauthorized deletion attempt")
		return nil, utils.NewAppError(utils.ErrCodeForbidden, "Actor is not authorized for this target", actor.ID)
	}

	target, err := s.storage.GetTarget(ctx, event.TargetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Target not found", event.TargetID)
	}

	table := event.BoardTable()
	postID := event.RemotePostID()
	if table == "" || postID == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Event has no remote post reference", eventID)
	}

	resp, err := s.client.DeletePost(ctx, target.BridgeURL(), target.SecretKey, nil, table, postID)
	if err != nil {
		return s.resolve(ctx, event, target, actor, models.StatusDeleteFailed, err.Error())
	}
	if !resp.Success && resp.Error != bridge.ErrNotFound {
		return s.resolve(ctx, event, target, actor, models.StatusDeleteFailed, resp.Error)
	}

	return s.resolve(ctx, event, target, actor, models.StatusDeleted, "")
}

// resolve transitions the event and returns its updated form.
func (s *Service) resolve(ctx context.Context, event *models.AuditEvent, target *models.Target, actor Actor, toStatus, deleteError string) (*models.AuditEvent, error) {
	meta := map[string]interface{}{
		models.MetaActedBy: actor.ID,
		models.MetaActedAt: s.now().UTC().Format(time.RFC3339),
	}
	if deleteError != "" {
		meta[models.MetaDeleteError] = deleteError
	}

	if err := s.storage.TransitionEventStatus(ctx, event.ID, models.StatusDetected, toStatus, meta); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDeletion(target.ID, toStatus)
	}

	updated, err := s.storage.GetEvent(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if toStatus == models.StatusDeleteFailed {
		return updated, utils.NewAppError(utils.ErrCodeBridge, "Remote deletion failed", deleteError)
	}
	return updated, nil
}
