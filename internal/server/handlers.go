// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/moderation"
	"github.com/whalez0416/keepy/pkg/utils"
)

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"components": map[string]interface{}{
			"storage":   s.storage.GetHealth(),
			"scheduler": s.scheduler.IsRunning(),
		},
	}
	if s.metricsManager != nil {
		health["uptime"] = s.metricsManager.Uptime().String()
		health["reported"] = s.metricsManager.ComponentHealth()
	}

	s.writeJSON(w, http.StatusOK, health)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"storage":         storageStats,
		"scheduler":       map[string]interface{}{"running": s.scheduler.IsRunning()},
		"metrics_enabled": s.config.EnableMetrics,
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Target Handlers

type createTargetRequest struct {
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	TargetURL       string `json:"target_url"`
	IntervalMinutes int    `json:"interval_minutes"`
}

type updateTargetRequest struct {
	Name            *string `json:"name,omitempty"`
	TargetURL       *string `json:"target_url,omitempty"`
	IntervalMinutes *int    `json:"interval_minutes,omitempty"`
	Active          *bool   `json:"active,omitempty"`
}

// listTargetsHandler lists registered targets
func (s *HTTPServer) listTargetsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.TargetFilter{Limit: 100}

	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		filter.Active = &active
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	targets, err := s.storage.GetTargets(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"targets": targets,
		"count":   len(targets),
	})
}

// createTargetHandler registers a new target. The generated bridge secret
// is included in this response and never returned again.
func (s *HTTPServer) createTargetHandler(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.Domain == "" {
		s.writeError(w, http.StatusBadRequest, "Name and domain are required", nil)
		return
	}
	if req.IntervalMinutes == 0 {
		req.IntervalMinutes = 5
	}
	if req.IntervalMinutes < 1 || req.IntervalMinutes > 10 {
		s.writeError(w, http.StatusBadRequest, "Interval must be between 1 and 10 minutes", nil)
		return
	}

	secret, err := utils.GenerateSecret()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to generate secret", err)
		return
	}

	now := time.Now().UTC()
	target := &models.Target{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Domain:          req.Domain,
		TargetURL:       req.TargetURL,
		SecretKey:       secret,
		IntervalMinutes: req.IntervalMinutes,
		Active:          false,
		CurrentStatus:   models.TargetStatusUnknown,
		OnboardingLevel: models.OnboardingNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.storage.SaveTarget(r.Context(), target); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"target_id": target.ID,
		"domain":    target.Domain,
		"secret":    utils.RedactSecret(secret),
	}).Info("Target registered")

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"target": target,
		// Shown once. The monitor keeps it; the caller installs it on
		// the remote bridge.
		"secret_key": secret,
	})
}

// getTargetHandler returns a single target
func (s *HTTPServer) getTargetHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, target)
}

// updateTargetHandler updates mutable target fields
func (s *HTTPServer) updateTargetHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}

	var req updateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Name != nil {
		target.Name = *req.Name
	}
	if req.TargetURL != nil {
		target.TargetURL = *req.TargetURL
	}
	if req.IntervalMinutes != nil {
		if *req.IntervalMinutes < 1 || *req.IntervalMinutes > 10 {
			s.writeError(w, http.StatusBadRequest, "Interval must be between 1 and 10 minutes", nil)
			return
		}
		target.IntervalMinutes = *req.IntervalMinutes
	}
	if req.Active != nil {
		target.Active = *req.Active
	}

	if err := s.storage.UpdateTarget(r.Context(), target); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, target)
}

// removeTargetHandler deletes a target and its events
func (s *HTTPServer) removeTargetHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.storage.DeleteTarget(r.Context(), id); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Target removed",
		"id":      id,
	})
}

// rotateSecretHandler issues a fresh bridge secret for a target. The new
// value appears in this response only; the old secret stops working as
// soon as the remote bridge is updated.
func (s *HTTPServer) rotateSecretHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}

	secret, err := utils.GenerateSecret()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to generate secret", err)
		return
	}

	target.SecretKey = secret
	if err := s.storage.UpdateTarget(r.Context(), target); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"target_id": target.ID,
		"secret":    utils.RedactSecret(secret),
	}).Info("Bridge secret rotated")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"target_id":  target.ID,
		"secret_key": secret,
	})
}

// Onboarding Handlers

// pingTargetHandler verifies the bridge answers its status action and
// records the observed version.
func (s *HTTPServer) pingTargetHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}

	info, err := s.bridgeClient.Status(r.Context(), target.BridgeURL())
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	target.BridgeVersion = info.Version
	if target.OnboardingLevel < models.OnboardingPinged {
		target.OnboardingLevel = models.OnboardingPinged
	}
	if err := s.storage.UpdateTarget(r.Context(), target); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.storage.UpdateTargetStatus(r.Context(), target.ID,
		models.TargetStatusHealthy, info.Version, time.Now().UTC()); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bridge":           info,
		"onboarding_level": target.OnboardingLevel,
	})
}

// discoverBoardsHandler asks the bridge for candidate board tables.
func (s *HTTPServer) discoverBoardsHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}

	resp, err := s.bridgeClient.ListBoards(r.Context(), target.BridgeURL(), target.SecretKey, nil)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if !resp.Success {
		s.recordDiscoveryFailure(r, target, resp)
		s.writeError(w, http.StatusBadGateway, "Board discovery failed", nil)
		return
	}

	if target.OnboardingLevel < models.OnboardingDiscover {
		target.OnboardingLevel = models.OnboardingDiscover
		if err := s.storage.UpdateTarget(r.Context(), target); err != nil {
			s.writeAppError(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"boards":           resp.Boards,
		"onboarding_level": target.OnboardingLevel,
	})
}

type linkBoardRequest struct {
	BoardTable string `json:"board_table"`
}

// linkBoardHandler binds a discovered board to the target and activates
// monitoring.
func (s *HTTPServer) linkBoardHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}

	var req linkBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BoardTable == "" {
		s.writeError(w, http.StatusBadRequest, "board_table is required", nil)
		return
	}

	target.BoardTable = req.BoardTable
	target.Active = true
	target.OnboardingLevel = models.OnboardingActivated
	if err := s.storage.UpdateTarget(r.Context(), target); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, target)
}

// Sweep Handlers

// forceSweepHandler triggers an immediate sweep regardless of interval
func (s *HTTPServer) forceSweepHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.scheduler.ForceSweep(r.Context(), id); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Sweep completed",
		"target_id": id,
	})
}

// Event Handlers

// listEventsHandler lists recent audit events
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.EventFilter{Limit: 100}

	if v := r.URL.Query().Get("target_id"); v != "" {
		filter.TargetID = &v
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		filter.Kind = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// getEventHandler returns a single audit event
func (s *HTTPServer) getEventHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := s.storage.GetEvent(r.Context(), id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if event == nil {
		s.writeError(w, http.StatusNotFound, "Event not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

type deletePostRequest struct {
	ActorID   string   `json:"actor_id"`
	ActorRole string   `json:"actor_role"`
	Grants    []string `json:"grants,omitempty"`
}

// deletePostHandler requests remote deletion of the post behind a
// spam-detected event
func (s *HTTPServer) deletePostHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req deletePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" || req.ActorRole == "" {
		s.writeError(w, http.StatusBadRequest, "actor_id and actor_role are required", nil)
		return
	}

	actor := moderation.Actor{
		ID:     req.ActorID,
		Role:   req.ActorRole,
		Grants: make(map[string]bool, len(req.Grants)),
	}
	for _, g := range req.Grants {
		actor.Grants[g] = true
	}

	event, err := s.moderation.DeletePost(r.Context(), id, actor)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

// Helpers

// loadTarget resolves {id} to a stored target, writing the error response
// itself when that fails.
func (s *HTTPServer) loadTarget(w http.ResponseWriter, r *http.Request) (*models.Target, bool) {
	id := mux.Vars(r)["id"]

	target, err := s.storage.GetTarget(r.Context(), id)
	if err != nil {
		s.writeAppError(w, err)
		return nil, false
	}
	if target == nil {
		s.writeError(w, http.StatusNotFound, "Target not found", nil)
		return nil, false
	}
	return target, true
}

func (s *HTTPServer) recordDiscoveryFailure(r *http.Request, target *models.Target, resp *bridge.Response) {
	event := &models.AuditEvent{
		ID:        uuid.New().String(),
		TargetID:  target.ID,
		Kind:      models.EventDiscoveryFailed,
		Message:   "Board discovery failed: " + resp.Error,
		Trace:     resp.Trace,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.SaveEvent(r.Context(), event); err != nil {
		s.logger.WithError(err).WithField("target_id", target.ID).Warn("Failed to record discovery failure")
	}
}
