// Package scheduler drives recurring sweeps. On a fixed cadence it loads
// the active targets from storage, picks the ones whose interval has
// elapsed, and runs a health check plus board scan for each through a
// bounded worker pool. Targets never overlap with themselves and one
// target's failure never stops the rest of the sweep.
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/scanner"
	"github.com/whalez0416/keepy/internal/storage"
	"github.com/whalez0416/keepy/pkg/utils"
)

// Config holds scheduler configuration
type Config struct {
	TickInterval  time.Duration
	Workers       int64
	SweepTimeout  time.Duration
	HealthTimeout time.Duration
}

// DefaultConfig returns scheduler defaults
func DefaultConfig() *Config {
	return &Config{
		TickInterval:  60 * time.Second,
		Workers:       4,
		SweepTimeout:  45 * time.Second,
		HealthTimeout: 5 * time.Second,
	}
}

// Scheduler runs the periodic sweep loop.
type Scheduler struct {
	config  *Config
	storage storage.Storage
	scanner *scanner.Scanner
	client  *bridge.Client
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	cron       *cron.Cron
	sem        *semaphore.Weighted
	busy       sync.Map
	httpClient *http.Client

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a scheduler
func New(config *Config, store storage.Storage, scan *scanner.Scanner, client *bridge.Client, prom *metrics.PrometheusMetrics) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		config:  config,
		storage: store,
		scanner: scan,
		client:  client,
		metrics: prom,
		logger:  utils.GetLogger().WithField("component", "scheduler"),
		cron:    cron.New(),
		sem:     semaphore.NewWeighted(config.Workers),
		httpClient: &http.Client{
			Timeout: config.HealthTimeout,
		},
		now: time.Now,
	}
}

// Start begins the sweep loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running", "")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	spec := fmt.Sprintf("@every %s", s.config.TickInterval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(false) }); err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to schedule sweep", err.Error())
	}

	s.cron.Start()
	s.running = true
	s.logger.WithField("tick_interval", s.config.TickInterval.String()).Info("Scheduler started")
	return nil
}

// Stop halts the sweep loop and waits for in-flight sweeps
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceSweep runs one sweep of a single target immediately, ignoring its
// interval. Used by the manual trigger on the admin API.
func (s *Scheduler) ForceSweep(ctx context.Context, targetID string) error {
	target, err := s.storage.GetTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return utils.NewAppError(utils.ErrCodeNotFound, "Target not found", targetID)
	}
	if _, loaded := s.busy.LoadOrStore(target.ID, struct{}{}); loaded {
		return utils.NewAppError(utils.ErrCodeConflict, "Sweep already in progress for target", targetID)
	}
	defer s.busy.Delete(target.ID)

	s.sweep(ctx, target)
	return nil
}

// tick selects due targets and dispatches them to the worker pool.
func (s *Scheduler) tick(forced bool) {
	ctx := s.ctx
	active := true
	targets, err := s.storage.GetTargets(ctx, models.TargetFilter{Active: &active})
	if err != nil {
		s.logger.WithError(err).Error("Failed to load targets for sweep")
		return
	}

	if s.metrics != nil {
		s.metrics.UpdateTargetsMonitored(len(targets))
		unreachable := 0
		for _, target := range targets {
			if target.CurrentStatus == models.TargetStatusError {
				unreachable++
			}
		}
		s.metrics.UpdateTargetsUnreachable(unreachable)
	}

	now := s.now()
	for _, target := range targets {
		if !forced && !target.Due(now) {
			continue
		}
		s.dispatch(target)
	}
}

// dispatch hands one target to the pool, skipping it when a previous
// sweep of the same target is still in flight.
func (s *Scheduler) dispatch(target *models.Target) {
	if _, loaded := s.busy.LoadOrStore(target.ID, struct{}{}); loaded {
		if s.metrics != nil {
			s.metrics.RecordSweepSkipped()
		}
		return
	}

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.busy.Delete(target.ID)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSweepStarted()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.busy.Delete(target.ID)

		ctx, cancel := context.WithTimeout(s.ctx, s.config.SweepTimeout)
		defer cancel()
		s.sweep(ctx, target)
	}()
}

// sweep runs one full pass over a target: reachability first, then the
// board scan when the target is healthy and a board is linked. Status and
// last-checked are persisted whatever the outcome.
func (s *Scheduler) sweep(ctx context.Context, target *models.Target) {
	started := s.now()
	status := models.TargetStatusHealthy
	bridgeVersion := ""

	healthy := s.checkReachable(ctx, target)
	if !healthy {
		status = models.TargetStatusError
		s.recordUnreachable(ctx, target)
	} else {
		if target.CurrentStatus == models.TargetStatusError {
			s.recordRecovered(ctx, target)
		}

		if info, err := s.client.Status(ctx, target.BridgeURL()); err == nil {
			bridgeVersion = info.Version
		}

		if target.BoardTable != "" && target.OnboardingLevel >= models.OnboardingActivated {
			if _, err := s.scanner.Scan(ctx, target); err != nil {
				status = models.TargetStatusError
				s.logger.WithError(err).WithField("target_id", target.ID).Warn("Sweep scan failed")
			}
		}
	}

	if err := s.storage.UpdateTargetStatus(ctx, target.ID, status, bridgeVersion, s.now().UTC()); err != nil {
		s.logger.WithError(err).WithField("target_id", target.ID).Error("Failed to persist target status")
	}

	if s.metrics != nil {
		s.metrics.RecordSweep(target.ID, status, s.now().Sub(started))
	}
}

// checkReachable performs the plain HTTP health check against the
// target's public URL. Any 2xx counts as alive.
func (s *Scheduler) checkReachable(ctx context.Context, target *models.Target) bool {
	url := target.TargetURL
	if url == "" {
		url = "https://" + target.Domain
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// recordRecovered writes a health-check event when a target that was in
// error answers again, so outages have a visible end in the event feed.
func (s *Scheduler) recordRecovered(ctx context.Context, target *models.Target) {
	event := &models.AuditEvent{
		ID:        uuid.New().String(),
		TargetID:  target.ID,
		Kind:      models.EventHealthCheck,
		Message:   fmt.Sprintf("Target %s is answering its health check again", target.Domain),
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.SaveEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("target_id", target.ID).Warn("Failed to record recovery event")
	}
}

func (s *Scheduler) recordUnreachable(ctx context.Context, target *models.Target) {
	event := &models.AuditEvent{
		ID:        uuid.New().String(),
		TargetID:  target.ID,
		Kind:      models.EventTargetDown,
		Message:   fmt.Sprintf("Target %s did not answer its health check", target.Domain),
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.SaveEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("target_id", target.ID).Warn("Failed to record unreachable event")
	}
}
