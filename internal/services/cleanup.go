package services

import (
	"context"
	"time"

	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
)

// CleanupService periodically garbage-collects expired challenges, stale
// failure records, expired trusted devices, and dangling session index
// entries. It runs outside the request path and every sweep is idempotent.
type CleanupService struct {
	Challenges *ChallengeService
	Abuse      *AbuseGuard
	Devices    *DeviceTrustService
	Sessions   *session.Store
	Interval   time.Duration
	Retention  time.Duration
}

func NewCleanupService(challenges *ChallengeService, abuse *AbuseGuard, devices *DeviceTrustService, sessions *session.Store, interval, retention time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CleanupService{
		Challenges: challenges,
		Abuse:      abuse,
		Devices:    devices,
		Sessions:   sessions,
		Interval:   interval,
		Retention:  retention,
	}
}

// Start launches the sweep loop. It stops when ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce executes a single sweep. Errors are logged, never fatal.
func (s *CleanupService) RunOnce(ctx context.Context) {
	if err := s.Challenges.CleanupExpired(ctx); err != nil {
		logger.Error("cleanup_challenges_failed", err, nil)
	}
	if err := s.Abuse.CleanupStale(ctx, s.Retention); err != nil {
		logger.Error("cleanup_failures_failed", err, nil)
	}
	if err := s.Devices.CleanupExpired(ctx); err != nil {
		logger.Error("cleanup_devices_failed", err, nil)
	}
	if err := s.Sessions.CleanupIndexes(ctx); err != nil {
		logger.Error("cleanup_session_indexes_failed", err, nil)
	}
}
