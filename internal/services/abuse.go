package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/pkg/logger"
	"gorm.io/gorm"
)

// AbuseGuard throttles brute-force attempts with two distinct tiers: a soft
// sliding-window rate limit (per IP and per account) and a harder timed
// account lockout at a higher escalation threshold.
type AbuseGuard struct {
	DB               *gorm.DB
	Window           time.Duration
	IPThreshold      int
	AccountThreshold int
	LockoutThreshold int
	LockoutDuration  time.Duration
}

func NewAbuseGuard(db *gorm.DB, cfg config.AuthConfig) *AbuseGuard {
	return &AbuseGuard{
		DB:               db,
		Window:           cfg.FailureWindow,
		IPThreshold:      cfg.IPThreshold,
		AccountThreshold: cfg.AccountThreshold,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration,
	}
}

// AccountIdentifier derives the stable per-account key failure records are
// aggregated under. Raw addresses are never stored.
func AccountIdentifier(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CheckAllowed runs before any password or signature comparison. It denies
// when either the IP or the account has reached its window threshold. Store
// failures deny as well: authentication decisions fail closed.
func (g *AbuseGuard) CheckAllowed(ctx context.Context, ip, identifier string) error {
	since := time.Now().Add(-g.Window)

	var ipCount int64
	if err := g.DB.WithContext(ctx).Model(&models.LoginFailure{}).
		Where("ip = ? AND created_at > ?", ip, since).
		Count(&ipCount).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ipCount >= int64(g.IPThreshold) {
		return ErrRateLimitedIP
	}

	if identifier != "" {
		var accountCount int64
		if err := g.DB.WithContext(ctx).Model(&models.LoginFailure{}).
			Where("identifier = ? AND created_at > ?", identifier, since).
			Count(&accountCount).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if accountCount >= int64(g.AccountThreshold) {
			return ErrRateLimitedAccount
		}
	}

	return nil
}

// RecordFailure appends a failure record and, when the account's window count
// reaches the escalation threshold, sets a timed lockout on the user.
// Recording is telemetry and therefore best-effort: a store error is logged
// but never turns into a success for the caller.
func (g *AbuseGuard) RecordFailure(ctx context.Context, ip, identifier string, kind models.FailureKind, userID *uuid.UUID) {
	record := models.LoginFailure{
		IP:         ip,
		Identifier: identifier,
		Kind:       kind,
	}
	if err := g.DB.WithContext(ctx).Create(&record).Error; err != nil {
		logger.Error("login_failure_record_failed", err, map[string]interface{}{
			"ip":   ip,
			"kind": string(kind),
		})
		return
	}

	if identifier == "" || userID == nil {
		return
	}

	since := time.Now().Add(-g.Window)
	var count int64
	if err := g.DB.WithContext(ctx).Model(&models.LoginFailure{}).
		Where("identifier = ? AND created_at > ?", identifier, since).
		Count(&count).Error; err != nil {
		logger.Error("login_failure_count_failed", err, nil)
		return
	}

	if count < int64(g.LockoutThreshold) {
		return
	}

	lockedUntil := time.Now().Add(g.LockoutDuration)
	if err := g.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", *userID).
		Update("locked_until", lockedUntil).Error; err != nil {
		logger.Error("account_lockout_failed", err, map[string]interface{}{
			"user_id": userID.String(),
		})
		return
	}

	logger.Warn("account_locked", map[string]interface{}{
		"user_id":      userID.String(),
		"locked_until": lockedUntil,
		"failures":     count,
	})
}

// IsLockedOut reports whether the user is manually locked or inside a timed
// lockout. Checked before credential comparison on every attempt.
func (g *AbuseGuard) IsLockedOut(user *models.User) bool {
	return user.IsLockedOut()
}

// ClearLockout removes an expired or served timed lockout after a successful
// login. The manual locked flag is admin-only and untouched.
func (g *AbuseGuard) ClearLockout(ctx context.Context, userID uuid.UUID) {
	if err := g.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("locked_until", nil).Error; err != nil {
		logger.Error("lockout_clear_failed", err, map[string]interface{}{
			"user_id": userID.String(),
		})
	}
}

// CleanupStale drops failure records older than the retention period.
func (g *AbuseGuard) CleanupStale(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	return g.DB.WithContext(ctx).Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&models.LoginFailure{}).Error
}
