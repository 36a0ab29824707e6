package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

const nonceBytes = 32 // 256 bits of randomness, hex encoded

// ChallengeService issues and consumes one-time signing challenges for
// API-key authentication.
type ChallengeService struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewChallengeService(db *gorm.DB, ttl time.Duration) *ChallengeService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ChallengeService{DB: db, TTL: ttl}
}

type IssuedChallenge struct {
	ChallengeID uuid.UUID `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Issue creates a fresh challenge for the active credential matching the
// fingerprint. Returns ErrCredentialNotFound for unknown fingerprints and
// ErrCredentialUnusable for inactive or expired ones; callers surface both
// identically.
func (s *ChallengeService) Issue(ctx context.Context, fingerprint string) (*IssuedChallenge, error) {
	var cred models.Credential
	if err := s.DB.WithContext(ctx).First(&cred, "fingerprint = ?", fingerprint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !cred.Usable() {
		return nil, ErrCredentialUnusable
	}

	nonce, err := utils.RandomHex(nonceBytes)
	if err != nil {
		return nil, err
	}

	challenge := models.Challenge{
		CredentialID: cred.ID,
		Nonce:        nonce,
		ExpiresAt:    time.Now().Add(s.TTL),
	}
	if err := s.DB.WithContext(ctx).Create(&challenge).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &IssuedChallenge{
		ChallengeID: challenge.ID,
		Nonce:       challenge.Nonce,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

type ConsumeResult struct {
	UserID       uuid.UUID
	CredentialID uuid.UUID
}

// Consume verifies the signature over a challenge's nonce and marks the
// challenge used. Consumption is a conditional update: of two concurrent
// calls on the same challenge exactly one wins, the other gets
// ErrAlreadyConsumed. A failed signature leaves the challenge unconsumed and
// only bumps the credential's failure counter.
func (s *ChallengeService) Consume(ctx context.Context, challengeID uuid.UUID, signature []byte) (*ConsumeResult, error) {
	var challenge models.Challenge
	if err := s.DB.WithContext(ctx).First(&challenge, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if challenge.ConsumedAt != nil {
		return nil, ErrAlreadyConsumed
	}
	if time.Now().After(challenge.ExpiresAt) {
		return nil, ErrChallengeExpired
	}

	var cred models.Credential
	if err := s.DB.WithContext(ctx).First(&cred, "id = ?", challenge.CredentialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialUnusable
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !cred.Usable() {
		return nil, ErrCredentialUnusable
	}

	publicKey := utils.DecryptOrPlaintext(cred.PublicKey)
	if !VerifySignature([]byte(publicKey), []byte(challenge.Nonce), signature) {
		now := time.Now()
		err := s.DB.WithContext(ctx).Model(&models.Credential{}).
			Where("id = ?", cred.ID).
			Updates(map[string]interface{}{
				"failed_count": gorm.Expr("failed_count + 1"),
				"last_failure": now,
			}).Error
		if err != nil {
			logger.Error("credential_failure_count_update_failed", err, map[string]interface{}{
				"credential_id": cred.ID.String(),
			})
		}
		return nil, ErrSignatureInvalid
	}

	now := time.Now()
	result := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND consumed_at IS NULL", challenge.ID).
		Update("consumed_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyConsumed
	}

	if err := s.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", cred.ID).
		Updates(map[string]interface{}{
			"failed_count": 0,
			"last_success": now,
		}).Error; err != nil {
		logger.Error("credential_success_update_failed", err, map[string]interface{}{
			"credential_id": cred.ID.String(),
		})
	}

	return &ConsumeResult{UserID: cred.UserID, CredentialID: cred.ID}, nil
}

// CleanupExpired removes challenges past expiry. Idempotent; safe to invoke
// concurrently.
func (s *ChallengeService) CleanupExpired(ctx context.Context) error {
	return s.DB.WithContext(ctx).Unscoped().
		Where("expires_at < ?", time.Now()).
		Delete(&models.Challenge{}).Error
}
