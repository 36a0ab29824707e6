package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

// DeviceTrustService records devices that passed the second factor so later
// logins can skip it for a bounded period. Tokens follow the API-token
// pattern: the raw value is returned exactly once, only its sha256 hash is
// stored.
type DeviceTrustService struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewDeviceTrustService(db *gorm.DB, ttl time.Duration) *DeviceTrustService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &DeviceTrustService{DB: db, TTL: ttl}
}

func hashDeviceToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Trust stores a new trusted device and returns the raw token for the client
// cookie. The token is not retrievable again.
func (s *DeviceTrustService) Trust(ctx context.Context, userID uuid.UUID, name string) (string, error) {
	random, err := utils.RandomHex(24)
	if err != nil {
		return "", err
	}
	rawToken := "rvd_" + random

	device := models.TrustedDevice{
		UserID:    userID,
		TokenHash: hashDeviceToken(rawToken),
		Name:      name,
		ExpiresAt: time.Now().Add(s.TTL),
	}
	if err := s.DB.WithContext(ctx).Create(&device).Error; err != nil {
		return "", err
	}

	return rawToken, nil
}

// IsTrusted reports whether rawToken matches a non-expired trusted device of
// the user. Unknown tokens and store errors both report false; trust is an
// optimization, never a grant.
func (s *DeviceTrustService) IsTrusted(ctx context.Context, userID uuid.UUID, rawToken string) bool {
	if rawToken == "" {
		return false
	}

	var device models.TrustedDevice
	err := s.DB.WithContext(ctx).
		First(&device, "user_id = ? AND token_hash = ? AND expires_at > ?",
			userID, hashDeviceToken(rawToken), time.Now()).Error
	return err == nil
}

// List returns the user's non-expired trusted devices.
func (s *DeviceTrustService) List(ctx context.Context, userID uuid.UUID) ([]models.TrustedDevice, error) {
	var devices []models.TrustedDevice
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&devices).Error
	return devices, err
}

// Revoke deletes a single trusted device owned by the user.
func (s *DeviceTrustService) Revoke(ctx context.Context, userID, deviceID uuid.UUID) error {
	result := s.DB.WithContext(ctx).Unscoped().
		Where("id = ? AND user_id = ?", deviceID, userID).
		Delete(&models.TrustedDevice{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("trusted device not found")
	}
	return nil
}

// RevokeAll deletes every trusted device of the user. Called when the second
// factor is disabled or sessions are revoked across devices.
func (s *DeviceTrustService) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return s.DB.WithContext(ctx).Unscoped().
		Where("user_id = ?", userID).
		Delete(&models.TrustedDevice{}).Error
}

// CleanupExpired removes trusted devices past expiry.
func (s *DeviceTrustService) CleanupExpired(ctx context.Context) error {
	return s.DB.WithContext(ctx).Unscoped().
		Where("expires_at < ?", time.Now()).
		Delete(&models.TrustedDevice{}).Error
}
