package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/internal/services"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

const maxCredentialsPerUser = 25

var errDuplicateFingerprint = errors.New("fingerprint already registered")

type CredentialsHandler struct {
	DB *gorm.DB
}

func NewCredentialsHandler(db *gorm.DB) *CredentialsHandler {
	return &CredentialsHandler{DB: db}
}

type createCredentialRequest struct {
	PublicKey string  `json:"publicKey"`
	Label     string  `json:"label"`
	ExpiresIn *string `json:"expiresIn"` // "30d", "90d", "365d", "never"
	Activate  bool    `json:"activate"`
}

// Create registers a client public key. The PEM is validated and
// fingerprinted before storage; the stored material is encrypted at rest.
func (h *CredentialsHandler) Create(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.PublicKey == "" {
		return utils.Error(c, fiber.StatusBadRequest, "publicKey is required")
	}
	if len(req.Label) > 255 {
		return utils.Error(c, fiber.StatusBadRequest, "label must be 255 characters or less")
	}

	if _, err := services.ParsePublicKey([]byte(req.PublicKey)); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "unsupported or malformed public key")
	}

	fingerprint, err := services.FingerprintPublicKey([]byte(req.PublicKey))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "unsupported or malformed public key")
	}

	var count int64
	if err := h.DB.Model(&models.Credential{}).
		Where("user_id = ?", auth.User.ID).Count(&count).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking credentials")
	}
	if count >= maxCredentialsPerUser {
		return utils.Error(c, fiber.StatusBadRequest, "maximum number of credentials reached")
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil && *req.ExpiresIn != "never" {
		var dur time.Duration
		switch *req.ExpiresIn {
		case "30d":
			dur = 30 * 24 * time.Hour
		case "90d":
			dur = 90 * 24 * time.Hour
		case "365d":
			dur = 365 * 24 * time.Hour
		default:
			return utils.Error(c, fiber.StatusBadRequest, "expiresIn must be 30d, 90d, 365d, or never")
		}
		t := time.Now().Add(dur)
		expiresAt = &t
	}

	encryptedKey, err := utils.EncryptAESGCM(req.PublicKey)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to store public key")
	}

	credential := models.Credential{
		UserID:      auth.User.ID,
		PublicKey:   encryptedKey,
		Fingerprint: fingerprint,
		Label:       strings.TrimSpace(req.Label),
		Active:      req.Activate,
		ExpiresAt:   expiresAt,
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Credential{}).
			Where("fingerprint = ?", fingerprint).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errDuplicateFingerprint
		}
		if req.Activate {
			// Exactly one credential per user may be active.
			if err := tx.Model(&models.Credential{}).
				Where("user_id = ?", auth.User.ID).
				Update("active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&credential).Error
	})
	if err != nil {
		if errors.Is(err, errDuplicateFingerprint) {
			return utils.Error(c, fiber.StatusConflict, "credential already registered")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating credential")
	}

	logger.Info("credential_registered", map[string]interface{}{
		"user_id":       auth.User.ID.String(),
		"credential_id": credential.ID.String(),
		"fingerprint":   fingerprint,
		"request_id":    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, credential)
}

func (h *CredentialsHandler) List(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)

	baseQuery := h.DB.Model(&models.Credential{}).Where("user_id = ?", auth.User.ID)

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to count credentials")
	}

	var credentials []models.Credential
	if err := utils.ApplyPagination(baseQuery.Order("created_at DESC"), p).Find(&credentials).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list credentials")
	}

	return utils.Paginated(c, credentials, p.Page, p.Limit, total)
}

type updateCredentialRequest struct {
	Label *string `json:"label"`
}

func (h *CredentialsHandler) Update(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	credentialID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid credential id")
	}

	var req updateCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Label == nil {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}
	if len(*req.Label) > 255 {
		return utils.Error(c, fiber.StatusBadRequest, "label must be 255 characters or less")
	}

	result := h.DB.Model(&models.Credential{}).
		Where("id = ? AND user_id = ?", credentialID, auth.User.ID).
		Update("label", strings.TrimSpace(*req.Label))
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating credential")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "credential not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "credential updated"})
}

// Activate marks the credential as the user's active signing key and
// deactivates the rest.
func (h *CredentialsHandler) Activate(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	credentialID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid credential id")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Credential{}).
			Where("id = ? AND user_id = ?", credentialID, auth.User.ID).
			Update("active", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&models.Credential{}).
			Where("user_id = ? AND id != ?", auth.User.ID, credentialID).
			Update("active", false).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "credential not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed activating credential")
	}

	logger.Info("credential_activated", map[string]interface{}{
		"user_id":       auth.User.ID.String(),
		"credential_id": credentialID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "credential activated"})
}

func (h *CredentialsHandler) Revoke(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	credentialID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid credential id")
	}

	result := h.DB.Unscoped().
		Where("id = ? AND user_id = ?", credentialID, auth.User.ID).
		Delete(&models.Credential{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking credential")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "credential not found")
	}

	logger.Info("credential_revoked", map[string]interface{}{
		"user_id":       auth.User.ID.String(),
		"credential_id": credentialID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "credential revoked"})
}
