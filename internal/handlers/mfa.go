package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/internal/services"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

type MFAHandler struct {
	DB      *gorm.DB
	Devices *services.DeviceTrustService
}

func NewMFAHandler(db *gorm.DB, devices *services.DeviceTrustService) *MFAHandler {
	return &MFAHandler{DB: db, Devices: devices}
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var mfaCfg models.MFAConfig
	hasMFA := h.DB.First(&mfaCfg, "user_id = ?", auth.User.ID).Error == nil

	totpEnabled := hasMFA && mfaCfg.TOTPEnabled

	var totpVerifiedAt *time.Time
	recoveryCount := 0
	if hasMFA {
		totpVerifiedAt = mfaCfg.TOTPVerifiedAt
		recoveryCount = mfaCfg.RecoveryCount
	}

	devices, err := h.Devices.List(c.Context(), auth.User.ID)
	if err != nil {
		devices = nil
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totpEnabled":            totpEnabled,
		"totpVerifiedAt":         totpVerifiedAt,
		"recoveryCodesRemaining": recoveryCount,
		"trustedDevices":         len(devices),
	})
}

func (h *MFAHandler) TOTPSetup(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var existing models.MFAConfig
	if err := h.DB.First(&existing, "user_id = ?", auth.User.ID).Error; err == nil && existing.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "ReelVault",
		AccountName: auth.User.Email,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate TOTP secret")
	}

	encryptedSecret, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to encrypt TOTP secret")
	}

	if existing.ID != uuid.Nil {
		if err := h.DB.Model(&existing).Updates(map[string]interface{}{
			"totp_secret":      encryptedSecret,
			"totp_enabled":     false,
			"totp_verified_at": nil,
		}).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to update TOTP config")
		}
	} else {
		mfaCfg := models.MFAConfig{
			UserID:     auth.User.ID,
			TOTPSecret: encryptedSecret,
		}
		if err := h.DB.Create(&mfaCfg).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to save TOTP config")
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": key.Secret(),
		"qrUri":  key.URL(),
	})
}

type verifyTOTPSetupRequest struct {
	Code string `json:"code"`
}

func (h *MFAHandler) TOTPVerifySetup(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyTOTPSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", auth.User.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "TOTP setup not started")
	}
	if mfaCfg.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	}

	totpSecret := utils.DecryptOrPlaintext(mfaCfg.TOTPSecret)
	if !totp.Validate(req.Code, totpSecret) {
		return utils.Error(c, fiber.StatusBadRequest, msgInvalidCode)
	}

	codes, hashedCodes, err := generateRecoveryCodes(10)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate recovery codes")
	}

	codesJSON, err := json.Marshal(hashedCodes)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to serialize recovery codes")
	}
	now := time.Now()
	if err := h.DB.Model(&mfaCfg).Updates(map[string]interface{}{
		"totp_enabled":     true,
		"totp_verified_at": now,
		"recovery_codes":   string(codesJSON),
		"recovery_count":   len(codes),
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to enable TOTP")
	}

	logger.Info("mfa_totp_enabled", map[string]interface{}{
		"user_id": auth.User.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"recoveryCodes": codes,
	})
}

type disableTOTPRequest struct {
	Password string `json:"password"`
}

// TOTPDisable turns the second factor off and revokes every trusted device:
// device trust only exists as a 2FA convenience.
func (h *MFAHandler) TOTPDisable(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req disableTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}

	if !utils.CheckPassword(req.Password, auth.User.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, msgInvalidCredentials)
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", auth.User.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "MFA is not configured")
	}

	if err := h.DB.Model(&mfaCfg).Updates(map[string]interface{}{
		"totp_enabled":     false,
		"totp_secret":      "",
		"totp_verified_at": nil,
		"recovery_codes":   "",
		"recovery_count":   0,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to disable TOTP")
	}

	if err := h.Devices.RevokeAll(c.Context(), auth.User.ID); err != nil {
		logger.Error("trusted_device_revoke_failed", err, map[string]interface{}{
			"user_id": auth.User.ID.String(),
		})
	}
	clearCookie(c, middleware.DeviceCookie, "/")

	logger.Info("mfa_totp_disabled", map[string]interface{}{
		"user_id": auth.User.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "TOTP disabled"})
}

type regenerateRecoveryRequest struct {
	Password string `json:"password"`
}

func (h *MFAHandler) RegenerateRecovery(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req regenerateRecoveryRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}
	if !utils.CheckPassword(req.Password, auth.User.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, msgInvalidCredentials)
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", auth.User.ID).Error; err != nil || !mfaCfg.TOTPEnabled {
		return utils.Error(c, fiber.StatusBadRequest, "MFA is not configured")
	}

	codes, hashedCodes, err := generateRecoveryCodes(10)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate recovery codes")
	}

	codesJSON, err := json.Marshal(hashedCodes)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to serialize recovery codes")
	}
	if err := h.DB.Model(&mfaCfg).Updates(map[string]interface{}{
		"recovery_codes": string(codesJSON),
		"recovery_count": len(codes),
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update recovery codes")
	}

	logger.Info("mfa_recovery_regenerated", map[string]interface{}{
		"user_id": auth.User.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"recoveryCodes": codes,
	})
}

func (h *MFAHandler) ListTrustedDevices(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	devices, err := h.Devices.List(c.Context(), auth.User.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list trusted devices")
	}

	return utils.Success(c, fiber.StatusOK, devices)
}

func (h *MFAHandler) RevokeTrustedDevice(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	deviceID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid device id")
	}

	if err := h.Devices.Revoke(c.Context(), auth.User.ID, deviceID); err != nil {
		return utils.Error(c, fiber.StatusNotFound, "trusted device not found")
	}

	logger.Info("trusted_device_revoked", map[string]interface{}{
		"user_id":   auth.User.ID.String(),
		"device_id": deviceID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "device revoked"})
}

func generateRecoveryCodes(count int) (plaintextCodes []string, hashedCodes []string, err error) {
	for i := 0; i < count; i++ {
		code, err := utils.RandomHex(8)
		if err != nil {
			return nil, nil, err
		}
		plaintextCodes = append(plaintextCodes, code)

		hashed, err := utils.HashPassword(code)
		if err != nil {
			return nil, nil, err
		}
		hashedCodes = append(hashedCodes, hashed)
	}
	return plaintextCodes, hashedCodes, nil
}

// verifySecondFactorCode accepts a current TOTP code or an unspent recovery
// code. A matching recovery code is consumed in the same write that accepts
// it.
func verifySecondFactorCode(db *gorm.DB, mfaCfg *models.MFAConfig, code string) bool {
	totpSecret := utils.DecryptOrPlaintext(mfaCfg.TOTPSecret)
	if totp.Validate(code, totpSecret) {
		return true
	}

	if mfaCfg.RecoveryCodes == "" {
		return false
	}

	var storedCodes []string
	if err := json.Unmarshal([]byte(mfaCfg.RecoveryCodes), &storedCodes); err != nil {
		return false
	}

	for i, hashed := range storedCodes {
		if utils.CheckPassword(code, hashed) {
			remaining := append(storedCodes[:i], storedCodes[i+1:]...)
			codesJSON, err := json.Marshal(remaining)
			if err != nil {
				return false
			}
			if err := db.Model(mfaCfg).Updates(map[string]interface{}{
				"recovery_codes": string(codesJSON),
				"recovery_count": len(remaining),
			}).Error; err != nil {
				logger.Error("recovery_code_consume_failed", err, map[string]interface{}{
					"user_id": mfaCfg.UserID.String(),
				})
				return false
			}
			return true
		}
	}
	return false
}
