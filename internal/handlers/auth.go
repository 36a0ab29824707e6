package handlers

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/internal/services"
	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

// Generic user-facing messages. Nothing here distinguishes "unknown account"
// from "wrong password" or "wrong code" from "spent backup code".
const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidCode        = "invalid code"
	msgTooManyAttempts    = "too many attempts, try again later"
	msgAccountLocked      = "account temporarily locked"
	msgUnavailable        = "service temporarily unavailable"
)

type AuthHandler struct {
	DB       *gorm.DB
	Sessions *session.Store
	Abuse    *services.AbuseGuard
	Devices  *services.DeviceTrustService
	Cfg      *config.Config
}

func NewAuthHandler(db *gorm.DB, sessions *session.Store, abuse *services.AbuseGuard, devices *services.DeviceTrustService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{DB: db, Sessions: sessions, Abuse: abuse, Devices: devices, Cfg: cfg}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}
	if req.FirstName == "" || req.LastName == "" {
		return utils.Error(c, fiber.StatusBadRequest, "firstName and lastName are required")
	}

	var existing models.User
	if err := h.DB.First(&existing, "email = ?", req.Email).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "email already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing user")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.UserRoleUser,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	logger.Info("user_registered", map[string]interface{}{
		"user_id":    user.ID.String(),
		"email":      user.Email,
		"request_id": getRequestID(c),
	})

	if err := h.issueWebSession(c, &user, false); err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"user": user})
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Remember bool   `json:"remember" form:"remember"`
}

// Login drives the attempt through abuse check, lockout check, password
// check, and an optional second factor. Every failed credential comparison
// is recorded before the response goes out, unless a valid trusted-device
// token covers the attempt.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	identifier := services.AccountIdentifier(req.Email)

	if err := h.Abuse.CheckAllowed(c.Context(), c.IP(), identifier); err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
		}
		logger.Warn("login_rate_limited", map[string]interface{}{
			"ip":    c.IP(),
			"scope": err.Error(),
		})
		return utils.Error(c, fiber.StatusTooManyRequests, msgTooManyAttempts)
	}

	var user models.User
	if err := h.DB.First(&user, "email = ?", req.Email).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
		}
		h.Abuse.RecordFailure(c.Context(), c.IP(), identifier, models.FailureKindCredential, nil)
		return utils.Error(c, fiber.StatusUnauthorized, msgInvalidCredentials)
	}

	if user.IsLockedOut() {
		logger.Warn("login_rejected_locked", map[string]interface{}{
			"user_id": user.ID.String(),
			"ip":      c.IP(),
		})
		return utils.Error(c, fiber.StatusLocked, msgAccountLocked)
	}

	trustedDevice := h.Devices.IsTrusted(c.Context(), user.ID, c.Cookies(middleware.DeviceCookie))

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		if !trustedDevice {
			h.Abuse.RecordFailure(c.Context(), c.IP(), identifier, models.FailureKindCredential, &user.ID)
		}
		logger.Warn("login_failed_invalid_password", map[string]interface{}{
			"user_id": user.ID.String(),
			"ip":      c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, msgInvalidCredentials)
	}

	var mfaCfg models.MFAConfig
	totpEnabled := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error == nil && mfaCfg.TOTPEnabled

	if totpEnabled && !trustedDevice {
		pendingID := user.ID
		sess := &session.WebSession{
			PendingUserID: &pendingID,
			IP:            c.IP(),
			UserAgent:     c.Get("User-Agent"),
			Remember:      req.Remember,
		}
		id, err := h.Sessions.CreateWeb(c.Context(), sess)
		if err != nil {
			return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
		}
		setWebSessionCookie(c, h.Cfg, id, false)

		logger.Info("login_second_factor_pending", map[string]interface{}{
			"user_id": user.ID.String(),
			"ip":      c.IP(),
		})
		return utils.Success(c, fiber.StatusOK, fiber.Map{"mfaRequired": true})
	}

	if err := h.issueWebSession(c, &user, req.Remember); err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}

	h.Abuse.ClearLockout(c.Context(), user.ID)

	logger.Info("user_login", map[string]interface{}{
		"user_id":        user.ID.String(),
		"ip":             c.IP(),
		"trusted_device": trustedDevice,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

// issueWebSession creates a fully-bound web session and sets the session and
// role-hint cookies. Nothing is visible to the client until every check has
// already passed.
func (h *AuthHandler) issueWebSession(c *fiber.Ctx, user *models.User, remember bool) error {
	csrfToken, err := utils.RandomHex(16)
	if err != nil {
		return err
	}

	userID := user.ID
	sess := &session.WebSession{
		UserID:    &userID,
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
		CSRFToken: csrfToken,
		Remember:  remember,
	}
	id, err := h.Sessions.CreateWeb(c.Context(), sess)
	if err != nil {
		return err
	}
	setWebSessionCookie(c, h.Cfg, id, remember)

	if hint, err := utils.GenerateRoleHint(user.ID, string(user.Role)); err == nil {
		setRoleHintCookie(c, h.Cfg, hint)
	}
	return nil
}

type secondFactorRequest struct {
	Code        string `json:"code"`
	TrustDevice bool   `json:"trustDevice"`
}

// CompleteSecondFactor consumes the pending state attached to the current
// not-yet-authenticated web session. A valid trusted-device token skips
// failure recording but never the code check itself.
func (h *AuthHandler) CompleteSecondFactor(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.WebSession == nil || auth.WebSession.PendingUserID == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	sess := auth.WebSession
	userID := *sess.PendingUserID

	var req secondFactorRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, msgInvalidCode)
	}

	identifier := services.AccountIdentifier(user.Email)
	if err := h.Abuse.CheckAllowed(c.Context(), c.IP(), identifier); err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
		}
		return utils.Error(c, fiber.StatusTooManyRequests, msgTooManyAttempts)
	}

	if user.IsLockedOut() {
		return utils.Error(c, fiber.StatusLocked, msgAccountLocked)
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", userID).Error; err != nil || !mfaCfg.TOTPEnabled {
		return utils.Error(c, fiber.StatusUnauthorized, msgInvalidCode)
	}

	trustedDevice := h.Devices.IsTrusted(c.Context(), userID, c.Cookies(middleware.DeviceCookie))

	if !verifySecondFactorCode(h.DB, &mfaCfg, req.Code) {
		if !trustedDevice {
			h.Abuse.RecordFailure(c.Context(), c.IP(), identifier, models.FailureKindSecondFactor, &userID)
		}
		logger.Warn("second_factor_failed", map[string]interface{}{
			"user_id": userID.String(),
			"ip":      c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, msgInvalidCode)
	}

	csrfToken, err := utils.RandomHex(16)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, msgUnavailable)
	}

	updated, err := h.Sessions.UpdateWeb(c.Context(), sess.ID, func(ws *session.WebSession) {
		ws.UserID = &userID
		ws.PendingUserID = nil
		ws.CSRFToken = csrfToken
	})
	if err != nil || updated == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}
	setWebSessionCookie(c, h.Cfg, sess.ID, sess.Remember)

	if hint, err := utils.GenerateRoleHint(user.ID, string(user.Role)); err == nil {
		setRoleHintCookie(c, h.Cfg, hint)
	}

	if req.TrustDevice {
		rawToken, err := h.Devices.Trust(c.Context(), userID, c.Get("User-Agent"))
		if err == nil {
			setDeviceCookie(c, h.Cfg, rawToken)
		} else {
			logger.Error("device_trust_failed", err, map[string]interface{}{
				"user_id": userID.String(),
			})
		}
	}

	h.Abuse.ClearLockout(c.Context(), userID)

	logger.Info("second_factor_completed", map[string]interface{}{
		"user_id":      userID.String(),
		"ip":           c.IP(),
		"trust_device": req.TrustDevice,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

// Logout reads the session cookie directly rather than going through the
// session middleware: a pending second-factor session has no bound user yet
// but its owner must still be able to abandon it.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	id := c.Cookies(middleware.WebSessionCookie)
	if id == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.Sessions.DestroyWeb(c.Context(), id); err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}

	clearCookie(c, middleware.WebSessionCookie, "/")
	clearCookie(c, middleware.RoleHintCookie, "/")

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, auth.User)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword re-verifies the current password and revokes every other
// web session afterwards.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	if !utils.CheckPassword(req.OldPassword, auth.User.PasswordHash) {
		return utils.Error(c, fiber.StatusUnauthorized, msgInvalidCredentials)
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	if err := h.DB.Model(&models.User{}).Where("id = ?", auth.User.ID).
		Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	if _, err := h.Sessions.RevokeOthers(c.Context(), auth.User.ID, auth.WebSession.ID); err != nil {
		logger.Error("session_revoke_after_password_change_failed", err, map[string]interface{}{
			"user_id": auth.User.ID.String(),
		})
	}

	logger.Info("password_changed", map[string]interface{}{
		"user_id": auth.User.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}

type sessionInfo struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
	CreatedAt string `json:"createdAt"`
	LastSeen  string `json:"lastSeen"`
	Current   bool   `json:"current"`
}

func (h *AuthHandler) ListSessions(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	sessions, err := h.Sessions.ListWeb(c.Context(), auth.User.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}

	infos := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo{
			ID:        s.ID,
			IP:        s.IP,
			UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			LastSeen:  s.LastSeen.UTC().Format("2006-01-02T15:04:05Z"),
			Current:   s.ID == auth.WebSession.ID,
		})
	}

	return utils.Success(c, fiber.StatusOK, infos)
}

// RevokeOtherSessions deletes every session of the caller except the one
// backing this request.
func (h *AuthHandler) RevokeOtherSessions(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	revoked, err := h.Sessions.RevokeOthers(c.Context(), auth.User.ID, auth.WebSession.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}

	logger.Info("sessions_revoked_others", map[string]interface{}{
		"user_id": auth.User.ID.String(),
		"count":   revoked,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"revoked": revoked})
}

func (h *AuthHandler) RevokeSession(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	target := strings.TrimSpace(c.Params("id"))
	if target == "" {
		return utils.Error(c, fiber.StatusBadRequest, "session id is required")
	}

	sessions, err := h.Sessions.ListWeb(c.Context(), auth.User.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}

	for _, s := range sessions {
		if s.ID == target {
			if err := h.Sessions.DestroyWeb(c.Context(), target); err != nil {
				return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
			}
			return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "session revoked"})
		}
	}

	return utils.Error(c, fiber.StatusNotFound, "session not found")
}
