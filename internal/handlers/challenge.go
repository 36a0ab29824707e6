package handlers

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/services"
	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
)

type ChallengeHandler struct {
	Challenges *services.ChallengeService
	Sessions   *session.Store
	Cfg        *config.Config
}

func NewChallengeHandler(challenges *services.ChallengeService, sessions *session.Store, cfg *config.Config) *ChallengeHandler {
	return &ChallengeHandler{Challenges: challenges, Sessions: sessions, Cfg: cfg}
}

type requestChallengeBody struct {
	Fingerprint string `json:"fingerprint"`
}

// RequestChallenge issues a one-time nonce for the credential matching the
// fingerprint. Unknown and unusable credentials answer identically.
func (h *ChallengeHandler) RequestChallenge(c *fiber.Ctx) error {
	var req requestChallengeBody
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	fingerprint := strings.ToLower(strings.TrimSpace(req.Fingerprint))
	if fingerprint == "" {
		return utils.Error(c, fiber.StatusBadRequest, "fingerprint is required")
	}

	issued, err := h.Challenges.Issue(c.Context(), fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrStoreUnavailable):
			return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
		case errors.Is(err, services.ErrCredentialNotFound),
			errors.Is(err, services.ErrCredentialUnusable):
			return utils.Error(c, fiber.StatusNotFound, "no matching credential")
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "failed issuing challenge")
		}
	}

	return utils.Success(c, fiber.StatusOK, issued)
}

type verifyChallengeBody struct {
	ChallengeID string `json:"challengeId"`
	Signature   string `json:"signature"`
}

// VerifyChallenge consumes a challenge with a client signature and mints an
// API session on success. All verification failures collapse into one
// generic response.
func (h *ChallengeHandler) VerifyChallenge(c *fiber.Ctx) error {
	var req verifyChallengeBody
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	challengeID, err := parseUUID(req.ChallengeID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid challenge id")
	}

	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || len(signature) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "invalid signature encoding")
	}

	result, err := h.Challenges.Consume(c.Context(), challengeID, signature)
	if err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
		}
		logger.Warn("challenge_verify_failed", map[string]interface{}{
			"ip":     c.IP(),
			"reason": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired challenge")
	}

	sessionID, err := h.Sessions.CreateAPI(c.Context(), result.UserID, result.CredentialID)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, msgUnavailable)
	}
	setAPISessionCookie(c, h.Cfg, sessionID)

	logger.Info("api_session_issued", map[string]interface{}{
		"user_id":       result.UserID.String(),
		"credential_id": result.CredentialID.String(),
		"ip":            c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"ok": true})
}

// APIMe is the programmatic counterpart of /auth/me: the narrow "who is the
// caller, at what role" read the catalog layer consumes.
func APIMe(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	if auth == nil || auth.User == nil || auth.APISession == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user":         auth.User,
		"credentialId": auth.APISession.CredentialID,
		"expiresAt":    auth.APISession.ExpiresAt,
	})
}
