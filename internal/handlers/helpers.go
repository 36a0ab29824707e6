package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/internal/middleware"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

// The web session cookie covers the whole site; the API session cookie is
// scoped to the programmatic prefix so the two can never be presented on the
// wrong surface.
func setWebSessionCookie(c *fiber.Ctx, cfg *config.Config, id string, remember bool) {
	cookie := &fiber.Cookie{
		Name:     middleware.WebSessionCookie,
		Value:    id,
		Path:     "/",
		HTTPOnly: true,
		Secure:   cfg.Server.Production,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if remember {
		cookie.Expires = time.Now().Add(cfg.Auth.WebSessionMaxTTL)
	}
	c.Cookie(cookie)
}

func setAPISessionCookie(c *fiber.Ctx, cfg *config.Config, id string) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.APISessionCookie,
		Value:    id,
		Path:     "/api/v1",
		HTTPOnly: true,
		Secure:   cfg.Server.Production,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(cfg.Auth.APISessionTTL),
	})
}

func setDeviceCookie(c *fiber.Ctx, cfg *config.Config, rawToken string) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.DeviceCookie,
		Value:    rawToken,
		Path:     "/",
		HTTPOnly: true,
		Secure:   cfg.Server.Production,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(cfg.Auth.DeviceTrustTTL),
	})
}

// The role hint is readable by the frontend (not HttpOnly) and carries no
// authority; privileged routes re-check the server-side session.
func setRoleHintCookie(c *fiber.Ctx, cfg *config.Config, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.RoleHintCookie,
		Value:    token,
		Path:     "/",
		Secure:   cfg.Server.Production,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(cfg.Auth.WebSessionMaxTTL),
	})
}

func clearCookie(c *fiber.Ctx, name, path string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HTTPOnly: true,
		Expires:  time.Now().Add(-time.Hour),
	})
}
