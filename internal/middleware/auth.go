package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

// Cookie names. Web and API sessions use separate cookies over separate
// store namespaces; the device cookie carries only the raw trust token.
const (
	WebSessionCookie = "reelvault_session"
	APISessionCookie = "reelvault_api_session"
	DeviceCookie     = "reelvault_device"
	RoleHintCookie   = "reelvault_role"
)

const authContextKey = "authContext"

// AuthContext is the request's authentication state, populated by the
// session middlewares and read by handlers. No global state: everything
// flows through the request.
type AuthContext struct {
	User       *models.User
	WebSession *session.WebSession
	APISession *session.APISession
}

// Role returns the effective role, honoring a per-session override.
func (a *AuthContext) Role() models.UserRole {
	if a.WebSession != nil && a.WebSession.RoleOverride != "" {
		return models.UserRole(a.WebSession.RoleOverride)
	}
	return a.User.Role
}

type AuthMiddleware struct {
	DB       *gorm.DB
	Sessions *session.Store
}

func NewAuthMiddleware(db *gorm.DB, sessions *session.Store) *AuthMiddleware {
	return &AuthMiddleware{DB: db, Sessions: sessions}
}

func CORS(frontendURL string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     frontendURL,
		AllowHeaders:     "Origin, Content-Type, Accept, X-CSRF-Token",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// RequireWebSession guards the interactive surface. It accepts only the web
// session cookie and only sessions whose login fully completed.
func (a *AuthMiddleware) RequireWebSession(c *fiber.Ctx) error {
	id := c.Cookies(WebSessionCookie)
	if id == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	sess, err := a.Sessions.ReadWeb(c.Context(), id)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	}
	if sess == nil || sess.UserID == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", *sess.UserID).Error; err != nil {
		logger.Warn("session_user_not_found", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if user.IsLockedOut() {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	c.Locals(authContextKey, &AuthContext{User: &user, WebSession: sess})
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// RequirePendingWebSession accepts a web session whose second factor is
// still pending. Only the 2FA completion endpoint uses it.
func (a *AuthMiddleware) RequirePendingWebSession(c *fiber.Ctx) error {
	id := c.Cookies(WebSessionCookie)
	if id == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	sess, err := a.Sessions.ReadWeb(c.Context(), id)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	}
	if sess == nil || sess.PendingUserID == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	c.Locals(authContextKey, &AuthContext{WebSession: sess})
	return c.Next()
}

// RequireAPISession guards the programmatic surface. It accepts only the API
// session cookie; web session ids presented here read from a different
// namespace and never match.
func (a *AuthMiddleware) RequireAPISession(c *fiber.Ctx) error {
	id := c.Cookies(APISessionCookie)
	if id == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	sess, err := a.Sessions.ReadAPI(c.Context(), id)
	if err != nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	}
	if sess == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", sess.UserID).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if user.IsLockedOut() {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	c.Locals(authContextKey, &AuthContext{User: &user, APISession: sess})
	c.Locals("userID", user.ID.String())
	return c.Next()
}

func AdminOnly(c *fiber.Ctx) error {
	auth := GetAuthContext(c)
	if auth == nil || auth.User == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if auth.Role() != models.UserRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

func GetAuthContext(c *fiber.Ctx) *AuthContext {
	value := c.Locals(authContextKey)
	if value == nil {
		return nil
	}
	auth, ok := value.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
