package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

type UsersHandler struct {
	DB       *gorm.DB
	Sessions *session.Store
}

func NewUsersHandler(db *gorm.DB, sessions *session.Store) *UsersHandler {
	return &UsersHandler{DB: db, Sessions: sessions}
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	search := strings.TrimSpace(c.Query("search"))

	query := h.DB.Model(&models.User{})
	if search != "" {
		searchValue := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?",
			searchValue,
			searchValue,
			searchValue,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

type updateUserRequest struct {
	FirstName *string          `json:"firstName"`
	LastName  *string          `json:"lastName"`
	Role      *models.UserRole `json:"role"`
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		value := strings.TrimSpace(*req.FirstName)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "firstName cannot be empty")
		}
		updates["first_name"] = value
	}
	if req.LastName != nil {
		value := strings.TrimSpace(*req.LastName)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "lastName cannot be empty")
		}
		updates["last_name"] = value
	}
	if req.Role != nil {
		if *req.Role != models.UserRoleAdmin && *req.Role != models.UserRoleUser {
			return utils.Error(c, fiber.StatusBadRequest, "invalid role")
		}
		updates["role"] = *req.Role
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

// Lock flips the manual lock on. Unlike the abuse guard's timed lockout, a
// manual lock never expires on its own.
func (h *UsersHandler) Lock(c *fiber.Ctx) error {
	return h.setLocked(c, true)
}

// Unlock clears both the manual lock and any timed lockout, and gives the
// account a clean slate with the abuse guard.
func (h *UsersHandler) Unlock(c *fiber.Ctx) error {
	return h.setLocked(c, false)
}

func (h *UsersHandler) setLocked(c *fiber.Ctx, locked bool) error {
	auth := middleware.GetAuthContext(c)
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if locked && auth != nil && auth.User != nil && auth.User.ID == userID {
		return utils.Error(c, fiber.StatusBadRequest, "cannot lock your own account")
	}

	result := h.DB.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"locked":       locked,
		"locked_until": nil,
	})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	if locked {
		if err := h.Sessions.RevokeAll(c.Context(), userID); err != nil {
			logger.Error("session_revoke_failed", err, map[string]interface{}{
				"user_id": userID.String(),
			})
		}
	}

	event := "account_unlocked"
	if locked {
		event = "account_locked"
	}
	fields := map[string]interface{}{"target_user_id": userID.String()}
	if auth != nil && auth.User != nil {
		fields["admin_id"] = auth.User.ID.String()
	}
	logger.Warn(event, fields)

	message := "user unlocked"
	if locked {
		message = "user locked"
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": message})
}

func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	auth := middleware.GetAuthContext(c)
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if auth != nil && auth.User != nil && auth.User.ID == userID {
		return utils.Error(c, fiber.StatusBadRequest, "cannot delete your own account")
	}

	result := h.DB.Delete(&models.User{}, "id = ?", userID)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	if err := h.Sessions.RevokeAll(c.Context(), userID); err != nil {
		logger.Error("session_revoke_failed", err, map[string]interface{}{
			"user_id": userID.String(),
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "user deleted"})
}
