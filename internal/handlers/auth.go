package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nasvault/backend/internal/middleware"
	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/pkg/logger"
	"github.com/nasvault/backend/pkg/utils"
)

type AuthHandler struct {
	DB *gorm.DB
}

func NewAuthHandler(db *gorm.DB) *AuthHandler {
	return &AuthHandler{DB: db}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account in pending status. The storage root is not
// created until an admin approves; a pending account cannot log in to a
// usable session since RequireAuth refuses unapproved users.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	username := strings.TrimSpace(req.Username)
	if !models.ValidUsername(username) {
		return utils.Error(c, fiber.StatusBadRequest, "username must be 3-32 letters, digits or underscores")
	}
	if len(req.Password) < utils.MinPasswordLength {
		return utils.Error(c, fiber.StatusBadRequest, "password too short")
	}

	var existing models.User
	if err := h.DB.First(&existing, "username = ?", username).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "username already taken")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}

	user := models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusPending,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	logger.Info("user_registered", map[string]interface{}{
		"username": username,
	})
	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"username": user.Username,
		"status":   user.Status,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	username := strings.TrimSpace(req.Username)

	var user models.User
	if err := h.DB.First(&user, "username = ?", username).Error; err != nil {
		logger.Warn("login_failed", map[string]interface{}{
			"username": username,
			"ip":       c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.WarnWithUser(user.Username, "login_failed", map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if user.Status != models.UserStatusApproved {
		return utils.Error(c, fiber.StatusForbidden, "account pending approval")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.InfoWithUser(user.Username, "login", map[string]interface{}{
		"ip": c.IP(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if !utils.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		return utils.Error(c, fiber.StatusUnauthorized, "current password incorrect")
	}
	if len(req.NewPassword) < utils.MinPasswordLength {
		return utils.Error(c, fiber.StatusBadRequest, "password too short")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}

	if err := h.DB.Model(user).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	logger.InfoWithUser(user.Username, "password_changed", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"changed": true})
}
