package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nasvault/backend/internal/domain"
	"github.com/nasvault/backend/internal/middleware"
	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/internal/services"
	"github.com/nasvault/backend/internal/storage"
	"github.com/nasvault/backend/pkg/logger"
	"github.com/nasvault/backend/pkg/utils"
)

// UsersHandler covers account moderation: listing, approval, trust
// flags, username changes and deletion. All routes behind AdminOnly.
type UsersHandler struct {
	DB       *gorm.DB
	Tree     *storage.Tree
	Registry *services.Registry
}

func NewUsersHandler(db *gorm.DB, tree *storage.Tree, registry *services.Registry) *UsersHandler {
	return &UsersHandler{DB: db, Tree: tree, Registry: registry}
}

type userView struct {
	models.User
	StorageUsedFormatted string `json:"storageUsedFormatted"`
}

func (h *UsersHandler) view(user models.User) userView {
	return userView{User: user, StorageUsedFormatted: utils.FormatSize(user.StorageUsed)}
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	var users []models.User
	if err := h.DB.Order("username ASC").Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	views := make([]userView, 0, len(users))
	for _, user := range users {
		views = append(views, h.view(user))
	}
	return utils.Success(c, fiber.StatusOK, views)
}

func (h *UsersHandler) Pending(c *fiber.Ctx) error {
	var users []models.User
	if err := h.DB.Where("status = ?", models.UserStatusPending).Order("created_at ASC").Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing pending users")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

type createUserRequest struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

// Create adds a pre-approved account directly, including its storage
// root. The self-service path is Register + Approve.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req createUserRequest
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

	role := req.Role
	if role == "" {
		role = models.UserRoleUser
	}
	if role != models.UserRoleUser && role != models.UserRoleAdmin {
		return utils.Error(c, fiber.StatusBadRequest, "invalid role")
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
		Role:         role,
		Status:       models.UserStatusApproved,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}
	if err := h.Tree.EnsureRoot(user.Username); err != nil {
		return mapDomainError(c, err)
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "user_created", map[string]interface{}{
		"username": user.Username,
		"role":     user.Role,
	})
	return utils.Success(c, fiber.StatusCreated, h.view(user))
}

// Approve moves a pending account to approved and creates its storage
// root. Approving an already-approved account is a no-op success.
func (h *UsersHandler) Approve(c *fiber.Ctx) error {
	username := c.Params("username")

	var user models.User
	if err := h.DB.First(&user, "username = ?", username).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	if user.Status != models.UserStatusApproved {
		if err := h.DB.Model(&user).Update("status", models.UserStatusApproved).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed approving user")
		}
		user.Status = models.UserStatusApproved
	}
	if err := h.Tree.EnsureRoot(user.Username); err != nil {
		return mapDomainError(c, err)
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "user_approved", map[string]interface{}{
		"username": user.Username,
	})
	return utils.Success(c, fiber.StatusOK, h.view(user))
}

// Reject deletes a pending registration outright.
func (h *UsersHandler) Reject(c *fiber.Ctx) error {
	username := c.Params("username")

	var user models.User
	if err := h.DB.First(&user, "username = ?", username).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}
	if user.Status != models.UserStatusPending {
		return utils.Error(c, fiber.StatusConflict, "user is not pending")
	}

	if err := h.DB.Delete(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed rejecting user")
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "user_rejected", map[string]interface{}{
		"username": username,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"rejected": username})
}

// Delete removes an account, its storage tree and every share it owns.
// Admins cannot delete themselves.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	username := c.Params("username")
	admin := middleware.GetCurrentUser(c)

	if admin.Username == username {
		return utils.Error(c, fiber.StatusBadRequest, "cannot delete your own account")
	}

	var user models.User
	if err := h.DB.First(&user, "username = ?", username).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	if err := h.DB.Delete(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting user")
	}
	h.Registry.RemoveOwner(username)
	if err := h.Tree.RemoveRoot(username); err != nil {
		logger.Error("user_storage_cleanup_failed", err, map[string]interface{}{
			"username": username,
		})
	}

	logger.InfoWithUser(admin.Username, "user_deleted", map[string]interface{}{
		"username": username,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": username})
}

type updateUserRequest struct {
	Role            *models.UserRole `json:"role"`
	TrustedUploader *bool            `json:"trustedUploader"`
	AutoShare       *bool            `json:"autoShare"`
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	username := c.Params("username")

	var user models.User
	if err := h.DB.First(&user, "username = ?", username).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Role != nil {
		if *req.Role != models.UserRoleUser && *req.Role != models.UserRoleAdmin {
			return utils.Error(c, fiber.StatusBadRequest, "invalid role")
		}
		updates["role"] = *req.Role
	}
	if req.TrustedUploader != nil {
		updates["trusted_uploader"] = *req.TrustedUploader
	}
	if req.AutoShare != nil {
		updates["auto_share"] = *req.AutoShare
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "nothing to update")
	}

	if err := h.DB.Model(&user).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if err := h.DB.First(&user, "username = ?", username).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reloading user")
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "user_updated", map[string]interface{}{
		"username": username,
		"fields":   len(updates),
	})
	return utils.Success(c, fiber.StatusOK, h.view(user))
}

type renameUserRequest struct {
	NewUsername string `json:"newUsername"`
}

// Rename changes a username. All preconditions are checked before any
// state moves, then the storage root renames first, the account row
// second and the share registry last; a failure mid-sequence is logged
// and surfaced rather than silently rolled back.
func (h *UsersHandler) Rename(c *fiber.Ctx) error {
	oldName := c.Params("username")

	var req renameUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	newName := strings.TrimSpace(req.NewUsername)
	if !models.ValidUsername(newName) {
		return utils.Error(c, fiber.StatusBadRequest, "username must be 3-32 letters, digits or underscores")
	}
	if newName == oldName {
		return utils.Error(c, fiber.StatusBadRequest, "new username matches current")
	}

	var user models.User
	if err := h.DB.First(&user, "username = ?", oldName).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}
	var existing models.User
	if err := h.DB.First(&existing, "username = ?", newName).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "username already taken")
	}

	if err := h.Tree.RenameRoot(oldName, newName); err != nil {
		// pending accounts have no root yet; nothing to move
		if !errors.Is(err, domain.ErrNotFound) {
			return mapDomainError(c, err)
		}
	}
	if err := h.DB.Model(&user).Update("username", newName).Error; err != nil {
		logger.Error("user_rename_row_failed", err, map[string]interface{}{
			"old": oldName,
			"new": newName,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed renaming user")
	}
	if err := h.Registry.RenameOwner(oldName, newName); err != nil {
		logger.Error("user_rename_shares_failed", err, map[string]interface{}{
			"old": oldName,
			"new": newName,
		})
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "user_renamed", map[string]interface{}{
		"old": oldName,
		"new": newName,
	})
	user.Username = newName
	return utils.Success(c, fiber.StatusOK, h.view(user))
}
