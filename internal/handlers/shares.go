package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/nasvault/backend/internal/domain"
	"github.com/nasvault/backend/internal/filetype"
	"github.com/nasvault/backend/internal/middleware"
	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/internal/services"
	"github.com/nasvault/backend/internal/storage"
	"github.com/nasvault/backend/pkg/logger"
	"github.com/nasvault/backend/pkg/utils"
)

// SharesHandler drives the share lifecycle. Requests capture the backing
// file's metadata at request time; approval and rejection are admin-only,
// removal is admin-or-owner.
type SharesHandler struct {
	Tree     *storage.Tree
	Registry *services.Registry
}

func NewSharesHandler(tree *storage.Tree, registry *services.Registry) *SharesHandler {
	return &SharesHandler{Tree: tree, Registry: registry}
}

var errFolderAsFile = fmt.Errorf("%w: path is not a file", domain.ErrInvalidInput)

type shareFileRequest struct {
	Path string `json:"path"`
}

func (h *SharesHandler) RequestFile(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req shareFileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.requestOneFile(c, req.Path)
	if err != nil {
		return mapDomainError(c, err)
	}

	logger.InfoWithUser(user.Username, "file_share_requested", map[string]interface{}{
		"path":   entry.FilePath,
		"status": entry.Status,
	})
	return utils.Success(c, fiber.StatusCreated, entry)
}

type shareFolderRequest struct {
	Path string `json:"path"`
}

func (h *SharesHandler) RequestFolder(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req shareFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	rel, info, err := h.Tree.Stat(user.Username, req.Path)
	if err != nil {
		return mapDomainError(c, err)
	}
	if !info.IsDir() {
		return utils.Error(c, fiber.StatusBadRequest, "path is not a folder")
	}
	if rel == "" {
		return utils.Error(c, fiber.StatusBadRequest, "cannot share the storage root")
	}

	entry, err := h.Registry.RequestFolderShare(user.Username, rel, info.Name())
	if err != nil {
		return mapDomainError(c, err)
	}
	if h.Registry.AutoApprovalApplies(user) {
		if err := h.Registry.Approve(entry.ID); err == nil {
			refreshed, ok := h.Registry.FolderByID(entry.ID)
			if ok {
				entry = refreshed
			}
		}
	}

	logger.InfoWithUser(user.Username, "folder_share_requested", map[string]interface{}{
		"path":   entry.FolderPath,
		"status": entry.Status,
	})
	return utils.Success(c, fiber.StatusCreated, entry)
}

type bulkShareRequest struct {
	Paths []string `json:"paths"`
}

// RequestBulk files one share request per path, reporting per-path
// outcomes like Upload does.
func (h *SharesHandler) RequestBulk(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req bulkShareRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "paths required")
	}

	requested := []interface{}{}
	failed := []uploadError{}
	for _, path := range req.Paths {
		entry, err := h.requestOneFile(c, path)
		if err != nil {
			failed = append(failed, uploadError{Name: path, Error: domainErrorMessage(err)})
			continue
		}
		requested = append(requested, entry)
	}

	logger.InfoWithUser(user.Username, "file_shares_requested", map[string]interface{}{
		"requested": len(requested),
		"failed":    len(failed),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"requested": requested,
		"errors":    failed,
	})
}

// ListMine returns the caller's shares in every state.
func (h *SharesHandler) ListMine(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	files, folders := h.Registry.EntriesFor(user.Username)
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"files":   files,
		"folders": folders,
	})
}

// Pending is the moderation queue, admin-only.
func (h *SharesHandler) Pending(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"files":   h.Registry.PendingFiles(),
		"folders": h.Registry.PendingFolders(),
	})
}

func (h *SharesHandler) Approve(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.Registry.Approve(id); err != nil {
		return mapDomainError(c, err)
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "share_approved", map[string]interface{}{
		"share_id": id,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"approved": id})
}

func (h *SharesHandler) Reject(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.Registry.Reject(id); err != nil {
		return mapDomainError(c, err)
	}

	admin := middleware.GetCurrentUser(c)
	logger.InfoWithUser(admin.Username, "share_rejected", map[string]interface{}{
		"share_id": id,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"rejected": id})
}

// Remove un-shares an approved entry. Owners remove their own; admins
// remove anything. The ownership check runs before the status check so a
// foreign id reads the same as a missing one.
func (h *SharesHandler) Remove(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	id := c.Params("id")

	info, ok := h.Registry.Find(id)
	if !ok || !services.CanManage(user, info.Username) {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}

	if err := h.Registry.Remove(id); err != nil {
		return mapDomainError(c, err)
	}

	logger.InfoWithUser(user.Username, "share_removed", map[string]interface{}{
		"share_id": id,
		"owner":    info.Username,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"removed": id})
}

func (h *SharesHandler) requestOneFile(c *fiber.Ctx, path string) (*models.FileShare, error) {
	user := middleware.GetCurrentUser(c)

	rel, info, err := h.Tree.Stat(user.Username, path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errFolderAsFile
	}

	entry, err := h.Registry.RequestFileShare(
		user.Username, rel, info.Name(), info.Size(), string(filetype.Classify(info.Name())),
	)
	if err != nil {
		return nil, err
	}

	if h.Registry.AutoApprovalApplies(user) {
		if err := h.Registry.Approve(entry.ID); err == nil {
			refreshed, ok := h.Registry.FileByID(entry.ID)
			if ok {
				entry = refreshed
			}
		}
	}
	return entry, nil
}
