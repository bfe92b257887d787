package handlers

import (
	"io"
	"mime"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nasvault/backend/internal/middleware"
	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/internal/services"
	"github.com/nasvault/backend/internal/storage"
	"github.com/nasvault/backend/pkg/logger"
	"github.com/nasvault/backend/pkg/utils"
)

// FilesHandler serves a user's own tree. Every path parameter arrives
// raw from the client and goes through the storage layer's sanitize and
// containment pipeline; nothing here touches the filesystem directly.
type FilesHandler struct {
	DB       *gorm.DB
	Tree     *storage.Tree
	Registry *services.Registry
}

func NewFilesHandler(db *gorm.DB, tree *storage.Tree, registry *services.Registry) *FilesHandler {
	return &FilesHandler{DB: db, Tree: tree, Registry: registry}
}

func (h *FilesHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	folder := c.Query("folder")

	listing, err := h.Tree.List(user.Username, folder)
	if err != nil {
		return mapDomainError(c, err)
	}

	for i := range listing.Files {
		entry := &listing.Files[i]
		entry.Shared = h.Registry.IsShared(user.Username, entry.Path) ||
			h.Registry.IsInSharedFolder(user.Username, entry.Path)
	}
	for i := range listing.Folders {
		entry := &listing.Folders[i]
		entry.Shared = h.Registry.IsFolderShared(user.Username, entry.Path) ||
			h.Registry.IsInSharedFolder(user.Username, entry.Path)
	}

	return utils.Success(c, fiber.StatusOK, listing)
}

type createFolderRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

func (h *FilesHandler) CreateFolder(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	rel, err := h.Tree.CreateFolder(user.Username, req.Parent, req.Name)
	if err != nil {
		return mapDomainError(c, err)
	}

	logger.InfoWithUser(user.Username, "folder_created", map[string]interface{}{
		"path": rel,
	})
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"path": rel})
}

type uploadedFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type uploadError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Upload takes a multipart batch under the "files" field. The optional
// "folder" value is the target folder; "relativePaths" values, when
// present, pair with the files in order and carry folder-upload subpaths.
// Each file succeeds or fails independently; the response reports both
// lists and the request only fails as a whole when nothing was usable.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid multipart form")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no files in request")
	}

	folder := c.FormValue("folder")
	relativePaths := form.Value["relativePaths"]

	uploaded := []uploadedFile{}
	failed := []uploadError{}

	for i, header := range files {
		relPath := header.Filename
		if i < len(relativePaths) && relativePaths[i] != "" {
			relPath = relativePaths[i]
		}

		src, err := header.Open()
		if err != nil {
			failed = append(failed, uploadError{Name: header.Filename, Error: "unreadable upload"})
			continue
		}

		result, err := h.Tree.Save(user.Username, folder, relPath, src)
		src.Close()
		if err != nil {
			failed = append(failed, uploadError{Name: header.Filename, Error: domainErrorMessage(err)})
			continue
		}

		uploaded = append(uploaded, uploadedFile{Name: result.Name, Path: result.Path, Size: result.Size})
	}

	h.refreshUsage(user)

	logger.InfoWithUser(user.Username, "files_uploaded", map[string]interface{}{
		"uploaded": len(uploaded),
		"failed":   len(failed),
		"folder":   folder,
	})

	if len(uploaded) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "no files uploaded",
			"errors":  failed,
		})
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"uploaded": uploaded,
		"errors":   failed,
	})
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	return h.serve(c, true)
}

// Preview serves the file inline so browsers render instead of save.
func (h *FilesHandler) Preview(c *fiber.Ctx) error {
	return h.serve(c, false)
}

func (h *FilesHandler) serve(c *fiber.Ctx, attachment bool) error {
	user := middleware.GetCurrentUser(c)
	path := c.Query("path")
	if path == "" {
		return utils.Error(c, fiber.StatusBadRequest, "path required")
	}

	f, info, err := h.Tree.Open(user.Username, path)
	if err != nil {
		return mapDomainError(c, err)
	}

	return sendFile(c, f, info.Name(), info.Size(), attachment)
}

type deleteRequest struct {
	Path string `json:"path"`
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req deleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	rel, err := h.Tree.Delete(user.Username, req.Path)
	if err != nil {
		return mapDomainError(c, err)
	}

	removed := h.Registry.CascadeRemove(user.Username, rel)
	h.refreshUsage(user)

	logger.InfoWithUser(user.Username, "file_deleted", map[string]interface{}{
		"path":           rel,
		"shares_removed": removed,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"deleted":       rel,
		"sharesRemoved": removed,
	})
}

type bulkDeleteRequest struct {
	Paths []string `json:"paths"`
}

// BulkDelete applies Delete per path, collecting per-path failures the
// same way Upload collects per-file failures.
func (h *FilesHandler) BulkDelete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req bulkDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "paths required")
	}

	deleted := []string{}
	failed := []uploadError{}
	for _, path := range req.Paths {
		rel, err := h.Tree.Delete(user.Username, path)
		if err != nil {
			failed = append(failed, uploadError{Name: path, Error: domainErrorMessage(err)})
			continue
		}
		h.Registry.CascadeRemove(user.Username, rel)
		deleted = append(deleted, rel)
	}

	h.refreshUsage(user)

	logger.InfoWithUser(user.Username, "files_bulk_deleted", map[string]interface{}{
		"deleted": len(deleted),
		"failed":  len(failed),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"deleted": deleted,
		"errors":  failed,
	})
}

type moveRequest struct {
	Path        string `json:"path"`
	Destination string `json:"destination"`
}

func (h *FilesHandler) Move(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	src, dst, err := h.Tree.Move(user.Username, req.Path, req.Destination)
	if err != nil {
		return mapDomainError(c, err)
	}

	// shares keep pointing at the old path; drop them instead of
	// rewriting so nothing stays shared that the owner did not re-share
	removed := h.Registry.CascadeRemove(user.Username, src)

	logger.InfoWithUser(user.Username, "file_moved", map[string]interface{}{
		"from":           src,
		"to":             dst,
		"shares_removed": removed,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"from": src,
		"to":   dst,
	})
}

type renameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

func (h *FilesHandler) Rename(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req renameRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	oldRel, newRel, err := h.Tree.Rename(user.Username, req.Path, req.NewName)
	if err != nil {
		return mapDomainError(c, err)
	}

	removed := 0
	if oldRel != newRel {
		removed = h.Registry.CascadeRemove(user.Username, oldRel)
	}

	logger.InfoWithUser(user.Username, "file_renamed", map[string]interface{}{
		"from":           oldRel,
		"to":             newRel,
		"shares_removed": removed,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"from": oldRel,
		"to":   newRel,
	})
}

func (h *FilesHandler) Usage(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	total, err := h.Tree.Usage(user.Username)
	if err != nil {
		return mapDomainError(c, err)
	}
	h.storeUsage(user, total)

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"used":          total,
		"usedFormatted": utils.FormatSize(total),
	})
}

// refreshUsage recomputes and stores the usage counter after a mutating
// operation. Failures only log; the operation itself already succeeded.
func (h *FilesHandler) refreshUsage(user *models.User) {
	total, err := h.Tree.Usage(user.Username)
	if err != nil {
		logger.Error("usage_refresh_failed", err, map[string]interface{}{
			"username": user.Username,
		})
		return
	}
	h.storeUsage(user, total)
}

func (h *FilesHandler) storeUsage(user *models.User, total int64) {
	if err := h.DB.Model(user).Update("storage_used", total).Error; err != nil {
		logger.Error("usage_store_failed", err, map[string]interface{}{
			"username": user.Username,
		})
		return
	}
	user.StorageUsed = total
}

func sendFile(c *fiber.Ctx, f io.ReadCloser, name string, size int64, attachment bool) error {
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, contentType)

	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	c.Set(fiber.HeaderContentDisposition, disposition+`; filename="`+name+`"`)

	return c.SendStream(f, int(size))
}
