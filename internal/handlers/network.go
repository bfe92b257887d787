package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nasvault/backend/internal/services"
	"github.com/nasvault/backend/internal/storage"
	"github.com/nasvault/backend/pkg/utils"
)

// NetworkHandler is the cross-user view: every approved share from every
// account, addressed only by share id. Paths never cross the wire here
// except as subpaths scoped to a shared folder.
type NetworkHandler struct {
	Tree     *storage.Tree
	Registry *services.Registry
}

func NewNetworkHandler(tree *storage.Tree, registry *services.Registry) *NetworkHandler {
	return &NetworkHandler{Tree: tree, Registry: registry}
}

// List sweeps stale entries first so the listing never advertises a
// share whose backing file is gone.
func (h *NetworkHandler) List(c *fiber.Ctx) error {
	h.Registry.CleanupMissing(h.Tree.Exists)

	files := h.Registry.ApprovedFiles()
	for i := range files {
		files[i].SizeFormatted = utils.FormatSize(files[i].FileSize)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"files":   files,
		"folders": h.Registry.ApprovedFolders(),
	})
}

// Folder lists the contents of an approved folder share, optionally at a
// subpath. The subpath is contained to the shared folder itself, not the
// owner's whole tree.
func (h *NetworkHandler) Folder(c *fiber.Ctx) error {
	id := c.Params("id")

	share, ok := h.Registry.FolderByID(id)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}

	listing, err := h.Tree.ListUnder(share.Username, share.FolderPath, c.Query("path"))
	if err != nil {
		return mapDomainError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"share":   share,
		"listing": listing,
	})
}

// Download serves an approved file share by id.
func (h *NetworkHandler) Download(c *fiber.Ctx) error {
	return h.serveByID(c, true)
}

// Preview serves it inline for in-browser rendering.
func (h *NetworkHandler) Preview(c *fiber.Ctx) error {
	return h.serveByID(c, false)
}

func (h *NetworkHandler) serveByID(c *fiber.Ctx, attachment bool) error {
	id := c.Params("id")

	share, ok := h.Registry.FileByID(id)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}

	f, info, err := h.Tree.Open(share.Username, share.FilePath)
	if err != nil {
		return mapDomainError(c, err)
	}
	return sendFile(c, f, info.Name(), info.Size(), attachment)
}

// DownloadNested serves a file inside an approved folder share. The path
// query addresses the file relative to the shared folder.
func (h *NetworkHandler) DownloadNested(c *fiber.Ctx) error {
	id := c.Params("id")
	sub := c.Query("path")
	if sub == "" {
		return utils.Error(c, fiber.StatusBadRequest, "path required")
	}

	share, ok := h.Registry.FolderByID(id)
	if !ok {
		return utils.Error(c, fiber.StatusNotFound, "not found")
	}

	f, info, err := h.Tree.OpenUnder(share.Username, share.FolderPath, sub)
	if err != nil {
		return mapDomainError(c, err)
	}
	return sendFile(c, f, info.Name(), info.Size(), true)
}
