package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/nasvault/backend/internal/domain"
	"github.com/nasvault/backend/pkg/utils"
)

// mapDomainError translates the storage and registry error taxonomy into
// HTTP responses. Denied, missing and invalid all carry fixed messages so
// responses never reveal whether a path exists, is foreign or escaped the
// root. IO failures stay server-side; the client sees a generic 500.
func mapDomainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return utils.Error(c, fiber.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrAccessDenied):
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, domain.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		return utils.Error(c, fiber.StatusConflict, "already exists")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}

// domainErrorMessage is the per-item form of mapDomainError, used where
// one request carries many independent operations.
func domainErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid request"
	case errors.Is(err, domain.ErrAccessDenied):
		return "access denied"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrConflict):
		return "already exists"
	default:
		return "internal error"
	}
}
