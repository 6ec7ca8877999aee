package handlers

import (
	"errors"
	"strings"

	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// engineError maps workflow sentinels onto HTTP statuses. Anything
// unrecognized becomes a 500 with the fallback message so internal details
// never leak into responses.
func engineError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, engine.ErrValidation),
		errors.Is(err, engine.ErrCapacity),
		errors.Is(err, engine.ErrDuplicateSelection),
		errors.Is(err, engine.ErrInviteInvalid):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrPermission),
		errors.Is(err, engine.ErrNotAMember):
		return utils.Error(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrReadOnly),
		errors.Is(err, engine.ErrAlreadyMember),
		errors.Is(err, engine.ErrLastAdmin),
		errors.Is(err, engine.ErrAlreadyRunning):
		return utils.Error(c, fiber.StatusConflict, err.Error())
	default:
		return utils.Error(c, fiber.StatusInternalServerError, fallback)
	}
}
