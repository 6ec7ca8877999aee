package handlers

import (
	"errors"
	"strings"

	"github.com/deathlist/backend/internal/directory"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// PeopleHandler proxies public-figure search to the directory so clients
// never talk to the upstream source directly.
type PeopleHandler struct {
	Directory directory.Directory
	Locale    string
}

func NewPeopleHandler(dir directory.Directory, locale string) *PeopleHandler {
	return &PeopleHandler{Directory: dir, Locale: locale}
}

func (h *PeopleHandler) Search(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	query := strings.TrimSpace(c.Query("q"))
	if len(query) < 2 {
		return utils.Error(c, fiber.StatusBadRequest, "query must be at least 2 characters")
	}

	locale := strings.TrimSpace(c.Query("locale"))
	if locale == "" {
		locale = h.Locale
	}

	people, err := h.Directory.Search(c.UserContext(), query, locale)
	if err != nil {
		logger.Error("people_search_failed", err, map[string]interface{}{
			"query": query,
		})
		return utils.Error(c, fiber.StatusBadGateway, "person search is unavailable")
	}

	return utils.Success(c, fiber.StatusOK, people)
}

func (h *PeopleHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	externalID := strings.TrimSpace(c.Params("externalId"))
	if externalID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "external id is required")
	}

	person, err := h.Directory.Lookup(c.UserContext(), externalID)
	if err != nil {
		if errors.Is(err, directory.ErrPersonNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "person not found")
		}
		logger.Error("people_lookup_failed", err, map[string]interface{}{
			"external_id": externalID,
		})
		return utils.Error(c, fiber.StatusBadGateway, "person lookup is unavailable")
	}

	return utils.Success(c, fiber.StatusOK, person)
}
