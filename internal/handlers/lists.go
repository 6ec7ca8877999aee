package handlers

import (
	"time"

	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ListsHandler struct {
	DB     *gorm.DB
	Engine *engine.Engine
}

func NewListsHandler(db *gorm.DB, eng *engine.Engine) *ListsHandler {
	return &ListsHandler{DB: db, Engine: eng}
}

type submitListRequest struct {
	Selections []engine.SelectionInput `json:"selections"`
}

func (h *ListsHandler) Submit(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req submitListRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.Engine.SubmitList(groupID, currentUser.ID, req.Selections)
	if err != nil {
		return engineError(c, err, "failed submitting list")
	}

	logger.InfoWithUser(currentUser.ID.String(), "list_submitted", map[string]interface{}{
		"group_id":   groupID.String(),
		"selections": len(result.Selections),
		"overtime":   result.Overtime,
	})

	return utils.Success(c, fiber.StatusOK, result)
}

func (h *ListsHandler) Add(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var pick engine.SelectionInput
	if err := c.BodyParser(&pick); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.Engine.AddSelection(groupID, currentUser.ID, pick)
	if err != nil {
		return engineError(c, err, "failed adding selection")
	}

	return utils.Success(c, fiber.StatusOK, result)
}

func (h *ListsHandler) Remove(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	externalID := c.Params("externalId")
	if externalID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "external id is required")
	}

	result, err := h.Engine.RemoveSelection(groupID, currentUser.ID, externalID)
	if err != nil {
		return engineError(c, err, "failed removing selection")
	}

	return utils.Success(c, fiber.StatusOK, result)
}

func (h *ListsHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var group models.Group
	if err := h.DB.First(&group, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "group not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading group")
	}

	membership, err := h.Engine.Membership(groupID, currentUser.ID)
	if err != nil {
		return engineError(c, err, "failed validating membership")
	}

	var selections []models.Selection
	if err := h.DB.Where("membership_id = ?", membership.ID).
		Order("position ASC").
		Find(&selections).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading selections")
	}

	return utils.Success(c, fiber.StatusOK, engine.ListResult{
		Selections: selections,
		Points:     membership.Points,
		Overtime:   group.Overtime(time.Now().UTC()),
	})
}
