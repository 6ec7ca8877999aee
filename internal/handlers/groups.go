package handlers

import (
	"time"

	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/internal/services"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type GroupsHandler struct {
	DB       *gorm.DB
	Engine   *engine.Engine
	Activity *services.ActivityLog
}

func NewGroupsHandler(db *gorm.DB, eng *engine.Engine, activity *services.ActivityLog) *GroupsHandler {
	return &GroupsHandler{DB: db, Engine: eng, Activity: activity}
}

type createGroupRequest struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	MaxSelections int       `json:"maxSelections"`
	Deadline      time.Time `json:"deadline"`
}

func (h *GroupsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.Engine.CreateGroup(engine.CreateGroupInput{
		Name:          req.Name,
		Description:   req.Description,
		MaxSelections: req.MaxSelections,
		Deadline:      req.Deadline,
		CreatorID:     currentUser.ID,
	})
	if err != nil {
		return engineError(c, err, "failed creating group")
	}

	logger.InfoWithUser(currentUser.ID.String(), "group_created", map[string]interface{}{
		"group_id":   group.ID.String(),
		"group_name": group.Name,
	})

	return utils.Success(c, fiber.StatusCreated, group)
}

func (h *GroupsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var groups []models.Group
	if err := h.DB.
		Model(&models.Group{}).
		Joins("JOIN memberships ON memberships.group_id = groups.id").
		Where("memberships.user_id = ?", currentUser.ID).
		Order("groups.created_at DESC").
		Find(&groups).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing groups")
	}

	return utils.Success(c, fiber.StatusOK, groups)
}

func (h *GroupsHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	if _, err := h.Engine.Membership(groupID, currentUser.ID); err != nil {
		return engineError(c, err, "failed validating membership")
	}

	var group models.Group
	if err := h.DB.Preload("Memberships.User").First(&group, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "group not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading group")
	}

	return utils.Success(c, fiber.StatusOK, group)
}

func (h *GroupsHandler) Close(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	group, err := h.Engine.CloseGroup(groupID, currentUser.ID)
	if err != nil {
		return engineError(c, err, "failed closing group")
	}

	logger.InfoWithUser(currentUser.ID.String(), "group_closed", map[string]interface{}{
		"group_id": group.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, group)
}

func (h *GroupsHandler) Finalize(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	group, err := h.Engine.FinalizeGroup(groupID, currentUser.ID)
	if err != nil {
		return engineError(c, err, "failed finalizing group")
	}

	logger.InfoWithUser(currentUser.ID.String(), "group_finalized", map[string]interface{}{
		"group_id": group.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, group)
}

func (h *GroupsHandler) Leaderboard(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	if _, err := h.Engine.Membership(groupID, currentUser.ID); err != nil {
		return engineError(c, err, "failed validating membership")
	}

	memberships, err := h.Engine.Leaderboard(groupID)
	if err != nil {
		return engineError(c, err, "failed loading leaderboard")
	}

	return utils.Success(c, fiber.StatusOK, memberships)
}

func (h *GroupsHandler) ActivityFeed(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	if _, err := h.Engine.Membership(groupID, currentUser.ID); err != nil {
		return engineError(c, err, "failed validating membership")
	}

	entries, err := h.Activity.Recent(groupID, c.QueryInt("limit", 50))
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading activity")
	}

	return utils.Success(c, fiber.StatusOK, entries)
}

func (h *GroupsHandler) RemoveMember(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	targetID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if err := h.Engine.RemoveMember(groupID, targetID, currentUser.ID); err != nil {
		return engineError(c, err, "failed removing member")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member removed"})
}

func (h *GroupsHandler) PromoteMember(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	targetID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if err := h.Engine.PromoteMember(groupID, targetID, currentUser.ID); err != nil {
		return engineError(c, err, "failed promoting member")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member promoted"})
}
