package handlers

import (
	"fmt"

	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/internal/services"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

type InvitesHandler struct {
	DB          *gorm.DB
	Engine      *engine.Engine
	Invites     *services.InviteService
	FrontendURL string
}

func NewInvitesHandler(db *gorm.DB, eng *engine.Engine, invites *services.InviteService, frontendURL string) *InvitesHandler {
	return &InvitesHandler{DB: db, Engine: eng, Invites: invites, FrontendURL: frontendURL}
}

func (h *InvitesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	invite, err := h.Invites.Generate(groupID, currentUser.ID)
	if err != nil {
		return engineError(c, err, "failed creating invite")
	}

	logger.InfoWithUser(currentUser.ID.String(), "invite_created", map[string]interface{}{
		"group_id":  groupID.String(),
		"invite_id": invite.ID.String(),
	})

	return utils.Success(c, fiber.StatusCreated, invite)
}

func (h *InvitesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	invites, err := h.Invites.List(groupID, currentUser.ID)
	if err != nil {
		return engineError(c, err, "failed listing invites")
	}

	return utils.Success(c, fiber.StatusOK, invites)
}

func (h *InvitesHandler) Revoke(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	inviteID, err := parseUUID(c.Params("inviteId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invite id")
	}

	if err := h.Invites.Revoke(groupID, inviteID, currentUser.ID); err != nil {
		return engineError(c, err, "failed revoking invite")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "invite revoked"})
}

// Preview resolves a token to its group without consuming it, so the join
// page can show what is being joined.
func (h *InvitesHandler) Preview(c *fiber.Ctx) error {
	token := c.Params("token")

	invite, err := h.Invites.Resolve(token)
	if err != nil {
		return engineError(c, err, "failed resolving invite")
	}

	var group models.Group
	if err := h.DB.First(&group, "id = ?", invite.GroupID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading group")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"groupID":     group.ID,
		"groupName":   group.Name,
		"description": group.Description,
		"status":      group.Status,
		"deadline":    group.Deadline,
		"expiresAt":   invite.ExpiresAt,
	})
}

// QR renders the invite join link as a PNG for sharing offline.
func (h *InvitesHandler) QR(c *fiber.Ctx) error {
	token := c.Params("token")

	if _, err := h.Invites.Resolve(token); err != nil {
		return engineError(c, err, "failed resolving invite")
	}

	size := c.QueryInt("size", 256)
	if size < 128 {
		size = 128
	}
	if size > 1024 {
		size = 1024
	}

	joinURL := fmt.Sprintf("%s/join/%s", h.FrontendURL, token)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed rendering qr code")
	}

	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}

func (h *InvitesHandler) Join(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	token := c.Params("token")

	invite, err := h.Invites.Resolve(token)
	if err != nil {
		return engineError(c, err, "failed resolving invite")
	}

	membership, err := h.Engine.JoinGroup(invite.GroupID, currentUser.ID, token)
	if err != nil {
		return engineError(c, err, "failed joining group")
	}

	logger.InfoWithUser(currentUser.ID.String(), "group_joined", map[string]interface{}{
		"group_id": invite.GroupID.String(),
	})

	return utils.Success(c, fiber.StatusCreated, membership)
}
