package handlers

import (
	"fmt"
	"strings"

	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/internal/storage"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdminHandler covers platform administration: user management, bulk group
// closing, and reconciliation control. Routes are mounted behind AdminOnly.
type AdminHandler struct {
	DB         *gorm.DB
	Engine     *engine.Engine
	Reconciler *engine.Reconciler
	Reports    *storage.MinIOClient
}

func NewAdminHandler(db *gorm.DB, eng *engine.Engine, reconciler *engine.Reconciler, reports *storage.MinIOClient) *AdminHandler {
	return &AdminHandler{DB: db, Engine: eng, Reconciler: reconciler, Reports: reports}
}

func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	search := strings.TrimSpace(c.Query("search"))

	query := h.DB.Model(&models.User{})
	if search != "" {
		searchValue := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(email) LIKE ? OR LOWER(display_name) LIKE ?",
			searchValue,
			searchValue,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

type updateUserRequest struct {
	DisplayName *string            `json:"displayName"`
	Role        *models.UserRole   `json:"role"`
	Status      *models.UserStatus `json:"status"`
}

func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		value := strings.TrimSpace(*req.DisplayName)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "displayName cannot be empty")
		}
		updates["display_name"] = value
	}
	if req.Role != nil {
		if *req.Role != models.UserRoleAdmin && *req.Role != models.UserRoleUser {
			return utils.Error(c, fiber.StatusBadRequest, "invalid role")
		}
		updates["role"] = *req.Role
	}
	if req.Status != nil {
		if *req.Status != models.UserStatusActive && *req.Status != models.UserStatusDisabled {
			return utils.Error(c, fiber.StatusBadRequest, "invalid status")
		}
		updates["status"] = *req.Status
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	currentUser := middleware.GetCurrentUser(c)
	if currentUser != nil && currentUser.ID == userID {
		return utils.Error(c, fiber.StatusBadRequest, "cannot delete your own account")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		// Deleting the sole admin of a group that still has other members
		// would leave the group orphaned; a successor must be promoted first.
		var adminGroupIDs []uuid.UUID
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ? AND role = ?", userID, models.MembershipRoleAdmin).
			Pluck("group_id", &adminGroupIDs).Error; err != nil {
			return err
		}
		for _, groupID := range adminGroupIDs {
			var admins, members int64
			if err := tx.Model(&models.Membership{}).
				Where("group_id = ? AND role = ?", groupID, models.MembershipRoleAdmin).
				Count(&admins).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Membership{}).
				Where("group_id = ?", groupID).
				Count(&members).Error; err != nil {
				return err
			}
			if admins == 1 && members > 1 {
				return fmt.Errorf("%w: user is the sole admin of a populated group", engine.ErrLastAdmin)
			}
		}

		var membershipIDs []string
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ?", userID).
			Pluck("id", &membershipIDs).Error; err != nil {
			return err
		}
		if len(membershipIDs) > 0 {
			if err := tx.Where("membership_id IN ?", membershipIDs).Delete(&models.Selection{}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", userID).Delete(&models.Membership{}).Error; err != nil {
				return err
			}
		}
		result := tx.Delete(&models.User{}, "id = ?", userID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return engineError(c, err, "failed deleting user")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "user deleted"})
}

// CloseAllDrafts activates every remaining draft group regardless of
// deadline. Platform admins use it to seal a season in one sweep.
func (h *AdminHandler) CloseAllDrafts(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)

	closed, err := h.Engine.CloseAllDraftGroups()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed closing draft groups")
	}

	if currentUser != nil {
		logger.InfoWithUser(currentUser.ID.String(), "draft_groups_closed", map[string]interface{}{
			"closed": closed,
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"closed": closed})
}

func (h *AdminHandler) TriggerReconcile(c *fiber.Ctx) error {
	run, err := h.Reconciler.Trigger(c.UserContext())
	if err != nil {
		return engineError(c, err, "failed starting reconciliation")
	}

	return utils.Success(c, fiber.StatusAccepted, run)
}

func (h *AdminHandler) ReconcileRun(c *fiber.Ctx) error {
	runID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid run id")
	}

	run, err := h.Reconciler.RunStatus(runID)
	if err != nil {
		return engineError(c, err, "failed loading run")
	}

	return utils.Success(c, fiber.StatusOK, run)
}

func (h *AdminHandler) ReconcileRuns(c *fiber.Ctx) error {
	runs, err := h.Reconciler.Runs(c.QueryInt("limit", 20))
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing runs")
	}

	return utils.Success(c, fiber.StatusOK, runs)
}

func (h *AdminHandler) ReconcileRunReport(c *fiber.Ctx) error {
	if h.Reports == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "report storage is not configured")
	}

	runID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid run id")
	}

	run, err := h.Reconciler.RunStatus(runID)
	if err != nil {
		return engineError(c, err, "failed loading run")
	}

	objectName := fmt.Sprintf("reconcile-runs/%s/%s.ndjson",
		run.StartedAt.Format("2006/01/02"),
		run.ID.String(),
	)
	obj, err := h.Reports.Download(c.UserContext(), objectName)
	if err != nil {
		return utils.Error(c, fiber.StatusNotFound, "report not found")
	}

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	return c.SendStream(obj)
}
