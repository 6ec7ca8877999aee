package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivitySink receives group feed entries. Appends are fire-and-forget: a
// failed append never rolls back the state change that triggered it.
type ActivitySink interface {
	Append(groupID uuid.UUID, message string)
}

// InviteRedeemer consumes a single-use join token inside the caller's
// transaction so a rolled-back join leaves the invite unused.
type InviteRedeemer interface {
	Redeem(tx *gorm.DB, token string, usedBy uuid.UUID) (*models.Invite, error)
}

// Engine owns group lifecycle state, membership, and list submission. It is
// the sole writer of group and membership rows.
type Engine struct {
	db       *gorm.DB
	activity ActivitySink
	invites  InviteRedeemer
}

func New(db *gorm.DB, activity ActivitySink, invites InviteRedeemer) *Engine {
	return &Engine{db: db, activity: activity, invites: invites}
}

type CreateGroupInput struct {
	Name          string
	Description   string
	MaxSelections int
	Deadline      time.Time
	CreatorID     uuid.UUID
}

func (e *Engine) CreateGroup(input CreateGroupInput) (*models.Group, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)

	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if input.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if input.MaxSelections <= 0 {
		return nil, fmt.Errorf("%w: maxSelections must be positive", ErrValidation)
	}
	if !input.Deadline.After(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}

	group := models.Group{
		Name:          input.Name,
		Description:   input.Description,
		Status:        models.GroupStatusDraft,
		Deadline:      input.Deadline.UTC(),
		MaxSelections: input.MaxSelections,
		CreatedByID:   input.CreatorID,
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}

		membership := models.Membership{
			GroupID:  group.ID,
			UserID:   input.CreatorID,
			Role:     models.MembershipRoleAdmin,
			JoinedAt: time.Now().UTC(),
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return nil, err
	}

	e.activity.Append(group.ID, fmt.Sprintf("%s created the group", e.displayName(input.CreatorID)))
	return &group, nil
}

// JoinGroup redeems an invite and adds the account as a member. The redeem and
// the membership insert share one transaction: of two concurrent redeemers
// exactly one commits, the other sees ErrInviteInvalid.
func (e *Engine) JoinGroup(groupID, userID uuid.UUID, token string) (*models.Membership, error) {
	var membership models.Membership

	err := e.db.Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: group", ErrNotFound)
			}
			return err
		}

		invite, err := e.invites.Redeem(tx, token, userID)
		if err != nil {
			return err
		}
		if invite.GroupID != groupID {
			return fmt.Errorf("%w: invite is for a different group", ErrInviteInvalid)
		}

		var existing models.Membership
		err = tx.First(&existing, "group_id = ? AND user_id = ?", groupID, userID).Error
		if err == nil {
			return ErrAlreadyMember
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		membership = models.Membership{
			GroupID:  groupID,
			UserID:   userID,
			Role:     models.MembershipRoleMember,
			JoinedAt: time.Now().UTC(),
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return nil, err
	}

	e.activity.Append(groupID, fmt.Sprintf("%s joined the group", e.displayName(userID)))
	return &membership, nil
}

type SelectionInput struct {
	ExternalID string `json:"externalID"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Deceased   bool   `json:"deceased"`
	Age        *int   `json:"age,omitempty"`
}

// ListResult is the authoritative list state after a write. Callers reconcile
// their local view from it instead of trusting their own mutation.
type ListResult struct {
	Selections []models.Selection `json:"selections"`
	Points     int                `json:"points"`
	Overtime   bool               `json:"overtime"`
}

// SubmitList replaces the member's entire list in one transaction. Points are
// never touched here; only reconciliation recomputes them.
func (e *Engine) SubmitList(groupID, userID uuid.UUID, picks []SelectionInput) (*ListResult, error) {
	group, membership, err := e.editableMembership(groupID, userID)
	if err != nil {
		return nil, err
	}

	if len(picks) > group.MaxSelections {
		return nil, fmt.Errorf("%w: at most %d selections allowed", ErrCapacity, group.MaxSelections)
	}

	seen := make(map[string]bool, len(picks))
	for _, pick := range picks {
		if pick.ExternalID == "" {
			return nil, fmt.Errorf("%w: selection is missing an external id", ErrValidation)
		}
		if seen[pick.ExternalID] {
			return nil, fmt.Errorf("%w: %s appears more than once", ErrDuplicateSelection, pick.ExternalID)
		}
		seen[pick.ExternalID] = true
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := claimEditable(tx, groupID); err != nil {
			return err
		}
		if err := tx.Where("membership_id = ?", membership.ID).Delete(&models.Selection{}).Error; err != nil {
			return err
		}
		for i, pick := range picks {
			row := selectionFromInput(membership.ID, pick, i)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.listResult(group, membership.ID, membership.Points)
}

// AddSelection appends one person to the list. Adding at capacity or adding a
// person already on the list is a silent no-op so UI retries stay idempotent.
func (e *Engine) AddSelection(groupID, userID uuid.UUID, pick SelectionInput) (*ListResult, error) {
	group, membership, err := e.editableMembership(groupID, userID)
	if err != nil {
		return nil, err
	}
	if pick.ExternalID == "" {
		return nil, fmt.Errorf("%w: selection is missing an external id", ErrValidation)
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := claimEditable(tx, groupID); err != nil {
			return err
		}

		var current []models.Selection
		if err := tx.Where("membership_id = ?", membership.ID).Order("position ASC").Find(&current).Error; err != nil {
			return err
		}

		if len(current) >= group.MaxSelections {
			return nil
		}
		for _, existing := range current {
			if existing.ExternalID == pick.ExternalID {
				return nil
			}
		}

		row := selectionFromInput(membership.ID, pick, len(current))
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}

	return e.listResult(group, membership.ID, membership.Points)
}

// RemoveSelection drops one person from the list and compacts positions.
// Removing a person who is not on the list is a no-op.
func (e *Engine) RemoveSelection(groupID, userID uuid.UUID, externalID string) (*ListResult, error) {
	group, membership, err := e.editableMembership(groupID, userID)
	if err != nil {
		return nil, err
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := claimEditable(tx, groupID); err != nil {
			return err
		}
		if err := tx.Where("membership_id = ? AND external_id = ?", membership.ID, externalID).
			Delete(&models.Selection{}).Error; err != nil {
			return err
		}

		var remaining []models.Selection
		if err := tx.Where("membership_id = ?", membership.ID).Order("position ASC").Find(&remaining).Error; err != nil {
			return err
		}
		for i := range remaining {
			if remaining[i].Position != i {
				if err := tx.Model(&remaining[i]).Update("position", i).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.listResult(group, membership.ID, membership.Points)
}

// CloseGroup seals all lists by advancing draft to active. Closing a group
// that is already past draft is a no-op, never an error.
func (e *Engine) CloseGroup(groupID, actorID uuid.UUID) (*models.Group, error) {
	group, err := e.requireAdmin(groupID, actorID)
	if err != nil {
		return nil, err
	}

	if group.Status != models.GroupStatusDraft {
		return group, nil
	}

	result := e.db.Model(&models.Group{}).
		Where("id = ? AND status = ?", groupID, models.GroupStatusDraft).
		Update("status", models.GroupStatusActive)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		group.Status = models.GroupStatusActive
		e.activity.Append(groupID, "Lists are sealed; the group is now active")
	}
	return group, nil
}

// FinalizeGroup ends the contest. Only active groups can be finalized;
// finalizing twice is a no-op.
func (e *Engine) FinalizeGroup(groupID, actorID uuid.UUID) (*models.Group, error) {
	group, err := e.requireAdmin(groupID, actorID)
	if err != nil {
		return nil, err
	}

	switch group.Status {
	case models.GroupStatusFinalized:
		return group, nil
	case models.GroupStatusDraft:
		return nil, fmt.Errorf("%w: group must be closed before it can be finalized", ErrValidation)
	}

	result := e.db.Model(&models.Group{}).
		Where("id = ? AND status = ?", groupID, models.GroupStatusActive).
		Update("status", models.GroupStatusFinalized)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		group.Status = models.GroupStatusFinalized
		e.activity.Append(groupID, "The contest is finalized")
	}
	return group, nil
}

// CloseAllDraftGroups flips every draft group to active. Each flip is its own
// atomic update; one group failing never blocks the rest.
func (e *Engine) CloseAllDraftGroups() (int, error) {
	var ids []uuid.UUID
	if err := e.db.Model(&models.Group{}).
		Where("status = ?", models.GroupStatusDraft).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		result := e.db.Model(&models.Group{}).
			Where("id = ? AND status = ?", id, models.GroupStatusDraft).
			Update("status", models.GroupStatusActive)
		if result.Error != nil {
			logger.Error("group_close_failed", result.Error, map[string]interface{}{
				"group_id": id.String(),
			})
			continue
		}
		if result.RowsAffected > 0 {
			closed++
			e.activity.Append(id, "Lists are sealed; the group is now active")
		}
	}
	return closed, nil
}

// RemoveMember deletes a membership and its list. Members may remove
// themselves; admins may remove anyone. The last admin of a group that still
// has other members cannot leave without promoting a successor first.
func (e *Engine) RemoveMember(groupID, targetID, actorID uuid.UUID) error {
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: group", ErrNotFound)
			}
			return err
		}

		var actor models.Membership
		if err := tx.First(&actor, "group_id = ? AND user_id = ?", groupID, actorID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotAMember
			}
			return err
		}
		if targetID != actorID && actor.Role != models.MembershipRoleAdmin {
			return ErrPermission
		}

		var target models.Membership
		if err := tx.First(&target, "group_id = ? AND user_id = ?", groupID, targetID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotAMember
			}
			return err
		}

		if target.Role == models.MembershipRoleAdmin {
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
				return ErrLastAdmin
			}
		}

		if err := tx.Where("membership_id = ?", target.ID).Delete(&models.Selection{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Membership{}, "id = ?", target.ID).Error
	})
	if err != nil {
		return err
	}

	if targetID == actorID {
		e.activity.Append(groupID, fmt.Sprintf("%s left the group", e.displayName(targetID)))
	} else {
		e.activity.Append(groupID, fmt.Sprintf("%s was removed from the group", e.displayName(targetID)))
	}
	return nil
}

// PromoteMember raises a member to admin. Promoting an admin is a no-op.
func (e *Engine) PromoteMember(groupID, targetID, actorID uuid.UUID) error {
	if _, err := e.requireAdmin(groupID, actorID); err != nil {
		return err
	}

	var target models.Membership
	if err := e.db.First(&target, "group_id = ? AND user_id = ?", groupID, targetID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrNotAMember
		}
		return err
	}
	if target.Role == models.MembershipRoleAdmin {
		return nil
	}

	if err := e.db.Model(&target).Update("role", models.MembershipRoleAdmin).Error; err != nil {
		return err
	}
	e.activity.Append(groupID, fmt.Sprintf("%s is now an admin", e.displayName(targetID)))
	return nil
}

// Leaderboard returns the group's memberships ranked by points, earliest
// joiner first on ties.
func (e *Engine) Leaderboard(groupID uuid.UUID) ([]models.Membership, error) {
	var count int64
	if err := e.db.Model(&models.Group{}).Where("id = ?", groupID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: group", ErrNotFound)
	}

	var memberships []models.Membership
	err := e.db.Preload("User").Preload("Selections", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).
		Where("group_id = ?", groupID).
		Order("points DESC, joined_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// Membership returns the caller's membership or ErrNotAMember.
func (e *Engine) Membership(groupID, userID uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := e.db.First(&membership, "group_id = ? AND user_id = ?", groupID, userID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	return &membership, nil
}

func (e *Engine) editableMembership(groupID, userID uuid.UUID) (*models.Group, *models.Membership, error) {
	var group models.Group
	if err := e.db.First(&group, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("%w: group", ErrNotFound)
		}
		return nil, nil, err
	}

	membership, err := e.Membership(groupID, userID)
	if err != nil {
		return nil, nil, err
	}

	if !group.Editable() {
		return nil, nil, ErrReadOnly
	}
	return &group, membership, nil
}

// claimEditable re-asserts inside a write transaction that the group still
// accepts list edits. The conditional update touches the group row, so a
// concurrent close and a list write serialize on it instead of interleaving
// between the membership check and the commit.
func claimEditable(tx *gorm.DB, groupID uuid.UUID) error {
	result := tx.Model(&models.Group{}).
		Where("id = ? AND status = ?", groupID, models.GroupStatusDraft).
		Update("updated_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReadOnly
	}
	return nil
}

func (e *Engine) requireAdmin(groupID, actorID uuid.UUID) (*models.Group, error) {
	var group models.Group
	if err := e.db.First(&group, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: group", ErrNotFound)
		}
		return nil, err
	}

	membership, err := e.Membership(groupID, actorID)
	if err != nil {
		return nil, err
	}
	if membership.Role != models.MembershipRoleAdmin {
		return nil, ErrPermission
	}
	return &group, nil
}

func (e *Engine) listResult(group *models.Group, membershipID uuid.UUID, points int) (*ListResult, error) {
	var selections []models.Selection
	if err := e.db.Where("membership_id = ?", membershipID).Order("position ASC").Find(&selections).Error; err != nil {
		return nil, err
	}
	return &ListResult{
		Selections: selections,
		Points:     points,
		Overtime:   group.Overtime(time.Now().UTC()),
	}, nil
}

func (e *Engine) displayName(userID uuid.UUID) string {
	var user models.User
	if err := e.db.Select("display_name").First(&user, "id = ?", userID).Error; err != nil {
		return "Someone"
	}
	return user.DisplayName
}

func selectionFromInput(membershipID uuid.UUID, pick SelectionInput, position int) models.Selection {
	status := models.SelectionStatusAlive
	if pick.Deceased {
		status = models.SelectionStatusDeceased
	}
	return models.Selection{
		MembershipID: membershipID,
		ExternalID:   pick.ExternalID,
		Name:         pick.Name,
		Descriptor:   pick.Descriptor,
		Status:       status,
		Age:          pick.Age,
		Position:     position,
	}
}
