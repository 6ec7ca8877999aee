package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const inviteTokenBytes = 32

// InviteService issues and redeems single-use join tokens. Each token is
// bound to exactly one group and consumed at most once.
type InviteService struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewInviteService(db *gorm.DB, ttl time.Duration) *InviteService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &InviteService{DB: db, TTL: ttl}
}

// Generate creates a new invite for the group. The requester must be a group
// admin.
func (s *InviteService) Generate(groupID, requesterID uuid.UUID) (*models.Invite, error) {
	var group models.Group
	if err := s.DB.First(&group, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: group", engine.ErrNotFound)
		}
		return nil, err
	}

	var membership models.Membership
	if err := s.DB.First(&membership, "group_id = ? AND user_id = ?", groupID, requesterID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, engine.ErrPermission
		}
		return nil, err
	}
	if membership.Role != models.MembershipRoleAdmin {
		return nil, engine.ErrPermission
	}

	tokenBytes := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate invite token: %w", err)
	}

	invite := models.Invite{
		GroupID:     groupID,
		Token:       base64.URLEncoding.EncodeToString(tokenBytes),
		CreatedByID: requesterID,
		ExpiresAt:   time.Now().UTC().Add(s.TTL),
	}
	if err := s.DB.Create(&invite).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// Redeem consumes a token inside the caller's transaction. The used flag is
// flipped with a conditional update so exactly one of two concurrent
// redeemers succeeds; the loser gets ErrInviteInvalid.
func (s *InviteService) Redeem(tx *gorm.DB, token string, usedBy uuid.UUID) (*models.Invite, error) {
	var invite models.Invite
	if err := tx.First(&invite, "token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, engine.ErrInviteInvalid
		}
		return nil, err
	}

	if invite.Used {
		return nil, engine.ErrInviteInvalid
	}
	if time.Now().UTC().After(invite.ExpiresAt) {
		return nil, fmt.Errorf("%w: invite expired", engine.ErrInviteInvalid)
	}

	now := time.Now().UTC()
	result := tx.Model(&models.Invite{}).
		Where("id = ? AND used = ?", invite.ID, false).
		Updates(map[string]interface{}{
			"used":       true,
			"used_by_id": usedBy,
			"used_at":    now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, engine.ErrInviteInvalid
	}

	invite.Used = true
	invite.UsedByID = &usedBy
	invite.UsedAt = &now
	return &invite, nil
}

// Resolve looks a token up without consuming it, for join previews.
func (s *InviteService) Resolve(token string) (*models.Invite, error) {
	var invite models.Invite
	if err := s.DB.First(&invite, "token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, engine.ErrInviteInvalid
		}
		return nil, err
	}
	if invite.Used || time.Now().UTC().After(invite.ExpiresAt) {
		return nil, engine.ErrInviteInvalid
	}
	return &invite, nil
}

// List returns a group's invites, newest first. Admin only.
func (s *InviteService) List(groupID, requesterID uuid.UUID) ([]models.Invite, error) {
	if err := s.requireAdmin(groupID, requesterID); err != nil {
		return nil, err
	}

	var invites []models.Invite
	err := s.DB.Where("group_id = ?", groupID).Order("created_at DESC").Find(&invites).Error
	return invites, err
}

// Revoke deletes an unused invite. Used invites are immutable history and
// cannot be revoked.
func (s *InviteService) Revoke(groupID, inviteID, requesterID uuid.UUID) error {
	if err := s.requireAdmin(groupID, requesterID); err != nil {
		return err
	}

	result := s.DB.Where("id = ? AND group_id = ? AND used = ?", inviteID, groupID, false).
		Delete(&models.Invite{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: invite", engine.ErrNotFound)
	}
	return nil
}

// PruneExpired removes unused invites whose expiry passed before the cutoff.
func (s *InviteService) PruneExpired(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := s.DB.Where("used = ? AND expires_at < ?", false, cutoff).Delete(&models.Invite{})
	return result.RowsAffected, result.Error
}

// StartPruner runs PruneExpired on a fixed interval until the context is
// cancelled. Invites are kept for one TTL past their expiry so recently
// expired tokens still show up in admin listings.
func (s *InviteService) StartPruner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := s.PruneExpired(s.TTL)
				if err != nil {
					logger.Error("invite_prune_failed", err, nil)
					continue
				}
				if pruned > 0 {
					logger.Info("invites_pruned", map[string]interface{}{
						"count": pruned,
					})
				}
			}
		}
	}()
}

func (s *InviteService) requireAdmin(groupID, requesterID uuid.UUID) error {
	var membership models.Membership
	if err := s.DB.First(&membership, "group_id = ? AND user_id = ?", groupID, requesterID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return engine.ErrPermission
		}
		return err
	}
	if membership.Role != models.MembershipRoleAdmin {
		return engine.ErrPermission
	}
	return nil
}
