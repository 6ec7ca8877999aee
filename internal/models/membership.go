package models

import (
	"time"

	"github.com/google/uuid"
)

type MembershipRole string

const (
	MembershipRoleAdmin  MembershipRole = "admin"
	MembershipRoleMember MembershipRole = "member"
)

// Membership is an account's participation record within one group. It owns
// the member's list: the ordered selections plus the derived points total.
type Membership struct {
	BaseModel
	GroupID  uuid.UUID      `json:"groupID" gorm:"type:uuid;not null;index;uniqueIndex:idx_group_user"`
	UserID   uuid.UUID      `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_group_user"`
	Role     MembershipRole `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	JoinedAt time.Time      `json:"joinedAt" gorm:"not null"`
	Points   int            `json:"points" gorm:"not null;default:0"`

	User       User        `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Group      Group       `json:"-" gorm:"foreignKey:GroupID"`
	Selections []Selection `json:"selections" gorm:"foreignKey:MembershipID"`
}
