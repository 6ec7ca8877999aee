package models

import "github.com/google/uuid"

type SelectionStatus string

const (
	SelectionStatusAlive    SelectionStatus = "alive"
	SelectionStatusDeceased SelectionStatus = "deceased"
)

// Selection is one public figure on a member's list. Status is the last state
// known to the system, not a live view of the directory; Age is a snapshot
// taken when the person was picked.
type Selection struct {
	BaseModel
	MembershipID uuid.UUID       `json:"membershipID" gorm:"type:uuid;not null;index;uniqueIndex:idx_membership_external"`
	ExternalID   string          `json:"externalID" gorm:"type:varchar(64);not null;uniqueIndex:idx_membership_external"`
	Name         string          `json:"name" gorm:"type:varchar(255);not null"`
	Descriptor   string          `json:"descriptor" gorm:"type:text;not null"`
	Status       SelectionStatus `json:"status" gorm:"type:varchar(20);not null;default:'alive'"`
	Age          *int            `json:"age,omitempty"`
	Position     int             `json:"position" gorm:"not null"`
}
