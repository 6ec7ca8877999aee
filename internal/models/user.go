package models

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

type User struct {
	BaseModel
	Email        string       `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string       `json:"-" gorm:"type:text;not null"`
	DisplayName  string       `json:"displayName" gorm:"type:varchar(100);not null"`
	Role         UserRole     `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Status       UserStatus   `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	Memberships  []Membership `json:"-" gorm:"foreignKey:UserID"`
}
