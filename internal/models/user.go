package models

import "time"

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type User struct {
	BaseModel
	Email        string   `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string   `json:"-" gorm:"type:text;not null"`
	FirstName    string   `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName     string   `json:"lastName" gorm:"type:varchar(100);not null"`
	Role         UserRole `json:"role" gorm:"type:varchar(20);not null;default:'user'"`

	// Locked is a manual, admin-cleared lock. LockedUntil is the automatic
	// lock the abuse guard sets; it expires on its own.
	Locked      bool       `json:"locked" gorm:"not null;default:false"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`

	Credentials []Credential `json:"-" gorm:"foreignKey:UserID"`
}

// IsLockedOut reports whether authentication must be refused before any
// credential comparison runs.
func (u *User) IsLockedOut() bool {
	if u.Locked {
		return true
	}
	return u.LockedUntil != nil && u.LockedUntil.After(time.Now())
}
