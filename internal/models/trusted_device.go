package models

import (
	"time"

	"github.com/google/uuid"
)

// TrustedDevice records a client that already passed the second factor. Only
// the sha256 hash of the device token is persisted; the raw token lives in
// the client cookie and is never retrievable from the store.
type TrustedDevice struct {
	BaseModel
	UserID    uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	TokenHash string    `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
	User      User      `json:"-" gorm:"foreignKey:UserID"`
}
