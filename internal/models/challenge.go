package models

import (
	"time"

	"github.com/google/uuid"
)

// Challenge is a one-time nonce a client must sign to prove possession of a
// credential's private key. ConsumedAt stays null until the single successful
// verification.
type Challenge struct {
	BaseModel
	CredentialID uuid.UUID  `json:"-" gorm:"type:uuid;not null;index"`
	Nonce        string     `json:"-" gorm:"type:varchar(128);not null;uniqueIndex"`
	ExpiresAt    time.Time  `json:"expiresAt" gorm:"not null;index"`
	ConsumedAt   *time.Time `json:"-"`
	Credential   Credential `json:"-" gorm:"foreignKey:CredentialID"`
}
