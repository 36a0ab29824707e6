package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is a registered API key: the public half of a client key pair
// plus derived metadata. The PEM material is stored AES-GCM encrypted; the
// fingerprint is the stable sha256 of the DER-encoded public key.
type Credential struct {
	BaseModel
	UserID      uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	PublicKey   string     `json:"-" gorm:"type:text;not null"`
	Fingerprint string     `json:"fingerprint" gorm:"type:varchar(64);not null;uniqueIndex"`
	Label       string     `json:"label" gorm:"type:varchar(255)"`
	Active      bool       `json:"active" gorm:"not null;default:false"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty" gorm:"index"`
	FailedCount int        `json:"failedCount" gorm:"not null;default:0"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastFailure *time.Time `json:"lastFailure,omitempty"`
	User        User       `json:"-" gorm:"foreignKey:UserID"`
}

// Usable reports whether the credential may participate in challenge
// verification.
func (c *Credential) Usable() bool {
	if !c.Active || c.PublicKey == "" {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(time.Now())
}
