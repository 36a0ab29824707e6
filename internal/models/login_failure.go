package models

type FailureKind string

const (
	FailureKindCredential   FailureKind = "credential"
	FailureKindSecondFactor FailureKind = "second_factor"
)

// LoginFailure is append-only: rows are created on failed attempts, counted
// over a sliding window, and eventually garbage collected. Identifier is a
// stable per-account key (sha256 of the normalized email), never the raw
// address.
type LoginFailure struct {
	BaseModel
	IP         string      `json:"-" gorm:"type:varchar(64);not null;index"`
	Identifier string      `json:"-" gorm:"type:varchar(64);not null;index"`
	Kind       FailureKind `json:"-" gorm:"type:varchar(20);not null"`
}
