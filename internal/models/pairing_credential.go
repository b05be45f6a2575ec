package models

import "time"

// CredentialKind distinguishes the supported pairing credential formats.
type CredentialKind string

const (
	// CredentialKindToken is an opaque URL-safe token embedded in invite links.
	CredentialKindToken CredentialKind = "token"
	// CredentialKindCode is a short human-readable code entered manually.
	CredentialKindCode CredentialKind = "code"
	// CredentialKindEmail is a token addressed to a specific email recipient.
	CredentialKindEmail CredentialKind = "email"
)

// PairingCredential is a redeemable, expiring, single-use credential that
// links two accounts as partners. One model backs all three credential
// formats; Kind selects generation rules and expiry.
//
// The secret is stored in the clear: issuance is idempotent and must be able
// to hand the caller the same secret again while the credential stays active.
type PairingCredential struct {
	BaseModel

	Kind   CredentialKind `gorm:"type:varchar(16);not null;index" json:"kind"`
	Secret string         `gorm:"uniqueIndex;not null" json:"-"`

	InviterID string `gorm:"type:uuid;not null;index" json:"inviter_id"`
	Inviter   *User  `gorm:"foreignKey:InviterID" json:"-"`

	// RecipientEmail is only set for the email kind.
	RecipientEmail string `gorm:"index" json:"recipient_email,omitempty"`

	AcceptedBy *string    `gorm:"type:uuid" json:"accepted_by,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt *time.Time `json:"declined_at,omitempty"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// Active reports whether the credential can still be redeemed at the given time.
func (c *PairingCredential) Active(now time.Time) bool {
	return c.AcceptedAt == nil && c.DeclinedAt == nil && c.ExpiresAt.After(now)
}

// Status derives the pending/accepted/declined/expired presentation state.
func (c *PairingCredential) Status(now time.Time) string {
	switch {
	case c.AcceptedAt != nil:
		return "accepted"
	case c.DeclinedAt != nil:
		return "declined"
	case !c.ExpiresAt.After(now):
		return "expired"
	default:
		return "pending"
	}
}
