package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is a persisted in-app event for one user: a received
// invitation, a partner link or unlink, a completed shared goal. Type
// values are namespaced strings such as "pairing.partner_linked".
type Notification struct {
	BaseModel

	UserID   string `gorm:"type:uuid;index;not null" json:"user_id"`
	Type     string `gorm:"type:varchar(64);not null;index" json:"type"`
	Title    string `gorm:"type:varchar(255);not null" json:"title"`
	Message  string `gorm:"type:text" json:"message"`
	Severity string `gorm:"type:varchar(32);default:'info'" json:"severity"`
	// ActionURL deep-links into the client, e.g. the goal that completed.
	ActionURL string `gorm:"type:text" json:"action_url"`
	// Metadata carries event context (inviter id, credential kind,
	// partner id) the client can render without extra lookups.
	Metadata datatypes.JSON `json:"metadata"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}
