package models

import "time"

const (
	ConflictStatusOpen     = "open"
	ConflictStatusResolved = "resolved"
)

// Conflict captures a disagreement a couple wants help working through.
// Guidance holds the AI-generated suggestion once one has been requested.
type Conflict struct {
	BaseModel

	CreatedBy string `gorm:"type:uuid;not null;index" json:"created_by"`
	Creator   *User  `gorm:"foreignKey:CreatedBy" json:"-"`

	Topic       string `gorm:"type:varchar(255);not null" json:"topic"`
	Description string `gorm:"type:text" json:"description"`
	Status      string `gorm:"type:varchar(16);default:'open';index" json:"status"`

	Guidance      string `gorm:"type:text" json:"guidance,omitempty"`
	GuidanceModel string `gorm:"type:varchar(64)" json:"guidance_model,omitempty"`

	Resolution string     `gorm:"type:text" json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
