package models

import "time"

// Goal is a shared objective visible to both halves of a couple. CreatedBy
// records which partner added it; visibility is derived from the partnership,
// not stored per goal.
type Goal struct {
	BaseModel

	CreatedBy string `gorm:"type:uuid;not null;index" json:"created_by"`
	Creator   *User  `gorm:"foreignKey:CreatedBy" json:"-"`

	Title       string `gorm:"type:varchar(255);not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Category    string `gorm:"type:varchar(64);default:'general'" json:"category"`

	Progress    int        `gorm:"default:0" json:"progress"`
	TargetDate  *time.Time `json:"target_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the goal has been marked done.
func (g *Goal) Completed() bool {
	return g.CompletedAt != nil
}
