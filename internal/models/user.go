package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User describes an account together with its partner link. PartnerID is the
// mutual reference used by the pairing protocol: when A.PartnerID == B.ID the
// store must also hold B.PartnerID == A.ID.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`

	PartnerID *string `gorm:"type:uuid;index" json:"partner_id"`
	Partner   *User   `gorm:"foreignKey:PartnerID" json:"-"`

	OnboardingComplete bool `gorm:"default:false" json:"onboarding_complete"`
	IsActive           bool `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasPartner reports whether the user currently holds a partner reference.
func (u *User) HasPartner() bool {
	return u.PartnerID != nil && *u.PartnerID != ""
}
