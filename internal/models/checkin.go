package models

// CheckIn records a single daily mood entry. Day is a YYYY-MM-DD string so
// the uniqueness constraint works identically across sqlite and postgres.
type CheckIn struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_checkins_user_day" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"-"`

	Day    string `gorm:"type:varchar(10);not null;uniqueIndex:idx_checkins_user_day" json:"day"`
	Mood   int    `gorm:"not null" json:"mood"`
	Energy int    `json:"energy"`
	Note   string `gorm:"type:text" json:"note"`
}
