package model

import "time"

const DefaultTimezone = "UTC"

// User stores Telegram user metadata and the zone used for local-day math.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	Timezone   string `gorm:"size:64;not null;default:UTC"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Tasks      []Task `gorm:"foreignKey:UserID"`
}

// Zone returns the IANA zone name, UTC when unset.
func (u User) Zone() string {
	if u.Timezone == "" {
		return DefaultTimezone
	}
	return u.Timezone
}
