package model

import "time"

const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// Task is one occurrence of a reminder. A recurring reminder is a chain of
// occurrences linked through NextOccurrenceID.
type Task struct {
	ID                 uint       `gorm:"primaryKey"`
	UserID             uint       `gorm:"index"`
	Title              string     `gorm:"size:255"`
	Description        string     `gorm:"type:text"`
	Status             string     `gorm:"size:20;index;default:pending"`
	NextReminderAt     *time.Time `gorm:"index"`
	LastReminderSentAt *time.Time
	IsRepeating        bool    `gorm:"default:false"`
	RecurrenceRule     *string `gorm:"size:255"`
	NextOccurrenceID   *uint
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Rule returns the recurrence rule or an empty string.
func (t Task) Rule() string {
	if t.RecurrenceRule == nil {
		return ""
	}
	return *t.RecurrenceRule
}

func (t Task) IsDone() bool {
	return t.Status == StatusDone
}

// DisplayName prefers the generated title and falls back to the description.
func (t Task) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Description
}
