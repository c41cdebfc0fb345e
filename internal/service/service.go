package service

import (
	"context"
	"errors"
	"time"

	"task-reminder/internal/model"
)

var (
	// ErrMissingUser reports a due task whose owner cannot be resolved.
	ErrMissingUser = errors.New("task owner not found")
	// ErrDelivery reports a notification the dispatcher could not deliver.
	ErrDelivery = errors.New("notification not delivered")
	// ErrInvalidInput reports a task mutation rejected before reaching storage.
	ErrInvalidInput = errors.New("invalid task input")
)

// Notifier delivers a reminder for task to user. It reports delivery as a
// boolean and must not fail loudly for blocked or unreachable recipients.
type Notifier interface {
	Notify(ctx context.Context, user model.User, task model.Task) bool
}

// TaskStore is the storage boundary used by the background jobs.
type TaskStore interface {
	FetchDue(ctx context.Context, now time.Time) ([]model.Task, error)
	MarkSent(ctx context.Context, taskID uint, due, sentAt time.Time, next *time.Time) error
	EndRecurrence(ctx context.Context, taskID uint, due, sentAt time.Time) error
	FinalizeAndSpawn(ctx context.Context, taskID uint, due, sentAt, next time.Time) (*model.Task, error)
	FindRestorable(ctx context.Context, userID uint, start, end time.Time) ([]model.Task, error)
	SetNextReminder(ctx context.Context, taskID uint, at time.Time) error
}

// UserStore resolves task owners.
type UserStore interface {
	FindByIDs(ctx context.Context, ids []uint) (map[uint]model.User, error)
	ListActive(ctx context.Context) ([]model.User, error)
}

// Clock returns the current instant.
type Clock func() time.Time
