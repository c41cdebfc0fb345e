package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
	"task-reminder/internal/repository"
)

// TaskInput represents data required to create a task. Instants are already
// resolved to UTC by the caller.
type TaskInput struct {
	Title       string
	Description string
	RemindAt    *time.Time
	Rule        string // RRULE body, empty for one-shot tasks
}

// TaskService wraps task-related business logic used by chat handlers.
type TaskService struct {
	taskRepo *repository.TaskRepository
}

func NewTaskService(taskRepo *repository.TaskRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo}
}

func (s *TaskService) Create(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" && description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}

	task := model.Task{
		UserID:         user.ID,
		Title:          title,
		Description:    description,
		Status:         model.StatusPending,
		NextReminderAt: input.RemindAt,
	}

	if rule := recurrence.Normalize(input.Rule); rule != "" {
		if input.RemindAt == nil {
			return nil, fmt.Errorf("%w: a repeating task needs its first reminder time", ErrInvalidInput)
		}
		if err := recurrence.Validate(rule); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		task.IsRepeating = true
		task.RecurrenceRule = &rule
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, user.ID, taskID)
}

// Reschedule moves the reminder of a pending task to at.
func (s *TaskService) Reschedule(ctx context.Context, user *model.User, taskID uint, at time.Time) (*model.Task, error) {
	return s.taskRepo.UpdateReminder(ctx, user.ID, taskID, at)
}

// Edit replaces the description of a pending task.
func (s *TaskService) Edit(ctx context.Context, user *model.User, taskID uint, description string) (*model.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	return s.taskRepo.UpdateDescription(ctx, user.ID, taskID, description)
}

// Snooze postpones the reminder by d from now.
func (s *TaskService) Snooze(ctx context.Context, user *model.User, taskID uint, d time.Duration, now time.Time) (*model.Task, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: snooze duration must be positive", ErrInvalidInput)
	}
	return s.taskRepo.UpdateReminder(ctx, user.ID, taskID, now.Add(d))
}

// SnoozeTomorrow postpones the reminder to the same local wall-clock time on
// the next day in the user's zone.
func (s *TaskService) SnoozeTomorrow(ctx context.Context, user *model.User, taskID uint, now time.Time) (*model.Task, error) {
	return s.taskRepo.UpdateReminder(ctx, user.ID, taskID, Tomorrow(now, recurrence.Location(user.Zone())))
}

// Complete marks a task as done. A recurring occurrence is completed on its
// own; the chain continues from the successor once the reminder fires.
func (s *TaskService) Complete(ctx context.Context, user *model.User, taskID uint, now time.Time) (*model.Task, error) {
	return s.taskRepo.MarkDone(ctx, user.ID, taskID, now)
}

// Today lists pending tasks with a reminder today, local time, plus tasks
// without any reminder.
func (s *TaskService) Today(ctx context.Context, user *model.User, now time.Time) ([]model.Task, error) {
	start, end := localDay(now, recurrence.Location(user.Zone()), 0)
	return s.taskRepo.ListInRange(ctx, user.ID, start, end, true)
}

// Tomorrow lists pending tasks with a reminder tomorrow, local time.
func (s *TaskService) Tomorrow(ctx context.Context, user *model.User, now time.Time) ([]model.Task, error) {
	start, end := localDay(now, recurrence.Location(user.Zone()), 1)
	return s.taskRepo.ListInRange(ctx, user.ID, start, end, false)
}

// All lists every pending task of the user.
func (s *TaskService) All(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.taskRepo.ListPending(ctx, user.ID)
}

func (s *TaskService) Search(ctx context.Context, user *model.User, query string) ([]model.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search text is required", ErrInvalidInput)
	}
	return s.taskRepo.Search(ctx, user.ID, query)
}

func (s *TaskService) Overdue(ctx context.Context, user *model.User, now time.Time) ([]model.Task, error) {
	return s.taskRepo.ListOverdue(ctx, user.ID, now)
}

// Tomorrow returns now shifted by one calendar day in loc, keeping the wall
// clock. The result is in UTC.
func Tomorrow(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, local.Hour(), local.Minute(), local.Second(), 0, loc).UTC()
}

// localDay returns the UTC bounds of the local day offset days from now.
func localDay(now time.Time, loc *time.Location, offset int) (time.Time, time.Time) {
	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+offset+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}
