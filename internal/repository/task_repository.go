package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"task-reminder/internal/model"
)

// dueCondition is the eligibility predicate for reminder scans. It runs in SQL
// so that a row advanced by a concurrent scan stops matching.
const dueCondition = "status = ? AND next_reminder_at IS NOT NULL AND next_reminder_at <= ? " +
	"AND (last_reminder_sent_at IS NULL OR last_reminder_sent_at < next_reminder_at)"

// TaskRepository handles persistence of task occurrences.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	task.NextReminderAt = utcPtr(task.NextReminderAt)
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return storageErr("create task", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, storageErr("find task", err)
	}
	return &task, nil
}

// FetchDue returns tasks whose reminder is due at now, oldest first.
func (r *TaskRepository) FetchDue(ctx context.Context, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where(dueCondition, model.StatusPending, utc(now)).
		Order("next_reminder_at ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, storageErr("fetch due tasks", err)
	}
	return tasks, nil
}

// MarkSent records a delivered reminder and replaces (or clears) the next one.
// due is the reminder moment the task was fetched with; a reminder moved since
// then is left alone and ErrSuperseded is returned.
func (r *TaskRepository) MarkSent(ctx context.Context, taskID uint, due, sentAt time.Time, next *time.Time) error {
	return r.updateDue(ctx, "mark sent", taskID, due, map[string]interface{}{
		"last_reminder_sent_at": utc(sentAt),
		"next_reminder_at":      utcPtr(next),
	})
}

// EndRecurrence records a delivered reminder for a recurring task whose rule
// has nothing left to yield, turning it into a finished one-shot.
func (r *TaskRepository) EndRecurrence(ctx context.Context, taskID uint, due, sentAt time.Time) error {
	return r.updateDue(ctx, "end recurrence", taskID, due, map[string]interface{}{
		"last_reminder_sent_at": utc(sentAt),
		"next_reminder_at":      nil,
		"is_repeating":          false,
		"recurrence_rule":       nil,
	})
}

// FinalizeAndSpawn closes a fired recurring occurrence and inserts its
// successor in one transaction. The successor is returned.
func (r *TaskRepository) FinalizeAndSpawn(ctx context.Context, taskID uint, due, sentAt, next time.Time) (*model.Task, error) {
	var successor model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.Task
		if err := tx.First(&current, taskID).Error; err != nil {
			return err
		}
		if current.RecurrenceRule == nil || !current.IsRepeating {
			return fmt.Errorf("task %d has no recurrence rule", taskID)
		}
		if current.NextReminderAt == nil || !current.NextReminderAt.Equal(due) {
			return ErrSuperseded
		}

		rule := *current.RecurrenceRule
		nextUTC := utc(next)
		successor = model.Task{
			UserID:         current.UserID,
			Title:          current.Title,
			Description:    current.Description,
			Status:         model.StatusPending,
			NextReminderAt: &nextUTC,
			IsRepeating:    true,
			RecurrenceRule: &rule,
		}
		if err := tx.Create(&successor).Error; err != nil {
			return err
		}

		return tx.Model(&model.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
			"is_repeating":          false,
			"recurrence_rule":       nil,
			"next_reminder_at":      nil,
			"last_reminder_sent_at": utc(sentAt),
			"next_occurrence_id":    successor.ID,
		}).Error
	})
	switch {
	case err == nil:
		return &successor, nil
	case errors.Is(err, ErrSuperseded):
		return nil, fmt.Errorf("finalize recurring task %d: %w", taskID, ErrSuperseded)
	default:
		return nil, storageErr("finalize recurring task", err)
	}
}

// FindRestorable returns pending tasks of a user without a scheduled reminder
// whose last reminder was sent in [start, end). Finalized recurring
// occurrences are excluded since their successor carries the schedule.
func (r *TaskRepository) FindRestorable(ctx context.Context, userID uint, start, end time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND next_reminder_at IS NULL AND next_occurrence_id IS NULL", userID, model.StatusPending).
		Where("last_reminder_sent_at >= ? AND last_reminder_sent_at < ?", utc(start), utc(end)).
		Order("last_reminder_sent_at ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, storageErr("find restorable tasks", err)
	}
	return tasks, nil
}

func (r *TaskRepository) SetNextReminder(ctx context.Context, taskID uint, at time.Time) error {
	return r.update(ctx, "set next reminder", taskID, map[string]interface{}{
		"next_reminder_at": utc(at),
	})
}

// UpdateReminder moves the reminder of a pending task owned by userID.
func (r *TaskRepository) UpdateReminder(ctx context.Context, userID, taskID uint, at time.Time) (*model.Task, error) {
	return r.updateOwned(ctx, "update reminder", userID, taskID, map[string]interface{}{
		"next_reminder_at": utc(at),
	})
}

// MarkDone completes a task. Done is terminal, so the reminder is cleared too.
func (r *TaskRepository) MarkDone(ctx context.Context, userID, taskID uint, completedAt time.Time) (*model.Task, error) {
	return r.updateOwned(ctx, "complete task", userID, taskID, map[string]interface{}{
		"status":           model.StatusDone,
		"completed_at":     utc(completedAt),
		"next_reminder_at": nil,
	})
}

// UpdateDescription replaces the text of a pending task owned by userID.
func (r *TaskRepository) UpdateDescription(ctx context.Context, userID, taskID uint, description string) (*model.Task, error) {
	return r.updateOwned(ctx, "update description", userID, taskID, map[string]interface{}{
		"description": description,
	})
}

// ListPending returns every pending task of a user, scheduled ones first.
func (r *TaskRepository) ListPending(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusPending).
		Order("next_reminder_at IS NULL, next_reminder_at ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, storageErr("list pending tasks", err)
	}
	return tasks, nil
}

// Search returns pending tasks of a user whose title or description contains
// query, ignoring case.
func (r *TaskRepository) Search(ctx context.Context, userID uint, query string) ([]model.Task, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusPending).
		Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, pattern, pattern).
		Order("next_reminder_at IS NULL, next_reminder_at ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, storageErr("search tasks", err)
	}
	return tasks, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ListInRange returns pending tasks with a reminder in [start, end). With
// includeUnscheduled, tasks without a reminder are listed as well.
func (r *TaskRepository) ListInRange(ctx context.Context, userID uint, start, end time.Time, includeUnscheduled bool) ([]model.Task, error) {
	db := r.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, model.StatusPending)
	if includeUnscheduled {
		db = db.Where("((next_reminder_at >= ? AND next_reminder_at < ?) OR next_reminder_at IS NULL)", utc(start), utc(end))
	} else {
		db = db.Where("next_reminder_at >= ? AND next_reminder_at < ?", utc(start), utc(end))
	}

	var tasks []model.Task
	if err := db.Order("next_reminder_at IS NULL, next_reminder_at ASC, created_at ASC").Find(&tasks).Error; err != nil {
		return nil, storageErr("list tasks in range", err)
	}
	return tasks, nil
}

// ListOverdue returns pending tasks whose reminder moment is before now.
func (r *TaskRepository) ListOverdue(ctx context.Context, userID uint, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND next_reminder_at < ?", userID, model.StatusPending, utc(now)).
		Order("next_reminder_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, storageErr("list overdue tasks", err)
	}
	return tasks, nil
}

func (r *TaskRepository) update(ctx context.Context, op string, taskID uint, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(values)
	if res.Error != nil {
		return storageErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: task %d: %w", op, taskID, ErrNotFound)
	}
	return nil
}

func (r *TaskRepository) updateDue(ctx context.Context, op string, taskID uint, due time.Time, values map[string]interface{}) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.Task{}).Where("id = ? AND next_reminder_at = ?", taskID, utc(due)).Updates(values)
	if res.Error != nil {
		return storageErr(op, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := db.Model(&model.Task{}).Where("id = ?", taskID).Count(&count).Error; err != nil {
		return storageErr(op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: task %d: %w", op, taskID, ErrNotFound)
	}
	return fmt.Errorf("%s: task %d: %w", op, taskID, ErrSuperseded)
}

func (r *TaskRepository) updateOwned(ctx context.Context, op string, userID, taskID uint, values map[string]interface{}) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
			return err
		}
		if task.IsDone() {
			return ErrTaskDone
		}
		if err := tx.Model(&task).Updates(values).Error; err != nil {
			return err
		}
		return tx.First(&task, taskID).Error
	})
	switch {
	case err == nil:
		return &task, nil
	case errors.Is(err, ErrTaskDone):
		return nil, fmt.Errorf("%s: task %d: %w", op, taskID, ErrTaskDone)
	default:
		return nil, storageErr(op, err)
	}
}

// ErrTaskDone reports a mutation attempted on a completed task.
var ErrTaskDone = errors.New("task already done")

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
