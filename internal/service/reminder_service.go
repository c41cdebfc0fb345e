package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
	"task-reminder/internal/repository"
)

// ScanResult summarises one reminder scan tick.
type ScanResult struct {
	Sent             int
	Failed           int
	RecurringCreated int
}

// ReminderService delivers due reminders and advances the tasks behind them.
type ReminderService struct {
	tasks    TaskStore
	users    UserStore
	notifier Notifier
	log      *zap.Logger
	now      Clock
}

func NewReminderService(tasks TaskStore, users UserStore, notifier Notifier, log *zap.Logger) *ReminderService {
	return &ReminderService{
		tasks:    tasks,
		users:    users,
		notifier: notifier,
		log:      log.Named("reminders"),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *ReminderService) WithClock(now Clock) *ReminderService {
	s.now = now
	return s
}

// delivered is a dispatched task waiting for its storage update.
type delivered struct {
	task model.Task
	next time.Time
	err  error // recurrence failure for repeating tasks
}

// Scan runs one tick: fetch due tasks, notify their owners in due order, then
// advance every delivered task. A failed fetch aborts the tick; per-task
// failures are logged and do not stop the batch.
func (s *ReminderService) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	now := s.now().UTC()

	tasks, err := s.tasks.FetchDue(ctx, now)
	if err != nil {
		return res, fmt.Errorf("fetch due tasks: %w", err)
	}
	if len(tasks) == 0 {
		s.log.Debug("no due reminders", zap.Time("now", now))
		return res, nil
	}

	owners, err := s.users.FindByIDs(ctx, ownerIDs(tasks))
	if err != nil {
		return res, fmt.Errorf("load task owners: %w", err)
	}

	var done []delivered
	for _, task := range tasks {
		if ctx.Err() != nil {
			s.log.Warn("scan interrupted, remaining reminders stay due", zap.Int("delivered", len(done)))
			break
		}
		user, ok := owners[task.UserID]
		if !ok {
			res.Failed++
			s.log.Warn("skipping due task",
				zap.Uint("task_id", task.ID),
				zap.Uint("user_id", task.UserID),
				zap.Error(ErrMissingUser))
			continue
		}
		if !s.notifier.Notify(ctx, user, task) {
			res.Failed++
			s.log.Info("reminder not delivered, will retry next tick",
				zap.Uint("task_id", task.ID),
				zap.Error(ErrDelivery))
			continue
		}
		res.Sent++

		d := delivered{task: task}
		if recurring(task) {
			d.next, d.err = recurrence.Next(*task.NextReminderAt, task.Rule(), recurrence.Location(user.Zone()))
		}
		done = append(done, d)
	}

	// Delivered reminders are recorded even when the tick is being cancelled,
	// otherwise they would be sent again after restart.
	updateCtx := context.WithoutCancel(ctx)
	for _, d := range done {
		if s.advance(updateCtx, d, now) {
			res.RecurringCreated++
		}
	}

	recordScan(res)
	s.log.Info("reminder scan finished",
		zap.Int("due", len(tasks)),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("recurring_created", res.RecurringCreated))
	return res, nil
}

// advance persists the outcome of one delivered reminder and reports whether
// a successor occurrence was created. Updates are keyed on the fetched
// reminder moment so a reschedule made during dispatch wins.
func (s *ReminderService) advance(ctx context.Context, d delivered, now time.Time) bool {
	log := s.log.With(zap.Uint("task_id", d.task.ID))
	due := *d.task.NextReminderAt

	if !recurring(d.task) {
		s.logUpdate(log, "mark reminder sent", s.tasks.MarkSent(ctx, d.task.ID, due, now, nil))
		return false
	}

	if d.err != nil {
		if errors.Is(d.err, recurrence.ErrNotFound) {
			log.Info("recurrence exhausted, task becomes one-shot", zap.String("rule", d.task.Rule()))
		} else {
			log.Warn("dropping unusable recurrence rule", zap.String("rule", d.task.Rule()), zap.Error(d.err))
		}
		s.logUpdate(log, "end recurrence", s.tasks.EndRecurrence(ctx, d.task.ID, due, now))
		return false
	}

	successor, err := s.tasks.FinalizeAndSpawn(ctx, d.task.ID, due, now, d.next)
	if err != nil {
		s.logUpdate(log.With(zap.Time("next", d.next)), "spawn next occurrence", err)
		return false
	}
	log.Debug("next occurrence created", zap.Uint("successor_id", successor.ID), zap.Time("next", d.next))
	return true
}

func (s *ReminderService) logUpdate(log *zap.Logger, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSuperseded):
		log.Info("reminder rescheduled during dispatch, keeping new time", zap.String("op", op))
	default:
		log.Error(op, zap.Error(err))
	}
}

func recurring(task model.Task) bool {
	return task.IsRepeating && task.Rule() != "" && task.NextReminderAt != nil
}

func ownerIDs(tasks []model.Task) []uint {
	seen := make(map[uint]struct{}, len(tasks))
	ids := make([]uint, 0, len(tasks))
	for _, task := range tasks {
		if _, ok := seen[task.UserID]; ok {
			continue
		}
		seen[task.UserID] = struct{}{}
		ids = append(ids, task.UserID)
	}
	return ids
}
