package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
)

// RestoreResult summarises one restoration tick.
type RestoreResult struct {
	Users    int // users whose local clock was in the midnight hour
	Restored int
	Failed   int
}

// RestoreService re-establishes reminders that were cleared after firing.
// When a user's local clock is in hour 0, every pending unscheduled task
// notified during the day before the one that just closed gets a reminder on
// the closed day at the same local time of day.
type RestoreService struct {
	tasks TaskStore
	users UserStore
	log   *zap.Logger
	now   Clock
}

func NewRestoreService(tasks TaskStore, users UserStore, log *zap.Logger) *RestoreService {
	return &RestoreService{
		tasks: tasks,
		users: users,
		log:   log.Named("restore"),
		now:   time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *RestoreService) WithClock(now Clock) *RestoreService {
	s.now = now
	return s
}

// Restore runs one tick. Only a failure to list users aborts it.
func (s *RestoreService) Restore(ctx context.Context) (RestoreResult, error) {
	var res RestoreResult
	now := s.now().UTC()

	users, err := s.users.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list active users: %w", err)
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		loc := recurrence.Location(user.Zone())
		if now.In(loc).Hour() != 0 {
			continue
		}
		res.Users++
		restored, failed := s.restoreUser(ctx, user, now, loc)
		res.Restored += restored
		res.Failed += failed
	}

	RemindersRestored.Add(float64(res.Restored))
	if res.Users > 0 {
		s.log.Info("reminder restoration finished",
			zap.Int("users", res.Users),
			zap.Int("restored", res.Restored),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}

func (s *RestoreService) restoreUser(ctx context.Context, user model.User, now time.Time, loc *time.Location) (restored, failed int) {
	log := s.log.With(zap.Uint("user_id", user.ID), zap.String("timezone", loc.String()))
	start, end := RestoreWindow(now, loc)

	tasks, err := s.tasks.FindRestorable(ctx, user.ID, start, end)
	if err != nil {
		log.Error("find restorable tasks", zap.Error(err))
		return 0, 1
	}

	for _, task := range tasks {
		at := RestoredAt(*task.LastReminderSentAt, end, loc)
		if err := s.tasks.SetNextReminder(ctx, task.ID, at); err != nil {
			log.Error("restore reminder", zap.Uint("task_id", task.ID), zap.Error(err))
			failed++
			continue
		}
		log.Debug("reminder restored", zap.Uint("task_id", task.ID), zap.Time("next", at))
		restored++
	}
	return restored, failed
}

// RestoreWindow returns the UTC bounds [start, end) of the local day preceding
// the one that closed at the last midnight crossing before now. end is the
// local midnight opening the closed day.
func RestoreWindow(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	y, m, d := local.Date()
	start = time.Date(y, m, d-2, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d-1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

// RestoredAt places the local time of day of sentAt on the local date of day.
func RestoredAt(sentAt, day time.Time, loc *time.Location) time.Time {
	sent := sentAt.In(loc)
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, sent.Hour(), sent.Minute(), sent.Second(), 0, loc).UTC()
}
