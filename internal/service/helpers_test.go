package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"task-reminder/internal/model"
	"task-reminder/internal/repository"
)

type stores struct {
	tasks *repository.TaskRepository
	users *repository.UserRepository
}

func setupStores(t *testing.T) stores {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "service-test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return stores{tasks: repository.NewTaskRepository(db), users: repository.NewUserRepository(db)}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return out
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

func ptr[T any](v T) *T { return &v }

func (s stores) user(t *testing.T, telegramID int64, timezone string) model.User {
	t.Helper()
	ctx := context.Background()
	user, err := s.users.UpsertFromTelegram(ctx, telegramID, "Ann", "", "ann")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if timezone != "" {
		if err := s.users.UpdateTimezone(ctx, user.ID, timezone); err != nil {
			t.Fatalf("set timezone: %v", err)
		}
		user.Timezone = timezone
	}
	return *user
}

func (s stores) task(t *testing.T, task model.Task) model.Task {
	t.Helper()
	if err := s.tasks.Create(context.Background(), &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (s stores) reload(t *testing.T, task model.Task) model.Task {
	t.Helper()
	got, err := s.tasks.FindByID(context.Background(), task.UserID, task.ID)
	if err != nil {
		t.Fatalf("reload task %d: %v", task.ID, err)
	}
	return *got
}

// recordingNotifier records deliveries and fails for task ids in fail.
type recordingNotifier struct {
	mu   sync.Mutex
	fail map[uint]bool
	sent []uint
}

func (n *recordingNotifier) Notify(_ context.Context, _ model.User, task model.Task) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[task.ID] {
		return false
	}
	n.sent = append(n.sent, task.ID)
	return true
}

func (n *recordingNotifier) delivered() []uint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint(nil), n.sent...)
}
