package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"task-reminder/internal/model"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "reminder-test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func parseRFC3339(t *testing.T, value string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func createUser(t *testing.T, repo *UserRepository, telegramID int64) *model.User {
	t.Helper()
	user, err := repo.UpsertFromTelegram(context.Background(), telegramID, "Ann", "", "ann")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createTask(t *testing.T, repo *TaskRepository, task model.Task) model.Task {
	t.Helper()
	if err := repo.Create(context.Background(), &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func ids(tasks []model.Task) []uint {
	out := make([]uint, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

func TestFetchDueAppliesEligibility(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)

	now := parseRFC3339(t, "2025-01-15T08:05:00Z")
	older := createTask(t, tasks, model.Task{UserID: user.ID, Description: "older", NextReminderAt: ptr(now.Add(-time.Hour))})
	due := createTask(t, tasks, model.Task{UserID: user.ID, Description: "due", NextReminderAt: ptr(now.Add(-5 * time.Minute))})
	exact := createTask(t, tasks, model.Task{UserID: user.ID, Description: "exact", NextReminderAt: ptr(now)})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "future", NextReminderAt: ptr(now.Add(time.Minute))})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "unscheduled"})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "done", Status: model.StatusDone, NextReminderAt: ptr(now.Add(-time.Hour))})
	createTask(t, tasks, model.Task{
		UserID:             user.ID,
		Description:        "already sent",
		NextReminderAt:     ptr(now.Add(-time.Hour)),
		LastReminderSentAt: ptr(now.Add(-time.Hour)),
	})
	rescheduled := createTask(t, tasks, model.Task{
		UserID:             user.ID,
		Description:        "rescheduled after send",
		NextReminderAt:     ptr(now.Add(-2 * time.Minute)),
		LastReminderSentAt: ptr(now.Add(-24 * time.Hour)),
	})

	got, err := tasks.FetchDue(ctx, now)
	if err != nil {
		t.Fatalf("fetch due: %v", err)
	}
	want := []uint{older.ID, due.ID, rescheduled.ID, exact.ID}
	if gotIDs := ids(got); len(gotIDs) != len(want) {
		t.Fatalf("due ids = %v, want %v", gotIDs, want)
	} else {
		for i := range want {
			if gotIDs[i] != want[i] {
				t.Fatalf("due ids = %v, want %v", gotIDs, want)
			}
		}
	}
}

func TestFetchDueNeverSelectsFutureTask(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	user := createUser(t, users, 1)

	at := parseRFC3339(t, "2025-01-15T08:00:00Z")
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "later", NextReminderAt: ptr(at)})

	for _, offset := range []time.Duration{-24 * time.Hour, -time.Minute, -time.Second} {
		got, err := tasks.FetchDue(context.Background(), at.Add(offset))
		if err != nil {
			t.Fatalf("fetch due: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("task selected %s before its reminder", -offset)
		}
	}
}

func TestMarkSentStopsReselection(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)

	now := parseRFC3339(t, "2025-01-15T08:05:00Z")
	due := now.Add(-5 * time.Minute)
	task := createTask(t, tasks, model.Task{UserID: user.ID, Description: "call", NextReminderAt: &due})

	if err := tasks.MarkSent(ctx, task.ID, due, now, nil); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	got, err := tasks.FetchDue(ctx, now)
	if err != nil {
		t.Fatalf("fetch due: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("task reselected after send: %v", ids(got))
	}

	stored, err := tasks.FindByID(ctx, user.ID, task.ID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if stored.NextReminderAt != nil {
		t.Fatalf("next reminder not cleared: %v", stored.NextReminderAt)
	}
	if stored.LastReminderSentAt == nil || !stored.LastReminderSentAt.Equal(now) {
		t.Fatalf("last sent = %v, want %s", stored.LastReminderSentAt, now)
	}

	if err := tasks.MarkSent(ctx, 9999, due, now, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing task, got %v", err)
	}
}

func TestFinalizeAndSpawn(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)

	anchor := parseRFC3339(t, "2025-01-15T08:00:00Z")
	sentAt := parseRFC3339(t, "2025-01-15T08:05:00Z")
	next := parseRFC3339(t, "2025-01-22T08:00:00Z")
	task := createTask(t, tasks, model.Task{
		UserID:         user.ID,
		Title:          "Standup",
		Description:    "weekly standup",
		NextReminderAt: &anchor,
		IsRepeating:    true,
		RecurrenceRule: ptr("FREQ=WEEKLY;BYDAY=WE"),
	})

	successor, err := tasks.FinalizeAndSpawn(ctx, task.ID, anchor, sentAt, next)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if successor.ID == task.ID || successor.ID == 0 {
		t.Fatalf("successor must be a new row, got id %d", successor.ID)
	}

	stored, err := tasks.FindByID(ctx, user.ID, successor.ID)
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	if stored.Title != "Standup" || stored.Description != "weekly standup" || stored.Rule() != "FREQ=WEEKLY;BYDAY=WE" {
		t.Fatalf("successor content not copied: %+v", stored)
	}
	if !stored.IsRepeating || stored.Status != model.StatusPending {
		t.Fatalf("successor state: repeating=%t status=%s", stored.IsRepeating, stored.Status)
	}
	if stored.NextReminderAt == nil || !stored.NextReminderAt.Equal(next) {
		t.Fatalf("successor next = %v, want %s", stored.NextReminderAt, next)
	}
	if stored.LastReminderSentAt != nil {
		t.Fatalf("successor must not inherit last sent, got %v", stored.LastReminderSentAt)
	}

	old, err := tasks.FindByID(ctx, user.ID, task.ID)
	if err != nil {
		t.Fatalf("find finalized: %v", err)
	}
	if old.IsRepeating || old.RecurrenceRule != nil || old.NextReminderAt != nil {
		t.Fatalf("finalized occurrence keeps recurrence: %+v", old)
	}
	if old.LastReminderSentAt == nil || !old.LastReminderSentAt.Equal(sentAt) {
		t.Fatalf("finalized last sent = %v", old.LastReminderSentAt)
	}
	if old.NextOccurrenceID == nil || *old.NextOccurrenceID != successor.ID {
		t.Fatalf("finalized occurrence not linked to successor: %v", old.NextOccurrenceID)
	}

	if _, err := tasks.FinalizeAndSpawn(ctx, task.ID, anchor, sentAt, next); !errors.Is(err, ErrStorage) {
		t.Fatalf("finalizing a non-repeating row should fail, got %v", err)
	}
}

func TestFindRestorableWindow(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)
	other := createUser(t, users, 2)

	start := parseRFC3339(t, "2025-03-10T21:00:00Z")
	end := parseRFC3339(t, "2025-03-11T21:00:00Z")
	inside := createTask(t, tasks, model.Task{UserID: user.ID, Description: "inside", LastReminderSentAt: ptr(start.Add(18 * time.Hour))})
	atStart := createTask(t, tasks, model.Task{UserID: user.ID, Description: "at start", LastReminderSentAt: ptr(start)})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "at end", LastReminderSentAt: ptr(end)})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "before", LastReminderSentAt: ptr(start.Add(-time.Second))})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "scheduled", LastReminderSentAt: ptr(start.Add(time.Hour)), NextReminderAt: ptr(end.Add(time.Hour))})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "done", Status: model.StatusDone, LastReminderSentAt: ptr(start.Add(time.Hour))})
	createTask(t, tasks, model.Task{UserID: other.ID, Description: "other user", LastReminderSentAt: ptr(start.Add(time.Hour))})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "never sent"})

	recurring := createTask(t, tasks, model.Task{
		UserID:         user.ID,
		Description:    "recurring",
		NextReminderAt: ptr(start.Add(2 * time.Hour)),
		IsRepeating:    true,
		RecurrenceRule: ptr("FREQ=DAILY"),
	})
	if _, err := tasks.FinalizeAndSpawn(ctx, recurring.ID, start.Add(2*time.Hour), start.Add(2*time.Hour), start.Add(26*time.Hour)); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := tasks.FindRestorable(ctx, user.ID, start, end)
	if err != nil {
		t.Fatalf("find restorable: %v", err)
	}
	gotIDs := ids(got)
	if len(gotIDs) != 2 || gotIDs[0] != atStart.ID || gotIDs[1] != inside.ID {
		t.Fatalf("restorable ids = %v, want [%d %d]", gotIDs, atStart.ID, inside.ID)
	}
}

func TestScanUpdatesLoseToReschedule(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)

	due := parseRFC3339(t, "2025-01-15T08:00:00Z")
	sentAt := due.Add(time.Minute)
	moved := due.Add(3 * time.Hour)

	oneShot := createTask(t, tasks, model.Task{UserID: user.ID, Description: "call", NextReminderAt: &due})
	daily := createTask(t, tasks, model.Task{
		UserID:         user.ID,
		Description:    "water plants",
		NextReminderAt: &due,
		IsRepeating:    true,
		RecurrenceRule: ptr("FREQ=DAILY"),
	})
	for _, task := range []model.Task{oneShot, daily} {
		if _, err := tasks.UpdateReminder(ctx, user.ID, task.ID, moved); err != nil {
			t.Fatalf("reschedule %d: %v", task.ID, err)
		}
	}

	if err := tasks.MarkSent(ctx, oneShot.ID, due, sentAt, nil); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("mark sent on moved task: got %v, want ErrSuperseded", err)
	}
	if err := tasks.EndRecurrence(ctx, daily.ID, due, sentAt); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("end recurrence on moved task: got %v, want ErrSuperseded", err)
	}
	if _, err := tasks.FinalizeAndSpawn(ctx, daily.ID, due, sentAt, due.Add(24*time.Hour)); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("finalize moved task: got %v, want ErrSuperseded", err)
	}

	for _, task := range []model.Task{oneShot, daily} {
		stored, err := tasks.FindByID(ctx, user.ID, task.ID)
		if err != nil {
			t.Fatalf("find task: %v", err)
		}
		if stored.NextReminderAt == nil || !stored.NextReminderAt.Equal(moved) || stored.LastReminderSentAt != nil {
			t.Fatalf("task %d overwritten: next=%v last=%v", task.ID, stored.NextReminderAt, stored.LastReminderSentAt)
		}
	}
	if stored, _ := tasks.FindByID(ctx, user.ID, daily.ID); !stored.IsRepeating || stored.NextOccurrenceID != nil {
		t.Fatalf("moved recurring task finalized: %+v", stored)
	}

	pending, err := tasks.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("no successor expected, got %d pending tasks", len(pending))
	}
}

func TestSearchAndEdit(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)
	other := createUser(t, users, 2)

	at := parseRFC3339(t, "2025-01-15T08:00:00Z")
	call := createTask(t, tasks, model.Task{UserID: user.ID, Title: "Call Mom", Description: "about the weekend", NextReminderAt: &at})
	report := createTask(t, tasks, model.Task{UserID: user.ID, Description: "send 100% of the REPORT"})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "old report", Status: model.StatusDone})
	createTask(t, tasks, model.Task{UserID: other.ID, Description: "their report"})

	cases := []struct {
		query string
		want  []uint
	}{
		{"call", []uint{call.ID}},
		{"WEEKEND", []uint{call.ID}},
		{"report", []uint{report.ID}},
		{"100%", []uint{report.ID}},
		{"1_0", nil},
		{"nothing", nil},
	}
	for _, tc := range cases {
		got, err := tasks.Search(ctx, user.ID, tc.query)
		if err != nil {
			t.Fatalf("search %q: %v", tc.query, err)
		}
		if gotIDs := ids(got); len(gotIDs) != len(tc.want) || (len(gotIDs) > 0 && gotIDs[0] != tc.want[0]) {
			t.Fatalf("search %q = %v, want %v", tc.query, gotIDs, tc.want)
		}
	}

	pending, err := tasks.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if got := ids(pending); len(got) != 2 || got[0] != call.ID || got[1] != report.ID {
		t.Fatalf("pending ids = %v, want scheduled first", got)
	}

	edited, err := tasks.UpdateDescription(ctx, user.ID, report.ID, "send the draft")
	if err != nil {
		t.Fatalf("update description: %v", err)
	}
	if edited.Description != "send the draft" {
		t.Fatalf("description = %q", edited.Description)
	}
	if _, err := tasks.UpdateDescription(ctx, other.ID, report.ID, "hijack"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("editing someone else's task: got %v, want ErrNotFound", err)
	}
}

func TestMarkDoneIsTerminal(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)
	now := parseRFC3339(t, "2025-01-15T08:00:00Z")

	task := createTask(t, tasks, model.Task{UserID: user.ID, Description: "pay rent", NextReminderAt: ptr(now.Add(time.Hour))})
	done, err := tasks.MarkDone(ctx, user.ID, task.ID, now)
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if !done.IsDone() || done.NextReminderAt != nil || done.CompletedAt == nil {
		t.Fatalf("unexpected completed task: %+v", done)
	}

	if _, err := tasks.UpdateReminder(ctx, user.ID, task.ID, now.Add(2*time.Hour)); !errors.Is(err, ErrTaskDone) {
		t.Fatalf("expected ErrTaskDone, got %v", err)
	}
	if _, err := tasks.UpdateReminder(ctx, user.ID+1, task.ID, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign user, got %v", err)
	}
}

func TestListInRangeAndOverdue(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()
	user := createUser(t, users, 1)

	start := parseRFC3339(t, "2025-01-15T00:00:00Z")
	end := start.Add(24 * time.Hour)
	morning := createTask(t, tasks, model.Task{UserID: user.ID, Description: "morning", NextReminderAt: ptr(start.Add(9 * time.Hour))})
	unscheduled := createTask(t, tasks, model.Task{UserID: user.ID, Description: "someday"})
	createTask(t, tasks, model.Task{UserID: user.ID, Description: "tomorrow", NextReminderAt: ptr(end.Add(time.Hour))})

	scheduled, err := tasks.ListInRange(ctx, user.ID, start, end, false)
	if err != nil {
		t.Fatalf("list in range: %v", err)
	}
	if got := ids(scheduled); len(got) != 1 || got[0] != morning.ID {
		t.Fatalf("scheduled ids = %v", got)
	}

	withUnscheduled, err := tasks.ListInRange(ctx, user.ID, start, end, true)
	if err != nil {
		t.Fatalf("list in range: %v", err)
	}
	if got := ids(withUnscheduled); len(got) != 2 || got[0] != morning.ID || got[1] != unscheduled.ID {
		t.Fatalf("ids with unscheduled = %v", got)
	}

	overdue, err := tasks.ListOverdue(ctx, user.ID, start.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if got := ids(overdue); len(got) != 1 || got[0] != morning.ID {
		t.Fatalf("overdue ids = %v", got)
	}
}

func TestUserLookups(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepository(db)
	tasks := NewTaskRepository(db)
	ctx := context.Background()

	withTasks := createUser(t, users, 10)
	idle := createUser(t, users, 20)
	createTask(t, tasks, model.Task{UserID: withTasks.ID, Description: "a"})
	createTask(t, tasks, model.Task{UserID: withTasks.ID, Description: "b"})

	active, err := users.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != withTasks.ID {
		t.Fatalf("active users = %+v", active)
	}

	found, err := users.FindByIDs(ctx, []uint{withTasks.ID, idle.ID, 999})
	if err != nil {
		t.Fatalf("find by ids: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d users, want 2", len(found))
	}
	if found[withTasks.ID].Zone() != model.DefaultTimezone {
		t.Fatalf("default zone = %q", found[withTasks.ID].Zone())
	}

	if err := users.UpdateTimezone(ctx, idle.ID, "Europe/Moscow"); err != nil {
		t.Fatalf("update timezone: %v", err)
	}
	reloaded, err := users.UpsertFromTelegram(ctx, 20, idle.FirstName, idle.LastName, idle.Username)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.ID != idle.ID || reloaded.Timezone != "Europe/Moscow" {
		t.Fatalf("reloaded user = %+v", reloaded)
	}
}
