package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-reminder/internal/model"
	"task-reminder/internal/repository"
)

func TestCreateTask(t *testing.T) {
	s := setupStores(t)
	user := s.user(t, 1, "")
	svc := NewTaskService(s.tasks)
	ctx := context.Background()
	at := mustTime(t, "2025-01-15T08:00:00Z")

	oneShot, err := svc.Create(ctx, &user, TaskInput{Description: "  buy milk  ", RemindAt: &at})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if oneShot.IsRepeating || oneShot.RecurrenceRule != nil || oneShot.Description != "buy milk" {
		t.Fatalf("unexpected one-shot task: %+v", oneShot)
	}

	weekly, err := svc.Create(ctx, &user, TaskInput{Title: "Standup", RemindAt: &at, Rule: "rrule:freq=weekly;byday=we"})
	if err != nil {
		t.Fatalf("create repeating: %v", err)
	}
	if !weekly.IsRepeating || weekly.Rule() != "FREQ=WEEKLY;BYDAY=WE" {
		t.Fatalf("unexpected repeating task: %+v", weekly)
	}

	cases := []struct {
		name  string
		input TaskInput
	}{
		{"empty", TaskInput{RemindAt: &at}},
		{"bad rule", TaskInput{Description: "x", RemindAt: &at, Rule: "FREQ=OFTEN"}},
		{"rule without anchor", TaskInput{Description: "x", Rule: "FREQ=DAILY"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, &user, tc.input); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSnoozeAndComplete(t *testing.T) {
	s := setupStores(t)
	user := s.user(t, 1, "Europe/Moscow")
	svc := NewTaskService(s.tasks)
	ctx := context.Background()
	now := mustTime(t, "2025-01-15T08:05:00Z")
	task := s.task(t, model.Task{UserID: user.ID, Description: "call", LastReminderSentAt: &now})

	snoozed, err := svc.Snooze(ctx, &user, task.ID, time.Hour, now)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if want := now.Add(time.Hour); !snoozed.NextReminderAt.Equal(want) {
		t.Fatalf("snoozed to %s, want %s", snoozed.NextReminderAt, want)
	}

	due, err := s.tasks.FetchDue(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("snoozed task should become due again")
	}

	tomorrow, err := svc.SnoozeTomorrow(ctx, &user, task.ID, now)
	if err != nil {
		t.Fatalf("snooze tomorrow: %v", err)
	}
	if want := mustTime(t, "2025-01-16T08:05:00Z"); !tomorrow.NextReminderAt.Equal(want) {
		t.Fatalf("snoozed to %s, want %s", tomorrow.NextReminderAt, want)
	}

	if _, err := svc.Complete(ctx, &user, task.ID, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Reschedule(ctx, &user, task.ID, now.Add(time.Hour)); !errors.Is(err, repository.ErrTaskDone) {
		t.Fatalf("expected ErrTaskDone, got %v", err)
	}
	if _, err := svc.Snooze(ctx, &user, task.ID, -time.Minute, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTomorrowKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("zone unavailable: %v", err)
	}
	now := time.Date(2025, time.March, 29, 9, 30, 0, 0, loc)
	got := Tomorrow(now, loc).In(loc)
	if got.Day() != 30 || got.Hour() != 9 || got.Minute() != 30 {
		t.Fatalf("tomorrow = %s", got)
	}
}

func TestListingsUseLocalDay(t *testing.T) {
	s := setupStores(t)
	user := s.user(t, 1, "Europe/Moscow")
	svc := NewTaskService(s.tasks)
	ctx := context.Background()

	now := mustTime(t, "2025-01-15T20:30:00Z") // 23:30 local
	lateToday := s.task(t, model.Task{UserID: user.ID, Description: "late", NextReminderAt: ptr(mustTime(t, "2025-01-15T20:45:00Z"))})
	earlyTomorrow := s.task(t, model.Task{UserID: user.ID, Description: "early", NextReminderAt: ptr(mustTime(t, "2025-01-15T21:15:00Z"))})
	missed := s.task(t, model.Task{UserID: user.ID, Description: "missed", NextReminderAt: ptr(mustTime(t, "2025-01-15T06:00:00Z"))})

	today, err := svc.Today(ctx, &user, now)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(today) != 2 || today[0].ID != missed.ID || today[1].ID != lateToday.ID {
		t.Fatalf("today = %+v", today)
	}

	next, err := svc.Tomorrow(ctx, &user, now)
	if err != nil {
		t.Fatalf("tomorrow: %v", err)
	}
	if len(next) != 1 || next[0].ID != earlyTomorrow.ID {
		t.Fatalf("tomorrow = %+v", next)
	}

	overdue, err := svc.Overdue(ctx, &user, now)
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != missed.ID {
		t.Fatalf("overdue = %+v", overdue)
	}
}

func TestEditSearchAndListAll(t *testing.T) {
	s := setupStores(t)
	user := s.user(t, 1, "")
	svc := NewTaskService(s.tasks)
	ctx := context.Background()
	at := mustTime(t, "2025-01-15T08:00:00Z")
	task := s.task(t, model.Task{UserID: user.ID, Description: "buy milk", NextReminderAt: &at})
	s.task(t, model.Task{UserID: user.ID, Description: "read a book"})

	edited, err := svc.Edit(ctx, &user, task.ID, "  buy oat milk ")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Description != "buy oat milk" {
		t.Fatalf("description = %q", edited.Description)
	}
	if _, err := svc.Edit(ctx, &user, task.ID, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank edit: got %v, want ErrInvalidInput", err)
	}

	found, err := svc.Search(ctx, &user, " OAT ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != task.ID {
		t.Fatalf("search found %+v", found)
	}
	if _, err := svc.Search(ctx, &user, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty search: got %v, want ErrInvalidInput", err)
	}

	all, err := svc.All(ctx, &user)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].ID != task.ID {
		t.Fatalf("all = %+v", all)
	}

	if _, err := svc.Complete(ctx, &user, task.ID, at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Edit(ctx, &user, task.ID, "too late"); !errors.Is(err, repository.ErrTaskDone) {
		t.Fatalf("editing a done task: got %v, want ErrTaskDone", err)
	}
}
