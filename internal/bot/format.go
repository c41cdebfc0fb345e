package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-reminder/internal/model"
)

const (
	cbDonePrefix     = "done:"
	cbSnoozePrefix   = "snooze1h:"
	cbTomorrowPrefix = "tomorrow:"
)

const (
	btnDone           = "✅ Сделано"
	btnSnoozeHour     = "⏰ +1 час"
	btnSnoozeTomorrow = "📅 Завтра"
	iconPending       = "🔔"
	iconUnscheduled   = "🔕"
	iconOverdue       = "⚠️"
	iconRecurring     = "♻️"
	menuLabelToday    = "📋 Сегодня"
	menuLabelTomorrow = "🗓 Завтра"
	menuLabelOverdue  = "⚠️ Просрочено"
	menuLabelAll      = "🗂 Все задачи"
	menuLabelHelp     = "ℹ️ Помощь"
	noDescription     = "Без описания"
	msgPastMoment     = "Это время уже прошло. Укажи момент в будущем."

	inputLayout = "2006-01-02 15:04"
)

// reminderText renders the notification body for task in the owner's zone.
func reminderText(task model.Task, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("🔔 <b>Напоминание!</b>\n\n")
	name := task.DisplayName()
	if strings.TrimSpace(name) == "" {
		name = noDescription
	}
	b.WriteString(fmt.Sprintf("Задача: <i>%s</i>", escape(normalizeTitle(name))))
	if task.Title != "" && task.Description != "" && task.Description != task.Title {
		b.WriteString(fmt.Sprintf("\n📝 %s", escape(task.Description)))
	}
	if task.NextReminderAt != nil {
		b.WriteString(fmt.Sprintf("\n⏰ %s", formatLocal(*task.NextReminderAt, loc)))
	}
	if task.IsRepeating && task.Rule() != "" {
		b.WriteString(fmt.Sprintf("\n%s <code>%s</code>", iconRecurring, escape(task.Rule())))
	}
	b.WriteString(fmt.Sprintf("\n\n(ID: %d)", task.ID))
	return b.String()
}

func reminderKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatUint(uint64(taskID), 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnDone, cbDonePrefix+id),
			tgbotapi.NewInlineKeyboardButtonData(btnSnoozeHour, cbSnoozePrefix+id),
			tgbotapi.NewInlineKeyboardButtonData(btnSnoozeTomorrow, cbTomorrowPrefix+id),
		),
	)
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelToday),
			tgbotapi.NewKeyboardButton(menuLabelTomorrow),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelOverdue),
			tgbotapi.NewKeyboardButton(menuLabelAll),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// formatTaskList renders a listing under header. now and loc decide which
// reminders are shown as overdue.
func formatTaskList(header string, tasks []model.Task, now time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	if len(tasks) == 0 {
		b.WriteString("— задач нет")
		return b.String()
	}
	for _, task := range tasks {
		b.WriteString(formatTask(task, now, loc))
	}
	return strings.TrimSpace(b.String())
}

func formatTask(task model.Task, now time.Time, loc *time.Location) string {
	var b strings.Builder
	icon := iconUnscheduled
	if task.NextReminderAt != nil {
		icon = iconPending
		if task.NextReminderAt.Before(now) {
			icon = iconOverdue
		}
	}
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(shortTitle(task.DisplayName(), 60))))
	if task.NextReminderAt != nil {
		b.WriteString(fmt.Sprintf("   ⏰ %s\n", formatLocal(*task.NextReminderAt, loc)))
	}
	if task.IsRepeating && task.Rule() != "" {
		b.WriteString(fmt.Sprintf("   %s %s\n", iconRecurring, escape(task.Rule())))
	}
	b.WriteByte('\n')
	return b.String()
}

// formatTaskDetails renders one task with its full description.
func formatTaskDetails(task model.Task, now time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(formatTask(task, now, loc))
	if task.Title != "" && task.Description != "" && task.Description != task.Title {
		b.WriteString(fmt.Sprintf("📝 %s\n", escape(task.Description)))
	}
	if task.LastReminderSentAt != nil {
		b.WriteString(fmt.Sprintf("Последнее напоминание: %s\n", formatLocal(*task.LastReminderSentAt, loc)))
	}
	return strings.TrimSpace(b.String())
}

func formatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006 в 15:04")
}

// parseRemindArgs splits "YYYY-MM-DD HH:MM text" and resolves the moment in loc.
func parseRemindArgs(args string, loc *time.Location) (time.Time, string, error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return time.Time{}, "", fmt.Errorf("expected date, time and text")
	}
	at, err := time.ParseInLocation(inputLayout, fields[0]+" "+fields[1], loc)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse date: %w", err)
	}
	return at.UTC(), strings.Join(fields[2:], " "), nil
}

// parseRepeatArgs splits "RRULE YYYY-MM-DD HH:MM text".
func parseRepeatArgs(args string, loc *time.Location) (string, time.Time, string, error) {
	args = strings.TrimSpace(args)
	rule, rest, ok := strings.Cut(args, " ")
	if !ok || rule == "" {
		return "", time.Time{}, "", fmt.Errorf("expected rule, date, time and text")
	}
	at, text, err := parseRemindArgs(rest, loc)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return rule, at, text, nil
}

// parseIDArgs splits "ID rest" where rest may be empty.
func parseIDArgs(args string) (uint, string, error) {
	raw, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := parseTaskID(strings.TrimPrefix(raw, "#"), "")
	if err != nil {
		return 0, "", fmt.Errorf("parse task id: %w", err)
	}
	return id, strings.TrimSpace(rest), nil
}

// parseRescheduleArgs splits "ID YYYY-MM-DD HH:MM" and resolves the moment in loc.
func parseRescheduleArgs(args string, loc *time.Location) (uint, time.Time, error) {
	id, rest, err := parseIDArgs(args)
	if err != nil {
		return 0, time.Time{}, err
	}
	at, err := time.ParseInLocation(inputLayout, strings.Join(strings.Fields(rest), " "), loc)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse date: %w", err)
	}
	return id, at.UTC(), nil
}

func parseTaskID(data, prefix string) (uint, error) {
	raw := strings.TrimPrefix(data, prefix)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
