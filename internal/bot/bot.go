package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"task-reminder/internal/model"
	"task-reminder/internal/recurrence"
	"task-reminder/internal/repository"
	"task-reminder/internal/service"
)

// sender is the part of the Telegram API the bot talks to.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api      *tgbotapi.BotAPI
	client   sender
	userRepo *repository.UserRepository
	taskSvc  *service.TaskService
	log      *zap.Logger
	now      func() time.Time
}

func New(token string, userRepo *repository.UserRepository, taskSvc *service.TaskService, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log = log.Named("bot")
	log.Info("bot authorized", zap.String("account", api.Self.UserName))

	return &Bot{
		api:      api,
		client:   api,
		userRepo: userRepo,
		taskSvc:  taskSvc,
		log:      log,
		now:      time.Now,
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Error("handle callback", zap.Error(err))
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Error("handle message", zap.Error(err))
			}
		}
	}

	return nil
}

// Notify sends the reminder for task to its owner. Delivery failures such as
// a blocked bot are logged and reported as false.
func (b *Bot) Notify(ctx context.Context, user model.User, task model.Task) bool {
	if ctx.Err() != nil {
		return false
	}
	msg := tgbotapi.NewMessage(user.TelegramID, reminderText(task, recurrence.Location(user.Zone())))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = reminderKeyboard(task.ID)
	if _, err := b.client.Send(msg); err != nil {
		b.log.Warn("send reminder",
			zap.Uint("task_id", task.ID),
			zap.Int64("telegram_id", user.TelegramID),
			zap.Error(err))
		return false
	}
	b.log.Info("reminder sent", zap.Uint("task_id", task.ID), zap.Int64("telegram_id", user.TelegramID))
	return true
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		b.log.Info("command", zap.Int64("from", msg.From.ID), zap.String("command", msg.Command()))
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "today":
		return b.handleToday(ctx, msg.Chat.ID, msg.From)
	case "tomorrow":
		return b.handleTomorrow(ctx, msg.Chat.ID, msg.From)
	case "overdue":
		return b.handleOverdue(ctx, msg.Chat.ID, msg.From)
	case "timezone":
		return b.handleTimezone(ctx, msg)
	case "remind":
		return b.handleRemind(ctx, msg)
	case "repeat":
		return b.handleRepeat(ctx, msg)
	case "all":
		return b.handleAll(ctx, msg.Chat.ID, msg.From)
	case "find":
		return b.handleFind(ctx, msg)
	case "task":
		return b.handleShow(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "reschedule":
		return b.handleReschedule(ctx, msg)
	case "edit":
		return b.handleEdit(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelToday:
		return true, b.handleToday(ctx, msg.Chat.ID, msg.From)
	case menuLabelTomorrow:
		return true, b.handleTomorrow(ctx, msg.Chat.ID, msg.From)
	case menuLabelOverdue:
		return true, b.handleOverdue(ctx, msg.Chat.ID, msg.From)
	case menuLabelAll:
		return true, b.handleAll(ctx, msg.Chat.ID, msg.From)
	case menuLabelHelp:
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf(
		"👋 Привет, %s!\n<b>Я напомню о задачах вовремя.</b>\n\nТвой часовой пояс: <code>%s</code>\n\n%s",
		escape(name), escape(user.Zone()), helpText,
	)
	return b.sendText(msg.Chat.ID, text)
}

const helpText = "Команды:\n" +
	"• /remind ГГГГ-ММ-ДД ЧЧ:ММ текст — разовое напоминание\n" +
	"• /repeat RRULE ГГГГ-ММ-ДД ЧЧ:ММ текст — повторяющееся напоминание " +
	"(например, <code>/repeat FREQ=WEEKLY;BYDAY=MO 2025-01-06 09:00 планёрка</code>)\n" +
	"• /today — задачи на сегодня\n" +
	"• /tomorrow — задачи на завтра\n" +
	"• /overdue — просроченные напоминания\n" +
	"• /all — все активные задачи\n" +
	"• /find текст — поиск по задачам\n" +
	"• /task ID — подробности задачи\n" +
	"• /done ID — отметить выполненной\n" +
	"• /reschedule ID ГГГГ-ММ-ДД ЧЧ:ММ — перенести напоминание\n" +
	"• /edit ID текст — изменить описание\n" +
	"• /timezone Europe/Moscow — сменить часовой пояс\n" +
	"• /help — подсказки"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Подсказки</b>\n"+helpText)
}

func (b *Bot) handleToday(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	now := b.now()
	tasks, err := b.taskSvc.Today(ctx, user, now)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось загрузить задачи: %s", escape(err.Error())))
	}
	return b.sendText(chatID, formatTaskList("📋 <b>Задачи на сегодня</b>", tasks, now, recurrence.Location(user.Zone())))
}

func (b *Bot) handleTomorrow(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	now := b.now()
	tasks, err := b.taskSvc.Tomorrow(ctx, user, now)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось загрузить задачи: %s", escape(err.Error())))
	}
	return b.sendText(chatID, formatTaskList("🗓 <b>Задачи на завтра</b>", tasks, now, recurrence.Location(user.Zone())))
}

func (b *Bot) handleOverdue(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	now := b.now()
	tasks, err := b.taskSvc.Overdue(ctx, user, now)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось загрузить задачи: %s", escape(err.Error())))
	}
	return b.sendText(chatID, formatTaskList("⚠️ <b>Просроченные напоминания</b>", tasks, now, recurrence.Location(user.Zone())))
}

func (b *Bot) handleAll(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	tasks, err := b.taskSvc.All(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось загрузить задачи: %s", escape(err.Error())))
	}
	return b.sendText(chatID, formatTaskList("🗂 <b>Все задачи</b>", tasks, b.now(), recurrence.Location(user.Zone())))
}

func (b *Bot) handleFind(ctx context.Context, msg *tgbotapi.Message) error {
	query := strings.TrimSpace(msg.CommandArguments())
	if query == "" {
		return b.sendText(msg.Chat.ID, "Формат: /find молоко")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	tasks, err := b.taskSvc.Search(ctx, user, query)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось выполнить поиск: %s", escape(err.Error())))
	}
	header := fmt.Sprintf("🔍 <b>Найдено по запросу</b> «%s»", escape(query))
	return b.sendText(msg.Chat.ID, formatTaskList(header, tasks, b.now(), recurrence.Location(user.Zone())))
}

func (b *Bot) handleShow(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, _, err := parseIDArgs(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /task 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyTaskErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, formatTaskDetails(*task, b.now(), recurrence.Location(user.Zone())))
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, _, err := parseIDArgs(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /done 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.Complete(ctx, user, taskID, b.now())
	if err != nil {
		return b.replyTaskErr(msg.Chat.ID, err)
	}
	b.log.Info("task completed", zap.Uint("task_id", task.ID), zap.Uint("user_id", user.ID))
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Задача <b>#%d</b> выполнена: %s", task.ID, escape(normalizeTitle(task.DisplayName()))))
}

func (b *Bot) handleReschedule(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	loc := recurrence.Location(user.Zone())
	taskID, at, err := parseRescheduleArgs(msg.CommandArguments(), loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /reschedule 12 2025-01-15 18:00")
	}
	if !at.After(b.now()) {
		return b.sendText(msg.Chat.ID, msgPastMoment)
	}
	task, err := b.taskSvc.Reschedule(ctx, user, taskID, at)
	if err != nil {
		return b.replyTaskErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⏰ Задача <b>#%d</b> перенесена на %s", task.ID, formatLocal(*task.NextReminderAt, loc)))
}

func (b *Bot) handleEdit(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, text, err := parseIDArgs(msg.CommandArguments())
	if err != nil || text == "" {
		return b.sendText(msg.Chat.ID, "Формат: /edit 12 новый текст задачи")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.Edit(ctx, user, taskID, text)
	if err != nil {
		return b.replyTaskErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📝 Задача <b>#%d</b> обновлена: %s", task.ID, escape(task.Description)))
}

// replyTaskErr answers a failed mutation of a single task.
func (b *Bot) replyTaskErr(chatID int64, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return b.sendText(chatID, "Задача не найдена.")
	case errors.Is(err, repository.ErrTaskDone):
		return b.sendText(chatID, "Задача уже выполнена.")
	case errors.Is(err, service.ErrInvalidInput):
		return b.sendText(chatID, escape(err.Error()))
	default:
		b.log.Error("task operation", zap.Error(err))
		return b.sendText(chatID, "Произошла ошибка, попробуй позже.")
	}
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Укажи часовой пояс IANA: /timezone Europe/Moscow")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не знаю часовой пояс <code>%s</code>.", escape(name)))
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.userRepo.UpdateTimezone(ctx, user.ID, loc.String()); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить часовой пояс: %s", escape(err.Error())))
	}
	local := b.now().In(loc).Format("15:04")
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Часовой пояс обновлён: <code>%s</code> (сейчас %s).", escape(loc.String()), local))
}

func (b *Bot) handleRemind(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	loc := recurrence.Location(user.Zone())
	at, text, err := parseRemindArgs(msg.CommandArguments(), loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /remind 2025-01-15 18:00 позвонить маме")
	}
	return b.createTask(ctx, msg.Chat.ID, user, service.TaskInput{Description: text, RemindAt: &at})
}

func (b *Bot) handleRepeat(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	loc := recurrence.Location(user.Zone())
	rule, at, text, err := parseRepeatArgs(msg.CommandArguments(), loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /repeat FREQ=WEEKLY;BYDAY=MO 2025-01-06 09:00 планёрка")
	}
	return b.createTask(ctx, msg.Chat.ID, user, service.TaskInput{Description: text, RemindAt: &at, Rule: rule})
}

// createTask stores input and confirms it. The first reminder must be after now.
func (b *Bot) createTask(ctx context.Context, chatID int64, user *model.User, input service.TaskInput) error {
	if input.RemindAt != nil && !input.RemindAt.After(b.now()) {
		return b.sendText(chatID, msgPastMoment)
	}
	task, err := b.taskSvc.Create(ctx, user, input)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return b.sendText(chatID, fmt.Sprintf("Не получилось создать задачу: %s", escape(err.Error())))
		}
		return b.sendText(chatID, "Не удалось сохранить задачу, попробуй позже.")
	}
	b.log.Info("task created", zap.Uint("task_id", task.ID), zap.Uint("user_id", user.ID), zap.Bool("repeating", task.IsRepeating))

	loc := recurrence.Location(user.Zone())
	text := fmt.Sprintf("✅ Задача <b>#%d</b> сохранена: %s\n⏰ %s",
		task.ID, escape(normalizeTitle(task.DisplayName())), formatLocal(*task.NextReminderAt, loc))
	if task.IsRepeating {
		text += fmt.Sprintf("\n%s <code>%s</code>", iconRecurring, escape(task.Rule()))
	}
	return b.sendText(chatID, text)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	data := cb.Data
	var prefix string
	switch {
	case strings.HasPrefix(data, cbDonePrefix):
		prefix = cbDonePrefix
	case strings.HasPrefix(data, cbSnoozePrefix):
		prefix = cbSnoozePrefix
	case strings.HasPrefix(data, cbTomorrowPrefix):
		prefix = cbTomorrowPrefix
	default:
		b.answer(cb.ID, "")
		return nil
	}

	taskID, err := parseTaskID(data, prefix)
	if err != nil {
		b.answer(cb.ID, "Ошибка обработки ID задачи")
		return nil
	}
	b.log.Info("reminder callback", zap.Int64("from", cb.From.ID), zap.String("action", strings.TrimSuffix(prefix, ":")), zap.Uint("task_id", taskID))

	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		b.answer(cb.ID, "Ошибка получения профиля пользователя")
		return err
	}
	loc := recurrence.Location(user.Zone())
	now := b.now()

	var (
		task   *model.Task
		status string
		reply  string
	)
	switch prefix {
	case cbDonePrefix:
		task, err = b.taskSvc.Complete(ctx, user, taskID, now)
		status, reply = "✅ <b>ЗАДАЧА ВЫПОЛНЕНА</b>", "Задача отмечена как выполненная! 🎉"
	case cbSnoozePrefix:
		task, err = b.taskSvc.Snooze(ctx, user, taskID, time.Hour, now)
		reply = "Напомню через час! ⏰"
		if task != nil {
			status = fmt.Sprintf("⏰ <b>Напомню через час</b> (%s)", task.NextReminderAt.In(loc).Format("15:04"))
		}
	case cbTomorrowPrefix:
		task, err = b.taskSvc.SnoozeTomorrow(ctx, user, taskID, now)
		reply = "Напомню завтра! 📅"
		if task != nil {
			status = fmt.Sprintf("📅 <b>Напомню завтра</b> (%s)", formatLocal(*task.NextReminderAt, loc))
		}
	}

	switch {
	case errors.Is(err, repository.ErrTaskDone):
		b.answer(cb.ID, "Задача уже выполнена")
		return nil
	case errors.Is(err, repository.ErrNotFound):
		b.answer(cb.ID, "Задача не найдена")
		return nil
	case err != nil:
		b.answer(cb.ID, "Произошла ошибка")
		return err
	}

	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, status+"\n\n"+escape(cb.Message.Text))
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.client.Send(edit); err != nil {
		b.log.Warn("edit reminder message", zap.Uint("task_id", taskID), zap.Error(err))
	}
	b.answer(cb.ID, reply)
	return nil
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.client.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Warn("callback ack", zap.Error(err))
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.client.Send(msg)
	return err
}
