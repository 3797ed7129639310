package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/order"
	"vpn-store-bot/internal/panel"
	"vpn-store-bot/internal/services"
	"vpn-store-bot/internal/store"
)

var (
	AdminTelegramID int64

	adminStore  *store.Store
	adminEngine *order.Engine
	adminPanels map[string]panel.Client

	// Выключенные админом серверы: пользователям они не предлагаются.
	// Живёт в памяти, после рестарта все серверы снова доступны.
	disabledMu      sync.RWMutex
	disabledServers = map[string]bool{}
)

func SetServerDisabled(ref string, disabled bool) {
	disabledMu.Lock()
	defer disabledMu.Unlock()
	if disabled {
		disabledServers[ref] = true
	} else {
		delete(disabledServers, ref)
	}
}

func ServerDisabled(ref string) bool {
	disabledMu.RLock()
	defer disabledMu.RUnlock()
	return disabledServers[ref]
}

// Init настраивает админ-команды. Вызывается один раз при старте.
func Init(adminID int64, st *store.Store, eng *order.Engine, panels map[string]panel.Client) {
	AdminTelegramID = adminID
	adminStore = st
	adminEngine = eng
	adminPanels = panels
}

func IsAdmin(userID int64) bool {
	return userID == AdminTelegramID
}

func HandleAdminCommand(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	if update.Message == nil || update.Message.From.ID != AdminTelegramID {
		return
	}
	cmd := update.Message.Command()
	switch cmd {
	case "admin_stats":
		handleStats(bot, update)
	case "admin_pending":
		handlePending(bot, update)
	case "admin_orders":
		handleOrders(bot, update)
	case "admin_user":
		handleUser(bot, update)
	case "admin_retry":
		handleRetry(bot, update)
	case "admin_ban":
		handleBan(bot, update, true)
	case "admin_unban":
		handleBan(bot, update, false)
	case "admin_servers":
		handleServers(bot, update)
	case "admin_server":
		handleServerToggle(bot, update)
	case "admin_broadcast":
		handleBroadcast(bot, update)
	case "admin_revoke":
		handleRevoke(bot, update)
	case "admin_enable":
		handleEnable(bot, update)
	case "admin_extend":
		handleExtend(bot, update)
	case "admin_usage":
		handleUsage(bot, update)
	case "admin_backup":
		handleBackup(bot, update)
	case "admin_restore":
		handleRestore(bot, update)
	}
	logger.LogAdminAction(AdminTelegramID, cmd, update.Message.Text)
}

func handleStats(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	users := adminStore.CountUsers()
	activeKeys := adminStore.CountActiveCredentials()
	pending := adminStore.CountOrdersByStatus(store.StatusAwaitingApproval)
	failed := adminStore.CountOrdersByStatus(store.StatusFailed)
	todaySales := adminStore.SumSales(time.Now().Truncate(24*time.Hour), time.Now())
	monthSales := adminStore.SumSales(time.Now().AddDate(0, 0, -30), time.Now())
	msg := fmt.Sprintf(
		"Пользователей: %d\nАктивных ключей: %d\nЗаказов на проверке: %d\nЗаказов с ошибкой выдачи: %d\nПродажи: сегодня %d Ks, месяц %d Ks",
		users, activeKeys, pending, failed, todaySales, monthSales)
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func handlePending(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	orders, err := adminStore.OrdersByStatus(store.StatusAwaitingApproval)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	if len(orders) == 0 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Заказов на проверке нет."))
		return
	}
	var sb strings.Builder
	sb.WriteString("Заказы на проверке:\n\n")
	for _, o := range orders {
		sb.WriteString(formatOrder(&o))
		sb.WriteString("\n")
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, sb.String()))
}

func handleOrders(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_orders <telegram_id>"))
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Некорректный telegram_id"))
		return
	}
	orders, err := adminStore.OrdersByUser(userID)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	if len(orders) == 0 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "У пользователя нет заказов."))
		return
	}
	var sb strings.Builder
	for _, o := range orders {
		sb.WriteString(formatOrder(&o))
		sb.WriteString("\n")
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, sb.String()))
}

func formatOrder(o *store.Order) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Заказ %s\n", o.ID)
	fmt.Fprintf(&sb, "  @%s (%d), %s, %s, %d Ks\n", o.Username, o.UserID, o.ServerRef, o.PlanID, o.Amount)
	fmt.Fprintf(&sb, "  Статус: %s, создан %s\n", o.Status, time.Unix(o.CreatedAt, 0).Format("02.01 15:04"))
	if o.FailReason != "" {
		fmt.Fprintf(&sb, "  Причина ошибки: %s\n", o.FailReason)
	}
	if o.CredentialRef != "" {
		fmt.Fprintf(&sb, "  Ключ: %s\n", o.CredentialRef)
	}
	return sb.String()
}

func handleUser(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_user <telegram_id>"))
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Некорректный telegram_id"))
		return
	}
	user, err := adminStore.FindUser(userID)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	if user == nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Пользователь не найден"))
		return
	}
	keys, _ := adminStore.CountUserCredentials(userID)
	usedTest, _ := adminStore.HasUsedFreeTest(userID)
	msg := fmt.Sprintf("Пользователь @%s (%d)\nИмя: %s\nЗабанен: %v\nКлючей выдано: %d\nТест использован: %v",
		user.Username, user.TelegramID, user.FirstName, user.Banned, keys, usedTest)
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

// handleRetry повторяет выпуск ключа по одобренному заказу после сбоя
// панели или БД. Сам выпуск идемпотентен, дубликата не будет.
func handleRetry(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_retry <order_id>"))
		return
	}
	o, err := adminEngine.RetryFulfill(context.Background(), args[0], AdminTelegramID)
	switch {
	case err == nil:
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ключ выдан, заказ "+o.ID+" закрыт."))
	case errors.Is(err, order.ErrNotFound):
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Заказ не найден"))
	case errors.Is(err, order.ErrInvalidState):
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Заказ не в состоянии approved: "+err.Error()))
	default:
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка повторной выдачи: "+err.Error()))
	}
}

func handleBan(bot *tgbotapi.BotAPI, update *tgbotapi.Update, banned bool) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Укажите telegram_id"))
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Некорректный telegram_id"))
		return
	}
	if err := adminStore.SetBanned(userID, banned); err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	if banned {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Пользователь забанен"))
	} else {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Пользователь разбанен"))
	}
}

// credentialByRef находит ключ и клиента его панели по первому
// аргументу команды.
func credentialByRef(bot *tgbotapi.BotAPI, update *tgbotapi.Update, usage string) (*store.Credential, panel.Client, bool) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, usage))
		return nil, nil, false
	}
	c, err := adminStore.CredentialByClientRef(args[0])
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return nil, nil, false
	}
	if c == nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ключ не найден"))
		return nil, nil, false
	}
	cl, ok := adminPanels[c.ServerRef]
	if !ok {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Сервер "+c.ServerRef+" больше не настроен"))
		return nil, nil, false
	}
	return c, cl, true
}

// handleRevoke удаляет ключ с панели и деактивирует его у нас.
func handleRevoke(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	c, cl, ok := credentialByRef(bot, update, "Использование: /admin_revoke <client_ref>")
	if !ok {
		return
	}
	if err := cl.DeleteUser(context.Background(), c.ClientRef); err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
			fmt.Sprintf("Панель не удалила клиента [%s]: %v", panel.Classify(err), err)))
		return
	}
	if err := adminStore.SetCredentialActive(c.ID, false); err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ключ отозван"))
}

// handleEnable включает ключ обратно, например после ручного продления.
func handleEnable(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	c, cl, ok := credentialByRef(bot, update, "Использование: /admin_enable <client_ref>")
	if !ok {
		return
	}
	if err := cl.EnableUser(context.Background(), c.ClientRef); err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
			fmt.Sprintf("Панель не включила клиента [%s]: %v", panel.Classify(err), err)))
		return
	}
	if err := adminStore.SetCredentialActive(c.ID, true); err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ключ включён"))
}

// handleExtend продлевает срок ключа на панели: оплата пришла руками,
// новый заказ не оформлялся.
func handleExtend(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 2 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_extend <client_ref> <days>"))
		return
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Некорректное число дней"))
		return
	}
	c, cl, ok := credentialByRef(bot, update, "")
	if !ok {
		return
	}
	cred, err := cl.UpdateUser(context.Background(), c.ClientRef, panel.Patch{ExpiryDays: &days})
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
			fmt.Sprintf("Панель не продлила клиента [%s]: %v", panel.Classify(err), err)))
		return
	}
	if err := adminStore.UpdateCredentialExpiry(c.ID, cred.ExpiresAt.Unix()); err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
		"Ключ продлён до "+cred.ExpiresAt.Format("02.01.2006")))
}

// handleUsage показывает трафик и срок ключа с панели.
func handleUsage(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	c, cl, ok := credentialByRef(bot, update, "Использование: /admin_usage <client_ref>")
	if !ok {
		return
	}
	stats, err := cl.GetUsage(context.Background(), c.ClientRef)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
			fmt.Sprintf("Панель не отдала статистику [%s]: %v", panel.Classify(err), err)))
		return
	}
	const gib = 1024 * 1024 * 1024
	msg := fmt.Sprintf("Ключ %s (%s)\nТрафик: %.2f / %.2f GB\nДо: %s\nВключён: %v",
		c.ClientRef, c.ServerRef,
		float64(stats.UsedBytes)/gib, float64(stats.LimitBytes)/gib,
		stats.ExpiresAt.Format("02.01.2006"), stats.Enabled)
	if stats.LastOnline != "" {
		msg += "\nПоследний онлайн: " + stats.LastOnline
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func handleServers(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	statuses := services.GetServerStatuses()
	if len(statuses) == 0 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Статусы ещё не собраны, подождите минуту."))
		return
	}
	msg := "Статус серверов:\n"
	for _, s := range statuses {
		msg += fmt.Sprintf("%s (%s): %s, последний пинг: %s\n",
			s.Name, s.Ref, s.Status, s.LastChecked.Format("02.01 15:04"))
		if ServerDisabled(s.Ref) {
			msg += "  ⛔ скрыт от пользователей (/admin_server " + s.Ref + " on)\n"
		}
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

// handleServerToggle скрывает сервер из пользовательского списка или
// возвращает обратно. Выданные на нём ключи продолжают работать.
func handleServerToggle(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
		refs := make([]string, 0, len(adminPanels))
		for ref := range adminPanels {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
			"Использование: /admin_server <ref> on|off\nСерверы: "+strings.Join(refs, ", ")))
		return
	}
	ref := args[0]
	if _, ok := adminPanels[ref]; !ok {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Сервер "+ref+" не настроен"))
		return
	}
	SetServerDisabled(ref, args[1] == "off")
	if args[1] == "off" {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Сервер "+ref+" скрыт от пользователей"))
	} else {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Сервер "+ref+" снова доступен"))
	}
}

// handleBroadcast рассылает текст всем незабаненным пользователям.
// Заблокировавшие бота просто попадают в счётчик недоставленных.
func handleBroadcast(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	text := strings.TrimSpace(update.Message.CommandArguments())
	if text == "" {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_broadcast <текст>"))
		return
	}
	users, err := adminStore.AllUsers()
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	sent, failed := 0, 0
	for _, u := range users {
		if _, err := bot.Send(tgbotapi.NewMessage(u.TelegramID, "📢 "+text)); err != nil {
			failed++
			continue
		}
		sent++
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
		fmt.Sprintf("Рассылка завершена: доставлено %d, не доставлено %d", sent, failed)))
}

func handleBackup(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	backupDir := "backups"
	os.MkdirAll(backupDir, 0o755)
	filename := filepath.Join(backupDir, "backup_"+time.Now().Format("20060102_150405")+".dump")
	err := BackupDatabase(filename, config.AppCfg.DatabaseURL)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка резервного копирования: "+err.Error()))
		return
	}
	file := tgbotapi.NewDocument(update.Message.Chat.ID, tgbotapi.FilePath(filename))
	file.Caption = "Резервная копия БД успешно создана"
	bot.Send(file)
	_ = os.Remove(filename)
}

func handleRestore(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	backupDir := "backups"
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Укажите имя файла для восстановления"))
		return
	}
	filename := filepath.Join(backupDir, args[0])
	err := RestoreDatabase(filename, config.AppCfg.DatabaseURL)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка восстановления: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Восстановление успешно завершено из файла: "+args[0]))
}
