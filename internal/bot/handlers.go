package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/admin"
	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/order"
	"vpn-store-bot/internal/panel"
	"vpn-store-bot/internal/store"
)

var (
	botStore *store.Store
	engine   *order.Engine
	servers  map[string]config.ServerConfig

	rateLimiter = NewRateLimiter()

	// awaitingProof: пользователь -> заказ, по которому ждём скриншот
	proofMu       sync.Mutex
	awaitingProof = make(map[int64]string)
)

// Init связывает обработчики с хранилищем и движком заказов.
// Вызывается один раз до запуска long polling.
func Init(st *store.Store, eng *order.Engine, srvs map[string]config.ServerConfig) {
	botStore = st
	engine = eng
	servers = srvs
}

// xuiProtocols — протоколы, предлагаемые на серверах 3x-ui.
// Hiddify выдаёт единую подписку, выбор протокола там не нужен.
var xuiProtocols = []string{"vless", "trojan", "shadowsocks", "vmess"}

func HandleUpdate(botapi *tgbotapi.BotAPI, update tgbotapi.Update) {
	defer logger.NotifyOnPanic("HandleUpdate")

	if update.CallbackQuery != nil {
		handleCallback(botapi, update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	userID := msg.From.ID

	if err := botStore.UpsertUser(userID, msg.From.UserName, msg.From.FirstName); err != nil {
		logger.Warn("upsert_user_failed: " + err.Error())
	}
	if botStore.IsBanned(userID) {
		return
	}

	// Скриншот оплаты приходит фотографией
	if len(msg.Photo) > 0 {
		handlePaymentScreenshot(botapi, msg)
		return
	}
	if msg.Text == "" {
		return
	}

	cmd := strings.Fields(msg.Text)[0]
	if !admin.IsAdmin(userID) && rateLimiter.IsLimited(userID, cmd) {
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Пожалуйста, не так быстро! Подождите пару секунд...")
		reply.ReplyMarkup = GetReplyKeyboard(userID)
		botapi.Send(reply)
		return
	}
	if admin.IsAdmin(userID) && strings.HasPrefix(msg.Text, "/admin_") {
		admin.HandleAdminCommand(botapi, &update)
		return
	}

	switch {
	case strings.HasPrefix(msg.Text, "/start"):
		sendMainMenu(botapi, msg.Chat.ID, userID)
	case msg.Text == "🎁 Тестовый ключ" || strings.HasPrefix(msg.Text, "/test"):
		sendServerList(botapi, msg.Chat.ID, "free_srv")
	case msg.Text == "🔑 Купить ключ" || strings.HasPrefix(msg.Text, "/buy"):
		sendServerList(botapi, msg.Chat.ID, "buy_srv")
	case msg.Text == "📦 Мои ключи" || strings.HasPrefix(msg.Text, "/mykeys"):
		sendMyKeys(botapi, msg.Chat.ID, userID)
	case msg.Text == "📋 Мои заказы" || strings.HasPrefix(msg.Text, "/myorders"):
		sendMyOrders(botapi, msg.Chat.ID, userID)
	case strings.HasPrefix(msg.Text, "/support"):
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Поддержка: напишите вашему администратору.")
		reply.ReplyMarkup = GetReplyKeyboard(userID)
		botapi.Send(reply)
	case strings.HasPrefix(msg.Text, "/help"):
		helpText := `Доступные команды:
/test — Получить бесплатный тестовый ключ (один раз)
/buy — Купить VPN-ключ
/mykeys — Мои активные ключи
/myorders — Мои заказы
/support — Связаться с поддержкой
/help — Показать эту справку

Покупка: /buy → выберите сервер, число устройств и срок → переведите оплату по реквизитам → пришлите скриншот перевода. После проверки админом бот выдаст ключ.`
		reply := tgbotapi.NewMessage(msg.Chat.ID, helpText)
		reply.ReplyMarkup = GetReplyKeyboard(userID)
		botapi.Send(reply)
	default:
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Неизвестная команда. Используйте /help для списка всех возможностей.")
		reply.ReplyMarkup = GetReplyKeyboard(userID)
		botapi.Send(reply)
	}
}

func handleCallback(botapi *tgbotapi.BotAPI, cq *tgbotapi.CallbackQuery) {
	parts := strings.Split(cq.Data, ":")
	action := parts[0]
	ack := func(text string) { botapi.Request(tgbotapi.NewCallback(cq.ID, text)) }

	// К очень старым кнопкам Telegram не прикладывает исходное
	// сообщение. Решение админа обрабатываем и без него, остальные
	// кнопки просим нажать из свежего меню.
	if cq.Message == nil && action != "approve" && action != "reject" {
		ack("Кнопка устарела, откройте меню заново: /start")
		return
	}

	userID := cq.From.ID
	if botStore.IsBanned(userID) {
		ack("")
		return
	}
	if !admin.IsAdmin(userID) && rateLimiter.IsLimited(userID, action) {
		ack("Не так быстро!")
		return
	}

	var chatID int64
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}

	switch action {
	case "main_menu":
		ack("")
		sendMainMenu(botapi, chatID, userID)
	case "free_test":
		ack("")
		sendServerList(botapi, chatID, "free_srv")
	case "buy_key":
		ack("")
		sendServerList(botapi, chatID, "buy_srv")
	case "my_keys":
		ack("")
		sendMyKeys(botapi, chatID, userID)
	case "my_orders":
		ack("")
		sendMyOrders(botapi, chatID, userID)

	case "free_srv":
		if len(parts) != 2 {
			ack("Ошибка выбора сервера")
			return
		}
		ref := parts[1]
		srv, ok := servers[ref]
		if !ok || admin.ServerDisabled(ref) {
			ack("Сервер не найден")
			return
		}
		if srv.PanelType == config.PanelTypeHiddify {
			ack("")
			requestFreeTest(botapi, chatID, cq.From, ref, "")
			return
		}
		ack("Сервер выбран")
		sendProtocolList(botapi, chatID, "free_proto:"+ref, srv.Name)
	case "free_proto":
		if len(parts) != 3 {
			ack("Ошибка выбора протокола")
			return
		}
		ack("")
		requestFreeTest(botapi, chatID, cq.From, parts[1], parts[2])

	case "buy_srv":
		if len(parts) != 2 {
			ack("Ошибка выбора сервера")
			return
		}
		ref := parts[1]
		if _, ok := servers[ref]; !ok || admin.ServerDisabled(ref) {
			ack("Сервер не найден")
			return
		}
		ack("Сервер выбран")
		var rows [][]tgbotapi.InlineKeyboardButton
		for n := 1; n <= config.MaxDevices; n++ {
			label := fmt.Sprintf("📱 %d", n)
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("buy_dev:%s:%d", ref, n)),
			))
		}
		reply := tgbotapi.NewMessage(chatID, "На скольких устройствах будете пользоваться?")
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		botapi.Send(reply)
	case "buy_dev":
		if len(parts) != 3 {
			ack("Ошибка выбора тарифа")
			return
		}
		ref := parts[1]
		devices, err := strconv.Atoi(parts[2])
		if err != nil || devices < 1 || devices > config.MaxDevices {
			ack("Ошибка выбора тарифа")
			return
		}
		ack("")
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, months := range config.PlanMonths() {
			planID := config.PlanID(devices, months)
			plan := config.Plans[planID]
			label := fmt.Sprintf("%d мес. — %d Ks", months, plan.Price)
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(label, "buy_plan:"+ref+":"+planID),
			))
		}
		reply := tgbotapi.NewMessage(chatID, "Выберите срок подписки:")
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		botapi.Send(reply)
	case "buy_plan":
		if len(parts) != 3 {
			ack("Ошибка выбора тарифа")
			return
		}
		ref, planID := parts[1], parts[2]
		srv, ok := servers[ref]
		if !ok {
			ack("Сервер не найден")
			return
		}
		if srv.PanelType == config.PanelTypeHiddify {
			ack("")
			requestPaidOrder(botapi, chatID, cq.From, ref, planID, "")
			return
		}
		ack("")
		sendProtocolList(botapi, chatID, "buy_proto:"+ref+":"+planID, srv.Name)
	case "buy_proto":
		if len(parts) != 4 {
			ack("Ошибка выбора протокола")
			return
		}
		ack("")
		requestPaidOrder(botapi, chatID, cq.From, parts[1], parts[2], parts[3])

	case "key_usage":
		if len(parts) != 2 {
			ack("")
			return
		}
		ack("")
		sendKeyUsage(botapi, chatID, userID, parts[1])
	case "key_proto":
		if len(parts) != 2 {
			ack("")
			return
		}
		ack("")
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, p := range xuiProtocols {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(strings.ToUpper(p[:1])+p[1:], "key_proto_set:"+parts[1]+":"+p),
			))
		}
		reply := tgbotapi.NewMessage(chatID, "Выберите новый протокол. Старый конфиг перестанет работать, ссылки обновятся.")
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		botapi.Send(reply)
	case "key_proto_set":
		if len(parts) != 3 || !validProtocol(parts[2]) {
			ack("")
			return
		}
		ack("")
		exchangeKeyProtocol(botapi, chatID, userID, parts[1], parts[2])

	case "approve", "reject":
		if !admin.IsAdmin(userID) {
			ack("Недостаточно прав")
			return
		}
		if len(parts) != 2 {
			ack("Некорректный заказ")
			return
		}
		decision := order.Approve
		if action == "reject" {
			decision = order.Reject
		}
		_, err := engine.Decide(context.Background(), parts[1], decision, userID)
		switch {
		case err == nil:
			ack("Готово")
			// Убираем кнопки, чтобы карточку нельзя было решить дважды
			if cq.Message != nil {
				botapi.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
					tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
						tgbotapi.NewInlineKeyboardButtonData(decidedLabel(decision), "noop"),
					))))
			}
		case errors.Is(err, order.ErrInvalidState):
			ack("Заказ уже решён")
		case errors.Is(err, order.ErrNotFound):
			ack("Заказ не найден")
		default:
			ack("Ошибка, подробности в логах")
			logger.Error("decide_failed: " + err.Error())
		}
	case "noop":
		ack("")
	default:
		ack("")
	}
}

func decidedLabel(d order.Decision) string {
	if d == order.Reject {
		return "❌ Отклонён"
	}
	return "✅ Одобрен"
}

func sendMainMenu(botapi *tgbotapi.BotAPI, chatID, userID int64) {
	reply := tgbotapi.NewMessage(chatID, "Добро пожаловать! Здесь можно получить тестовый VPN-ключ или купить подписку.")
	reply.ReplyMarkup = GetReplyKeyboard(userID)
	botapi.Send(reply)
	menu := tgbotapi.NewMessage(chatID, "Выберите действие:")
	menu.ReplyMarkup = mainMenuKeyboard()
	botapi.Send(menu)
}

// availableServerRefs — серверы, не скрытые админом, в стабильном
// порядке.
func availableServerRefs() []string {
	refs := make([]string, 0, len(servers))
	for ref := range servers {
		if admin.ServerDisabled(ref) {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// sendServerList показывает доступные серверы.
// prefix определяет, куда ведёт выбор: тест или покупка.
func sendServerList(botapi *tgbotapi.BotAPI, chatID int64, prefix string) {
	refs := availableServerRefs()
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, ref := range refs {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(servers[ref].Name, prefix+":"+ref),
		))
	}
	if len(rows) == 0 {
		botapi.Send(tgbotapi.NewMessage(chatID, "Сейчас нет доступных серверов. Попробуйте позже."))
		return
	}
	reply := tgbotapi.NewMessage(chatID, "Выберите сервер:")
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	botapi.Send(reply)
}

func sendProtocolList(botapi *tgbotapi.BotAPI, chatID int64, prefix, serverName string) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range xuiProtocols {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(strings.ToUpper(p[:1])+p[1:], prefix+":"+p),
		))
	}
	reply := tgbotapi.NewMessage(chatID, "Сервер "+serverName+". Выберите протокол:")
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	botapi.Send(reply)
}

func requestFreeTest(botapi *tgbotapi.BotAPI, chatID int64, from *tgbotapi.User, ref, protocol string) {
	o, err := engine.RequestFreeTest(context.Background(), from.ID, displayName(from), ref, protocol)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(chatID, userErrorText(err)))
		return
	}
	plan := config.Plans[o.PlanID]
	text := fmt.Sprintf("🎁 Заявка на тестовый ключ отправлена!\n\nТариф: %d GB на %d дня.\nКак только админ подтвердит заявку, бот пришлёт ключ.",
		plan.DataLimitGB, plan.ExpiryDays)
	reply := tgbotapi.NewMessage(chatID, text)
	reply.ReplyMarkup = backToMenuKeyboard()
	botapi.Send(reply)
}

func requestPaidOrder(botapi *tgbotapi.BotAPI, chatID int64, from *tgbotapi.User, ref, planID, protocol string) {
	o, err := engine.RequestPaidOrder(context.Background(), from.ID, displayName(from), ref, planID, protocol)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(chatID, userErrorText(err)))
		return
	}
	proofMu.Lock()
	awaitingProof[from.ID] = o.ID
	proofMu.Unlock()

	plan := config.Plans[planID]
	var b strings.Builder
	fmt.Fprintf(&b, "💰 Заказ оформлен: %s\n", plan.Name)
	fmt.Fprintf(&b, "К оплате: %d Ks\n\n", o.Amount)
	b.WriteString("Реквизиты для перевода:\n")
	fmt.Fprintf(&b, "Получатель: %s\n", config.Payment.Name)
	fmt.Fprintf(&b, "Телефон: %s\n", config.Payment.Phone)
	fmt.Fprintf(&b, "Способы: %s\n\n", strings.Join(config.Payment.Methods, ", "))
	b.WriteString("После перевода пришлите сюда скриншот чека — заказ уйдёт на проверку админу.")
	botapi.Send(tgbotapi.NewMessage(chatID, b.String()))
}

func handlePaymentScreenshot(botapi *tgbotapi.BotAPI, msg *tgbotapi.Message) {
	userID := msg.From.ID
	proofMu.Lock()
	orderID, ok := awaitingProof[userID]
	proofMu.Unlock()
	if !ok {
		botapi.Send(tgbotapi.NewMessage(msg.Chat.ID, "Скриншот получен, но нет заказа, который ждёт оплаты. Оформите заказ через /buy."))
		return
	}
	// Берём самую крупную версию фото
	fileID := msg.Photo[len(msg.Photo)-1].FileID
	_, err := engine.SubmitPaymentProof(context.Background(), orderID, fileID)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(msg.Chat.ID, userErrorText(err)))
		return
	}
	proofMu.Lock()
	delete(awaitingProof, userID)
	proofMu.Unlock()
	reply := tgbotapi.NewMessage(msg.Chat.ID, "✅ Скриншот отправлен на проверку. Обычно это занимает не больше пары часов — бот пришлёт ключ сразу после подтверждения.")
	reply.ReplyMarkup = backToMenuKeyboard()
	botapi.Send(reply)
}

func sendMyKeys(botapi *tgbotapi.BotAPI, chatID, userID int64) {
	creds, err := botStore.ActiveCredentials(userID)
	if err != nil {
		logger.Error("my_keys_failed: " + err.Error())
		botapi.Send(tgbotapi.NewMessage(chatID, "Не удалось получить список ключей, попробуйте позже."))
		return
	}
	if len(creds) == 0 {
		reply := tgbotapi.NewMessage(chatID, "У вас пока нет активных ключей. Получите тестовый или купите подписку.")
		reply.ReplyMarkup = mainMenuKeyboard()
		botapi.Send(reply)
		return
	}
	var b strings.Builder
	b.WriteString("📦 Ваши ключи:\n\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, c := range creds {
		serverName := c.ServerRef
		if srv, ok := servers[c.ServerRef]; ok {
			serverName = srv.Name
		}
		fmt.Fprintf(&b, "%d. %s, до %s\n`%s`\n\n", i+1, serverName,
			time.Unix(c.ExpiresAt, 0).Format("02.01.2006"), c.SubLink)

		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("📊 Трафик %d", i+1), fmt.Sprintf("key_usage:%d", c.ID)),
		}
		// Протокол меняется только на 3x-ui, у Hiddify одна подписка
		if srv, ok := servers[c.ServerRef]; ok && srv.PanelType == config.PanelTypeXUI {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🔄 Протокол %d", i+1), fmt.Sprintf("key_proto:%d", c.ID)))
		}
		rows = append(rows, row)
	}
	reply := tgbotapi.NewMessage(chatID, b.String())
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	botapi.Send(reply)
}

// sendKeyUsage показывает пользователю трафик и срок его ключа,
// статистика берётся живьём с панели.
func sendKeyUsage(botapi *tgbotapi.BotAPI, chatID, userID int64, rawID string) {
	credID, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(chatID, "Ключ не найден."))
		return
	}
	c, stats, err := engine.CredentialUsage(context.Background(), userID, uint(credID))
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(chatID, keyErrorText(err)))
		return
	}
	serverName := c.ServerRef
	if srv, ok := servers[c.ServerRef]; ok {
		serverName = srv.Name
	}
	const gib = 1024 * 1024 * 1024
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Ключ на сервере %s\n", serverName)
	if stats.LimitBytes > 0 {
		fmt.Fprintf(&b, "Трафик: %.2f из %.2f GB\n", float64(stats.UsedBytes)/gib, float64(stats.LimitBytes)/gib)
	} else {
		fmt.Fprintf(&b, "Трафик: %.2f GB, без лимита\n", float64(stats.UsedBytes)/gib)
	}
	fmt.Fprintf(&b, "Действует до: %s\n", stats.ExpiresAt.Format("02.01.2006"))
	if !stats.Enabled {
		b.WriteString("⚠️ Ключ сейчас выключен, напишите в поддержку.\n")
	}
	if stats.LastOnline != "" {
		fmt.Fprintf(&b, "Последнее подключение: %s\n", stats.LastOnline)
	}
	botapi.Send(tgbotapi.NewMessage(chatID, b.String()))
}

// exchangeKeyProtocol пересоздаёт ключ с новым протоколом и присылает
// свежие ссылки.
func exchangeKeyProtocol(botapi *tgbotapi.BotAPI, chatID, userID int64, rawID, protocol string) {
	credID, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(chatID, "Ключ не найден."))
		return
	}
	c, err := engine.ExchangeProtocol(context.Background(), userID, uint(credID), protocol)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(chatID, keyErrorText(err)))
		return
	}
	text := fmt.Sprintf("🔄 Протокол изменён на %s. Старый конфиг больше не работает.\n\nПодписка:\n`%s`\n\nКонфиг:\n`%s`",
		c.Protocol, c.SubLink, c.ConfigLink)
	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	botapi.Send(reply)
}

func validProtocol(p string) bool {
	for _, known := range xuiProtocols {
		if known == p {
			return true
		}
	}
	return false
}

// keyErrorText — сообщения об ошибках операций над ключами.
func keyErrorText(err error) string {
	switch {
	case errors.Is(err, order.ErrNotFound):
		return "Ключ не найден."
	case errors.Is(err, order.ErrDuplicateRequest):
		return "Этот протокол уже используется."
	case errors.Is(err, order.ErrInvalidState):
		return "Для этого ключа протокол сменить нельзя."
	case errors.Is(err, panel.ErrNotFound):
		return "Ключ не найден на сервере, напишите в поддержку."
	case errors.Is(err, panel.ErrUnreachable), errors.Is(err, panel.ErrUnauthorized):
		return "⚠️ Сервер временно недоступен, попробуйте позже."
	default:
		logger.Error("key_action_failed: " + err.Error())
		return "Что-то пошло не так, попробуйте позже."
	}
}

func sendMyOrders(botapi *tgbotapi.BotAPI, chatID, userID int64) {
	orders, err := botStore.OrdersByUser(userID)
	if err != nil {
		logger.Error("my_orders_failed: " + err.Error())
		botapi.Send(tgbotapi.NewMessage(chatID, "Не удалось получить список заказов, попробуйте позже."))
		return
	}
	if len(orders) == 0 {
		botapi.Send(tgbotapi.NewMessage(chatID, "У вас пока нет заказов."))
		return
	}
	var b strings.Builder
	b.WriteString("📋 Ваши заказы:\n\n")
	for _, o := range orders {
		plan, ok := config.Plans[o.PlanID]
		planName := o.PlanID
		if ok {
			planName = plan.Name
		}
		fmt.Fprintf(&b, "%s — %s\n%s, %s\n\n",
			time.Unix(o.CreatedAt, 0).Format("02.01.2006"), planName,
			statusText(o.Status), shortID(o.ID))
	}
	botapi.Send(tgbotapi.NewMessage(chatID, b.String()))
}

func statusText(s store.OrderStatus) string {
	switch s {
	case store.StatusPendingPayment:
		return "⏳ ждёт оплаты"
	case store.StatusAwaitingApproval:
		return "🔍 на проверке"
	case store.StatusApproved:
		return "⚙️ выдаётся"
	case store.StatusFulfilled:
		return "✅ выдан"
	case store.StatusRejected:
		return "❌ отклонён"
	case store.StatusFailed:
		return "⚠️ ошибка выдачи"
	}
	return string(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return "#" + id[:8]
	}
	return "#" + id
}

// userErrorText переводит ошибки движка в сообщения пользователю.
// Внутренние ошибки наружу не показываем.
func userErrorText(err error) string {
	switch {
	case errors.Is(err, order.ErrDuplicateRequest):
		return "У вас уже есть открытый заказ на этом сервере или использованный тестовый ключ. Дождитесь решения по текущему заказу."
	case errors.Is(err, order.ErrInvalidState):
		return "Этот заказ уже обработан."
	case errors.Is(err, order.ErrUnknownServer), errors.Is(err, order.ErrUnknownPlan):
		return "Выбранный вариант больше недоступен. Начните заново через /buy."
	case errors.Is(err, order.ErrNotFound):
		return "Заказ не найден. Начните заново через /buy."
	default:
		logger.Error("request_failed: " + err.Error())
		return "Что-то пошло не так, попробуйте позже."
	}
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}
