package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/store"
)

// Notifier — реализация границы уведомлений движка заказов поверх
// Telegram. Карточки заказов уходят в канал оплат, алерты — админу.
type Notifier struct {
	api     *tgbotapi.BotAPI
	servers map[string]config.ServerConfig
}

func NewNotifier(api *tgbotapi.BotAPI, servers map[string]config.ServerConfig) *Notifier {
	return &Notifier{api: api, servers: servers}
}

func (n *Notifier) SendUser(userID int64, text string) {
	if _, err := n.api.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		logger.Warn("send_user_failed: " + err.Error())
	}
}

func (n *Notifier) NotifyAdmin(text string) {
	n.SendUser(config.AppCfg.AdminTelegramID, text)
}

// NotifyAdminOrder шлёт карточку заказа с кнопками решения. Если есть
// скриншот оплаты, карточка — это фото с подписью, чтобы админ видел
// чек и кнопки в одном сообщении.
func (n *Notifier) NotifyAdminOrder(o *store.Order) {
	caption := n.orderCard(o)
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", "approve:"+o.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", "reject:"+o.ID),
		),
	)
	chatID := config.AppCfg.PaymentChannelID

	if o.PaymentProof != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(o.PaymentProof))
		photo.Caption = caption
		photo.ReplyMarkup = markup
		if _, err := n.api.Send(photo); err != nil {
			logger.Warn("notify_admin_order_failed: " + err.Error())
		}
		return
	}
	msg := tgbotapi.NewMessage(chatID, caption)
	msg.ReplyMarkup = markup
	if _, err := n.api.Send(msg); err != nil {
		logger.Warn("notify_admin_order_failed: " + err.Error())
	}
}

func (n *Notifier) orderCard(o *store.Order) string {
	plan, ok := config.Plans[o.PlanID]
	planName := o.PlanID
	if ok {
		planName = plan.Name
	}
	serverName := o.ServerRef
	if srv, ok := n.servers[o.ServerRef]; ok {
		serverName = srv.Name
	}
	var b strings.Builder
	if o.Kind == store.KindFreeTest {
		b.WriteString("🎁 Заявка на тестовый ключ\n\n")
	} else {
		b.WriteString("💰 Новый заказ\n\n")
	}
	fmt.Fprintf(&b, "Заказ: %s\n", o.ID)
	fmt.Fprintf(&b, "Пользователь: @%s (%d)\n", o.Username, o.UserID)
	fmt.Fprintf(&b, "Сервер: %s\n", serverName)
	fmt.Fprintf(&b, "Тариф: %s\n", planName)
	if o.Amount > 0 {
		fmt.Fprintf(&b, "Сумма: %d Ks\n", o.Amount)
	}
	if o.Protocol != "" {
		fmt.Fprintf(&b, "Протокол: %s\n", o.Protocol)
	}
	return b.String()
}

// SendCredential отправляет пользователю выданный ключ.
func (n *Notifier) SendCredential(userID int64, o *store.Order, c *store.Credential) {
	serverName := c.ServerRef
	if srv, ok := n.servers[c.ServerRef]; ok {
		serverName = srv.Name
	}
	var b strings.Builder
	b.WriteString("✅ Ваш ключ готов!\n\n")
	fmt.Fprintf(&b, "Сервер: %s\n", serverName)
	if c.DataLimitGB > 0 {
		fmt.Fprintf(&b, "Трафик: %d GB\n", c.DataLimitGB)
	} else {
		b.WriteString("Трафик: безлимит\n")
	}
	if c.Devices > 0 {
		fmt.Fprintf(&b, "Устройств: %d\n", c.Devices)
	}
	fmt.Fprintf(&b, "Действует до: %s\n\n", time.Unix(c.ExpiresAt, 0).Format("02.01.2006"))
	fmt.Fprintf(&b, "Ссылка подписки:\n`%s`\n", c.SubLink)
	if c.ConfigLink != "" {
		fmt.Fprintf(&b, "\nКонфигурация:\n`%s`\n", c.ConfigLink)
	}
	b.WriteString("\nНажмите на ссылку, чтобы скопировать, и добавьте её в приложение.")

	msg := tgbotapi.NewMessage(userID, b.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		logger.Warn("send_credential_failed: " + err.Error())
		// Markdown мог сломаться на содержимом ссылки — шлём без него
		plain := tgbotapi.NewMessage(userID, strings.ReplaceAll(b.String(), "`", ""))
		n.api.Send(plain)
	}
}
