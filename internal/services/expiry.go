package services

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/panel"
	"vpn-store-bot/internal/store"
)

// NotifyExpiringCredentials отправляет напоминания о скором окончании
// ключа. По каждому ключу напоминаем один раз.
func NotifyExpiringCredentials(bot *tgbotapi.BotAPI, st *store.Store, daysBefore int) {
	creds, err := st.ExpiringCredentials(daysBefore)
	if err != nil {
		logger.NotifyAdmin("Не удалось выбрать истекающие ключи: " + err.Error())
		return
	}
	for _, c := range creds {
		text := fmt.Sprintf("⏳ Ваш ключ истекает %s. Для продления оформите новый заказ в боте.",
			time.Unix(c.ExpiresAt, 0).Format("02.01.2006"))
		if _, err := bot.Send(tgbotapi.NewMessage(c.UserID, text)); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Ошибка отправки напоминания пользователю %d: %v", c.UserID, err))
			continue
		}
		if err := st.MarkNotifiedExpiring(c.ID); err != nil {
			logger.NotifyAdmin(err.Error())
		}
	}
}

// DisableExpiredCredentials отключает просроченные ключи на панели и
// деактивирует локальную запись. Если панель недоступна, запись
// остаётся активной и попадёт в следующий проход.
func DisableExpiredCredentials(ctx context.Context, bot *tgbotapi.BotAPI, st *store.Store, panels map[string]panel.Client) {
	creds, err := st.ExpiredCredentials()
	if err != nil {
		logger.NotifyAdmin("Не удалось выбрать просроченные ключи: " + err.Error())
		return
	}
	for _, c := range creds {
		cl, ok := panels[c.ServerRef]
		if !ok {
			logger.NotifyAdmin(fmt.Sprintf("Ключ %d: сервер %s больше не настроен", c.ID, c.ServerRef))
			continue
		}
		if err := cl.DisableUser(ctx, c.ClientRef); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Ключ %d: панель %s не отключила клиента [%s]: %v",
				c.ID, c.ServerRef, panel.Classify(err), err))
			continue
		}
		if err := st.SetCredentialActive(c.ID, false); err != nil {
			logger.NotifyAdmin(err.Error())
			continue
		}
		bot.Send(tgbotapi.NewMessage(c.UserID, "Срок действия вашего ключа закончился. Для продления оформите новый заказ в боте."))
	}
}
