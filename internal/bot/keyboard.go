package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-store-bot/internal/admin"
)

func GetReplyKeyboard(userID int64) tgbotapi.ReplyKeyboardMarkup {
	if admin.IsAdmin(userID) {
		return tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_stats"),
				tgbotapi.NewKeyboardButton("/admin_pending"),
				tgbotapi.NewKeyboardButton("/admin_servers"),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_backup"),
				tgbotapi.NewKeyboardButton("/admin_retry"),
				tgbotapi.NewKeyboardButton("/admin_user"),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_broadcast"),
				tgbotapi.NewKeyboardButton("/admin_server"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🎁 Тестовый ключ"),
			tgbotapi.NewKeyboardButton("🔑 Купить ключ"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("📦 Мои ключи"),
			tgbotapi.NewKeyboardButton("📋 Мои заказы"),
		),
	)
}

// mainMenuKeyboard — inline-версия главного меню, показывается
// после /start и по кнопке "В меню".
func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎁 Тестовый ключ", "free_test"),
			tgbotapi.NewInlineKeyboardButtonData("🔑 Купить ключ", "buy_key"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📦 Мои ключи", "my_keys"),
			tgbotapi.NewInlineKeyboardButtonData("📋 Мои заказы", "my_orders"),
		),
	)
}

func backToMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ В меню", "main_menu"),
		),
	)
}
