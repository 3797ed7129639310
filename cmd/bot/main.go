package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/admin"
	"vpn-store-bot/internal/bot"
	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/order"
	"vpn-store-bot/internal/panel"
	"vpn-store-bot/internal/services"
	"vpn-store-bot/internal/store"
)

func main() {
	config.LoadConfig()

	st, err := store.Open(config.AppCfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	servers, err := config.LoadServers(config.AppCfg.ServersFile)
	if err != nil {
		log.Fatalf("Failed to load servers: %v", err)
	}
	panels := make(map[string]panel.Client, len(servers))
	for ref, srv := range servers {
		cl, err := panel.New(srv, config.AppCfg)
		if err != nil {
			log.Fatalf("Failed to init panel client for %s: %v", ref, err)
		}
		panels[ref] = cl
	}

	botapi, err := tgbotapi.NewBotAPI(config.AppCfg.BotToken)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	logger.InitNotifier(botapi, config.AppCfg.AdminTelegramID)

	notifier := bot.NewNotifier(botapi, servers)
	engine := order.New(st, panels, servers, notifier)
	admin.Init(config.AppCfg.AdminTelegramID, st, engine, panels)
	bot.Init(st, engine, servers)

	// --- Логирование в файл и консоль ---
	logFile, err := os.OpenFile("bot.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Не удалось открыть файл логов: %v", err)
	}
	mw := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(mw)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	// Досмотр заказов, зависших в approved после прошлого запуска
	if err := engine.RecoverApproved(context.Background()); err != nil {
		logger.NotifyAdmin("Сверка одобренных заказов при старте не удалась: " + err.Error())
	}

	c := cron.New()
	// Автоматическое обновление статуса серверов
	c.AddFunc("@every 1m", func() {
		services.UpdateAllServerStatuses(servers)
	})
	// Автоматический бэкап БД раз в сутки
	c.AddFunc("0 3 * * *", func() {
		admin.AutoBackupDatabase(config.AppCfg.DatabaseURL)
	})
	// Уведомления о скором окончании ключа (раз в сутки в 10:00)
	c.AddFunc("0 10 * * *", func() {
		services.NotifyExpiringCredentials(botapi, st, 3)
	})
	// Отключение просроченных ключей (каждый день в 03:30)
	c.AddFunc("30 3 * * *", func() {
		services.DisableExpiredCredentials(context.Background(), botapi, st, panels)
	})
	// Закрытие брошенных заказов (каждый день в 04:00)
	c.AddFunc("0 4 * * *", func() {
		services.SweepStaleOrders(context.Background(), engine)
	})
	c.Start()

	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		log.Println("Запуск health-сервера на :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			log.Fatalf("Health server error: %v", err)
		}
	}()

	// Запуск Telegram-бота (polling)
	bot.StartBotWithInstance(botapi)
}
