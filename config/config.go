package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Типы панелей. Закрытый набор: новый тип панели — это новая
// реализация клиента, а не ветка if по строке.
const (
	PanelTypeXUI     = "xui"
	PanelTypeHiddify = "hiddify"
)

type AppConfig struct {
	BotToken         string        `env:"BOT_TOKEN,required"`
	AdminTelegramID  int64         `env:"ADMIN_TELEGRAM_ID,required"`
	PaymentChannelID int64         `env:"PAYMENT_CHANNEL_ID"`
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	ServersFile      string        `env:"SERVERS_FILE" envDefault:"servers.json"`
	XUIUsername      string        `env:"XUI_USERNAME"`
	XUIPassword      string        `env:"XUI_PASSWORD"`
	PanelTimeout     time.Duration `env:"PANEL_TIMEOUT" envDefault:"30s"`
}

var AppCfg AppConfig

func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	if err := env.Parse(&AppCfg); err != nil {
		log.Fatalf("Critical environment variables are missing: %v. Bot will exit.", err)
	}
	// Если канал для оплат не задан, скриншоты летят напрямую админу
	if AppCfg.PaymentChannelID == 0 {
		AppCfg.PaymentChannelID = AppCfg.AdminTelegramID
	}
}

// ServerConfig описывает один VPN-сервер и его панель управления.
// Список загружается один раз при старте и дальше не меняется.
type ServerConfig struct {
	Ref       string `json:"-"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Domain    string `json:"domain"`
	PanelType string `json:"panel_type"`

	// 3x-ui
	PanelPath string `json:"panel_path,omitempty"`
	SubPort   int    `json:"sub_port,omitempty"`

	// Hiddify
	APIKey    string `json:"api_key,omitempty"`
	ProxyPath string `json:"proxy_path,omitempty"`
	AdminUUID string `json:"admin_uuid,omitempty"`
}

// LoadServers читает servers.json (map ref -> конфиг сервера).
// API-ключи Hiddify в файле хранить не обязательно: если поле пустое,
// ключ берётся из переменной окружения HIDDIFY_API_KEY_<REF>.
func LoadServers(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read servers file: %w", err)
	}
	var raw map[string]ServerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse servers file: %w", err)
	}
	servers := make(map[string]ServerConfig, len(raw))
	for ref, srv := range raw {
		srv.Ref = ref
		switch srv.PanelType {
		case PanelTypeXUI, PanelTypeHiddify:
		default:
			return nil, fmt.Errorf("server %q: unknown panel_type %q", ref, srv.PanelType)
		}
		if srv.URL == "" || srv.Domain == "" {
			return nil, fmt.Errorf("server %q: url and domain are required", ref)
		}
		if srv.PanelType == PanelTypeHiddify && srv.APIKey == "" {
			srv.APIKey = os.Getenv("HIDDIFY_API_KEY_" + strings.ToUpper(ref))
		}
		servers[ref] = srv
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("servers file %s is empty", path)
	}
	return servers, nil
}
