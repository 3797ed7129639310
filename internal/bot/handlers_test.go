package bot

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/admin"
)

// newFakeBotAPI поднимает заглушку Telegram API: на всё отвечает ok.
func newFakeBotAPI(t *testing.T) *tgbotapi.BotAPI {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Test","username":"test_bot"}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(ts.Close)
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", ts.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewBotAPIWithAPIEndpoint: %v", err)
	}
	return api
}

func TestStaleCallbackWithoutMessage(t *testing.T) {
	api := newFakeBotAPI(t)
	// Telegram не прикладывает сообщение к очень старым кнопкам:
	// обработчик должен тихо ответить на callback, а не падать.
	cq := &tgbotapi.CallbackQuery{
		ID:   "stale-1",
		From: &tgbotapi.User{ID: 100},
		Data: "my_keys",
	}
	handleCallback(api, cq)

	cq.Data = "buy_srv:sg1"
	handleCallback(api, cq)
}

func TestServerListHidesDisabled(t *testing.T) {
	oldServers := servers
	servers = map[string]config.ServerConfig{
		"sg1": {Ref: "sg1", Name: "Singapore", PanelType: config.PanelTypeXUI},
		"de1": {Ref: "de1", Name: "Germany", PanelType: config.PanelTypeHiddify},
	}
	defer func() { servers = oldServers }()
	defer admin.SetServerDisabled("sg1", false)

	refs := availableServerRefs()
	if len(refs) != 2 {
		t.Fatalf("без ограничений доступны оба сервера, получили %v", refs)
	}

	admin.SetServerDisabled("sg1", true)
	refs = availableServerRefs()
	if len(refs) != 1 || refs[0] != "de1" {
		t.Errorf("выключенный сервер не должен предлагаться, получили %v", refs)
	}
}
