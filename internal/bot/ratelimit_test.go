package bot

import (
	"testing"
	"time"

	"vpn-store-bot/internal/admin"
)

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter()
	const user = int64(100)

	if r.IsLimited(user, "buy_key") {
		t.Error("первый вызов не должен лимитироваться")
	}
	if !r.IsLimited(user, "buy_key") {
		t.Error("немедленный повтор должен лимитироваться")
	}
	// Другая команда того же пользователя лимитируется отдельно
	if r.IsLimited(user, "my_keys") {
		t.Error("другая команда не должна попадать под лимит buy_key")
	}
	// Другой пользователь не задет
	if r.IsLimited(int64(200), "buy_key") {
		t.Error("лимит не должен распространяться на других пользователей")
	}
}

func TestRateLimiterDefaultWindow(t *testing.T) {
	r := NewRateLimiter()
	const user = int64(100)

	if r.IsLimited(user, "unknown_cmd") {
		t.Error("первый вызов не должен лимитироваться")
	}
	if !r.IsLimited(user, "unknown_cmd") {
		t.Error("неизвестная команда должна получать лимит по умолчанию")
	}
	// Протаскиваем время назад, имитируя истёкшее окно
	r.mu.Lock()
	r.lastCall[user]["unknown_cmd"] = time.Now().Add(-3 * time.Second)
	r.mu.Unlock()
	if r.IsLimited(user, "unknown_cmd") {
		t.Error("после окна лимит должен сниматься")
	}
}

func TestRateLimiterSkipsAdmin(t *testing.T) {
	old := admin.AdminTelegramID
	admin.AdminTelegramID = 9000
	defer func() { admin.AdminTelegramID = old }()

	r := NewRateLimiter()
	for i := 0; i < 5; i++ {
		if r.IsLimited(9000, "buy_key") {
			t.Fatal("админ не должен лимитироваться")
		}
	}
}
