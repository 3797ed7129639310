package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"vpn-store-bot/config"
)

// Единая классификация ошибок панелей. Вызывающий код проверяет их
// через errors.Is и не знает, какая панель за клиентом.
var (
	ErrUnauthorized    = errors.New("panel: unauthorized")
	ErrUnreachable     = errors.New("panel: unreachable")
	ErrNotFound        = errors.New("panel: not found")
	ErrInvalidResponse = errors.New("panel: invalid response")
)

// CreateSpec — параметры выпуска ключа. Имя клиента на панели строится
// детерминированно из этих полей, поэтому повторный вызов CreateUser
// с тем же спеком находит уже созданного пользователя, а не плодит дубли.
type CreateSpec struct {
	TelegramID  int64
	Username    string
	DataLimitGB int // 0 = безлимит
	ExpiryDays  int
	Devices     int // лимит одновременных IP
	Protocol    string
	KeyNumber   int // порядковый номер ключа пользователя
}

// Credential — выпущенный панелью аккаунт. Владеет им панель,
// у нас хранится только ссылка (Ref) и производные строки.
type Credential struct {
	Ref         string // uuid/password клиента на панели
	Name        string // имя клиента (email в терминах 3x-ui)
	SubID       string
	SubLink     string
	ConfigLink  string
	Protocol    string
	DataLimitGB int
	Devices     int
	ExpiresAt   time.Time
	Enabled     bool
}

// Patch — частичное обновление аккаунта.
type Patch struct {
	DataLimitGB *int
	ExpiryDays  *int
	Enabled     *bool
}

type UsageStats struct {
	UsedBytes  int64
	LimitBytes int64
	ExpiresAt  time.Time
	Enabled    bool
	LastOnline string
}

// Client — клиент одной панели, привязанный к конкретному серверу при
// создании. Все операции ходят по сети и ограничены таймаутом.
type Client interface {
	Type() string
	CreateUser(ctx context.Context, spec CreateSpec) (*Credential, error)
	FindUser(ctx context.Context, spec CreateSpec) (*Credential, error)
	DeleteUser(ctx context.Context, ref string) error
	UpdateUser(ctx context.Context, ref string, patch Patch) (*Credential, error)
	GetUsage(ctx context.Context, ref string) (*UsageStats, error)
	EnableUser(ctx context.Context, ref string) error
	DisableUser(ctx context.Context, ref string) error
}

// New создаёт клиента по типу панели из конфига сервера.
func New(srv config.ServerConfig, app config.AppConfig) (Client, error) {
	switch srv.PanelType {
	case config.PanelTypeXUI:
		if app.XUIUsername == "" || app.XUIPassword == "" {
			return nil, fmt.Errorf("server %s: XUI credentials are not set", srv.Ref)
		}
		return NewXUI(srv, app.XUIUsername, app.XUIPassword, app.PanelTimeout), nil
	case config.PanelTypeHiddify:
		if srv.APIKey == "" {
			return nil, fmt.Errorf("server %s: hiddify api key is not set", srv.Ref)
		}
		return NewHiddify(srv, app.PanelTimeout), nil
	}
	return nil, fmt.Errorf("server %s: unknown panel type %q", srv.Ref, srv.PanelType)
}

var protoCodes = map[string]string{
	"trojan":      "TR",
	"vless":       "VL",
	"vmess":       "VM",
	"shadowsocks": "SS",
	"wireguard":   "WG",
}

func protoCode(protocol string) string {
	if c, ok := protoCodes[protocol]; ok {
		return c
	}
	return "VPN"
}

// baseName строит основу имени клиента: "{user} - {N}D / Key {k}".
// 3x-ui дополняет её кодом протокола, Hiddify использует как есть.
func baseName(spec CreateSpec) string {
	owner := spec.Username
	if owner == "" {
		owner = fmt.Sprintf("User_%d", spec.TelegramID)
	}
	return fmt.Sprintf("%s - %dD / Key %d", owner, spec.Devices, spec.KeyNumber)
}

// wrapTransport превращает сетевую ошибку в ErrUnreachable.
// Таймаут — тоже Unreachable: операция не повторяется молча.
func wrapTransport(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %v", ErrUnreachable, ue.Err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Classify возвращает короткое имя класса ошибки для сообщений админу.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrUnreachable):
		return "Unreachable"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidResponse):
		return "InvalidResponse"
	default:
		return "Unknown"
	}
}

func trimSlash(s string) string {
	return strings.Trim(s, "/")
}
