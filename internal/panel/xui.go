package panel

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vpn-store-bot/config"
)

// XUIClient работает с панелью 3x-ui: логин по сессионной куке,
// дальше операции над клиентами inbound-ов.
type XUIClient struct {
	cfg      config.ServerConfig
	username string
	password string
	hc       *http.Client

	mu       sync.Mutex
	loggedIn bool
}

func NewXUI(cfg config.ServerConfig, username, password string, timeout time.Duration) *XUIClient {
	jar, _ := cookiejar.New(nil)
	return &XUIClient{
		cfg:      cfg,
		username: username,
		password: password,
		hc: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			// Панели почти всегда живут на самоподписанных сертификатах
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		},
	}
}

func (c *XUIClient) Type() string { return config.PanelTypeXUI }

func (c *XUIClient) base() string {
	return strings.TrimRight(c.cfg.URL, "/") + c.cfg.PanelPath
}

// Ответ 3x-ui всегда имеет форму {success, msg, obj}.
type xuiReply struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

type xuiInbound struct {
	ID       int    `json:"id"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Remark   string `json:"remark"`
	Settings string `json:"settings"` // вложенный JSON строкой
}

type xuiUser struct {
	ID         string `json:"id,omitempty"`
	Password   string `json:"password,omitempty"`
	Method     string `json:"method,omitempty"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId,omitempty"`
	SubID      string `json:"subId,omitempty"`
	Reset      int    `json:"reset"`
}

func (c *XUIClient) do(ctx context.Context, method, path string, form url.Values) (*xuiReply, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	var reply xuiReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		// Протухшая сессия отдаёт HTML страницу логина
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return &reply, nil
}

func (c *XUIClient) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	reply, err := c.do(ctx, http.MethodPost, "/login", form)
	if err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("%w: login failed: %s", ErrUnauthorized, reply.Msg)
	}
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *XUIClient) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.login(ctx)
}

// authed выполняет запрос и один раз перелогинивается, если сессия умерла.
func (c *XUIClient) authed(ctx context.Context, method, path string, form url.Values) (*xuiReply, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	reply, err := c.do(ctx, method, path, form)
	if err == nil {
		return reply, nil
	}
	if !errors.Is(err, ErrUnauthorized) {
		return nil, err
	}
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c.do(ctx, method, path, form)
}

func (c *XUIClient) inbounds(ctx context.Context) ([]xuiInbound, error) {
	reply, err := c.authed(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, fmt.Errorf("%w: inbounds list: %s", ErrInvalidResponse, reply.Msg)
	}
	var list []xuiInbound
	if err := json.Unmarshal(reply.Obj, &list); err != nil {
		return nil, fmt.Errorf("%w: inbounds list: %v", ErrInvalidResponse, err)
	}
	return list, nil
}

func (c *XUIClient) inboundByProtocol(ctx context.Context, protocol string) (*xuiInbound, error) {
	list, err := c.inbounds(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: panel has no inbounds", ErrInvalidResponse)
	}
	for i := range list {
		if list[i].Protocol == protocol {
			return &list[i], nil
		}
	}
	// Нет inbound-а с нужным протоколом — берём первый доступный
	return &list[0], nil
}

func inboundUsers(inb xuiInbound) []xuiUser {
	var settings struct {
		Clients []xuiUser `json:"clients"`
	}
	if err := json.Unmarshal([]byte(inb.Settings), &settings); err != nil {
		return nil
	}
	return settings.Clients
}

// userRef — идентификатор клиента на панели: у trojan и shadowsocks
// это password, у остальных протоколов поле id.
func userRef(protocol string, u xuiUser) string {
	switch protocol {
	case "trojan", "shadowsocks":
		if u.Password != "" {
			return u.Password
		}
	}
	if u.ID != "" {
		return u.ID
	}
	return u.Email
}

func (c *XUIClient) CreateUser(ctx context.Context, spec CreateSpec) (*Credential, error) {
	// Сначала ищем уже созданного клиента с тем же именем: повтор
	// одобрения не должен плодить дубликаты на панели.
	existing, err := c.FindUser(ctx, spec)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	inb, err := c.inboundByProtocol(ctx, spec.Protocol)
	if err != nil {
		return nil, err
	}
	protocol := inb.Protocol
	name := baseName(spec) + " (" + protoCode(protocol) + ")"
	ref := uuid.NewString()
	subID := newSubID()
	expiry := time.Now().Add(time.Duration(spec.ExpiryDays) * 24 * time.Hour)

	user := xuiUser{
		Email:      name,
		LimitIP:    spec.Devices,
		TotalGB:    int64(spec.DataLimitGB) * 1024 * 1024 * 1024,
		ExpiryTime: expiry.UnixMilli(),
		Enable:     true,
		TgID:       fmt.Sprintf("%d", spec.TelegramID),
		SubID:      subID,
	}
	switch protocol {
	case "trojan", "shadowsocks":
		user.Password = ref
	case "vless":
		user.ID = ref
		user.Flow = ""
	default:
		user.ID = ref
	}

	settings, err := json.Marshal(map[string]any{"clients": []xuiUser{user}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	form := url.Values{}
	form.Set("id", fmt.Sprintf("%d", inb.ID))
	form.Set("settings", string(settings))
	reply, err := c.authed(ctx, http.MethodPost, "/panel/api/inbounds/addClient", form)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, fmt.Errorf("%w: addClient: %s", ErrInvalidResponse, reply.Msg)
	}
	return c.credential(*inb, user), nil
}

func (c *XUIClient) FindUser(ctx context.Context, spec CreateSpec) (*Credential, error) {
	list, err := c.inbounds(ctx)
	if err != nil {
		return nil, err
	}
	base := baseName(spec)
	for _, inb := range list {
		want := base + " (" + protoCode(inb.Protocol) + ")"
		for _, u := range inboundUsers(inb) {
			if u.Email == want {
				return c.credential(inb, u), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: client %q", ErrNotFound, base)
}

// locate находит клиента и его inbound по ссылке на аккаунт.
func (c *XUIClient) locate(ctx context.Context, ref string) (*xuiInbound, *xuiUser, error) {
	list, err := c.inbounds(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range list {
		for _, u := range inboundUsers(list[i]) {
			if u.ID == ref || u.Password == ref {
				return &list[i], &u, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: client ref %q", ErrNotFound, ref)
}

func (c *XUIClient) DeleteUser(ctx context.Context, ref string) error {
	inb, _, err := c.locate(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Уже удалён — считаем операцию успешной
			return nil
		}
		return err
	}
	path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inb.ID, url.PathEscape(ref))
	reply, err := c.authed(ctx, http.MethodPost, path, url.Values{})
	if err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("%w: delClient: %s", ErrInvalidResponse, reply.Msg)
	}
	return nil
}

func (c *XUIClient) UpdateUser(ctx context.Context, ref string, patch Patch) (*Credential, error) {
	inb, user, err := c.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if patch.DataLimitGB != nil {
		user.TotalGB = int64(*patch.DataLimitGB) * 1024 * 1024 * 1024
	}
	if patch.ExpiryDays != nil {
		user.ExpiryTime = time.Now().Add(time.Duration(*patch.ExpiryDays) * 24 * time.Hour).UnixMilli()
	}
	if patch.Enabled != nil {
		user.Enable = *patch.Enabled
	}
	settings, err := json.Marshal(map[string]any{"clients": []xuiUser{*user}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	form := url.Values{}
	form.Set("id", fmt.Sprintf("%d", inb.ID))
	form.Set("settings", string(settings))
	path := "/panel/api/inbounds/updateClient/" + url.PathEscape(ref)
	reply, err := c.authed(ctx, http.MethodPost, path, form)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, fmt.Errorf("%w: updateClient: %s", ErrInvalidResponse, reply.Msg)
	}
	return c.credential(*inb, *user), nil
}

func (c *XUIClient) GetUsage(ctx context.Context, ref string) (*UsageStats, error) {
	_, user, err := c.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	path := "/panel/api/inbounds/getClientTraffics/" + url.PathEscape(user.Email)
	reply, err := c.authed(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, fmt.Errorf("%w: getClientTraffics: %s", ErrInvalidResponse, reply.Msg)
	}
	var traffic struct {
		Up         int64 `json:"up"`
		Down       int64 `json:"down"`
		Total      int64 `json:"total"`
		ExpiryTime int64 `json:"expiryTime"`
		Enable     bool  `json:"enable"`
	}
	if err := json.Unmarshal(reply.Obj, &traffic); err != nil {
		return nil, fmt.Errorf("%w: getClientTraffics: %v", ErrInvalidResponse, err)
	}
	return &UsageStats{
		UsedBytes:  traffic.Up + traffic.Down,
		LimitBytes: traffic.Total,
		ExpiresAt:  time.UnixMilli(traffic.ExpiryTime),
		Enabled:    traffic.Enable,
	}, nil
}

func (c *XUIClient) EnableUser(ctx context.Context, ref string) error {
	enabled := true
	_, err := c.UpdateUser(ctx, ref, Patch{Enabled: &enabled})
	return err
}

func (c *XUIClient) DisableUser(ctx context.Context, ref string) error {
	enabled := false
	_, err := c.UpdateUser(ctx, ref, Patch{Enabled: &enabled})
	return err
}

// credential собирает Credential из клиента панели: подписка и
// конфиг-ссылка в формате соответствующего протокола.
func (c *XUIClient) credential(inb xuiInbound, u xuiUser) *Credential {
	ref := userRef(inb.Protocol, u)
	expiresAt := time.UnixMilli(u.ExpiryTime)
	subLink := fmt.Sprintf("https://%s:%d/sub/%s", c.cfg.Domain, c.cfg.SubPort, u.SubID)

	daysLeft := int(time.Until(expiresAt).Hours() / 24)
	if daysLeft < 1 {
		daysLeft = 1
	}
	remark := url.QueryEscape(fmt.Sprintf("%s-%s-%dD", inb.Remark, u.Email, daysLeft))

	var configLink string
	switch inb.Protocol {
	case "trojan":
		configLink = fmt.Sprintf("trojan://%s@%s:%d?security=none&type=tcp#%s", ref, c.cfg.Domain, inb.Port, remark)
	case "vless":
		configLink = fmt.Sprintf("vless://%s@%s:%d?type=tcp&security=none#%s", ref, c.cfg.Domain, inb.Port, remark)
	case "vmess":
		vm, _ := json.Marshal(map[string]string{
			"v":    "2",
			"ps":   inb.Remark + "-" + u.Email,
			"add":  c.cfg.Domain,
			"port": fmt.Sprintf("%d", inb.Port),
			"id":   ref,
			"aid":  "0",
			"net":  "tcp",
			"type": "none",
			"tls":  "",
		})
		configLink = "vmess://" + base64.StdEncoding.EncodeToString(vm)
	case "shadowsocks":
		method := "aes-256-gcm"
		var ss struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal([]byte(inb.Settings), &ss); err == nil && ss.Method != "" {
			method = ss.Method
		}
		auth := base64.StdEncoding.EncodeToString([]byte(method + ":" + ref))
		configLink = fmt.Sprintf("ss://%s@%s:%d#%s", auth, c.cfg.Domain, inb.Port, remark)
	default:
		configLink = subLink
	}

	return &Credential{
		Ref:         ref,
		Name:        u.Email,
		SubID:       u.SubID,
		SubLink:     subLink,
		ConfigLink:  configLink,
		Protocol:    inb.Protocol,
		DataLimitGB: int(u.TotalGB / (1024 * 1024 * 1024)),
		Devices:     u.LimitIP,
		ExpiresAt:   expiresAt,
		Enabled:     u.Enable,
	}
}

func newSubID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
