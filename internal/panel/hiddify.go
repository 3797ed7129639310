package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vpn-store-bot/config"
)

// HiddifyClient работает с панелью Hiddify: статический API-ключ
// в заголовке, REST по /api/v2/admin/user/.
type HiddifyClient struct {
	cfg config.ServerConfig
	hc  *http.Client
}

func NewHiddify(cfg config.ServerConfig, timeout time.Duration) *HiddifyClient {
	return &HiddifyClient{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		},
	}
}

func (c *HiddifyClient) Type() string { return config.PanelTypeHiddify }

func (c *HiddifyClient) base() string {
	return strings.TrimRight(c.cfg.URL, "/") + "/" + trimSlash(c.cfg.ProxyPath)
}

func (c *HiddifyClient) userAPI() string {
	return c.base() + "/api/v2/admin/user/"
}

type hiddifyUser struct {
	UUID           string  `json:"uuid,omitempty"`
	Name           string  `json:"name"`
	UsageLimitGB   float64 `json:"usage_limit_GB"`
	CurrentUsageGB float64 `json:"current_usage_GB,omitempty"`
	PackageDays    int     `json:"package_days"`
	Mode           string  `json:"mode,omitempty"`
	Comment        string  `json:"comment,omitempty"`
	Enable         bool    `json:"enable"`
	LastOnline     string  `json:"last_online,omitempty"`
	StartDate      string  `json:"start_date,omitempty"`
}

func (c *HiddifyClient) do(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	req.Header.Set("Hiddify-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status 404", ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (c *HiddifyClient) CreateUser(ctx context.Context, spec CreateSpec) (*Credential, error) {
	existing, err := c.FindUser(ctx, spec)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Безлимит у нас кодируется нулём, Hiddify хочет большое число
	limit := float64(spec.DataLimitGB)
	if spec.DataLimitGB == 0 {
		limit = 1000
	}
	payload := hiddifyUser{
		Name:         baseName(spec),
		UsageLimitGB: limit,
		PackageDays:  spec.ExpiryDays,
		Mode:         "no_reset",
		Comment:      fmt.Sprintf("Telegram ID: %d", spec.TelegramID),
		Enable:       true,
	}
	var created hiddifyUser
	if err := c.do(ctx, http.MethodPost, c.userAPI(), payload, &created); err != nil {
		return nil, err
	}
	if created.UUID == "" {
		return nil, fmt.Errorf("%w: create user: empty uuid", ErrInvalidResponse)
	}
	return c.credential(created, spec.Devices), nil
}

func (c *HiddifyClient) FindUser(ctx context.Context, spec CreateSpec) (*Credential, error) {
	var users []hiddifyUser
	if err := c.do(ctx, http.MethodGet, c.userAPI(), nil, &users); err != nil {
		return nil, err
	}
	name := baseName(spec)
	for _, u := range users {
		if u.Name == name {
			return c.credential(u, spec.Devices), nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", ErrNotFound, name)
}

func (c *HiddifyClient) getUser(ctx context.Context, ref string) (*hiddifyUser, error) {
	var user hiddifyUser
	if err := c.do(ctx, http.MethodGet, c.userAPI()+ref+"/", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HiddifyClient) DeleteUser(ctx context.Context, ref string) error {
	err := c.do(ctx, http.MethodDelete, c.userAPI()+ref+"/", nil, nil)
	if errors.Is(err, ErrNotFound) {
		// Уже удалён — считаем операцию успешной
		return nil
	}
	return err
}

func (c *HiddifyClient) UpdateUser(ctx context.Context, ref string, patch Patch) (*Credential, error) {
	fields := map[string]any{}
	if patch.DataLimitGB != nil {
		limit := float64(*patch.DataLimitGB)
		if *patch.DataLimitGB == 0 {
			limit = 1000
		}
		fields["usage_limit_GB"] = limit
	}
	if patch.ExpiryDays != nil {
		fields["package_days"] = *patch.ExpiryDays
	}
	if patch.Enabled != nil {
		fields["enable"] = *patch.Enabled
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidResponse)
	}
	if err := c.do(ctx, http.MethodPatch, c.userAPI()+ref+"/", fields, nil); err != nil {
		return nil, err
	}
	user, err := c.getUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	return c.credential(*user, 0), nil
}

func (c *HiddifyClient) GetUsage(ctx context.Context, ref string) (*UsageStats, error) {
	user, err := c.getUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	const gib = 1024 * 1024 * 1024
	return &UsageStats{
		UsedBytes:  int64(user.CurrentUsageGB * gib),
		LimitBytes: int64(user.UsageLimitGB * gib),
		ExpiresAt:  hiddifyExpiry(*user),
		Enabled:    user.Enable,
		LastOnline: user.LastOnline,
	}, nil
}

func (c *HiddifyClient) EnableUser(ctx context.Context, ref string) error {
	enabled := true
	_, err := c.UpdateUser(ctx, ref, Patch{Enabled: &enabled})
	return err
}

func (c *HiddifyClient) DisableUser(ctx context.Context, ref string) error {
	enabled := false
	_, err := c.UpdateUser(ctx, ref, Patch{Enabled: &enabled})
	return err
}

// credential собирает Credential: подписка вида
// https://{domain}/{proxy_path}/{uuid}/, авто-конфиг с суффиксом /auto/.
// Срок всегда считается от start_date, а не от текущего момента, иначе
// у давно стартовавшего пользователя срок бы завышался.
func (c *HiddifyClient) credential(u hiddifyUser, devices int) *Credential {
	subLink := c.base() + "/" + u.UUID + "/"
	return &Credential{
		Ref:         u.UUID,
		Name:        u.Name,
		SubID:       u.UUID,
		SubLink:     subLink,
		ConfigLink:  subLink + "auto/",
		Protocol:    config.PanelTypeHiddify,
		DataLimitGB: int(u.UsageLimitGB),
		Devices:     devices,
		ExpiresAt:   hiddifyExpiry(u),
		Enabled:     u.Enable,
	}
}

// hiddifyExpiry считает срок от start_date + package_days; если даты
// нет, отсчитываем от текущего момента.
func hiddifyExpiry(u hiddifyUser) time.Time {
	if u.StartDate != "" {
		if start, err := time.Parse("2006-01-02", u.StartDate); err == nil {
			return start.Add(time.Duration(u.PackageDays) * 24 * time.Hour)
		}
	}
	return time.Now().Add(time.Duration(u.PackageDays) * 24 * time.Hour)
}
