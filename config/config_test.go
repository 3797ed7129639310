package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeServersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadServers(t *testing.T) {
	path := writeServersFile(t, `{
		"sg1": {"name": "Singapore", "url": "https://panel.sg:2053", "domain": "sg.example.com", "panel_type": "xui", "panel_path": "/secret", "sub_port": 2096},
		"de1": {"name": "Germany", "url": "https://de.example.com", "domain": "de.example.com", "panel_type": "hiddify", "proxy_path": "abc123", "api_key": "key-from-file"}
	}`)
	servers, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("серверов %d", len(servers))
	}
	sg := servers["sg1"]
	if sg.Ref != "sg1" || sg.PanelType != PanelTypeXUI || sg.SubPort != 2096 {
		t.Errorf("sg1 загружен неверно: %+v", sg)
	}
	de := servers["de1"]
	if de.PanelType != PanelTypeHiddify || de.APIKey != "key-from-file" {
		t.Errorf("de1 загружен неверно: %+v", de)
	}
}

func TestLoadServersAPIKeyFromEnv(t *testing.T) {
	// Ключ можно не хранить в файле — берётся из окружения
	path := writeServersFile(t, `{
		"de1": {"name": "Germany", "url": "https://de.example.com", "domain": "de.example.com", "panel_type": "hiddify", "proxy_path": "abc123"}
	}`)
	t.Setenv("HIDDIFY_API_KEY_DE1", "key-from-env")
	servers, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers: %v", err)
	}
	if servers["de1"].APIKey != "key-from-env" {
		t.Errorf("api-ключ %q, ожидали из окружения", servers["de1"].APIKey)
	}
}

func TestLoadServersValidation(t *testing.T) {
	tests := []struct {
		desc    string
		content string
	}{
		{"неизвестный тип панели", `{"x": {"name": "X", "url": "https://x", "domain": "x", "panel_type": "marzban"}}`},
		{"без url", `{"x": {"name": "X", "domain": "x", "panel_type": "xui"}}`},
		{"пустой файл", `{}`},
		{"битый json", `{not json`},
	}
	for _, tt := range tests {
		path := writeServersFile(t, tt.content)
		if _, err := LoadServers(path); err == nil {
			t.Errorf("%s: ожидали ошибку", tt.desc)
		}
	}
}

func TestLoadServersMissingFile(t *testing.T) {
	if _, err := LoadServers(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("отсутствующий файл должен давать ошибку")
	}
}
