package admin

import "testing"

func TestServerDisabledToggle(t *testing.T) {
	defer SetServerDisabled("sg1", false)

	if ServerDisabled("sg1") {
		t.Fatalf("сервер не должен быть выключен по умолчанию")
	}
	SetServerDisabled("sg1", true)
	if !ServerDisabled("sg1") {
		t.Errorf("сервер должен быть выключен после off")
	}
	if ServerDisabled("de1") {
		t.Errorf("выключение не должно задевать другие серверы")
	}
	SetServerDisabled("sg1", false)
	if ServerDisabled("sg1") {
		t.Errorf("сервер должен снова стать доступным после on")
	}
}
