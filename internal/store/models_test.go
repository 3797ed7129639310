package store

import "testing"

func TestOrderStatusTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
		open     bool
	}{
		{StatusPendingPayment, false, true},
		{StatusAwaitingApproval, false, true},
		{StatusApproved, false, false},
		{StatusRejected, true, false},
		{StatusFulfilled, true, false},
		{StatusFailed, true, false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.Open(); got != tt.open {
			t.Errorf("%s.Open() = %v, want %v", tt.status, got, tt.open)
		}
	}
}

func TestOpenStatuses(t *testing.T) {
	// approved — не открытый: заказ уже решён и ждёт только выдачи,
	// он не должен блокировать новый заказ и не должен сметаться чисткой
	for _, s := range OpenStatuses() {
		if !s.Open() {
			t.Errorf("%s в списке открытых, но Open() = false", s)
		}
		if s.Terminal() {
			t.Errorf("%s в списке открытых, но терминальный", s)
		}
	}
	if len(OpenStatuses()) != 2 {
		t.Errorf("открытых статусов %d", len(OpenStatuses()))
	}
}
