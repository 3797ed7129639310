package order

import "errors"

// Ошибки движка заказов. DuplicateRequest и InvalidState — ошибки
// пользователя: бот показывает их как отказ по конкретному запросу,
// в системный лог они не попадают.
var (
	ErrInvalidState     = errors.New("order: invalid state")
	ErrDuplicateRequest = errors.New("order: duplicate request")
	ErrNotFound         = errors.New("order: not found")
	ErrUnknownServer    = errors.New("order: unknown server")
	ErrUnknownPlan      = errors.New("order: unknown plan")
)
