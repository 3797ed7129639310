package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/panel"
	"vpn-store-bot/internal/store"
)

type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Store — срез хранилища, нужный движку. Реализуется *store.Store,
// в тестах подменяется фейком.
type Store interface {
	CreateOrder(o *store.Order) error
	GetOrder(id string) (*store.Order, error)
	UpdateOrder(o *store.Order) error
	OpenOrderFor(userID int64, serverRef string) (*store.Order, error)
	OrdersByStatus(status store.OrderStatus) ([]store.Order, error)
	StaleOpenOrders(cutoff time.Time) ([]store.Order, error)
	HasUsedFreeTest(userID int64) (bool, error)
	CountUserCredentials(userID int64) (int64, error)
	SaveFulfillment(o *store.Order, c *store.Credential) error
	GetCredential(credID uint) (*store.Credential, error)
	UpdateCredential(c *store.Credential) error
}

// Notifier — граница обмена сообщениями. Движок не знает про Telegram:
// боту отдаются готовые события, как их показать — его дело.
type Notifier interface {
	SendUser(userID int64, text string)
	NotifyAdminOrder(o *store.Order)
	NotifyAdmin(text string)
	SendCredential(userID int64, o *store.Order, c *store.Credential)
}

// Engine ведёт заказ по состояниям: создание, скриншот оплаты, решение
// админа, выпуск ключа на панели. Только движок меняет статус заказа.
type Engine struct {
	store   Store
	panels  map[string]panel.Client
	servers map[string]config.ServerConfig
	notify  Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st Store, panels map[string]panel.Client, servers map[string]config.ServerConfig, n Notifier) *Engine {
	return &Engine{
		store:   st,
		panels:  panels,
		servers: servers,
		notify:  n,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockOrder берёт эксклюзивную блокировку по id заказа. Двойной тап
// админа по кнопке Approve не должен дважды дойти до панели.
func (e *Engine) lockOrder(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// RequestFreeTest создаёт заявку на тестовый ключ. Тест бесплатный,
// поэтому этап оплаты пропускается: заказ сразу ждёт решения админа.
func (e *Engine) RequestFreeTest(ctx context.Context, userID int64, username, serverRef, protocol string) (*store.Order, error) {
	if _, ok := e.servers[serverRef]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverRef)
	}
	used, err := e.store.HasUsedFreeTest(userID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, fmt.Errorf("%w: free test already used", ErrDuplicateRequest)
	}
	if err := e.checkNoOpenOrder(userID, serverRef); err != nil {
		return nil, err
	}
	plan := config.Plans[config.PlanFreeTest]
	o := &store.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Kind:      store.KindFreeTest,
		PlanID:    config.PlanFreeTest,
		ServerRef: serverRef,
		Amount:    plan.Price,
		Protocol:  protocol,
		Status:    store.StatusAwaitingApproval,
		CreatedAt: time.Now().Unix(),
	}
	if err := e.store.CreateOrder(o); err != nil {
		return nil, err
	}
	logger.Info("free_test_requested", zap.Int64("user_id", userID), zap.String("order_id", o.ID), zap.String("server", serverRef))
	e.notify.NotifyAdminOrder(o)
	return o, nil
}

// RequestPaidOrder создаёт платный заказ в ожидании оплаты. Админ
// увидит его только после того, как пользователь пришлёт скриншот.
func (e *Engine) RequestPaidOrder(ctx context.Context, userID int64, username, serverRef, planID, protocol string) (*store.Order, error) {
	if _, ok := e.servers[serverRef]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverRef)
	}
	plan, ok := config.Plans[planID]
	if !ok || planID == config.PlanFreeTest {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	if err := e.checkNoOpenOrder(userID, serverRef); err != nil {
		return nil, err
	}
	o := &store.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Kind:      store.KindPaid,
		PlanID:    planID,
		ServerRef: serverRef,
		Amount:    plan.Price,
		Protocol:  protocol,
		Status:    store.StatusPendingPayment,
		CreatedAt: time.Now().Unix(),
	}
	if err := e.store.CreateOrder(o); err != nil {
		return nil, err
	}
	logger.Info("paid_order_created", zap.Int64("user_id", userID), zap.String("order_id", o.ID), zap.String("plan", planID))
	return o, nil
}

// SubmitPaymentProof прикладывает скриншот оплаты и передаёт заказ
// на проверку админу. Валидно только из pending_payment.
func (e *Engine) SubmitPaymentProof(ctx context.Context, orderID, proofRef string) (*store.Order, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != store.StatusPendingPayment {
		return nil, fmt.Errorf("%w: proof for order in %s", ErrInvalidState, o.Status)
	}
	o.PaymentProof = proofRef
	o.Status = store.StatusAwaitingApproval
	if err := e.store.UpdateOrder(o); err != nil {
		return nil, err
	}
	e.notify.NotifyAdminOrder(o)
	return o, nil
}

// Decide — решение админа. Под блокировкой заказа: из двух
// конкурентных одобрений до панели доходит ровно одно, второе
// получает InvalidState.
func (e *Engine) Decide(ctx context.Context, orderID string, decision Decision, adminID int64) (*store.Order, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != store.StatusAwaitingApproval {
		return nil, fmt.Errorf("%w: decide on order in %s", ErrInvalidState, o.Status)
	}
	now := time.Now().Unix()
	o.DecidedAt = &now
	o.DecidedBy = &adminID
	logger.LogAdminDecision(adminID, orderID, string(decision))

	if decision == Reject {
		o.Status = store.StatusRejected
		if err := e.store.UpdateOrder(o); err != nil {
			return nil, err
		}
		e.notify.SendUser(o.UserID, "❌ Ваш заказ отклонён. Если это ошибка, свяжитесь с админом.")
		return o, nil
	}

	// Сначала фиксируем одобрение в базе, потом идём на панель:
	// после падения процесса заказ найдётся в approved и будет
	// доведён до конца при восстановлении.
	o.Status = store.StatusApproved
	if err := e.store.UpdateOrder(o); err != nil {
		return nil, err
	}
	return e.fulfill(ctx, o)
}

// RetryFulfill повторяет выпуск ключа по уже одобренному заказу.
// Создание на панели переживает повтор: существующий клиент
// переиспользуется, а не дублируется.
func (e *Engine) RetryFulfill(ctx context.Context, orderID string, adminID int64) (*store.Order, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != store.StatusApproved {
		return nil, fmt.Errorf("%w: retry on order in %s", ErrInvalidState, o.Status)
	}
	logger.LogAdminAction(adminID, "retry_fulfill", orderID)
	return e.fulfill(ctx, o)
}

// fulfill выпускает ключ на панели и фиксирует результат.
// Ошибка панели переводит заказ в failed и не уходит наверх: обе
// стороны получают человеческое уведомление. Ошибка записи после
// успеха панели — громкий алерт, заказ остаётся approved.
func (e *Engine) fulfill(ctx context.Context, o *store.Order) (*store.Order, error) {
	cl, ok := e.panels[o.ServerRef]
	if !ok {
		return e.fail(o, fmt.Errorf("%w: %s", ErrUnknownServer, o.ServerRef))
	}
	spec, err := e.specFor(o)
	if err != nil {
		return e.fail(o, err)
	}
	cred, err := cl.CreateUser(ctx, spec)
	if err != nil {
		return e.fail(o, err)
	}

	now := time.Now().Unix()
	o.Status = store.StatusFulfilled
	o.FulfilledAt = &now
	o.CredentialRef = cred.Ref
	rec := &store.Credential{
		OrderID:     o.ID,
		UserID:      o.UserID,
		ServerRef:   o.ServerRef,
		ClientName:  cred.Name,
		ClientRef:   cred.Ref,
		SubID:       cred.SubID,
		SubLink:     cred.SubLink,
		ConfigLink:  cred.ConfigLink,
		Protocol:    cred.Protocol,
		DataLimitGB: cred.DataLimitGB,
		Devices:     cred.Devices,
		KeyNumber:   spec.KeyNumber,
		ExpiresAt:   cred.ExpiresAt.Unix(),
		Active:      true,
		CreatedAt:   now,
	}
	if err := e.store.SaveFulfillment(o, rec); err != nil {
		// Ключ на панели уже есть, а записи нет. Откатываем
		// заказ в approved в памяти и зовём админа: recovery
		// найдёт клиента на панели и доведёт заказ.
		o.Status = store.StatusApproved
		o.FulfilledAt = nil
		o.CredentialRef = ""
		logger.Error("fulfillment_not_persisted", zap.String("order_id", o.ID), zap.Error(err))
		e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s: ключ создан на панели, но не сохранён в БД (%v). Требуется /admin_retry %s", o.ID, err, o.ID))
		return nil, err
	}
	logger.Info("order_fulfilled", zap.String("order_id", o.ID), zap.String("credential_ref", cred.Ref))
	e.notify.SendCredential(o.UserID, o, rec)
	return o, nil
}

// fail переводит заказ в failed и уведомляет обе стороны.
func (e *Engine) fail(o *store.Order, cause error) (*store.Order, error) {
	o.Status = store.StatusFailed
	o.FailReason = panel.Classify(cause)
	if err := e.store.UpdateOrder(o); err != nil {
		// Потерять уже принятое решение нельзя
		e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s: не удалось записать статус failed: %v", o.ID, err))
		return nil, err
	}
	logger.Error("order_failed", zap.String("order_id", o.ID), zap.String("reason", o.FailReason), zap.Error(cause))
	e.notify.SendUser(o.UserID, "⚠️ Сервер временно недоступен, ключ выдать не удалось. Попробуйте оформить заказ позже.")
	e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s: выпуск ключа не удался [%s]: %v", o.ID, o.FailReason, cause))
	return o, nil
}

// RecoverApproved сверяет зависшие approved-заказы после рестарта.
// Если клиент уже есть на панели (упали между созданием и записью) —
// фиксируем его; если нет — зовём админа, вслепую панель не дёргаем.
func (e *Engine) RecoverApproved(ctx context.Context) error {
	orders, err := e.store.OrdersByStatus(store.StatusApproved)
	if err != nil {
		return err
	}
	for i := range orders {
		o := &orders[i]
		cl, ok := e.panels[o.ServerRef]
		if !ok {
			e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s ждёт выпуска, но сервер %s больше не настроен", o.ID, o.ServerRef))
			continue
		}
		spec, err := e.specFor(o)
		if err != nil {
			e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s не восстановлен: %v", o.ID, err))
			continue
		}
		cred, err := cl.FindUser(ctx, spec)
		switch {
		case err == nil:
			unlock := e.lockOrder(o.ID)
			now := time.Now().Unix()
			o.Status = store.StatusFulfilled
			o.FulfilledAt = &now
			o.CredentialRef = cred.Ref
			rec := &store.Credential{
				OrderID: o.ID, UserID: o.UserID, ServerRef: o.ServerRef,
				ClientName: cred.Name, ClientRef: cred.Ref, SubID: cred.SubID,
				SubLink: cred.SubLink, ConfigLink: cred.ConfigLink, Protocol: cred.Protocol,
				DataLimitGB: cred.DataLimitGB, Devices: cred.Devices, KeyNumber: spec.KeyNumber,
				ExpiresAt: cred.ExpiresAt.Unix(), Active: true, CreatedAt: now,
			}
			if err := e.store.SaveFulfillment(o, rec); err != nil {
				e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s: восстановление не записано: %v", o.ID, err))
				unlock()
				continue
			}
			logger.Info("order_recovered", zap.String("order_id", o.ID))
			e.notify.SendCredential(o.UserID, o, rec)
			unlock()
		case errors.Is(err, panel.ErrNotFound):
			e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s одобрен, но ключ не выпущен. Запустите /admin_retry %s", o.ID, o.ID))
		default:
			e.notify.NotifyAdmin(fmt.Sprintf("Заказ %s: панель %s недоступна для сверки (%v), повторите /admin_retry %s позже", o.ID, o.ServerRef, err, o.ID))
		}
	}
	return nil
}

// SweepStale закрывает брошенные заказы старше maxAge: пользователь
// так и не оплатил либо админ так и не ответил. Заказ отклоняется,
// чтобы не блокировать пару (пользователь, сервер) навсегда.
func (e *Engine) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := e.store.StaleOpenOrders(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range stale {
		o := &stale[i]
		unlock := e.lockOrder(o.ID)
		cur, err := e.getOrder(o.ID)
		if err != nil || !cur.Status.Open() {
			unlock()
			continue
		}
		cur.Status = store.StatusRejected
		if err := e.store.UpdateOrder(cur); err != nil {
			logger.Error("sweep_update_failed", zap.String("order_id", cur.ID), zap.Error(err))
			unlock()
			continue
		}
		unlock()
		swept++
		logger.Info("order_swept", zap.String("order_id", cur.ID))
		e.notify.SendUser(cur.UserID, "Ваш заказ закрыт: мы долго не получали подтверждение оплаты. Оформите новый, когда будете готовы.")
	}
	return swept, nil
}

// CredentialUsage отдаёт статистику ключа с панели. Чужие и
// несуществующие ключи неразличимы — и там и там NotFound.
func (e *Engine) CredentialUsage(ctx context.Context, userID int64, credID uint) (*store.Credential, *panel.UsageStats, error) {
	c, err := e.userCredential(userID, credID)
	if err != nil {
		return nil, nil, err
	}
	cl, ok := e.panels[c.ServerRef]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownServer, c.ServerRef)
	}
	stats, err := cl.GetUsage(ctx, c.ClientRef)
	if err != nil {
		return nil, nil, err
	}
	return c, stats, nil
}

// ExchangeProtocol пересоздаёт ключ с другим протоколом: старый клиент
// удаляется с панели, новый выпускается на остаток срока. Запись ключа
// обновляется на месте, заказ не трогаем.
func (e *Engine) ExchangeProtocol(ctx context.Context, userID int64, credID uint, protocol string) (*store.Credential, error) {
	c, err := e.userCredential(userID, credID)
	if err != nil {
		return nil, err
	}
	unlock := e.lockOrder(c.OrderID)
	defer unlock()

	if !c.Active {
		return nil, fmt.Errorf("%w: credential is revoked", ErrInvalidState)
	}
	if c.Protocol == protocol {
		return nil, fmt.Errorf("%w: already on %s", ErrDuplicateRequest, protocol)
	}
	srv, ok := e.servers[c.ServerRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, c.ServerRef)
	}
	if srv.PanelType != config.PanelTypeXUI {
		return nil, fmt.Errorf("%w: panel %s has fixed protocol", ErrInvalidState, srv.PanelType)
	}
	cl, ok := e.panels[c.ServerRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, c.ServerRef)
	}

	days := int(time.Until(time.Unix(c.ExpiresAt, 0)).Hours() / 24)
	if days < 1 {
		days = 1
	}
	// Владельца берём из имени клиента: имя детерминированное,
	// "{владелец} - {N}D / Key {k}".
	owner := strings.SplitN(c.ClientName, " - ", 2)[0]
	spec := panel.CreateSpec{
		TelegramID:  userID,
		Username:    owner,
		DataLimitGB: c.DataLimitGB,
		ExpiryDays:  days,
		Devices:     c.Devices,
		Protocol:    protocol,
		KeyNumber:   c.KeyNumber,
	}
	if err := cl.DeleteUser(ctx, c.ClientRef); err != nil {
		return nil, err
	}
	cred, err := cl.CreateUser(ctx, spec)
	if err != nil {
		// Старый клиент уже удалён, новый не создался
		e.notify.NotifyAdmin(fmt.Sprintf("Смена протокола по ключу #%d (клиент %s, сервер %s): старый клиент удалён, новый не создан: %v. Пользователь может повторить попытку, выпуск идемпотентен.", c.ID, c.ClientRef, c.ServerRef, err))
		return nil, err
	}
	c.ClientName = cred.Name
	c.ClientRef = cred.Ref
	c.SubID = cred.SubID
	c.SubLink = cred.SubLink
	c.ConfigLink = cred.ConfigLink
	c.Protocol = cred.Protocol
	c.ExpiresAt = cred.ExpiresAt.Unix()
	if err := e.store.UpdateCredential(c); err != nil {
		e.notify.NotifyAdmin(fmt.Sprintf("Ключ #%d пересоздан на панели как %s, но запись не обновлена: %v", c.ID, cred.Ref, err))
		return nil, err
	}
	logger.Info("protocol_exchanged", zap.Int64("user_id", userID), zap.Uint("credential_id", c.ID), zap.String("protocol", protocol))
	return c, nil
}

func (e *Engine) userCredential(userID int64, credID uint) (*store.Credential, error) {
	c, err := e.store.GetCredential(credID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.UserID != userID {
		return nil, fmt.Errorf("%w: credential %d", ErrNotFound, credID)
	}
	return c, nil
}

func (e *Engine) checkNoOpenOrder(userID int64, serverRef string) error {
	open, err := e.store.OpenOrderFor(userID, serverRef)
	if err != nil {
		return err
	}
	if open != nil {
		return fmt.Errorf("%w: order %s is %s", ErrDuplicateRequest, open.ID, open.Status)
	}
	return nil
}

func (e *Engine) getOrder(orderID string) (*store.Order, error) {
	o, err := e.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return o, nil
}

// specFor восстанавливает параметры выпуска из заказа и тарифа.
// Имя клиента детерминировано, поэтому повтор и recovery находят
// того же пользователя на панели.
func (e *Engine) specFor(o *store.Order) (panel.CreateSpec, error) {
	plan, ok := config.Plans[o.PlanID]
	if !ok {
		return panel.CreateSpec{}, fmt.Errorf("%w: %s", ErrUnknownPlan, o.PlanID)
	}
	count, err := e.store.CountUserCredentials(o.UserID)
	if err != nil {
		return panel.CreateSpec{}, err
	}
	return panel.CreateSpec{
		TelegramID:  o.UserID,
		Username:    o.Username,
		DataLimitGB: plan.DataLimitGB,
		ExpiryDays:  plan.ExpiryDays,
		Devices:     plan.Devices,
		Protocol:    o.Protocol,
		KeyNumber:   int(count) + 1,
	}, nil
}
