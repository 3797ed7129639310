package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/panel"
	"vpn-store-bot/internal/store"
)

// fakeStore — хранилище в памяти для тестов движка.
type fakeStore struct {
	mu       sync.Mutex
	orders   map[string]*store.Order
	creds    []store.Credential
	freeTest map[int64]bool
	failSave bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   make(map[string]*store.Order),
		freeTest: make(map[int64]bool),
	}
}

func (f *fakeStore) CreateOrder(o *store.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeStore) GetOrder(id string) (*store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) UpdateOrder(o *store.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeStore) OpenOrderFor(userID int64, serverRef string) (*store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.UserID == userID && o.ServerRef == serverRef && o.Status.Open() {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) OrdersByStatus(status store.OrderStatus) ([]store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Order
	for _, o := range f.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) StaleOpenOrders(cutoff time.Time) ([]store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Order
	for _, o := range f.orders {
		if o.Status.Open() && o.CreatedAt < cutoff.Unix() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) HasUsedFreeTest(userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeTest[userID], nil
}

func (f *fakeStore) CountUserCredentials(userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.creds {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SaveFulfillment(o *store.Order, c *store.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("db is down")
	}
	cp := *o
	f.orders[o.ID] = &cp
	cc := *c
	cc.ID = uint(len(f.creds) + 1)
	f.creds = append(f.creds, cc)
	if o.Kind == store.KindFreeTest {
		f.freeTest[o.UserID] = true
	}
	return nil
}

func (f *fakeStore) GetCredential(credID uint) (*store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.ID == credID {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateCredential(c *store.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.creds {
		if f.creds[i].ID == c.ID {
			f.creds[i] = *c
			return nil
		}
	}
	return errors.New("no such credential")
}

// fakePanel считает вызовы CreateUser и умеет отдавать заранее
// посаженного клиента через FindUser.
type fakePanel struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	existing    *panel.Credential
	deleted     []string
	usage       *panel.UsageStats
}

func (f *fakePanel) Type() string { return "fake" }

func (f *fakePanel) CreateUser(ctx context.Context, spec panel.CreateSpec) (*panel.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.existing != nil {
		return f.existing, nil
	}
	f.createCalls++
	return &panel.Credential{
		Ref:         fmt.Sprintf("ref-%d-%d", spec.TelegramID, spec.KeyNumber),
		Name:        spec.Username,
		SubLink:     "https://example.test/sub/abc",
		ConfigLink:  "vless://abc@example.test:443",
		Protocol:    spec.Protocol,
		DataLimitGB: spec.DataLimitGB,
		Devices:     spec.Devices,
		ExpiresAt:   time.Now().AddDate(0, 0, spec.ExpiryDays),
		Enabled:     true,
	}, nil
}

func (f *fakePanel) FindUser(ctx context.Context, spec panel.CreateSpec) (*panel.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.existing != nil {
		return f.existing, nil
	}
	return nil, fmt.Errorf("%w: no client", panel.ErrNotFound)
}

func (f *fakePanel) DeleteUser(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}
func (f *fakePanel) UpdateUser(ctx context.Context, ref string, patch panel.Patch) (*panel.Credential, error) {
	return nil, nil
}
func (f *fakePanel) GetUsage(ctx context.Context, ref string) (*panel.UsageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		return nil, fmt.Errorf("%w: no client %s", panel.ErrNotFound, ref)
	}
	return f.usage, nil
}
func (f *fakePanel) EnableUser(ctx context.Context, ref string) error  { return nil }
func (f *fakePanel) DisableUser(ctx context.Context, ref string) error { return nil }

func (f *fakePanel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// fakeNotifier копит отправленные сообщения.
type fakeNotifier struct {
	mu          sync.Mutex
	userMsgs    []string
	adminOrders []string
	adminMsgs   []string
	credsSent   int
}

func (f *fakeNotifier) SendUser(userID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userMsgs = append(f.userMsgs, text)
}

func (f *fakeNotifier) NotifyAdminOrder(o *store.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminOrders = append(f.adminOrders, o.ID)
}

func (f *fakeNotifier) NotifyAdmin(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminMsgs = append(f.adminMsgs, text)
}

func (f *fakeNotifier) SendCredential(userID int64, o *store.Order, c *store.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credsSent++
}

func newTestEngine() (*Engine, *fakeStore, *fakePanel, *fakeNotifier) {
	st := newFakeStore()
	pn := &fakePanel{}
	nt := &fakeNotifier{}
	servers := map[string]config.ServerConfig{
		"sg1": {Ref: "sg1", Name: "Singapore", URL: "https://panel.test", Domain: "sg.test", PanelType: config.PanelTypeXUI},
		"de1": {Ref: "de1", Name: "Germany", URL: "https://hiddify.test", Domain: "de.test", PanelType: config.PanelTypeHiddify},
	}
	eng := New(st, map[string]panel.Client{"sg1": pn, "de1": pn}, servers, nt)
	return eng, st, pn, nt
}

// seedCredential кладёт в фейковое хранилище уже выданный ключ.
func seedCredential(st *fakeStore, userID int64, serverRef, protocol string) uint {
	st.mu.Lock()
	defer st.mu.Unlock()
	id := uint(len(st.creds) + 1)
	st.creds = append(st.creds, store.Credential{
		ID:          id,
		OrderID:     fmt.Sprintf("order-%d", id),
		UserID:      userID,
		ServerRef:   serverRef,
		ClientName:  fmt.Sprintf("alice - 90D / Key %d (VL)", id),
		ClientRef:   fmt.Sprintf("old-ref-%d", id),
		SubLink:     "https://example.test/sub/old",
		ConfigLink:  "vless://old@example.test:443",
		Protocol:    protocol,
		DataLimitGB: 0,
		Devices:     2,
		KeyNumber:   int(id),
		ExpiresAt:   time.Now().AddDate(0, 0, 40).Unix(),
		Active:      true,
	})
	return id
}

func TestFreeTestSkipsPendingPayment(t *testing.T) {
	eng, _, _, nt := newTestEngine()
	o, err := eng.RequestFreeTest(context.Background(), 100, "alice", "sg1", "vless")
	if err != nil {
		t.Fatalf("RequestFreeTest: %v", err)
	}
	if o.Status != store.StatusAwaitingApproval {
		t.Errorf("тестовая заявка должна сразу ждать решения, статус %s", o.Status)
	}
	if o.Amount != 0 {
		t.Errorf("тестовый ключ бесплатный, сумма %d", o.Amount)
	}
	if len(nt.adminOrders) != 1 {
		t.Errorf("админ должен получить карточку заявки, получил %d", len(nt.adminOrders))
	}
}

func TestFreeTestOnlyOnce(t *testing.T) {
	eng, st, _, _ := newTestEngine()
	st.freeTest[100] = true
	_, err := eng.RequestFreeTest(context.Background(), 100, "alice", "sg1", "vless")
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("повторный тест должен давать ErrDuplicateRequest, получили %v", err)
	}
}

func TestOpenOrderBlocksSecondRequest(t *testing.T) {
	eng, _, _, _ := newTestEngine()
	ctx := context.Background()
	if _, err := eng.RequestPaidOrder(ctx, 100, "alice", "sg1", config.PlanID(1, 1), "vless"); err != nil {
		t.Fatalf("RequestPaidOrder: %v", err)
	}
	_, err := eng.RequestPaidOrder(ctx, 100, "alice", "sg1", config.PlanID(2, 3), "vless")
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("второй заказ на том же сервере должен давать ErrDuplicateRequest, получили %v", err)
	}
	_, err = eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("тест при открытом заказе должен давать ErrDuplicateRequest, получили %v", err)
	}
}

func TestUnknownServerAndPlan(t *testing.T) {
	eng, _, _, _ := newTestEngine()
	ctx := context.Background()
	if _, err := eng.RequestFreeTest(ctx, 1, "a", "no-such", "vless"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("ожидали ErrUnknownServer, получили %v", err)
	}
	if _, err := eng.RequestPaidOrder(ctx, 1, "a", "sg1", "9dev_99month", "vless"); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("ожидали ErrUnknownPlan, получили %v", err)
	}
	// Тестовый тариф нельзя купить как платный
	if _, err := eng.RequestPaidOrder(ctx, 1, "a", "sg1", config.PlanFreeTest, "vless"); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("free_test как платный тариф должен давать ErrUnknownPlan, получили %v", err)
	}
}

func TestPaidOrderFullFlow(t *testing.T) {
	eng, st, pn, nt := newTestEngine()
	ctx := context.Background()

	o, err := eng.RequestPaidOrder(ctx, 100, "alice", "sg1", config.PlanID(2, 3), "vless")
	if err != nil {
		t.Fatalf("RequestPaidOrder: %v", err)
	}
	if o.Status != store.StatusPendingPayment {
		t.Fatalf("новый платный заказ должен ждать оплаты, статус %s", o.Status)
	}
	if o.Amount != 10000 {
		t.Errorf("цена 2dev_3month = 10000 Ks, получили %d", o.Amount)
	}
	if len(nt.adminOrders) != 0 {
		t.Errorf("до скриншота админ не должен видеть заказ")
	}

	if _, err := eng.SubmitPaymentProof(ctx, o.ID, "file-id-1"); err != nil {
		t.Fatalf("SubmitPaymentProof: %v", err)
	}
	saved, _ := st.GetOrder(o.ID)
	if saved.Status != store.StatusAwaitingApproval || saved.PaymentProof != "file-id-1" {
		t.Fatalf("после скриншота: статус %s, proof %q", saved.Status, saved.PaymentProof)
	}
	if len(nt.adminOrders) != 1 {
		t.Fatalf("после скриншота админ должен получить карточку")
	}

	done, err := eng.Decide(ctx, o.ID, Approve, 9000)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if done.Status != store.StatusFulfilled {
		t.Errorf("после одобрения статус %s", done.Status)
	}
	if done.CredentialRef == "" {
		t.Errorf("у выданного заказа должна быть ссылка на ключ")
	}
	if done.DecidedBy == nil || *done.DecidedBy != 9000 {
		t.Errorf("DecidedBy должен быть id админа")
	}
	if pn.calls() != 1 {
		t.Errorf("панель должна быть вызвана один раз, вызвана %d", pn.calls())
	}
	if nt.credsSent != 1 {
		t.Errorf("пользователь должен получить ключ")
	}
	if len(st.creds) != 1 {
		t.Errorf("запись ключа должна попасть в БД")
	}
}

func TestRejectDoesNotTouchPanel(t *testing.T) {
	eng, st, pn, nt := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")

	done, err := eng.Decide(ctx, o.ID, Reject, 9000)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if done.Status != store.StatusRejected {
		t.Errorf("статус после отклонения %s", done.Status)
	}
	if pn.calls() != 0 {
		t.Errorf("отклонение не должно трогать панель")
	}
	if len(nt.userMsgs) == 0 {
		t.Errorf("пользователь должен узнать об отклонении")
	}
	// Отклонённый тест не сжигает попытку
	used, _ := st.HasUsedFreeTest(100)
	if used {
		t.Errorf("отклонённый тест не должен помечаться использованным")
	}
}

func TestSubmitProofInvalidState(t *testing.T) {
	eng, _, _, _ := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestPaidOrder(ctx, 100, "alice", "sg1", config.PlanID(1, 1), "vless")
	if _, err := eng.SubmitPaymentProof(ctx, o.ID, "p1"); err != nil {
		t.Fatalf("первый скриншот: %v", err)
	}
	if _, err := eng.SubmitPaymentProof(ctx, o.ID, "p2"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("второй скриншот должен давать ErrInvalidState, получили %v", err)
	}
	if _, err := eng.SubmitPaymentProof(ctx, "no-such-order", "p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("скриншот по чужому id должен давать ErrNotFound, получили %v", err)
	}
}

func TestDecideTwiceKeepsFirstResult(t *testing.T) {
	eng, st, _, _ := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")

	if _, err := eng.Decide(ctx, o.ID, Approve, 9000); err != nil {
		t.Fatalf("первое решение: %v", err)
	}
	if _, err := eng.Decide(ctx, o.ID, Reject, 9000); !errors.Is(err, ErrInvalidState) {
		t.Errorf("второе решение должно давать ErrInvalidState, получили %v", err)
	}
	saved, _ := st.GetOrder(o.ID)
	if saved.Status != store.StatusFulfilled {
		t.Errorf("второе решение не должно менять статус, он %s", saved.Status)
	}
}

func TestPanelFailureMarksFailed(t *testing.T) {
	eng, st, pn, nt := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")
	pn.createErr = fmt.Errorf("%w: connection refused", panel.ErrUnreachable)

	done, err := eng.Decide(ctx, o.ID, Approve, 9000)
	if err != nil {
		t.Fatalf("ошибка панели не должна уходить наверх: %v", err)
	}
	if done.Status != store.StatusFailed {
		t.Errorf("статус после сбоя панели %s", done.Status)
	}
	if done.FailReason != "Unreachable" {
		t.Errorf("FailReason = %q", done.FailReason)
	}
	if done.CredentialRef != "" {
		t.Errorf("у несостоявшегося заказа не должно быть ключа")
	}
	saved, _ := st.GetOrder(o.ID)
	if saved.Status != store.StatusFailed {
		t.Errorf("failed должен быть записан в БД, там %s", saved.Status)
	}
	if len(nt.userMsgs) == 0 || len(nt.adminMsgs) == 0 {
		t.Errorf("обе стороны должны узнать о сбое")
	}
}

func TestConcurrentApproveSingleCreate(t *testing.T) {
	eng, _, pn, _ := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Decide(ctx, o.ID, Approve, 9000)
		}(i)
	}
	wg.Wait()

	if pn.calls() != 1 {
		t.Fatalf("двойное одобрение дошло до панели %d раз", pn.calls())
	}
	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidState):
			invalid++
		default:
			t.Errorf("неожиданная ошибка: %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Errorf("ожидали одно успешное решение и один ErrInvalidState, получили %d/%d", ok, invalid)
	}
}

func TestSaveFailureRevertsToApproved(t *testing.T) {
	eng, st, _, nt := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")
	st.failSave = true

	_, err := eng.Decide(ctx, o.ID, Approve, 9000)
	if err == nil {
		t.Fatal("ошибка записи должна уйти наверх")
	}
	saved, _ := st.GetOrder(o.ID)
	if saved.Status != store.StatusApproved {
		t.Errorf("заказ должен остаться approved для повтора, статус %s", saved.Status)
	}
	found := false
	for _, m := range nt.adminMsgs {
		if strings.Contains(m, "/admin_retry") {
			found = true
		}
	}
	if !found {
		t.Errorf("админ должен получить алерт с подсказкой /admin_retry")
	}
}

func TestRetryFulfill(t *testing.T) {
	eng, st, pn, _ := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")
	st.failSave = true
	eng.Decide(ctx, o.ID, Approve, 9000)
	st.failSave = false

	done, err := eng.RetryFulfill(ctx, o.ID, 9000)
	if err != nil {
		t.Fatalf("RetryFulfill: %v", err)
	}
	if done.Status != store.StatusFulfilled {
		t.Errorf("после повтора статус %s", done.Status)
	}
	if pn.calls() != 2 {
		t.Errorf("панель вызвана %d раз", pn.calls())
	}
	// Повтор по уже закрытому заказу — ошибка состояния
	if _, err := eng.RetryFulfill(ctx, o.ID, 9000); !errors.Is(err, ErrInvalidState) {
		t.Errorf("повтор по закрытому заказу должен давать ErrInvalidState, получили %v", err)
	}
}

func TestRecoverApprovedReusesPanelClient(t *testing.T) {
	eng, st, pn, nt := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")
	// Имитируем падение между созданием на панели и записью в БД
	saved, _ := st.GetOrder(o.ID)
	saved.Status = store.StatusApproved
	st.UpdateOrder(saved)
	pn.existing = &panel.Credential{
		Ref: "existing-ref", Name: "alice", SubLink: "https://example.test/sub/x",
		ExpiresAt: time.Now().AddDate(0, 0, 3), Enabled: true,
	}

	if err := eng.RecoverApproved(ctx); err != nil {
		t.Fatalf("RecoverApproved: %v", err)
	}
	after, _ := st.GetOrder(o.ID)
	if after.Status != store.StatusFulfilled {
		t.Errorf("восстановленный заказ должен стать fulfilled, статус %s", after.Status)
	}
	if after.CredentialRef != "existing-ref" {
		t.Errorf("должен быть переиспользован клиент с панели, ref %q", after.CredentialRef)
	}
	if pn.calls() != 0 {
		t.Errorf("восстановление не должно создавать нового клиента")
	}
	if nt.credsSent != 1 {
		t.Errorf("пользователь должен наконец получить ключ")
	}
}

func TestRecoverApprovedAsksAdminWhenMissing(t *testing.T) {
	eng, st, _, nt := newTestEngine()
	ctx := context.Background()
	o, _ := eng.RequestFreeTest(ctx, 100, "alice", "sg1", "vless")
	saved, _ := st.GetOrder(o.ID)
	saved.Status = store.StatusApproved
	st.UpdateOrder(saved)

	if err := eng.RecoverApproved(ctx); err != nil {
		t.Fatalf("RecoverApproved: %v", err)
	}
	after, _ := st.GetOrder(o.ID)
	if after.Status != store.StatusApproved {
		t.Errorf("без клиента на панели заказ остаётся approved, статус %s", after.Status)
	}
	found := false
	for _, m := range nt.adminMsgs {
		if strings.Contains(m, "/admin_retry") {
			found = true
		}
	}
	if !found {
		t.Errorf("админ должен получить подсказку про /admin_retry")
	}
}

func TestSweepStale(t *testing.T) {
	eng, st, _, _ := newTestEngine()
	ctx := context.Background()
	old, _ := eng.RequestPaidOrder(ctx, 100, "alice", "sg1", config.PlanID(1, 1), "vless")
	fresh, _ := eng.RequestPaidOrder(ctx, 200, "bob", "sg1", config.PlanID(1, 1), "vless")

	saved, _ := st.GetOrder(old.ID)
	saved.CreatedAt = time.Now().Add(-10 * 24 * time.Hour).Unix()
	st.UpdateOrder(saved)

	n, err := eng.SweepStale(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("должен быть закрыт ровно один заказ, закрыто %d", n)
	}
	o1, _ := st.GetOrder(old.ID)
	if o1.Status != store.StatusRejected {
		t.Errorf("старый заказ должен быть отклонён, статус %s", o1.Status)
	}
	o2, _ := st.GetOrder(fresh.ID)
	if o2.Status != store.StatusPendingPayment {
		t.Errorf("свежий заказ не должен пострадать, статус %s", o2.Status)
	}
}

func TestExchangeProtocolRecreatesClient(t *testing.T) {
	eng, st, pn, _ := newTestEngine()
	ctx := context.Background()
	id := seedCredential(st, 100, "sg1", "vless")

	c, err := eng.ExchangeProtocol(ctx, 100, id, "trojan")
	if err != nil {
		t.Fatalf("ExchangeProtocol: %v", err)
	}
	if c.Protocol != "trojan" {
		t.Errorf("протокол после смены %q", c.Protocol)
	}
	if len(pn.deleted) != 1 || pn.deleted[0] != "old-ref-1" {
		t.Errorf("старый клиент должен быть удалён с панели, удалены %v", pn.deleted)
	}
	if pn.calls() != 1 {
		t.Errorf("новый клиент должен быть создан один раз, создан %d", pn.calls())
	}
	if c.ClientRef == "old-ref-1" {
		t.Errorf("ссылка на клиента должна смениться")
	}
	saved, _ := st.GetCredential(id)
	if saved.Protocol != "trojan" || saved.ClientRef != c.ClientRef {
		t.Errorf("запись ключа должна обновиться: протокол %q, ref %q", saved.Protocol, saved.ClientRef)
	}
}

func TestExchangeProtocolOwnershipAndState(t *testing.T) {
	eng, st, _, _ := newTestEngine()
	ctx := context.Background()
	id := seedCredential(st, 100, "sg1", "vless")

	if _, err := eng.ExchangeProtocol(ctx, 999, id, "trojan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой ключ должен давать ErrNotFound, получили %v", err)
	}
	if _, err := eng.ExchangeProtocol(ctx, 100, id, "vless"); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("смена на тот же протокол должна давать ErrDuplicateRequest, получили %v", err)
	}

	hid := seedCredential(st, 100, "de1", "hiddify")
	if _, err := eng.ExchangeProtocol(ctx, 100, hid, "trojan"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("на Hiddify протокол фиксирован, ожидали ErrInvalidState, получили %v", err)
	}
}

func TestCredentialUsage(t *testing.T) {
	eng, st, pn, _ := newTestEngine()
	ctx := context.Background()
	id := seedCredential(st, 100, "sg1", "vless")
	pn.usage = &panel.UsageStats{
		UsedBytes:  42 * 1024 * 1024,
		LimitBytes: 0,
		ExpiresAt:  time.Now().AddDate(0, 0, 40),
		Enabled:    true,
	}

	c, stats, err := eng.CredentialUsage(ctx, 100, id)
	if err != nil {
		t.Fatalf("CredentialUsage: %v", err)
	}
	if c.ID != id || stats.UsedBytes != 42*1024*1024 {
		t.Errorf("ожидали статистику своего ключа, получили cred %d, used %d", c.ID, stats.UsedBytes)
	}
	if _, _, err := eng.CredentialUsage(ctx, 999, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой ключ должен давать ErrNotFound, получили %v", err)
	}
	if _, _, err := eng.CredentialUsage(ctx, 100, 12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий ключ должен давать ErrNotFound, получили %v", err)
	}
}
