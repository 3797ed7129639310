package store

type OrderKind string

const (
	KindFreeTest OrderKind = "free_test"
	KindPaid     OrderKind = "paid"
)

type OrderStatus string

// Статусы заказа. Переходы строго монотонны, терминальные статусы
// не меняются.
const (
	StatusPendingPayment   OrderStatus = "pending_payment"
	StatusAwaitingApproval OrderStatus = "awaiting_approval"
	StatusApproved         OrderStatus = "approved"
	StatusRejected         OrderStatus = "rejected"
	StatusFulfilled        OrderStatus = "fulfilled"
	StatusFailed           OrderStatus = "failed"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusRejected || s == StatusFulfilled || s == StatusFailed
}

// Open — заказ ещё ждёт оплату или решения админа.
func (s OrderStatus) Open() bool {
	return s == StatusPendingPayment || s == StatusAwaitingApproval
}

// OpenStatuses используется для запроса "есть ли открытый заказ".
func OpenStatuses() []OrderStatus {
	return []OrderStatus{StatusPendingPayment, StatusAwaitingApproval}
}

// Order — заказ пользователя на VPN-ключ.
// Временные метки unix, каждая ставится ровно один раз.
type Order struct {
	ID            string `gorm:"primaryKey"`
	UserID        int64  `gorm:"index"`
	Username      string
	Kind          OrderKind
	PlanID        string
	ServerRef     string `gorm:"index"`
	Amount        int
	Protocol      string
	Status        OrderStatus `gorm:"index"`
	PaymentProof  string      // file_id скриншота в Telegram, только для платных
	FailReason    string
	CreatedAt     int64
	DecidedAt     *int64
	DecidedBy     *int64
	FulfilledAt   *int64
	CredentialRef string // заполняется только при статусе fulfilled
}

// Credential — выданный ключ. Сам аккаунт живёт на панели,
// здесь ссылка и всё нужное для показа пользователю.
type Credential struct {
	ID               uint   `gorm:"primaryKey"`
	OrderID          string `gorm:"index"`
	UserID           int64  `gorm:"index"`
	ServerRef        string
	ClientName       string
	ClientRef        string
	SubID            string
	SubLink          string
	ConfigLink       string
	Protocol         string
	DataLimitGB      int
	Devices          int
	KeyNumber        int // порядковый номер ключа в имени клиента
	ExpiresAt        int64
	Active           bool `gorm:"default:true"`
	NotifiedExpiring bool `gorm:"default:false"`
	CreatedAt        int64
}

type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	Username   string
	FirstName  string
	Banned     bool `gorm:"default:false"`
	CreatedAt  int64
}

// FreeTest — отметка, что пользователь уже получал тестовый ключ.
// Одна строка на пользователя за всю жизнь.
type FreeTest struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	UsedAt     int64
}
