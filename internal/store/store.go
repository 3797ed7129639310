package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store — единственный владелец соединения с БД. Статусы заказов
// пишет только движок заказов, остальные пакеты только читают.
type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Order{}, &Credential{}, &FreeTest{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// --- Заказы ---

func (s *Store) CreateOrder(o *Order) error {
	if err := s.db.Create(o).Error; err != nil {
		return fmt.Errorf("store: create order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(id string) (*Order, error) {
	var o Order
	if err := s.db.First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get order: %w", err)
	}
	return &o, nil
}

func (s *Store) UpdateOrder(o *Order) error {
	if err := s.db.Save(o).Error; err != nil {
		return fmt.Errorf("store: update order: %w", err)
	}
	return nil
}

// OpenOrderFor возвращает открытый заказ пары (пользователь, сервер),
// либо nil. Больше одного открытого заказа на пару быть не может.
func (s *Store) OpenOrderFor(userID int64, serverRef string) (*Order, error) {
	var o Order
	err := s.db.Where("user_id = ? AND server_ref = ? AND status IN ?", userID, serverRef, OpenStatuses()).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open order lookup: %w", err)
	}
	return &o, nil
}

func (s *Store) OrdersByUser(userID int64) ([]Order, error) {
	var orders []Order
	if err := s.db.Where("user_id = ?", userID).Order("created_at desc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("store: orders by user: %w", err)
	}
	return orders, nil
}

func (s *Store) OrdersByStatus(status OrderStatus) ([]Order, error) {
	var orders []Order
	if err := s.db.Where("status = ?", status).Order("created_at asc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("store: orders by status: %w", err)
	}
	return orders, nil
}

// StaleOpenOrders — открытые заказы старше cutoff, кандидаты на
// автоотклонение при периодической чистке.
func (s *Store) StaleOpenOrders(cutoff time.Time) ([]Order, error) {
	var orders []Order
	err := s.db.Where("status IN ? AND created_at < ?", OpenStatuses(), cutoff.Unix()).Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("store: stale orders: %w", err)
	}
	return orders, nil
}

// SaveFulfillment атомарно фиксирует выдачу ключа: заказ со статусом
// fulfilled, запись ключа и отметка об использованном тесте. Либо всё,
// либо ничего — иначе credential_ref мог бы разойтись со статусом.
func (s *Store) SaveFulfillment(o *Order, c *Credential) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(o).Error; err != nil {
			return err
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if o.Kind == KindFreeTest {
			ft := FreeTest{TelegramID: o.UserID, UsedAt: time.Now().Unix()}
			if err := tx.Where("telegram_id = ?", o.UserID).FirstOrCreate(&ft).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save fulfillment: %w", err)
	}
	return nil
}

// --- Тестовые ключи ---

func (s *Store) HasUsedFreeTest(userID int64) (bool, error) {
	var count int64
	if err := s.db.Model(&FreeTest{}).Where("telegram_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("store: free test lookup: %w", err)
	}
	return count > 0, nil
}

// --- Ключи ---

func (s *Store) CountUserCredentials(userID int64) (int64, error) {
	var count int64
	if err := s.db.Model(&Credential{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: count credentials: %w", err)
	}
	return count, nil
}

func (s *Store) ActiveCredentials(userID int64) ([]Credential, error) {
	var creds []Credential
	err := s.db.Where("user_id = ? AND active = true", userID).Order("created_at asc").Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("store: active credentials: %w", err)
	}
	return creds, nil
}

// ExpiringCredentials — активные ключи, истекающие в ближайшие days
// дней, по которым ещё не слали напоминание.
func (s *Store) ExpiringCredentials(days int) ([]Credential, error) {
	now := time.Now().Unix()
	soon := now + int64(days)*24*60*60
	var creds []Credential
	err := s.db.Where("active = true AND notified_expiring = false AND expires_at > ? AND expires_at <= ?", now, soon).
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("store: expiring credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) ExpiredCredentials() ([]Credential, error) {
	var creds []Credential
	err := s.db.Where("active = true AND expires_at < ?", time.Now().Unix()).Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("store: expired credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) MarkNotifiedExpiring(credID uint) error {
	if err := s.db.Model(&Credential{}).Where("id = ?", credID).Update("notified_expiring", true).Error; err != nil {
		return fmt.Errorf("store: mark notified: %w", err)
	}
	return nil
}

func (s *Store) SetCredentialActive(credID uint, active bool) error {
	if err := s.db.Model(&Credential{}).Where("id = ?", credID).Update("active", active).Error; err != nil {
		return fmt.Errorf("store: set credential active: %w", err)
	}
	return nil
}

// UpdateCredentialExpiry двигает срок ключа и сбрасывает отметку о
// напоминании: по новому сроку напомним заново.
func (s *Store) UpdateCredentialExpiry(credID uint, expiresAt int64) error {
	err := s.db.Model(&Credential{}).Where("id = ?", credID).
		Updates(map[string]interface{}{"expires_at": expiresAt, "notified_expiring": false}).Error
	if err != nil {
		return fmt.Errorf("store: update credential expiry: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(credID uint) (*Credential, error) {
	var c Credential
	if err := s.db.First(&c, "id = ?", credID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get credential: %w", err)
	}
	return &c, nil
}

func (s *Store) UpdateCredential(c *Credential) error {
	if err := s.db.Save(c).Error; err != nil {
		return fmt.Errorf("store: update credential: %w", err)
	}
	return nil
}

// CredentialByClientRef ищет ключ по ссылке на клиента панели.
func (s *Store) CredentialByClientRef(ref string) (*Credential, error) {
	var c Credential
	if err := s.db.Where("client_ref = ?", ref).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: credential by ref: %w", err)
	}
	return &c, nil
}

// --- Пользователи ---

func (s *Store) UpsertUser(telegramID int64, username, firstName string) error {
	var user User
	err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{TelegramID: telegramID, Username: username, FirstName: firstName, CreatedAt: time.Now().Unix()}
		if err := s.db.Create(&user).Error; err != nil {
			return fmt.Errorf("store: create user: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: find user: %w", err)
	}
	if user.Username != username || user.FirstName != firstName {
		err := s.db.Model(&user).Updates(map[string]interface{}{"username": username, "first_name": firstName}).Error
		if err != nil {
			return fmt.Errorf("store: update user: %w", err)
		}
	}
	return nil
}

func (s *Store) FindUser(telegramID int64) (*User, error) {
	var user User
	if err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find user: %w", err)
	}
	return &user, nil
}

// AllUsers — все незабаненные пользователи, например для рассылки.
func (s *Store) AllUsers() ([]User, error) {
	var users []User
	if err := s.db.Where("banned = false").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("store: all users: %w", err)
	}
	return users, nil
}

func (s *Store) SetBanned(telegramID int64, banned bool) error {
	if err := s.db.Model(&User{}).Where("telegram_id = ?", telegramID).Update("banned", banned).Error; err != nil {
		return fmt.Errorf("store: set banned: %w", err)
	}
	return nil
}

func (s *Store) IsBanned(telegramID int64) bool {
	var user User
	if err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return false
	}
	return user.Banned
}

// --- Статистика для админа ---

func (s *Store) CountUsers() int {
	var count int64
	s.db.Model(&User{}).Count(&count)
	return int(count)
}

func (s *Store) CountActiveCredentials() int {
	var count int64
	s.db.Model(&Credential{}).Where("active = true").Count(&count)
	return int(count)
}

func (s *Store) CountOrdersByStatus(status OrderStatus) int {
	var count int64
	s.db.Model(&Order{}).Where("status = ?", status).Count(&count)
	return int(count)
}

// SumSales суммирует выданные заказы за период.
func (s *Store) SumSales(from, to time.Time) int {
	var sum int64
	s.db.Model(&Order{}).
		Where("status = ? AND fulfilled_at >= ? AND fulfilled_at <= ?", StatusFulfilled, from.Unix(), to.Unix()).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum)
	return int(sum)
}
