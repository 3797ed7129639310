package config

import "fmt"

// PlanFreeTest — ключ тестового тарифа в таблице Plans.
const PlanFreeTest = "free_test"

// Plan — тариф. Для платных тарифов лимит трафика 0 означает безлимит.
type Plan struct {
	Name        string
	DataLimitGB int
	ExpiryDays  int
	Price       int
	Devices     int
}

// PaymentInfo — реквизиты для ручного перевода. Бот показывает их
// пользователю вместе с суммой заказа.
type PaymentInfo struct {
	Name    string
	Phone   string
	Methods []string
}

var Payment = PaymentInfo{
	Name:    "Myo Ko Aung",
	Phone:   "09950569539",
	Methods: []string{"KBZPay", "WavePay", "AYA Pay", "UAB Pay"},
}

// planMonths и planDays идут парой: 12 месяцев продаются как 365 дней.
var planMonths = []int{1, 3, 5, 7, 9, 12}

var planDays = map[int]int{1: 30, 3: 90, 5: 150, 7: 210, 9: 270, 12: 365}

// Сетка цен (Ks): prices[устройства][месяцы].
var prices = map[int]map[int]int{
	1: {1: 3000, 3: 8000, 5: 13000, 7: 18000, 9: 23000, 12: 30000},
	2: {1: 4000, 3: 10000, 5: 17000, 7: 24000, 9: 30000, 12: 40000},
	3: {1: 5000, 3: 13000, 5: 21000, 7: 29000, 9: 37000, 12: 50000},
	4: {1: 6000, 3: 16000, 5: 25000, 7: 35000, 9: 45000, 12: 60000},
	5: {1: 7000, 3: 18000, 5: 30000, 7: 40000, 9: 52000, 12: 70000},
}

// Plans — все тарифы. Платные тарифы имеют ключ вида
// "{devices}dev_{months}month", например "2dev_3month".
var Plans = buildPlans()

func buildPlans() map[string]Plan {
	plans := map[string]Plan{
		PlanFreeTest: {
			Name:        "🎁 Тестовый ключ",
			DataLimitGB: 3,
			ExpiryDays:  3,
			Price:       0,
			Devices:     1,
		},
	}
	for devices, byMonth := range prices {
		for _, months := range planMonths {
			id := PlanID(devices, months)
			plans[id] = Plan{
				Name:        fmt.Sprintf("📱 %d %s - %d мес.", devices, deviceWord(devices), months),
				DataLimitGB: 0,
				ExpiryDays:  planDays[months],
				Price:       byMonth[months],
				Devices:     devices,
			}
		}
	}
	return plans
}

// PlanID собирает ключ платного тарифа.
func PlanID(devices, months int) string {
	return fmt.Sprintf("%ddev_%dmonth", devices, months)
}

// PlanMonths возвращает доступные сроки подписки по возрастанию.
func PlanMonths() []int {
	out := make([]int, len(planMonths))
	copy(out, planMonths)
	return out
}

// MaxDevices — максимум устройств в тарифной сетке.
const MaxDevices = 5

func deviceWord(n int) string {
	switch n {
	case 1:
		return "устройство"
	case 2, 3, 4:
		return "устройства"
	default:
		return "устройств"
	}
}
