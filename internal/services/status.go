package services

import (
	"net"
	"sort"
	"sync"
	"time"

	"vpn-store-bot/config"
	"vpn-store-bot/internal/logger"
)

type ServerStatus struct {
	Ref         string
	Name        string
	Status      string
	LastChecked time.Time
}

var (
	statusMu     sync.RWMutex
	lastStatuses []ServerStatus
)

func GetServerStatuses() []ServerStatus {
	statusMu.RLock()
	defer statusMu.RUnlock()
	out := make([]ServerStatus, len(lastStatuses))
	copy(out, lastStatuses)
	return out
}

// UpdateAllServerStatuses проверяет доступность каждого сервера по TCP.
// Проверяется домен подключения клиентов, а не адрес панели.
func UpdateAllServerStatuses(servers map[string]config.ServerConfig) {
	var statuses []ServerStatus
	for ref, srv := range servers {
		status := ServerStatus{Ref: ref, Name: srv.Name, LastChecked: time.Now()}
		conn, err := net.DialTimeout("tcp", srv.Domain+":443", 2*time.Second)
		if err != nil {
			status.Status = "❌ offline"
			logger.NotifyAdmin("Сервер " + srv.Name + " (" + srv.Domain + ") недоступен!")
		} else {
			status.Status = "✅ online"
			conn.Close()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Ref < statuses[j].Ref })
	statusMu.Lock()
	lastStatuses = statuses
	statusMu.Unlock()
}
