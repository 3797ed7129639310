package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vpn-store-bot/internal/logger"
	"vpn-store-bot/internal/order"
)

// StaleOrderAge — сколько открытый заказ может ждать оплаты или
// решения админа, прежде чем его закроет чистка.
const StaleOrderAge = 7 * 24 * time.Hour

func SweepStaleOrders(ctx context.Context, eng *order.Engine) {
	n, err := eng.SweepStale(ctx, StaleOrderAge)
	if err != nil {
		logger.NotifyAdmin(fmt.Sprintf("Чистка зависших заказов не удалась: %v", err))
		return
	}
	if n > 0 {
		logger.Info("stale_orders_swept", zap.Int("count", n))
	}
}
