package database

import (
	"time"

	"refund_engine/pkg/logger"
	"refund_engine/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PoolMonitor 连接池监控器，周期性把 sql.DB 统计上报到 Prometheus
type PoolMonitor struct {
	db       *gorm.DB
	interval time.Duration
	stopCh   chan struct{}
}

// NewPoolMonitor 创建连接池监控器
func NewPoolMonitor(db *gorm.DB, interval time.Duration) *PoolMonitor {
	if interval <= 0 {
		interval = time.Second * 30
	}
	return &PoolMonitor{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动监控协程
func (m *PoolMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.collect()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop 停止监控
func (m *PoolMonitor) Stop() {
	close(m.stopCh)
}

func (m *PoolMonitor) collect() {
	sqlDB, err := m.db.DB()
	if err != nil {
		logger.Log.Warn("pool monitor: failed to get sql.DB", zap.Error(err))
		return
	}

	stats := sqlDB.Stats()
	collector := metrics.GetGlobalCollector()
	collector.SetDBConnections(stats.OpenConnections, stats.Idle)
}
