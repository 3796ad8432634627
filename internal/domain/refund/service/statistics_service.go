package service

import (
	"context"
	"fmt"
	"time"

	"refund_engine/internal/domain/refund/repository"
	"refund_engine/internal/pkg/scope"
	"refund_engine/pkg/cache"
	"refund_engine/pkg/logger"

	"go.uber.org/zap"
)

// StatisticsService 退款统计读模型
type StatisticsService interface {
	Statistics(ctx context.Context, sc scope.Scope, from, to time.Time) (*repository.Statistics, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo}
}

func (s *statisticsService) Statistics(ctx context.Context, sc scope.Scope, from, to time.Time) (*repository.Statistics, error) {
	// 商家只能看自己的口径；客户无统计入口（路由层已拦）
	var vendorID *string
	if sc.IsVendor() {
		vendorID = sc.VendorID
	}
	return s.repo.Aggregate(from, to, vendorID)
}

// cachedStatisticsService 带 Redis 缓存的统计服务
// 写侧在每次状态流转后按 stats:* 失效，这里只管短 TTL 兜底
type cachedStatisticsService struct {
	inner StatisticsService
	cache cache.CacheService
	ttl   time.Duration
}

func NewCachedStatisticsService(inner StatisticsService, cacheService cache.CacheService) StatisticsService {
	return &cachedStatisticsService{
		inner: inner,
		cache: cacheService,
		ttl:   5 * time.Minute,
	}
}

func (s *cachedStatisticsService) Statistics(ctx context.Context, sc scope.Scope, from, to time.Time) (*repository.Statistics, error) {
	key := statsCacheKey(sc, from, to)

	var cached repository.Statistics
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if err != cache.ErrCacheMiss {
		logger.Log.Warn("statistics cache read failed", zap.Error(err))
	}

	stats, err := s.inner.Statistics(ctx, sc, from, to)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, stats, s.ttl); err != nil {
		logger.Log.Warn("statistics cache write failed", zap.Error(err))
	}
	return stats, nil
}

func statsCacheKey(sc scope.Scope, from, to time.Time) string {
	vendor := "all"
	if sc.IsVendor() {
		vendor = *sc.VendorID
	}
	return fmt.Sprintf("stats:%s:%d:%d", vendor, from.Unix(), to.Unix())
}
