package refund

import (
	catalogrepo "refund_engine/internal/domain/catalog/repository"
	"refund_engine/internal/domain/creditnote"
	"refund_engine/internal/domain/refund/gateway"
	"refund_engine/internal/domain/refund/handler"
	"refund_engine/internal/domain/refund/repository"
	"refund_engine/internal/domain/refund/service"
	sourcerepo "refund_engine/internal/domain/source/repository"
	"refund_engine/internal/pkg/config"
	"refund_engine/internal/pkg/middleware"
	"refund_engine/internal/pkg/registry"
	"refund_engine/internal/pkg/worker"
	"refund_engine/pkg/cache"
	"refund_engine/pkg/database"
	"refund_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RefundModule 退款模块
type RefundModule struct {
	notifyPool *worker.NotifyPool
}

func init() {
	registry.Register(&RefundModule{})
}

func (m *RefundModule) Name() string {
	return "refund"
}

func (m *RefundModule) Priority() int {
	// 依赖 creditnote 模块的 SharedService
	return 20
}

func (m *RefundModule) Init(ctx *registry.ModuleContext) error {
	refundRepo := repository.NewRefundRepository(ctx.DB)
	txRepo := repository.NewTransactionRepository(ctx.DB)
	sourceRepo := sourcerepo.NewSourceRepository(ctx.DB)
	resolver := catalogrepo.NewCatalogRepository(ctx.DB)
	cacheService := cache.NewRedisCache(ctx.Redis)

	// 推送走异步队列，未配置推送服务时任务静默丢弃
	m.notifyPool = worker.NewNotifyPool(4, 256)
	m.notifyPool.Start()

	svc := service.NewRefundService(
		ctx.DB,
		refundRepo,
		txRepo,
		sourceRepo,
		resolver,
		creditnote.SharedService,
		m.notifyPool,
		cacheService,
	)
	registerGateways(svc)

	// 统计读模型：sqlx 裸查询 + Redis 缓存
	var statsSvc service.StatisticsService
	statsRepo, err := repository.NewStatisticsRepository(database.DSN())
	if err != nil {
		return err
	}
	statsSvc = service.NewCachedStatisticsService(service.NewStatisticsService(statsRepo), cacheService)

	h := handler.NewRefundHandler(svc, statsSvc)
	setupRoutes(ctx.Router, h)

	return nil
}

// registerGateways 按配置注册网关适配器，缺配置的通道跳过
func registerGateways(svc service.RefundService) {
	if config.GlobalConfig.Razorpay.KeyID != "" {
		if g, err := gateway.NewRazorpayGateway(); err != nil {
			logger.Log.Warn("razorpay gateway init failed", zap.Error(err))
		} else {
			svc.RegisterGateway(g)
		}
	}
	if config.GlobalConfig.Stripe.SecretKey != "" {
		if g, err := gateway.NewStripeGateway(); err != nil {
			logger.Log.Warn("stripe gateway init failed", zap.Error(err))
		} else {
			svc.RegisterGateway(g)
		}
	}
	if config.GlobalConfig.Alipay.AppID != "" {
		if g, err := gateway.NewAlipayGateway(); err != nil {
			logger.Log.Warn("alipay gateway init failed", zap.Error(err))
		} else {
			svc.RegisterGateway(g)
		}
	}
	if config.GlobalConfig.Wechat.MchID != "" {
		if g, err := gateway.NewWechatGateway(); err != nil {
			logger.Log.Warn("wechat gateway init failed", zap.Error(err))
		} else {
			svc.RegisterGateway(g)
		}
	}
}

func setupRoutes(r *gin.Engine, h *handler.RefundHandler) {
	g := r.Group("/refunds")
	g.Use(middleware.AuthMiddleware())
	{
		g.POST("", h.Create)
		g.GET("", h.List)
		g.GET("/eligibility", h.GetEligibility)
		g.GET("/:id", h.Get)
		g.POST("/:id/cancel", h.Cancel)
	}

	// 管理端：审批、打款、质检、统计
	staff := r.Group("/refunds")
	staff.Use(middleware.AuthMiddleware(), middleware.StaffMiddleware())
	{
		staff.GET("/statistics", h.Statistics)
		staff.POST("/:id/approve", h.Approve)
		staff.POST("/:id/reject", h.Reject)
		staff.POST("/:id/process", h.Process)
		staff.POST("/:id/retry", h.Retry)
		staff.POST("/:id/proof", h.AttachProof)
		staff.PATCH("/:id/items/:itemId/qc", h.SetItemQC)
	}

	admin := r.Group("/refunds")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/gateways/:name/ping", h.PingGateway)
	}
}
