package creditnote

import (
	"time"

	"refund_engine/internal/domain/creditnote/handler"
	"refund_engine/internal/domain/creditnote/repository"
	"refund_engine/internal/domain/creditnote/service"
	"refund_engine/internal/pkg/config"
	"refund_engine/internal/pkg/middleware"
	"refund_engine/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// CreditNoteModule 信用凭证模块
type CreditNoteModule struct {
	stopSweep chan struct{}
}

func init() {
	registry.Register(&CreditNoteModule{})
}

func (m *CreditNoteModule) Name() string {
	return "creditnote"
}

func (m *CreditNoteModule) Priority() int {
	// 退款模块依赖信用凭证服务，凭证模块先初始化
	return 10
}

func (m *CreditNoteModule) Init(ctx *registry.ModuleContext) error {
	cfg := config.GlobalConfig.Sweep

	repo := repository.NewCreditNoteRepository(ctx.DB)
	svc := service.NewCreditNoteService(ctx.DB, repo, cfg.BatchSize)

	// 过期巡检：请求路径之外的幂等定时任务
	m.stopSweep = make(chan struct{})
	svc.StartExpirySweep(time.Duration(cfg.IntervalMinutes)*time.Minute, m.stopSweep)

	h := handler.NewCreditNoteHandler(svc)
	setupRoutes(ctx.Router, h)

	// 退款模块通过 SharedService 拿到凭证服务
	SharedService = svc

	return nil
}

// SharedService 凭证服务实例，退款审批时发放凭证用
var SharedService service.CreditNoteService

func setupRoutes(r *gin.Engine, h *handler.CreditNoteHandler) {
	g := r.Group("/credit-notes")
	g.Use(middleware.AuthMiddleware())
	{
		g.GET("", h.List)
		g.GET("/:id", h.Get)
		// 核销由结账系统以服务身份调用
		g.POST("/:id/consume", h.Consume)
	}
}
