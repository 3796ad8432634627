package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "refund_engine/docs"
	_ "refund_engine/internal/domain/creditnote"
	_ "refund_engine/internal/domain/refund"
	"refund_engine/internal/pkg/config"
	"refund_engine/internal/pkg/middleware"
	"refund_engine/internal/pkg/push"
	"refund_engine/internal/pkg/registry"
	"refund_engine/internal/pkg/uploader"
	"refund_engine/pkg/database"
	"refund_engine/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title Refund Engine API
// @version 1.0
// @description 多商家店面的退款与信用凭证对账服务
// @BasePath /
func main() {
	// 1. 加载配置与日志
	config.LoadConfig()
	logger.InitLogger(config.GlobalConfig.Server.Mode)
	defer logger.Sync()

	// 2. 初始化存储
	db := database.InitDatabase()
	redisClient := database.InitRedis()

	monitor := database.NewPoolMonitor(db, 15*time.Second)
	monitor.Start()
	defer monitor.Stop()

	// 3. 可选外设：OSS 凭证上传、推送。缺配置时降级运行
	if config.GlobalConfig.OSS.Endpoint != "" {
		if err := uploader.InitUploader(); err != nil {
			logger.Log.Warn("proof uploader disabled", zap.Error(err))
		}
	}
	if config.GlobalConfig.Push.AppKey != 0 {
		if err := push.InitPushService(); err != nil {
			logger.Log.Warn("push service disabled", zap.Error(err))
		}
	}

	// 4. HTTP 引擎与全局中间件
	gin.SetMode(config.GlobalConfig.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 5. 按优先级初始化业务模块
	moduleCtx := &registry.ModuleContext{
		DB:     db,
		Redis:  redisClient,
		Router: router,
	}
	if err := registry.InitModules(moduleCtx); err != nil {
		logger.Log.Fatal("failed to initialize modules", zap.Error(err))
	}

	// 6. 启动并等待退出信号
	srv := &http.Server{
		Addr:    ":" + config.GlobalConfig.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Log.Info("server starting", zap.String("port", config.GlobalConfig.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}
	logger.Log.Info("server exited")
}
