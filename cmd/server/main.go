package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/regnido/regnido/internal/api/handlers"
	"github.com/regnido/regnido/internal/audit"
	"github.com/regnido/regnido/internal/auth"
	"github.com/regnido/regnido/internal/config"
	"github.com/regnido/regnido/internal/models"
	"github.com/regnido/regnido/internal/repository"
	"github.com/regnido/regnido/internal/service"
	"github.com/regnido/regnido/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting presence server", zap.String("port", cfg.ServerPort))

	location, err := cfg.Location()
	if err != nil {
		logger.Fatal("Failed to load timezone", zap.Error(err))
	}

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	siteRepo := repository.NewSiteRepository(db)
	childRepo := repository.NewChildRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	userRepo := repository.NewUserRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// 首次启动引导管理员
	if err := bootstrapAdmin(ctx, cfg, userRepo); err != nil {
		logger.Fatal("Failed to bootstrap admin user", zap.Error(err))
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 审计记录器
	recorder := audit.NewRecorder(logger, auditRepo)
	recorder.Run(ctx)

	// 摄入与投影服务
	ingestor := service.NewIngestor(
		logger,
		presenceRepo,
		deviceRepo,
		childRepo,
		recorder,
		&wsBroadcaster{hub: wsHub},
	)
	projector := service.NewProjector(logger, presenceRepo)

	// 令牌签发
	issuer := auth.NewTokenIssuer(cfg.SecretKey, cfg.TokenExpiry)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		location,
		issuer,
		ingestor,
		projector,
		recorder,
		siteRepo,
		childRepo,
		deviceRepo,
		userRepo,
		auditRepo,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 排空审计缓冲
	cancel()
	recorder.Wait()

	logger.Info("Server exited")
}

// wsBroadcaster 把已接受事件接到 WebSocket Hub
type wsBroadcaster struct {
	hub *ws.Hub
}

func (b *wsBroadcaster) BroadcastEventAccepted(event *models.PresenceEvent) {
	b.hub.BroadcastMessage(ws.MsgTypeEventAccepted, event)
}

// bootstrapAdmin 用户表为空时创建引导管理员
func bootstrapAdmin(ctx context.Context, cfg *config.Config, userRepo *repository.UserRepository) error {
	if cfg.BootstrapAdminUsername == "" || cfg.BootstrapAdminPassword == "" {
		return nil
	}

	count, err := userRepo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}

	return userRepo.Create(ctx, &models.User{
		Username:     cfg.BootstrapAdminUsername,
		PasswordHash: hash,
		Active:       true,
	})
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
