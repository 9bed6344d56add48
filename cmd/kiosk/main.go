package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/regnido/regnido/internal/config"
	"github.com/regnido/regnido/internal/kiosk/api"
	"github.com/regnido/regnido/internal/kiosk/store"
	"github.com/regnido/regnido/internal/kiosk/syncer"
)

func main() {
	// 加载配置
	cfg, err := config.LoadKiosk()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	if cfg.DeviceID == "" {
		logger.Fatal("KIOSK_DEVICE_ID is required")
	}

	logger.Info("Starting kiosk agent",
		zap.String("api", cfg.APIBaseURL),
		zap.String("device_id", cfg.DeviceID))

	// 打开本地队列
	localStore, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer localStore.Close()

	pending, err := localStore.CountPending()
	if err != nil {
		logger.Fatal("Failed to read local queue", zap.Error(err))
	}
	if pending > 0 {
		logger.Info("Pending events awaiting sync", zap.Int("count", pending))
	}
	if rejected, err := localStore.ListRejected(); err == nil && len(rejected) > 0 {
		// 被服务端拒绝的事件不会重试，提醒操作者人工处理
		for _, event := range rejected {
			logger.Warn("Event rejected by server, needs operator attention",
				zap.String("client_event_id", event.ClientEventID),
				zap.String("event_type", event.EventType),
				zap.String("reason", event.LastError))
		}
	}

	// 创建 API 客户端
	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)

	// 登录
	if cfg.Username != "" {
		token, err := client.Login(cfg.Username, cfg.Password)
		if err != nil {
			logger.Fatal("Login failed", zap.Error(err))
		}
		if err := localStore.SetSetting("api_token", token); err != nil {
			logger.Warn("Failed to persist token", zap.Error(err))
		}
	} else if token, err := localStore.GetSetting("api_token"); err == nil && token != "" {
		// 离线启动时沿用上次的令牌
		client.SetToken(token)
	}

	// 健康检查与时钟偏差
	if health, skew, err := client.Health(); err != nil {
		logger.Warn("Server unreachable, starting offline", zap.Error(err))
	} else {
		logger.Info("Server reachable",
			zap.String("status", health.Status),
			zap.String("server_tz", health.ServerTZ),
			zap.Duration("clock_skew", skew))
		if skew > time.Minute || skew < -time.Minute {
			logger.Warn("Local clock differs from server", zap.Duration("skew", skew))
		}
	}

	// 校验设备档案
	if profile, err := client.GetDevice(cfg.DeviceID); err != nil {
		logger.Warn("Device profile unavailable", zap.Error(err))
	} else if profile != nil {
		logger.Info("Device profile loaded",
			zap.String("name", profile.Name),
			zap.String("site", profile.SiteName))
	}

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动同步循环
	sync := syncer.New(logger, localStore, client, cfg.DeviceID, cfg.SyncInterval)
	go sync.Run(ctx)
	sync.Kick()

	logger.Info("Kiosk agent started", zap.Duration("sync_interval", cfg.SyncInterval))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down kiosk agent...")
	cancel()

	// 退出前最后一次冲刷
	if err := sync.Flush(); err != nil {
		logger.Warn("Final flush failed", zap.Error(err))
	}

	logger.Info("Kiosk agent exited")
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
