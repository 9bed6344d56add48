package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/audit"
	"github.com/regnido/regnido/internal/auth"
	"github.com/regnido/regnido/internal/repository"
	"github.com/regnido/regnido/internal/service"
	"github.com/regnido/regnido/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger    *zap.Logger
	location  *time.Location
	issuer    *auth.TokenIssuer
	ingestor  *service.Ingestor
	projector *service.Projector
	recorder  *audit.Recorder

	siteRepo   *repository.SiteRepository
	childRepo  *repository.ChildRepository
	deviceRepo *repository.DeviceRepository
	userRepo   *repository.UserRepository
	auditRepo  *repository.AuditRepository

	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	location *time.Location,
	issuer *auth.TokenIssuer,
	ingestor *service.Ingestor,
	projector *service.Projector,
	recorder *audit.Recorder,
	siteRepo *repository.SiteRepository,
	childRepo *repository.ChildRepository,
	deviceRepo *repository.DeviceRepository,
	userRepo *repository.UserRepository,
	auditRepo *repository.AuditRepository,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		location:   location,
		issuer:     issuer,
		ingestor:   ingestor,
		projector:  projector,
		recorder:   recorder,
		siteRepo:   siteRepo,
		childRepo:  childRepo,
		deviceRepo: deviceRepo,
		userRepo:   userRepo,
		auditRepo:  auditRepo,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 看板在内网使用，放开来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)
	r.POST("/auth/login", h.Login)

	authed := r.Group("/", h.RequireAuth())
	{
		// 在场事件
		authed.POST("/presenze/check-in", h.CheckIn)
		authed.POST("/presenze/check-out", h.CheckOut)
		authed.POST("/sync", h.Sync)

		// 读取路径
		authed.GET("/catalog/presenze-stato", h.PresenceState)
		authed.GET("/presenze/storico", h.PresenceHistory)
		authed.GET("/catalog/bambini", h.ListChildren)
		authed.GET("/devices/:id", h.GetDeviceProfile)
		authed.GET("/audit", h.ListAudit)

		// 最小化的目录维护入口
		authed.GET("/admin/sedi", h.ListSites)
		authed.POST("/admin/sedi", h.CreateSite)
		authed.POST("/admin/bambini", h.CreateChild)
		authed.POST("/admin/devices", h.CreateDevice)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)
}

// HealthCheck 健康检查，返回服务端时间供客户端测算时钟偏移
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"server_time_utc": time.Now().UTC().Format(time.RFC3339),
		"server_tz":       h.location.String(),
		"ws_clients":      h.wsHub.ClientCount(),
	})
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// ListAudit 获取最近的审计条目
func (h *Handler) ListAudit(c *gin.Context) {
	entries, err := h.auditRepo.ListRecent(c.Request.Context(), 100)
	if err != nil {
		h.logger.Error("Failed to list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
