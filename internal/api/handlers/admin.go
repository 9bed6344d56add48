package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/auth"
	"github.com/regnido/regnido/internal/models"
)

// Login 用户名口令登录，签发访问令牌
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.userRepo.GetActiveByUsername(c.Request.Context(), req.Username)
	if err != nil {
		h.logger.Error("Failed to load user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.issuer.Issue(user.ID)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	h.recorder.RecordAction("auth:login", "users", user.ID.String(), "OK", user)
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// CreateSite 创建站点
func (h *Handler) CreateSite(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Site name is required"})
		return
	}

	site := &models.Site{Name: strings.TrimSpace(req.Name), Active: true}
	if site.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Site name is required"})
		return
	}

	existing, err := h.siteRepo.GetByName(c.Request.Context(), site.Name)
	if err != nil {
		h.logger.Error("Failed to check site name", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create site"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Site name already in use"})
		return
	}

	if err := h.siteRepo.Create(c.Request.Context(), site); err != nil {
		h.logger.Error("Failed to create site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create site"})
		return
	}

	h.recorder.RecordAction("admin:create_site", "sites", site.ID.String(), "OK", Actor(c))
	c.JSON(http.StatusOK, gin.H{"data": site})
}

// ListSites 获取站点列表
func (h *Handler) ListSites(c *gin.Context) {
	sites, err := h.siteRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list sites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sites"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sites})
}

// CreateChild 创建儿童
func (h *Handler) CreateChild(c *gin.Context) {
	var req struct {
		SiteID    uuid.UUID `json:"site_id" binding:"required"`
		FirstName string    `json:"first_name" binding:"required"`
		LastName  string    `json:"last_name" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site_id, first_name and last_name are required"})
		return
	}

	if !h.requireActiveSite(c, req.SiteID) {
		return
	}

	child := &models.Child{
		SiteID:    req.SiteID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Active:    true,
	}
	if err := h.childRepo.Create(c.Request.Context(), child); err != nil {
		h.logger.Error("Failed to create child", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create child"})
		return
	}

	h.recorder.RecordAction("admin:create_child", "children", child.ID.String(), "OK", Actor(c))
	c.JSON(http.StatusOK, gin.H{"data": child})
}

// CreateDevice 创建设备
func (h *Handler) CreateDevice(c *gin.Context) {
	var req struct {
		SiteID uuid.UUID `json:"site_id" binding:"required"`
		Name   string    `json:"name" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site_id and name are required"})
		return
	}

	if !h.requireActiveSite(c, req.SiteID) {
		return
	}

	device := &models.Device{
		SiteID: req.SiteID,
		Name:   strings.TrimSpace(req.Name),
		Active: true,
	}
	if err := h.deviceRepo.Create(c.Request.Context(), device); err != nil {
		h.logger.Error("Failed to create device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create device"})
		return
	}

	h.recorder.RecordAction("admin:create_device", "devices", device.ID.String(), "OK", Actor(c))
	c.JSON(http.StatusOK, gin.H{"data": device})
}

func (h *Handler) requireActiveSite(c *gin.Context, siteID uuid.UUID) bool {
	site, err := h.siteRepo.GetByID(c.Request.Context(), siteID)
	if err != nil || site == nil || !site.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found or inactive"})
		return false
	}
	return true
}
