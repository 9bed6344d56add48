package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetDeviceProfile 获取设备档案（含站点名称）
func (h *Handler) GetDeviceProfile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return
	}

	device, siteName, err := h.deviceRepo.GetProfile(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load device profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load device"})
		return
	}
	if device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        device.ID,
		"name":      device.Name,
		"site_id":   device.SiteID,
		"site_name": siteName,
		"active":    device.Active,
	})
}

// ListChildren 按设备所在站点列出启用的儿童，支持姓名搜索
func (h *Handler) ListChildren(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Query("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device_id"})
		return
	}

	device, err := h.deviceRepo.GetActive(c.Request.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to load device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load device"})
		return
	}
	if device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	children, err := h.childRepo.ListActiveBySite(c.Request.Context(), device.SiteID, c.Query("q"), limit)
	if err != nil {
		h.logger.Error("Failed to list children", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list children"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": children})
}
