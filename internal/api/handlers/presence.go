package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/models"
	"github.com/regnido/regnido/internal/service"
)

// presenceEventRequest 单个在场事件提交体
type presenceEventRequest struct {
	ChildID       uuid.UUID `json:"child_id" binding:"required"`
	DeviceID      uuid.UUID `json:"device_id" binding:"required"`
	ClientEventID uuid.UUID `json:"client_event_id" binding:"required"`
	EventType     string    `json:"event_type"`
	EventTime     time.Time `json:"event_time"`
}

// syncRequest 批量同步提交体
type syncRequest struct {
	Events []presenceEventRequest `json:"events"`
}

// CheckIn 登记入场事件
func (h *Handler) CheckIn(c *gin.Context) {
	h.submitPresence(c, models.EventCheckIn)
}

// CheckOut 登记离场事件
func (h *Handler) CheckOut(c *gin.Context) {
	h.submitPresence(c, models.EventCheckOut)
}

func (h *Handler) submitPresence(c *gin.Context, eventType string) {
	var req presenceEventRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	actor := Actor(c)
	event, duplicate, err := h.ingestor.Ingest(c.Request.Context(), service.IngestInput{
		ChildID:       req.ChildID,
		DeviceID:      req.DeviceID,
		ClientEventID: req.ClientEventID,
		EventType:     eventType,
		EventTime:     req.EventTime,
		RecordedBy:    actor.ID,
	})
	if err != nil {
		h.respondIngestError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event, "duplicate": duplicate})
}

// Sync 批量同步离线事件。单个事件的拒绝不会中断整批，
// 响应里带每个 client_event_id 的判定结果，重放计入 accepted。
func (h *Handler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	actor := Actor(c)
	inputs := make([]service.IngestInput, 0, len(req.Events))
	for _, e := range req.Events {
		eventType := e.EventType
		if eventType == "" {
			eventType = models.EventCheckIn
		}
		inputs = append(inputs, service.IngestInput{
			ChildID:       e.ChildID,
			DeviceID:      e.DeviceID,
			ClientEventID: e.ClientEventID,
			EventType:     eventType,
			EventTime:     e.EventTime,
			RecordedBy:    actor.ID,
		})
	}

	result, err := h.ingestor.IngestBatch(c.Request.Context(), inputs)
	if err != nil {
		h.logger.Error("Failed to ingest batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest batch"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// PresenceState 设备看板：本站点每个儿童今天的在场状态与累计时长
func (h *Handler) PresenceState(c *gin.Context) {
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

	start, end := service.DayPeriod(time.Now(), h.location)
	snapshots, err := h.projector.ProjectSite(c.Request.Context(), device.SiteID, start, end)
	if err != nil {
		h.logger.Error("Failed to project site presence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to project presence"})
		return
	}

	children, err := h.childRepo.ListActiveBySite(c.Request.Context(), device.SiteID, "", 500)
	if err != nil {
		h.logger.Error("Failed to list children", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list children"})
		return
	}

	rows := make([]gin.H, 0, len(children))
	for _, child := range children {
		row := gin.H{
			"child_id":             child.ID,
			"first_name":           child.FirstName,
			"last_name":            child.LastName,
			"is_inside":            false,
			"open_since":           nil,
			"today_closed_seconds": int64(0),
			"today_live_seconds":   int64(0),
		}
		if snap, ok := snapshots[child.ID]; ok {
			row["is_inside"] = snap.IsInside
			row["open_since"] = snap.OpenSince
			row["today_closed_seconds"] = snap.ClosedSeconds
			row["today_live_seconds"] = snap.LiveSeconds
		}
		rows = append(rows, row)
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// PresenceHistory 历史查询：自然日或自然月内每个儿童的在场区间与总时长
func (h *Handler) PresenceHistory(c *gin.Context) {
	unit := c.DefaultQuery("unit", "day")
	period := c.Query("period")

	start, end, err := service.ParsePeriod(unit, period, h.location)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period"})
		return
	}

	var snapshots map[uuid.UUID]*models.PresenceSnapshot

	if childParam := c.Query("child_id"); childParam != "" {
		childID, err := uuid.Parse(childParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid child_id"})
			return
		}
		child, err := h.childRepo.GetActive(c.Request.Context(), childID)
		if err != nil {
			h.logger.Error("Failed to load child", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load child"})
			return
		}
		if child == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Child not found"})
			return
		}
		snap, err := h.projector.Project(c.Request.Context(), child.ID, child.SiteID, start, end)
		if err != nil {
			h.logger.Error("Failed to project presence", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to project presence"})
			return
		}
		snapshots = map[uuid.UUID]*models.PresenceSnapshot{child.ID: snap}
	} else if siteParam := c.Query("site_id"); siteParam != "" {
		siteID, err := uuid.Parse(siteParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid site_id"})
			return
		}
		snapshots, err = h.projector.ProjectSite(c.Request.Context(), siteID, start, end)
		if err != nil {
			h.logger.Error("Failed to project site presence", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to project presence"})
			return
		}
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site_id or child_id is required"})
		return
	}

	var rows []models.PresenceInterval
	totals := make([]gin.H, 0, len(snapshots))
	for _, childID := range service.SortedChildIDs(snapshots) {
		snap := snapshots[childID]
		rows = append(rows, snap.Intervals...)
		totals = append(totals, gin.H{
			"child_id":       childID,
			"is_inside":      snap.IsInside,
			"closed_seconds": snap.ClosedSeconds,
			"live_seconds":   snap.LiveSeconds,
			"total_seconds":  snap.TotalSeconds(),
			"first_check_in": snap.FirstCheckIn,
			"last_check_out": snap.LastCheckOut,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"unit":   unit,
		"period": period,
		"start":  start,
		"end":    end,
		"rows":   rows,
		"totals": totals,
	})
}

func (h *Handler) respondIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found or inactive"})
	case errors.Is(err, service.ErrChildNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Child not found in device site"})
	case errors.Is(err, service.ErrSequenceViolation), errors.Is(err, service.ErrInvalidEventType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to ingest event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest event"})
	}
}
