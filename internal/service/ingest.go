package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/models"
	"github.com/regnido/regnido/internal/repository"
	"github.com/regnido/regnido/internal/state"
)

// PresenceStore 摄入路径需要的事件存储操作
type PresenceStore interface {
	Insert(ctx context.Context, e *models.PresenceEvent) error
	GetByClientEventID(ctx context.Context, clientEventID uuid.UUID) (*models.PresenceEvent, error)
	LatestForChild(ctx context.Context, childID, siteID uuid.UUID) (*models.PresenceEvent, error)
}

// DeviceStore 设备目录查询
type DeviceStore interface {
	GetActive(ctx context.Context, id uuid.UUID) (*models.Device, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ChildStore 儿童目录查询
type ChildStore interface {
	GetActive(ctx context.Context, id uuid.UUID) (*models.Child, error)
}

// AuditSink 审计通知接收方，摄入路径 fire-and-forget 调用
type AuditSink interface {
	RecordEvent(action string, event *models.PresenceEvent)
}

// Broadcaster 已接受事件的实时推送
type Broadcaster interface {
	BroadcastEventAccepted(event *models.PresenceEvent)
}

// IngestInput 一次摄入请求
type IngestInput struct {
	ChildID       uuid.UUID
	DeviceID      uuid.UUID
	ClientEventID uuid.UUID
	EventType     string
	EventTime     time.Time
	RecordedBy    uuid.UUID
}

// Ingestor 在场事件摄入服务。
// 幂等检查先于一切校验，同一 client_event_id 的重试永远返回原始事件。
type Ingestor struct {
	logger    *zap.Logger
	presence  PresenceStore
	devices   DeviceStore
	children  ChildStore
	audit     AuditSink
	broadcast Broadcaster
	locks     *keyedMutex
	now       func() time.Time
}

// NewIngestor 创建摄入服务
func NewIngestor(
	logger *zap.Logger,
	presence PresenceStore,
	devices DeviceStore,
	children ChildStore,
	audit AuditSink,
	broadcast Broadcaster,
) *Ingestor {
	return &Ingestor{
		logger:    logger,
		presence:  presence,
		devices:   devices,
		children:  children,
		audit:     audit,
		broadcast: broadcast,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest 校验并持久化一个事件。返回的 bool 表示该事件是此前已接受的重放。
func (s *Ingestor) Ingest(ctx context.Context, in IngestInput) (*models.PresenceEvent, bool, error) {
	// 幂等键重放：必须在任何校验之前
	existing, err := s.presence.GetByClientEventID(ctx, in.ClientEventID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup client event id: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	if !models.ValidEventType(in.EventType) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidEventType, in.EventType)
	}

	device, err := s.devices.GetActive(ctx, in.DeviceID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup device: %w", err)
	}
	if device == nil {
		return nil, false, ErrDeviceNotFound
	}

	child, err := s.children.GetActive(ctx, in.ChildID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup child: %w", err)
	}
	if child == nil || child.SiteID != device.SiteID {
		// 站点不匹配和不存在同等对待，不泄露别的站点的信息
		return nil, false, ErrChildNotFound
	}

	unlock := s.locks.Lock(lockKey(in.ChildID, device.SiteID))
	defer unlock()

	// 锁内复查：同一键的并发提交在这里收敛到同一行
	existing, err = s.presence.GetByClientEventID(ctx, in.ClientEventID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup client event id: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	// 交替校验基于 event_time 排序的最新事件，与到达顺序无关
	latest, err := s.presence.LatestForChild(ctx, in.ChildID, device.SiteID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup latest event: %w", err)
	}

	machine := state.NewMachine(state.FromLastEvent(latest))
	transition, err := state.TransitionEvent(in.EventType)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidEventType, in.EventType)
	}
	if !machine.Can(transition) {
		return nil, false, fmt.Errorf("%w: %s while %s", ErrSequenceViolation, in.EventType, machine.Current())
	}
	if err := machine.Trigger(transition); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSequenceViolation, err)
	}

	eventTime := in.EventTime
	if eventTime.IsZero() {
		eventTime = s.now()
	}

	event := &models.PresenceEvent{
		ID:            uuid.New(),
		ChildID:       in.ChildID,
		SiteID:        device.SiteID,
		DeviceID:      in.DeviceID,
		EventType:     in.EventType,
		EventTime:     eventTime,
		ClientEventID: in.ClientEventID,
		RecordedBy:    in.RecordedBy,
		SyncedAt:      s.now(),
	}

	if err := s.presence.Insert(ctx, event); err != nil {
		if repository.IsUniqueViolation(err) {
			// 并发重放竞争输家：返回赢家写入的那一行
			winner, lookupErr := s.presence.GetByClientEventID(ctx, in.ClientEventID)
			if lookupErr == nil && winner != nil {
				return winner, true, nil
			}
		}
		return nil, false, fmt.Errorf("persist event: %w", err)
	}

	if err := s.devices.TouchLastSeen(ctx, in.DeviceID, event.SyncedAt); err != nil {
		s.logger.Warn("Failed to touch device last seen",
			zap.Error(err), zap.String("device_id", in.DeviceID.String()))
	}

	if s.audit != nil {
		s.audit.RecordEvent("presence:"+strings.ToLower(in.EventType), event)
	}
	if s.broadcast != nil {
		s.broadcast.BroadcastEventAccepted(event)
	}

	s.logger.Info("Presence event accepted",
		zap.String("child_id", event.ChildID.String()),
		zap.String("site_id", event.SiteID.String()),
		zap.String("event_type", event.EventType),
		zap.Time("event_time", event.EventTime))

	return event, false, nil
}

// IngestBatch 逐个摄入，单个拒绝不中断整批。
// 重放计入 accepted，skipped 只统计真正无效的事件。
func (s *Ingestor) IngestBatch(ctx context.Context, inputs []IngestInput) (*models.SyncResult, error) {
	result := &models.SyncResult{Results: make([]models.SyncItemResult, 0, len(inputs))}

	for _, in := range inputs {
		item := models.SyncItemResult{ClientEventID: in.ClientEventID}

		_, duplicate, err := s.Ingest(ctx, in)
		switch {
		case err == nil && duplicate:
			result.Accepted++
			item.Status = models.SyncItemDuplicate
		case err == nil:
			result.Accepted++
			item.Status = models.SyncItemAccepted
		case IsRejection(err):
			result.Skipped++
			item.Status = models.SyncItemRejected
			item.Error = err.Error()
			s.logger.Warn("Batch event rejected",
				zap.String("client_event_id", in.ClientEventID.String()),
				zap.Error(err))
		default:
			// 存储层故障中止整批，客户端会原样重试
			return nil, fmt.Errorf("ingest batch: %w", err)
		}

		result.Results = append(result.Results, item)
	}

	return result, nil
}

func lockKey(childID, siteID uuid.UUID) string {
	return childID.String() + "/" + siteID.String()
}
