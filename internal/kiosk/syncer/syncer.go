package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/kiosk/api"
	"github.com/regnido/regnido/internal/kiosk/store"
	"github.com/regnido/regnido/internal/models"
)

// SubmitOutcome 单次打卡提交的去向
type SubmitOutcome string

const (
	// OutcomeSent 服务端已接受（含幂等重放）
	OutcomeSent SubmitOutcome = "sent"
	// OutcomeQueued 暂时失败，已入本地队列等待同步
	OutcomeQueued SubmitOutcome = "queued"
	// OutcomeRejected 服务端永久拒绝，未入队
	OutcomeRejected SubmitOutcome = "rejected"
)

// Syncer 负责在线直发与离线队列的同步
type Syncer struct {
	logger    *zap.Logger
	store     *store.Store
	client    *api.Client
	deviceID  string
	batchSize int
	interval  time.Duration
	kick      chan struct{}
	now       func() time.Time
}

// New 创建同步器
func New(logger *zap.Logger, st *store.Store, client *api.Client, deviceID string, interval time.Duration) *Syncer {
	return &Syncer{
		logger:    logger,
		store:     st,
		client:    client,
		deviceID:  deviceID,
		batchSize: 100,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitResult 单次提交的结果
type SubmitResult struct {
	Outcome       SubmitOutcome
	ClientEventID string
	Duplicate     bool
	Reason        string
}

// Submit 为指定儿童产生并提交一个事件。在线直发，失败时入队。
func (s *Syncer) Submit(childID, eventType string) (*SubmitResult, error) {
	event := &models.PendingEvent{
		ClientEventID: uuid.NewString(),
		ChildID:       childID,
		DeviceID:      s.deviceID,
		EventType:     eventType,
		EventTime:     s.now(),
	}

	resp, err := s.client.Submit(event)
	if err == nil {
		s.logger.Info("Event submitted",
			zap.String("client_event_id", event.ClientEventID),
			zap.String("event_type", event.EventType),
			zap.Bool("duplicate", resp.Duplicate))
		return &SubmitResult{
			Outcome:       OutcomeSent,
			ClientEventID: event.ClientEventID,
			Duplicate:     resp.Duplicate,
		}, nil
	}

	if errors.Is(err, api.ErrUnauthorized) {
		return nil, err
	}

	if api.IsRejection(err) {
		// 永久拒绝的事件重试无意义，不入队
		s.logger.Warn("Event rejected by server",
			zap.String("client_event_id", event.ClientEventID),
			zap.Error(err))
		return &SubmitResult{
			Outcome:       OutcomeRejected,
			ClientEventID: event.ClientEventID,
			Reason:        err.Error(),
		}, nil
	}

	// 网络故障或服务端暂时不可用，留到下次同步
	if enqueueErr := s.store.Enqueue(event); enqueueErr != nil {
		return nil, enqueueErr
	}
	s.logger.Warn("Event queued for later sync",
		zap.String("client_event_id", event.ClientEventID),
		zap.Error(err))
	return &SubmitResult{
		Outcome:       OutcomeQueued,
		ClientEventID: event.ClientEventID,
		Reason:        err.Error(),
	}, nil
}

// Flush 把本地队列推送到服务端，按逐条结果清理队列
func (s *Syncer) Flush() error {
	pending, err := s.store.ListPending(s.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	result, err := s.client.SyncEvents(pending)
	if err != nil {
		ids := clientEventIDs(pending)
		if markErr := s.store.MarkTryFailed(ids, err.Error()); markErr != nil {
			return markErr
		}
		s.logger.Warn("Sync attempt failed",
			zap.Int("pending", len(pending)),
			zap.Error(err))
		return err
	}

	if len(result.Results) == 0 {
		// 旧版服务端只回总数：仅当整批都被消化时才清空
		if result.Accepted+result.Skipped == len(pending) {
			if err := s.store.Remove(clientEventIDs(pending)); err != nil {
				return err
			}
		}
		s.logger.Info("Synced pending events",
			zap.Int("accepted", result.Accepted),
			zap.Int("skipped", result.Skipped))
		return nil
	}

	var removed []string
	for _, item := range result.Results {
		switch item.Status {
		case models.SyncItemAccepted, models.SyncItemDuplicate:
			removed = append(removed, item.ClientEventID.String())
		case models.SyncItemRejected:
			if err := s.store.MarkRejected(item.ClientEventID.String(), item.Error); err != nil {
				return err
			}
			s.logger.Warn("Queued event rejected by server",
				zap.String("client_event_id", item.ClientEventID.String()),
				zap.String("reason", item.Error))
		}
	}
	if err := s.store.Remove(removed); err != nil {
		return err
	}

	s.logger.Info("Synced pending events",
		zap.Int("accepted", result.Accepted),
		zap.Int("skipped", result.Skipped),
		zap.Int("removed", len(removed)))
	return nil
}

// Kick 请求一次立即同步
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run 周期同步循环，ctx 取消后退出
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}

		if err := s.Flush(); err != nil {
			s.logger.Debug("Flush failed, will retry", zap.Error(err))
		}
	}
}

func clientEventIDs(events []*models.PendingEvent) []string {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ClientEventID)
	}
	return ids
}
