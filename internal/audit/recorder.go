package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/models"
	"github.com/regnido/regnido/internal/repository"
)

// Recorder 异步审计记录器。
// 摄入路径 fire-and-forget 投递，写库失败只记日志，绝不反压到请求。
type Recorder struct {
	logger  *zap.Logger
	repo    *repository.AuditRepository
	entries chan *repository.AuditEntry

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewRecorder 创建审计记录器
func NewRecorder(logger *zap.Logger, repo *repository.AuditRepository) *Recorder {
	return &Recorder{
		logger:  logger,
		repo:    repo,
		entries: make(chan *repository.AuditEntry, 256),
	}
}

// Run 启动消费协程，ctx 取消后排空缓冲并退出
func (r *Recorder) Run(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case entry := <-r.entries:
				r.write(entry)
			case <-ctx.Done():
				for {
					select {
					case entry := <-r.entries:
						r.write(entry)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait 等待消费协程退出
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// RecordEvent 记录一次已接受的事件摄入
func (r *Recorder) RecordEvent(action string, event *models.PresenceEvent) {
	userID := event.RecordedBy
	deviceID := event.DeviceID
	entry := &repository.AuditEntry{
		UserID:   &userID,
		DeviceID: &deviceID,
		Action:   action,
		Entity:   "presence_events",
		EntityID: event.ID.String(),
		Details: map[string]any{
			"child_id": event.ChildID.String(),
			"site_id":  event.SiteID.String(),
		},
		Outcome: "OK",
	}
	r.enqueue(entry)
}

// RecordAction 记录一次管理/认证动作
func (r *Recorder) RecordAction(action, entity, entityID, outcome string, user *models.User) {
	entry := &repository.AuditEntry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Outcome:  outcome,
	}
	if user != nil {
		id := user.ID
		entry.UserID = &id
	}
	r.enqueue(entry)
}

func (r *Recorder) enqueue(entry *repository.AuditEntry) {
	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("Audit buffer full, dropping entry",
			zap.String("action", entry.Action),
			zap.String("entity_id", entry.EntityID))
	}
}

func (r *Recorder) write(entry *repository.AuditEntry) {
	if err := r.repo.Append(context.Background(), entry); err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.Error(err), zap.String("action", entry.Action))
	}
}
