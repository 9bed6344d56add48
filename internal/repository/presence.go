package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/regnido/regnido/internal/models"
)

// PresenceRepository 在场事件数据仓库
type PresenceRepository struct {
	db *DB
}

// NewPresenceRepository 创建在场事件仓库
func NewPresenceRepository(db *DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

const presenceColumns = `id, child_id, site_id, device_id, event_type, event_time, client_event_id, recorded_by, synced_at, created_at`

// Insert 持久化事件，client_event_id 冲突时返回唯一约束错误
func (r *PresenceRepository) Insert(ctx context.Context, e *models.PresenceEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO presence_events (id, child_id, site_id, device_id, event_type, event_time, client_event_id, recorded_by, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		e.ID,
		e.ChildID,
		e.SiteID,
		e.DeviceID,
		e.EventType,
		e.EventTime,
		e.ClientEventID,
		e.RecordedBy,
		e.SyncedAt,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert presence event: %w", err)
	}
	return nil
}

// IsUniqueViolation 判断错误是否为唯一约束冲突
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetByClientEventID 按幂等键查找事件，不存在时返回 nil
func (r *PresenceRepository) GetByClientEventID(ctx context.Context, clientEventID uuid.UUID) (*models.PresenceEvent, error) {
	query := `SELECT ` + presenceColumns + ` FROM presence_events WHERE client_event_id = $1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, clientEventID))
}

// LatestForChild 获取某儿童在某站点按事件时间排序的最新事件，无事件时返回 nil
func (r *PresenceRepository) LatestForChild(ctx context.Context, childID, siteID uuid.UUID) (*models.PresenceEvent, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM presence_events
		WHERE child_id = $1 AND site_id = $2
		ORDER BY event_time DESC, created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, childID, siteID))
}

// LatestBefore 获取某儿童在指定时刻之前（不含）的最后一个事件，用于跨期界的开区间判定
func (r *PresenceRepository) LatestBefore(ctx context.Context, childID, siteID uuid.UUID, t time.Time) (*models.PresenceEvent, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM presence_events
		WHERE child_id = $1 AND site_id = $2 AND event_time < $3
		ORDER BY event_time DESC, created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, childID, siteID, t))
}

// ListForChildPeriod 按事件时间升序获取某儿童在一个时间段内的事件
func (r *PresenceRepository) ListForChildPeriod(ctx context.Context, childID, siteID uuid.UUID, start, end time.Time) ([]*models.PresenceEvent, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM presence_events
		WHERE child_id = $1 AND site_id = $2 AND event_time >= $3 AND event_time < $4
		ORDER BY event_time ASC, created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, childID, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list presence events: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListForSitePeriod 按事件时间升序获取整个站点在一个时间段内的事件
func (r *PresenceRepository) ListForSitePeriod(ctx context.Context, siteID uuid.UUID, start, end time.Time) ([]*models.PresenceEvent, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM presence_events
		WHERE site_id = $1 AND event_time >= $2 AND event_time < $3
		ORDER BY event_time ASC, created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list site presence events: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// LatestPerChildBefore 获取站点内每个儿童在指定时刻之前的最后一个事件
func (r *PresenceRepository) LatestPerChildBefore(ctx context.Context, siteID uuid.UUID, t time.Time) (map[uuid.UUID]*models.PresenceEvent, error) {
	query := `
		SELECT DISTINCT ON (child_id) ` + presenceColumns + `
		FROM presence_events
		WHERE site_id = $1 AND event_time < $2
		ORDER BY child_id, event_time DESC, created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, siteID, t)
	if err != nil {
		return nil, fmt.Errorf("list latest per child: %w", err)
	}
	defer rows.Close()

	events, err := r.scanAll(rows)
	if err != nil {
		return nil, err
	}
	latest := make(map[uuid.UUID]*models.PresenceEvent, len(events))
	for _, e := range events {
		latest[e.ChildID] = e
	}
	return latest, nil
}

func (r *PresenceRepository) scanOne(row pgx.Row) (*models.PresenceEvent, error) {
	e := &models.PresenceEvent{}
	err := row.Scan(
		&e.ID,
		&e.ChildID,
		&e.SiteID,
		&e.DeviceID,
		&e.EventType,
		&e.EventTime,
		&e.ClientEventID,
		&e.RecordedBy,
		&e.SyncedAt,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan presence event: %w", err)
	}
	return e, nil
}

func (r *PresenceRepository) scanAll(rows pgx.Rows) ([]*models.PresenceEvent, error) {
	var events []*models.PresenceEvent
	for rows.Next() {
		e := &models.PresenceEvent{}
		if err := rows.Scan(
			&e.ID,
			&e.ChildID,
			&e.SiteID,
			&e.DeviceID,
			&e.EventType,
			&e.EventTime,
			&e.ClientEventID,
			&e.RecordedBy,
			&e.SyncedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan presence event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
