package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/models"
)

// ProjectionStore 投影读取路径需要的事件查询
type ProjectionStore interface {
	LatestBefore(ctx context.Context, childID, siteID uuid.UUID, t time.Time) (*models.PresenceEvent, error)
	ListForChildPeriod(ctx context.Context, childID, siteID uuid.UUID, start, end time.Time) ([]*models.PresenceEvent, error)
	ListForSitePeriod(ctx context.Context, siteID uuid.UUID, start, end time.Time) ([]*models.PresenceEvent, error)
	LatestPerChildBefore(ctx context.Context, siteID uuid.UUID, t time.Time) (map[uuid.UUID]*models.PresenceEvent, error)
}

// Projector 在场状态投影。
// 快照是事件日志的纯函数，永远不落库。
type Projector struct {
	logger *zap.Logger
	store  ProjectionStore
	now    func() time.Time
}

// NewProjector 创建投影器
func NewProjector(logger *zap.Logger, store ProjectionStore) *Projector {
	return &Projector{
		logger: logger,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Project 回放一个儿童在 [start, end) 内的事件序列，派生在场快照。
// 期界之前的最后一个事件决定期初是否已有打开的区间。
func (p *Projector) Project(ctx context.Context, childID, siteID uuid.UUID, start, end time.Time) (*models.PresenceSnapshot, error) {
	seed, err := p.store.LatestBefore(ctx, childID, siteID, start)
	if err != nil {
		return nil, fmt.Errorf("lookup seed event: %w", err)
	}

	events, err := p.store.ListForChildPeriod(ctx, childID, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list period events: %w", err)
	}

	return replay(childID, siteID, seed, events, start, end, p.now()), nil
}

// ProjectSite 对整个站点做一次投影，按儿童分组，用于设备看板。
func (p *Projector) ProjectSite(ctx context.Context, siteID uuid.UUID, start, end time.Time) (map[uuid.UUID]*models.PresenceSnapshot, error) {
	seeds, err := p.store.LatestPerChildBefore(ctx, siteID, start)
	if err != nil {
		return nil, fmt.Errorf("lookup seed events: %w", err)
	}

	events, err := p.store.ListForSitePeriod(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list site events: %w", err)
	}

	byChild := make(map[uuid.UUID][]*models.PresenceEvent)
	for _, e := range events {
		byChild[e.ChildID] = append(byChild[e.ChildID], e)
	}

	now := p.now()
	snapshots := make(map[uuid.UUID]*models.PresenceSnapshot)
	for childID, childEvents := range byChild {
		snapshots[childID] = replay(childID, siteID, seeds[childID], childEvents, start, end, now)
	}
	// 期内无事件但期初仍在场的儿童
	for childID, seed := range seeds {
		if _, ok := snapshots[childID]; !ok && seed.EventType == models.EventCheckIn {
			snapshots[childID] = replay(childID, siteID, seed, nil, start, end, now)
		}
	}

	return snapshots, nil
}

// replay 纯函数投影：回放有序事件序列，维护打开的入场时刻。
func replay(childID, siteID uuid.UUID, seed *models.PresenceEvent, events []*models.PresenceEvent, start, end, now time.Time) *models.PresenceSnapshot {
	snap := &models.PresenceSnapshot{ChildID: childID, SiteID: siteID}

	var open *time.Time
	if seed != nil && seed.EventType == models.EventCheckIn {
		t := start
		open = &t
	}

	for _, e := range events {
		switch e.EventType {
		case models.EventCheckIn:
			if open == nil {
				t := e.EventTime
				if t.Before(start) {
					t = start
				}
				open = &t
			}
			if snap.FirstCheckIn == nil {
				ft := e.EventTime
				snap.FirstCheckIn = &ft
			}
		case models.EventCheckOut:
			if open != nil {
				if d := e.EventTime.Sub(*open); d > 0 {
					snap.ClosedSeconds += int64(d.Seconds())
					out := e.EventTime
					snap.Intervals = append(snap.Intervals, models.PresenceInterval{
						ChildID:      childID,
						SiteID:       siteID,
						CheckIn:      *open,
						CheckOut:     &out,
						TotalSeconds: int64(d.Seconds()),
					})
				}
				lt := e.EventTime
				snap.LastCheckOut = &lt
				open = nil
			}
		}
	}

	if open != nil {
		snap.IsInside = true
		snap.OpenSince = open

		capAt := now
		if end.Before(capAt) {
			capAt = end
		}
		var live int64
		if d := capAt.Sub(*open); d > 0 {
			live = int64(d.Seconds())
		}
		snap.LiveSeconds = live
		snap.Intervals = append(snap.Intervals, models.PresenceInterval{
			ChildID:      childID,
			SiteID:       siteID,
			CheckIn:      *open,
			TotalSeconds: live,
		})
	}

	return snap
}

// SortedChildIDs 快照集合的稳定遍历顺序
func SortedChildIDs(snapshots map[uuid.UUID]*models.PresenceSnapshot) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// DayPeriod 计算某时刻所在自然日的 [start, end)
func DayPeriod(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// MonthPeriod 计算某时刻所在自然月的 [start, end)
func MonthPeriod(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// ParsePeriod 解析历史查询的期界。day 接受 2006-01-02，month 接受 2006-01。
// 期界锚定在自然日/自然月，避免窗口切开一个跨界区间导致不可重建。
func ParsePeriod(unit, period string, loc *time.Location) (time.Time, time.Time, error) {
	switch unit {
	case "day":
		t, err := time.ParseInLocation("2006-01-02", period, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse day period: %w", err)
		}
		start, end := DayPeriod(t, loc)
		return start, end, nil
	case "month":
		t, err := time.ParseInLocation("2006-01", period, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse month period: %w", err)
		}
		start, end := MonthPeriod(t, loc)
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period unit %q", unit)
	}
}
