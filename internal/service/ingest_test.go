package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/models"
)

type fakePresenceStore struct {
	events     []*models.PresenceEvent
	insertMade int

	// Insert 时返回唯一约束冲突并落下这一行，模拟并发竞争的赢家
	conflictWinner *models.PresenceEvent
}

func (f *fakePresenceStore) Insert(_ context.Context, e *models.PresenceEvent) error {
	if f.conflictWinner != nil {
		f.events = append(f.events, f.conflictWinner)
		f.conflictWinner = nil
		return &pgconn.PgError{Code: "23505", ConstraintName: "uq_presence_client_event_id"}
	}
	for _, existing := range f.events {
		if existing.ClientEventID == e.ClientEventID {
			return &pgconn.PgError{Code: "23505", ConstraintName: "uq_presence_client_event_id"}
		}
	}
	f.insertMade++
	f.events = append(f.events, e)
	return nil
}

func (f *fakePresenceStore) GetByClientEventID(_ context.Context, clientEventID uuid.UUID) (*models.PresenceEvent, error) {
	for _, e := range f.events {
		if e.ClientEventID == clientEventID {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakePresenceStore) LatestForChild(_ context.Context, childID, siteID uuid.UUID) (*models.PresenceEvent, error) {
	var matches []*models.PresenceEvent
	for _, e := range f.events {
		if e.ChildID == childID && e.SiteID == siteID {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].EventTime.Before(matches[j].EventTime)
	})
	return matches[len(matches)-1], nil
}

type fakeDeviceStore struct {
	devices map[uuid.UUID]*models.Device
	touched []uuid.UUID
}

func (f *fakeDeviceStore) GetActive(_ context.Context, id uuid.UUID) (*models.Device, error) {
	return f.devices[id], nil
}

func (f *fakeDeviceStore) TouchLastSeen(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeChildStore struct {
	children map[uuid.UUID]*models.Child
}

func (f *fakeChildStore) GetActive(_ context.Context, id uuid.UUID) (*models.Child, error) {
	return f.children[id], nil
}

type fixture struct {
	ingestor *Ingestor
	presence *fakePresenceStore
	devices  *fakeDeviceStore
	childID  uuid.UUID
	siteID   uuid.UUID
	deviceID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	siteID := uuid.New()
	childID := uuid.New()
	deviceID := uuid.New()

	presence := &fakePresenceStore{}
	devices := &fakeDeviceStore{devices: map[uuid.UUID]*models.Device{
		deviceID: {ID: deviceID, SiteID: siteID, Name: "ingresso", Active: true},
	}}
	children := &fakeChildStore{children: map[uuid.UUID]*models.Child{
		childID: {ID: childID, SiteID: siteID, FirstName: "Ada", LastName: "Rossi", Active: true},
	}}

	ingestor := NewIngestor(zap.NewNop(), presence, devices, children, nil, nil)
	ingestor.now = func() time.Time {
		return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	}

	return &fixture{
		ingestor: ingestor,
		presence: presence,
		devices:  devices,
		childID:  childID,
		siteID:   siteID,
		deviceID: deviceID,
	}
}

func (f *fixture) input(eventType string, eventTime time.Time) IngestInput {
	return IngestInput{
		ChildID:       f.childID,
		DeviceID:      f.deviceID,
		ClientEventID: uuid.New(),
		EventType:     eventType,
		EventTime:     eventTime,
	}
}

func TestIngestCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, duplicate, err := f.ingestor.Ingest(ctx, f.input(models.EventCheckIn, time.Time{}))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, models.EventCheckIn, event.EventType)
	assert.Equal(t, f.siteID, event.SiteID)
	// 未提供 event_time 时采用服务端时间
	assert.Equal(t, f.ingestor.now(), event.EventTime)
	assert.Contains(t, f.devices.touched, f.deviceID)
}

func TestIngestIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(models.EventCheckIn, time.Time{})
	first, duplicate, err := f.ingestor.Ingest(ctx, in)
	require.NoError(t, err)
	require.False(t, duplicate)

	// 同一 client_event_id 重试返回原始事件，不产生新行
	replay, duplicate, err := f.ingestor.Ingest(ctx, in)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 1, f.presence.insertMade)
}

func TestIngestReplayBeatsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(models.EventCheckIn, time.Time{})
	_, _, err := f.ingestor.Ingest(ctx, in)
	require.NoError(t, err)

	// 已接受的事件重放成功，即便现在重新校验会因交替规则被拒
	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckOut, time.Time{}))
	require.NoError(t, err)

	replay, duplicate, err := f.ingestor.Ingest(ctx, in)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, models.EventCheckIn, replay.EventType)
}

func TestIngestAlternation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// 初始状态为场外，CHECK_OUT 被拒
	_, _, err := f.ingestor.Ingest(ctx, f.input(models.EventCheckOut, base))
	require.ErrorIs(t, err, ErrSequenceViolation)

	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckIn, base))
	require.NoError(t, err)

	// 连续 CHECK_IN 被拒
	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckIn, base.Add(time.Hour)))
	require.ErrorIs(t, err, ErrSequenceViolation)

	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckOut, base.Add(2*time.Hour)))
	require.NoError(t, err)

	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckOut, base.Add(3*time.Hour)))
	require.ErrorIs(t, err, ErrSequenceViolation)
}

func TestIngestAlternationUsesEventTimeOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// 先到达的事件时间更晚：校验必须针对事件时间轴上的最新事件
	_, _, err := f.ingestor.Ingest(ctx, f.input(models.EventCheckIn, base.Add(2*time.Hour)))
	require.NoError(t, err)

	// 表面看是 OUT-after-IN，但该 CHECK_IN 时间早于已有事件
	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckIn, base))
	require.ErrorIs(t, err, ErrSequenceViolation)

	_, _, err = f.ingestor.Ingest(ctx, f.input(models.EventCheckOut, base.Add(3*time.Hour)))
	require.NoError(t, err)
}

func TestIngestUnknownDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(models.EventCheckIn, time.Time{})
	in.DeviceID = uuid.New()
	_, _, err := f.ingestor.Ingest(ctx, in)
	require.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestIngestUnknownChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(models.EventCheckIn, time.Time{})
	in.ChildID = uuid.New()
	_, _, err := f.ingestor.Ingest(ctx, in)
	require.ErrorIs(t, err, ErrChildNotFound)
}

func TestIngestChildFromOtherSite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 儿童在册但属于别的站点：与不存在同等对待
	otherChild := uuid.New()
	f.ingestor.children.(*fakeChildStore).children[otherChild] = &models.Child{
		ID: otherChild, SiteID: uuid.New(), Active: true,
	}

	in := f.input(models.EventCheckIn, time.Time{})
	in.ChildID = otherChild
	_, _, err := f.ingestor.Ingest(ctx, in)
	require.ErrorIs(t, err, ErrChildNotFound)
}

func TestIngestInvalidEventType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.ingestor.Ingest(ctx, f.input("LUNCH", time.Time{}))
	require.ErrorIs(t, err, ErrInvalidEventType)
}

func TestIngestUniqueViolationFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 并发竞争输家：幂等检查落空，插入触发唯一约束，赢家的行随后可查到
	in := f.input(models.EventCheckIn, time.Time{})
	winner := &models.PresenceEvent{
		ID:            uuid.New(),
		ChildID:       f.childID,
		SiteID:        f.siteID,
		DeviceID:      f.deviceID,
		EventType:     models.EventCheckIn,
		EventTime:     f.ingestor.now(),
		ClientEventID: in.ClientEventID,
	}
	f.presence.conflictWinner = winner

	event, duplicate, err := f.ingestor.Ingest(ctx, in)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, winner.ID, event.ID)
	assert.Equal(t, 0, f.presence.insertMade)
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	ghost := uuid.New()
	inputs := []IngestInput{
		f.input(models.EventCheckIn, base),
		f.input(models.EventCheckOut, base.Add(time.Hour)),
		f.input(models.EventCheckOut, base.Add(2*time.Hour)), // 交替违规
		f.input(models.EventCheckIn, base.Add(3*time.Hour)),
		{ChildID: ghost, DeviceID: f.deviceID, ClientEventID: uuid.New(), EventType: models.EventCheckIn}, // 未知儿童
	}

	result, err := f.ingestor.IngestBatch(ctx, inputs)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Accepted)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Results, 5)
	assert.Equal(t, models.SyncItemAccepted, result.Results[0].Status)
	assert.Equal(t, models.SyncItemAccepted, result.Results[1].Status)
	assert.Equal(t, models.SyncItemRejected, result.Results[2].Status)
	assert.Equal(t, models.SyncItemAccepted, result.Results[3].Status)
	assert.Equal(t, models.SyncItemRejected, result.Results[4].Status)
	assert.NotEmpty(t, result.Results[2].Error)
}

func TestIngestBatchDuplicateCountsAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(models.EventCheckIn, time.Time{})
	_, _, err := f.ingestor.Ingest(ctx, in)
	require.NoError(t, err)

	result, err := f.ingestor.IngestBatch(ctx, []IngestInput{in})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, result.Results, 1)
	assert.Equal(t, models.SyncItemDuplicate, result.Results[0].Status)
}
