package syncer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/kiosk/api"
	"github.com/regnido/regnido/internal/kiosk/store"
	"github.com/regnido/regnido/internal/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSyncer(t *testing.T, serverURL string) (*Syncer, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	client := api.NewClient(serverURL, 2*time.Second)
	s := New(zap.NewNop(), st, client, uuid.NewString(), time.Minute)
	return s, st
}

type syncRequest struct {
	Events []struct {
		ClientEventID string `json:"client_event_id"`
	} `json:"events"`
}

func TestSubmitSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/presenze/check-in", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}, "duplicate": false})
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	result, err := s.Submit(uuid.NewString(), models.EventCheckIn)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.False(t, result.Duplicate)

	// 直发成功不入队
	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSubmitQueuedOnTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 立即关闭，模拟网络不可达

	s, st := newSyncer(t, server.URL)
	result, err := s.Submit(uuid.NewString(), models.EventCheckOut)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, result.Outcome)
	assert.NotEmpty(t, result.Reason)

	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitQueuedOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "database unavailable"})
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	result, err := s.Submit(uuid.NewString(), models.EventCheckIn)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, result.Outcome)

	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitRejectedNotQueued(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "sequence violation"})
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	result, err := s.Submit(uuid.NewString(), models.EventCheckOut)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)

	// 永久拒绝不进队列
	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSubmitUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	_, err := s.Submit(uuid.NewString(), models.EventCheckIn)
	require.ErrorIs(t, err, api.ErrUnauthorized)

	// 认证错误也不入队
	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFlushPerItemResults(t *testing.T) {
	var received syncRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		results := []map[string]any{
			{"client_event_id": received.Events[0].ClientEventID, "status": models.SyncItemAccepted},
			{"client_event_id": received.Events[1].ClientEventID, "status": models.SyncItemDuplicate},
			{"client_event_id": received.Events[2].ClientEventID, "status": models.SyncItemRejected, "error": "sequence violation"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"accepted": 2, "skipped": 1, "results": results})
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Enqueue(&models.PendingEvent{
			ClientEventID: uuid.NewString(),
			ChildID:       uuid.NewString(),
			DeviceID:      uuid.NewString(),
			EventType:     models.EventCheckIn,
			EventTime:     time.Now().UTC(),
		}))
	}

	require.NoError(t, s.Flush())
	require.Len(t, received.Events, 3)

	// accepted 和 duplicate 出队，rejected 标记保留
	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rejected, err := st.ListRejected()
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, received.Events[2].ClientEventID, rejected[0].ClientEventID)
	assert.Equal(t, "sequence violation", rejected[0].LastError)
}

func TestFlushLegacyAggregate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"accepted": 1, "skipped": 1})
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	for i := 0; i < 2; i++ {
		require.NoError(t, st.Enqueue(&models.PendingEvent{
			ClientEventID: uuid.NewString(),
			ChildID:       uuid.NewString(),
			DeviceID:      uuid.NewString(),
			EventType:     models.EventCheckIn,
			EventTime:     time.Now().UTC(),
		}))
	}

	// 无逐条结果但整批都被消化：清空队列
	require.NoError(t, s.Flush())
	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFlushLegacyAggregatePartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"accepted": 1, "skipped": 0})
	}))
	defer server.Close()

	s, st := newSyncer(t, server.URL)
	for i := 0; i < 2; i++ {
		require.NoError(t, st.Enqueue(&models.PendingEvent{
			ClientEventID: uuid.NewString(),
			ChildID:       uuid.NewString(),
			DeviceID:      uuid.NewString(),
			EventType:     models.EventCheckIn,
			EventTime:     time.Now().UTC(),
		}))
	}

	// 总数对不上整批：不删，等下一轮
	require.NoError(t, s.Flush())
	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFlushTransportFailureMarksAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	s, st := newSyncer(t, server.URL)
	require.NoError(t, st.Enqueue(&models.PendingEvent{
		ClientEventID: uuid.NewString(),
		ChildID:       uuid.NewString(),
		DeviceID:      uuid.NewString(),
		EventType:     models.EventCheckIn,
		EventTime:     time.Now().UTC(),
	}))

	require.Error(t, s.Flush())

	events, err := st.ListPending(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].LastError)
	require.NotNil(t, events[0].LastTryAt)
}

func TestFlushEmptyQueueNoRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	s, _ := newSyncer(t, server.URL)
	require.NoError(t, s.Flush())
	assert.False(t, called)
}
