package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/regnido/regnido/internal/models"
)

// Store 本地 SQLite 存储：设置项加待同步事件队列
type Store struct {
	db *sql.DB
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_event_id TEXT NOT NULL UNIQUE,
		child_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_time TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_error TEXT,
		last_try_at TEXT,
		rejected_at TEXT
	);
`

// Open 打开（必要时创建）本地数据库并初始化表结构
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	// 单客户端进程，限制为单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSetting 读取设置项，不存在时返回空串
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting 写入设置项
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Enqueue 把事件追加到待同步队列。按幂等键去重，重复入队是空操作。
func (s *Store) Enqueue(event *models.PendingEvent) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO pending_events
		 (client_event_id, child_id, device_id, event_type, event_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ClientEventID,
		event.ChildID,
		event.DeviceID,
		event.EventType,
		event.EventTime.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("enqueue pending event: %w", err)
	}
	return nil
}

// ListPending 按入队顺序返回未被拒绝的待同步事件
func (s *Store) ListPending(limit int) ([]*models.PendingEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, client_event_id, child_id, device_id, event_type, event_time,
		        created_at, last_error, last_try_at, rejected_at
		 FROM pending_events
		 WHERE rejected_at IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.PendingEvent
	for rows.Next() {
		event, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListRejected 返回已被服务端永久拒绝的事件，供人工处理
func (s *Store) ListRejected() ([]*models.PendingEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, client_event_id, child_id, device_id, event_type, event_time,
		        created_at, last_error, last_try_at, rejected_at
		 FROM pending_events
		 WHERE rejected_at IS NOT NULL
		 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list rejected events: %w", err)
	}
	defer rows.Close()

	var events []*models.PendingEvent
	for rows.Next() {
		event, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkTryFailed 记录一次失败的同步尝试
func (s *Store) MarkTryFailed(clientEventIDs []string, reason string) error {
	if len(clientEventIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`UPDATE pending_events SET last_error = ?, last_try_at = ?
		 WHERE client_event_id IN (%s)`,
		placeholders(len(clientEventIDs)),
	)
	args := make([]any, 0, len(clientEventIDs)+2)
	args = append(args, reason, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range clientEventIDs {
		args = append(args, id)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("mark try failed: %w", err)
	}
	return nil
}

// MarkRejected 标记服务端永久拒绝的事件。保留记录不删除。
func (s *Store) MarkRejected(clientEventID, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(
		`UPDATE pending_events SET rejected_at = ?, last_error = ?, last_try_at = ?
		 WHERE client_event_id = ?`,
		now, reason, now, clientEventID,
	)
	if err != nil {
		return fmt.Errorf("mark rejected: %w", err)
	}
	return nil
}

// Remove 删除已被服务端接受的事件
func (s *Store) Remove(clientEventIDs []string) error {
	if len(clientEventIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`DELETE FROM pending_events WHERE client_event_id IN (%s)`,
		placeholders(len(clientEventIDs)),
	)
	args := make([]any, 0, len(clientEventIDs))
	for _, id := range clientEventIDs {
		args = append(args, id)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("remove pending events: %w", err)
	}
	return nil
}

// CountPending 统计未被拒绝的待同步事件数
func (s *Store) CountPending() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pending_events WHERE rejected_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return count, nil
}

func scanPending(rows *sql.Rows) (*models.PendingEvent, error) {
	var (
		event     models.PendingEvent
		eventTime string
		createdAt string
		lastErr   sql.NullString
		lastTry   sql.NullString
		rejected  sql.NullString
	)
	if err := rows.Scan(
		&event.ID,
		&event.ClientEventID,
		&event.ChildID,
		&event.DeviceID,
		&event.EventType,
		&eventTime,
		&createdAt,
		&lastErr,
		&lastTry,
		&rejected,
	); err != nil {
		return nil, fmt.Errorf("scan pending event: %w", err)
	}

	var err error
	event.EventTime, err = time.Parse(time.RFC3339Nano, eventTime)
	if err != nil {
		return nil, fmt.Errorf("parse event time: %w", err)
	}
	event.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created at: %w", err)
	}
	if lastErr.Valid {
		event.LastError = lastErr.String
	}
	if lastTry.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastTry.String)
		if err != nil {
			return nil, fmt.Errorf("parse last try at: %w", err)
		}
		event.LastTryAt = &t
	}
	if rejected.Valid {
		t, err := time.Parse(time.RFC3339Nano, rejected.String)
		if err != nil {
			return nil, fmt.Errorf("parse rejected at: %w", err)
		}
		event.RejectedAt = &t
	}
	return &event, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
