package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry 审计日志条目
type AuditEntry struct {
	ID         uuid.UUID      `json:"id"`
	RecordedAt time.Time      `json:"recorded_at"`
	UserID     *uuid.UUID     `json:"user_id,omitempty"`
	DeviceID   *uuid.UUID     `json:"device_id,omitempty"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Outcome    string         `json:"outcome"`
}

// AuditRepository 审计日志仓库
type AuditRepository struct {
	db *DB
}

// NewAuditRepository 创建审计日志仓库
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append 追加审计条目
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_log (id, recorded_at, user_id, device_id, action, entity, entity_id, details, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.RecordedAt,
		entry.UserID,
		entry.DeviceID,
		entry.Action,
		entry.Entity,
		nullableString(entry.EntityID),
		entry.Details,
		entry.Outcome,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListRecent 按时间倒序获取最近的审计条目
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, recorded_at, user_id, device_id, action, entity, entity_id, details, outcome
		FROM audit_log
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var entityID *string
		if err := rows.Scan(
			&entry.ID,
			&entry.RecordedAt,
			&entry.UserID,
			&entry.DeviceID,
			&entry.Action,
			&entry.Entity,
			&entityID,
			&entry.Details,
			&entry.Outcome,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if entityID != nil {
			entry.EntityID = *entityID
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
