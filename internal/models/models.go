package models

import (
	"time"

	"github.com/google/uuid"
)

// 事件类型常量
const (
	EventCheckIn  = "CHECK_IN"
	EventCheckOut = "CHECK_OUT"
)

// ValidEventType 校验事件类型
func ValidEventType(t string) bool {
	return t == EventCheckIn || t == EventCheckOut
}

// Site 站点（一个物理场所，拥有儿童、设备和在场事件）
type Site struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Child 儿童（在场跟踪的对象，归属于一个站点）
type Child struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SiteID    uuid.UUID `json:"site_id" db:"site_id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Device 打卡终端设备，绑定到一个站点
type Device struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	SiteID     uuid.UUID  `json:"site_id" db:"site_id"`
	Active     bool       `json:"active" db:"active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// User 提交事件的操作者身份
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	SiteID       *uuid.UUID `json:"site_id,omitempty" db:"site_id"`
	Active       bool       `json:"active" db:"active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// PresenceEvent 在场事件（服务端持久化，接受后不可变）
type PresenceEvent struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ChildID       uuid.UUID `json:"child_id" db:"child_id"`
	SiteID        uuid.UUID `json:"site_id" db:"site_id"`
	DeviceID      uuid.UUID `json:"device_id" db:"device_id"`
	EventType     string    `json:"event_type" db:"event_type"`
	EventTime     time.Time `json:"event_time" db:"event_time"`
	ClientEventID uuid.UUID `json:"client_event_id" db:"client_event_id"`
	RecordedBy    uuid.UUID `json:"recorded_by" db:"recorded_by"`
	SyncedAt      time.Time `json:"synced_at" db:"synced_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PendingEvent 客户端本地待同步事件
type PendingEvent struct {
	ID            int64      `json:"id" db:"id"`
	ClientEventID string     `json:"client_event_id" db:"client_event_id"`
	ChildID       string     `json:"child_id" db:"child_id"`
	DeviceID      string     `json:"device_id" db:"device_id"`
	EventType     string     `json:"event_type" db:"event_type"`
	EventTime     time.Time  `json:"event_time" db:"event_time"`
	LastError     string     `json:"last_error,omitempty" db:"last_error"`
	LastTryAt     *time.Time `json:"last_try_at,omitempty" db:"last_try_at"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// PresenceInterval 一段闭合或进行中的在场区间
type PresenceInterval struct {
	ChildID      uuid.UUID  `json:"child_id"`
	SiteID       uuid.UUID  `json:"site_id"`
	CheckIn      time.Time  `json:"check_in"`
	CheckOut     *time.Time `json:"check_out,omitempty"` // nil 表示区间仍然打开
	TotalSeconds int64      `json:"total_seconds"`
}

// PresenceSnapshot 在场状态投影（纯读取路径派生，不落库）
type PresenceSnapshot struct {
	ChildID       uuid.UUID          `json:"child_id"`
	SiteID        uuid.UUID          `json:"site_id"`
	IsInside      bool               `json:"is_inside"`
	OpenSince     *time.Time         `json:"open_since,omitempty"`
	FirstCheckIn  *time.Time         `json:"first_check_in,omitempty"`
	LastCheckOut  *time.Time         `json:"last_check_out,omitempty"`
	ClosedSeconds int64              `json:"closed_seconds"`
	LiveSeconds   int64              `json:"live_seconds"`
	Intervals     []PresenceInterval `json:"intervals,omitempty"`
}

// TotalSeconds 闭合时长加进行中时长
func (s *PresenceSnapshot) TotalSeconds() int64 {
	return s.ClosedSeconds + s.LiveSeconds
}

// 同步条目结果状态
const (
	SyncItemAccepted  = "accepted"
	SyncItemDuplicate = "duplicate"
	SyncItemRejected  = "rejected"
)

// SyncItemResult 批量同步中单个事件的判定结果
type SyncItemResult struct {
	ClientEventID uuid.UUID `json:"client_event_id"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
}

// SyncResult 批量同步统计，duplicate 计入 accepted
type SyncResult struct {
	Accepted int              `json:"accepted"`
	Skipped  int              `json:"skipped"`
	Results  []SyncItemResult `json:"results"`
}
