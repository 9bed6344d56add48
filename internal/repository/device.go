package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/regnido/regnido/internal/models"
)

// DeviceRepository 设备数据仓库
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create 创建设备
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	query := `
		INSERT INTO devices (id, name, site_id, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		device.ID,
		device.Name,
		device.SiteID,
		device.Active,
	).Scan(&device.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetActive 获取启用状态的设备，不存在或停用时返回 nil
func (r *DeviceRepository) GetActive(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `
		SELECT id, name, site_id, active, last_seen_at, created_at
		FROM devices WHERE id = $1 AND active = TRUE
	`
	device := &models.Device{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.Name,
		&device.SiteID,
		&device.Active,
		&device.LastSeenAt,
		&device.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// GetProfile 获取设备档案（含站点名称）
func (r *DeviceRepository) GetProfile(ctx context.Context, id uuid.UUID) (*models.Device, string, error) {
	query := `
		SELECT d.id, d.name, d.site_id, d.active, d.last_seen_at, d.created_at, s.name
		FROM devices d
		JOIN sites s ON s.id = d.site_id
		WHERE d.id = $1
	`
	device := &models.Device{}
	var siteName string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.Name,
		&device.SiteID,
		&device.Active,
		&device.LastSeenAt,
		&device.CreatedAt,
		&siteName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get device profile: %w", err)
	}
	return device, siteName, nil
}

// TouchLastSeen 更新设备最近活跃时间
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE devices SET last_seen_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch device last seen: %w", err)
	}
	return nil
}
