package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/regnido/regnido/internal/models"
)

// SiteRepository 站点数据仓库
type SiteRepository struct {
	db *DB
}

// NewSiteRepository 创建站点仓库
func NewSiteRepository(db *DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// Create 创建站点
func (r *SiteRepository) Create(ctx context.Context, site *models.Site) error {
	if site.ID == uuid.Nil {
		site.ID = uuid.New()
	}
	query := `
		INSERT INTO sites (id, name, active)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query, site.ID, site.Name, site.Active).Scan(&site.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

// GetByID 获取站点，不存在时返回 nil
func (r *SiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	query := `SELECT id, name, active, created_at FROM sites WHERE id = $1`
	site := &models.Site{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&site.ID, &site.Name, &site.Active, &site.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get site by id: %w", err)
	}
	return site, nil
}

// GetByName 按名称查找站点，不存在时返回 nil
func (r *SiteRepository) GetByName(ctx context.Context, name string) (*models.Site, error) {
	query := `SELECT id, name, active, created_at FROM sites WHERE name = $1`
	site := &models.Site{}
	err := r.db.Pool.QueryRow(ctx, query, name).Scan(&site.ID, &site.Name, &site.Active, &site.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get site by name: %w", err)
	}
	return site, nil
}

// List 获取站点列表
func (r *SiteRepository) List(ctx context.Context) ([]*models.Site, error) {
	query := `SELECT id, name, active, created_at FROM sites ORDER BY name ASC`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		site := &models.Site{}
		if err := rows.Scan(&site.ID, &site.Name, &site.Active, &site.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, nil
}
