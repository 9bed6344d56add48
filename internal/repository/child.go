package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/regnido/regnido/internal/models"
)

// ChildRepository 儿童数据仓库
type ChildRepository struct {
	db *DB
}

// NewChildRepository 创建儿童仓库
func NewChildRepository(db *DB) *ChildRepository {
	return &ChildRepository{db: db}
}

// Create 创建儿童
func (r *ChildRepository) Create(ctx context.Context, child *models.Child) error {
	if child.ID == uuid.Nil {
		child.ID = uuid.New()
	}
	query := `
		INSERT INTO children (id, site_id, first_name, last_name, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		child.ID,
		child.SiteID,
		child.FirstName,
		child.LastName,
		child.Active,
	).Scan(&child.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert child: %w", err)
	}
	return nil
}

// GetActive 获取启用状态的儿童，不存在或停用时返回 nil
func (r *ChildRepository) GetActive(ctx context.Context, id uuid.UUID) (*models.Child, error) {
	query := `
		SELECT id, site_id, first_name, last_name, active, created_at
		FROM children WHERE id = $1 AND active = TRUE
	`
	child := &models.Child{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&child.ID,
		&child.SiteID,
		&child.FirstName,
		&child.LastName,
		&child.Active,
		&child.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return child, nil
}

// ListActiveBySite 获取站点内启用的儿童，支持姓名模糊搜索
func (r *ChildRepository) ListActiveBySite(ctx context.Context, siteID uuid.UUID, search string, limit int) ([]*models.Child, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, site_id, first_name, last_name, active, created_at
		FROM children
		WHERE site_id = $1 AND active = TRUE
		  AND ($2 = '' OR first_name ILIKE '%' || $2 || '%' OR last_name ILIKE '%' || $2 || '%')
		ORDER BY last_name ASC, first_name ASC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, siteID, search, limit)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []*models.Child
	for rows.Next() {
		child := &models.Child{}
		if err := rows.Scan(
			&child.ID,
			&child.SiteID,
			&child.FirstName,
			&child.LastName,
			&child.Active,
			&child.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, child)
	}
	return children, nil
}
