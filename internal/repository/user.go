package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/regnido/regnido/internal/models"
)

// UserRepository 用户数据仓库
type UserRepository struct {
	db *DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	query := `
		INSERT INTO users (id, username, password_hash, site_id, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.SiteID,
		user.Active,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetActiveByUsername 按用户名查找启用的用户，不存在时返回 nil
func (r *UserRepository) GetActiveByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, site_id, active, created_at
		FROM users WHERE username = $1 AND active = TRUE
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, username))
}

// GetActive 按 ID 查找启用的用户，不存在时返回 nil
func (r *UserRepository) GetActive(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, site_id, active, created_at
		FROM users WHERE id = $1 AND active = TRUE
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
}

// CountUsers 统计用户数（用于首次启动引导）
func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.SiteID,
		&user.Active,
		&user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
