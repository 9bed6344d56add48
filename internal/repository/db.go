package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateSites,
		migrationCreateChildren,
		migrationCreateUsers,
		migrationCreateDevices,
		migrationCreatePresenceEvents,
		migrationCreateAuditLog,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateSites = `
CREATE TABLE IF NOT EXISTS sites (
    id UUID PRIMARY KEY,
    name VARCHAR(200) NOT NULL UNIQUE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateChildren = `
CREATE TABLE IF NOT EXISTS children (
    id UUID PRIMARY KEY,
    site_id UUID NOT NULL REFERENCES sites(id),
    first_name VARCHAR(120) NOT NULL,
    last_name VARCHAR(120) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_children_site_id ON children(site_id);
`

const migrationCreateUsers = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    username VARCHAR(120) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    site_id UUID REFERENCES sites(id),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id UUID PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    site_id UUID NOT NULL REFERENCES sites(id),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    last_seen_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_devices_site_id ON devices(site_id);
`

const migrationCreatePresenceEvents = `
CREATE TABLE IF NOT EXISTS presence_events (
    id UUID PRIMARY KEY,
    child_id UUID NOT NULL REFERENCES children(id),
    site_id UUID NOT NULL REFERENCES sites(id),
    device_id UUID NOT NULL REFERENCES devices(id),
    event_type VARCHAR(20) NOT NULL,
    event_time TIMESTAMP WITH TIME ZONE NOT NULL,
    client_event_id UUID NOT NULL,
    recorded_by UUID NOT NULL REFERENCES users(id),
    synced_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_presence_client_event_id UNIQUE (client_event_id)
);
CREATE INDEX IF NOT EXISTS idx_presence_child_site_time ON presence_events(child_id, site_id, event_time);
CREATE INDEX IF NOT EXISTS idx_presence_site_time ON presence_events(site_id, event_time);
`

const migrationCreateAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id UUID PRIMARY KEY,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    user_id UUID,
    device_id UUID,
    action VARCHAR(120) NOT NULL,
    entity VARCHAR(120) NOT NULL,
    entity_id VARCHAR(120),
    details JSONB,
    outcome VARCHAR(50) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_log(recorded_at);
`
