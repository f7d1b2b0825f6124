package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB database connection pool wrapper
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a database connection
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate runs schema migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateMissions,
		migrationCreateMissionLocations,
		migrationCreatePublicTrackingLinks,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

const migrationCreateMissions = `
CREATE TABLE IF NOT EXISTS missions (
    id UUID PRIMARY KEY,
    reference VARCHAR(50) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    pickup_address TEXT,
    delivery_address TEXT,
    delivery_lat DOUBLE PRECISION,
    delivery_lng DOUBLE PRECISION,
    started_at TIMESTAMP WITH TIME ZONE,
    ended_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
`

const migrationCreateMissionLocations = `
CREATE TABLE IF NOT EXISTS mission_locations (
    id UUID PRIMARY KEY,
    mission_id UUID NOT NULL REFERENCES missions(id),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed DOUBLE PRECISION,
    heading DOUBLE PRECISION,
    accuracy DOUBLE PRECISION,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mission_locations_mission_id ON mission_locations(mission_id);
CREATE INDEX IF NOT EXISTS idx_mission_locations_recorded_at ON mission_locations(recorded_at);
`

const migrationCreatePublicTrackingLinks = `
CREATE TABLE IF NOT EXISTS public_tracking_links (
    token VARCHAR(64) PRIMARY KEY,
    mission_id UUID NOT NULL REFERENCES missions(id),
    is_active BOOLEAN NOT NULL DEFAULT true,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    access_count INT NOT NULL DEFAULT 0,
    max_accesses INT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_public_tracking_links_mission_id ON public_tracking_links(mission_id);
`
