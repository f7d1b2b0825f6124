package repository

import (
	"context"
	"fmt"

	"github.com/marllet/fleettrack/internal/models"
)

// PositionRepository persistence for position samples
type PositionRepository struct {
	db *DB
}

// NewPositionRepository creates a position repository
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Insert stores a sample. Re-delivery of an already stored id is a
// no-op; returns true only when the row was actually written.
func (r *PositionRepository) Insert(ctx context.Context, pos *models.PositionSample) (bool, error) {
	query := `
		INSERT INTO mission_locations (id, mission_id, latitude, longitude, speed, heading, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		pos.ID,
		pos.MissionID,
		pos.Latitude,
		pos.Longitude,
		pos.Speed,
		pos.Heading,
		pos.Accuracy,
		pos.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert position: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByMission returns the full track ascending by recorded_at.
func (r *PositionRepository) ListByMission(ctx context.Context, missionID string) ([]*models.PositionSample, error) {
	query := `
		SELECT id, mission_id, latitude, longitude, speed, heading, accuracy, recorded_at
		FROM mission_locations WHERE mission_id = $1 ORDER BY recorded_at
	`
	rows, err := r.db.Pool.Query(ctx, query, missionID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var samples []*models.PositionSample
	for rows.Next() {
		pos := &models.PositionSample{}
		err := rows.Scan(
			&pos.ID,
			&pos.MissionID,
			&pos.Latitude,
			&pos.Longitude,
			&pos.Speed,
			&pos.Heading,
			&pos.Accuracy,
			&pos.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		samples = append(samples, pos)
	}

	return samples, nil
}
