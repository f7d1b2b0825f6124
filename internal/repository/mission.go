package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marllet/fleettrack/internal/models"
)

// ErrMissionNotFound no mission with the given id.
var ErrMissionNotFound = errors.New("mission not found")

// MissionRepository persistence for mission records
type MissionRepository struct {
	db *DB
}

// NewMissionRepository creates a mission repository
func NewMissionRepository(db *DB) *MissionRepository {
	return &MissionRepository{db: db}
}

// Create inserts a mission
func (r *MissionRepository) Create(ctx context.Context, m *models.Mission) error {
	query := `
		INSERT INTO missions (id, reference, status, pickup_address, delivery_address, delivery_lat, delivery_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		m.ID,
		m.Reference,
		m.Status,
		m.PickupAddress,
		m.DeliveryAddress,
		m.DeliveryLat,
		m.DeliveryLng,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

// GetByID returns a mission by id
func (r *MissionRepository) GetByID(ctx context.Context, id string) (*models.Mission, error) {
	query := `
		SELECT id, reference, status, pickup_address, delivery_address, delivery_lat, delivery_lng, started_at, ended_at, created_at, updated_at
		FROM missions WHERE id = $1
	`
	m := &models.Mission{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.Reference,
		&m.Status,
		&m.PickupAddress,
		&m.DeliveryAddress,
		&m.DeliveryLat,
		&m.DeliveryLng,
		&m.StartedAt,
		&m.EndedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

// SetStatus updates a mission's status and the matching lifecycle
// timestamp.
func (r *MissionRepository) SetStatus(ctx context.Context, id, status string, at time.Time) error {
	var query string
	args := []any{id, status, at}
	switch status {
	case models.MissionInProgress:
		query = `UPDATE missions SET status = $2, started_at = $3, updated_at = NOW() WHERE id = $1`
	case models.MissionCompleted, models.MissionCancelled:
		query = `UPDATE missions SET status = $2, ended_at = $3, updated_at = NOW() WHERE id = $1`
	default:
		query = `UPDATE missions SET status = $2, updated_at = NOW() WHERE id = $1`
		args = args[:2]
	}

	res, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update mission status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrMissionNotFound
	}
	return nil
}

// SetDestination updates a mission's delivery point.
func (r *MissionRepository) SetDestination(ctx context.Context, id, address string, lat, lng float64) error {
	query := `
		UPDATE missions
		SET delivery_address = $2, delivery_lat = $3, delivery_lng = $4, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.Pool.Exec(ctx, query, id, address, lat, lng)
	if err != nil {
		return fmt.Errorf("update mission destination: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrMissionNotFound
	}
	return nil
}

// ListByStatus returns missions with the given status, newest first.
func (r *MissionRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.Mission, error) {
	query := `
		SELECT id, reference, status, pickup_address, delivery_address, delivery_lat, delivery_lng, started_at, ended_at, created_at, updated_at
		FROM missions WHERE status = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var missions []*models.Mission
	for rows.Next() {
		m := &models.Mission{}
		err := rows.Scan(
			&m.ID,
			&m.Reference,
			&m.Status,
			&m.PickupAddress,
			&m.DeliveryAddress,
			&m.DeliveryLat,
			&m.DeliveryLng,
			&m.StartedAt,
			&m.EndedAt,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, m)
	}

	return missions, nil
}
