package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marllet/fleettrack/internal/models"
)

// ShareTokenRepository persistence for public tracking links
type ShareTokenRepository struct {
	db *DB
}

// NewShareTokenRepository creates a share token repository
func NewShareTokenRepository(db *DB) *ShareTokenRepository {
	return &ShareTokenRepository{db: db}
}

// SaveToken upserts a token row. Used as write-through from the guard.
func (r *ShareTokenRepository) SaveToken(ctx context.Context, t *models.ShareToken) error {
	query := `
		INSERT INTO public_tracking_links (token, mission_id, is_active, expires_at, access_count, max_accesses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			access_count = EXCLUDED.access_count
	`
	_, err := r.db.Pool.Exec(ctx, query,
		t.Token,
		t.MissionID,
		t.IsActive,
		t.ExpiresAt,
		t.AccessCount,
		t.MaxAccesses,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save share token: %w", err)
	}
	return nil
}

// ListLive returns every active, unexpired token. Used to seed the
// guard at boot.
func (r *ShareTokenRepository) ListLive(ctx context.Context) ([]models.ShareToken, error) {
	query := `
		SELECT token, mission_id, is_active, expires_at, access_count, max_accesses, created_at
		FROM public_tracking_links
		WHERE is_active AND expires_at > NOW()
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list live tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.ShareToken
	for rows.Next() {
		var t models.ShareToken
		err := rows.Scan(
			&t.Token,
			&t.MissionID,
			&t.IsActive,
			&t.ExpiresAt,
			&t.AccessCount,
			&t.MaxAccesses,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan share token: %w", err)
		}
		tokens = append(tokens, t)
	}

	return tokens, nil
}

// Consume atomically increments access_count iff the token is still
// grantable. Cross-process equivalent of the guard's in-memory
// check-and-increment; returns the mission id and whether the access
// was granted.
func (r *ShareTokenRepository) Consume(ctx context.Context, token string) (string, bool, error) {
	query := `
		UPDATE public_tracking_links
		SET access_count = access_count + 1
		WHERE token = $1
		  AND is_active
		  AND expires_at > NOW()
		  AND access_count < max_accesses
		RETURNING mission_id
	`
	var missionID string
	err := r.db.Pool.QueryRow(ctx, query, token).Scan(&missionID)
	if errors.Is(err, pgx.ErrNoRows) {
		// token missing or no longer grantable; the guard distinguishes
		// the denial reasons
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume share token: %w", err)
	}
	return missionID, true, nil
}
