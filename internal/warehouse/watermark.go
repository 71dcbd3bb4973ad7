package warehouse

import (
	"context"
	"database/sql"
	"time"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

const (
	selectWatermark = `SELECT since_ts FROM etl_watermark WHERE client_id = $1 AND entity = $2`

	upsertWatermark = `
		INSERT INTO etl_watermark (client_id, entity, since_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, entity) DO UPDATE SET since_ts = EXCLUDED.since_ts`
)

// WatermarkStore tracks the incremental-extraction cursor per (tenant,
// entity). The orchestrator advances a watermark only after the entity's load
// has committed, so a failed run re-extracts the same window.
type WatermarkStore struct {
	db *sql.DB
}

// NewWatermarkStore creates a WatermarkStore over the warehouse connection.
func NewWatermarkStore(db *sql.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// Get returns the extraction cursor, or the zero time when the entity has
// never completed a load (full extraction).
func (s *WatermarkStore) Get(ctx context.Context, clientID string, entity model.EntityType) (time.Time, error) {
	var since time.Time
	err := s.db.QueryRowContext(ctx, selectWatermark, clientID, string(entity)).Scan(&since)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return since, nil
}

// Set advances the extraction cursor.
func (s *WatermarkStore) Set(ctx context.Context, clientID string, entity model.EntityType, since time.Time) error {
	_, err := s.db.ExecContext(ctx, upsertWatermark, clientID, string(entity), since)
	return err
}
