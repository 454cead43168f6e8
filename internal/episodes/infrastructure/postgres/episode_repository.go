package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	episodes "equipment-alerts/internal/episodes/domain"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

const episodesSchema = `
CREATE TABLE IF NOT EXISTS equipment_episodes (
	id TEXT PRIMARY KEY,
	equipment TEXT NOT NULL,
	kind TEXT NOT NULL,
	identifier TEXT NOT NULL,
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ NOT NULL,
	duration_minutes DOUBLE PRECISION NOT NULL,
	consolidated BOOLEAN NOT NULL DEFAULT FALSE,
	record_count INTEGER NOT NULL,
	conflicts_resolved INTEGER NOT NULL DEFAULT 0,
	efficiency JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS equipment_episodes_equipment_start_idx ON equipment_episodes (equipment, start_at);
`

// EpisodeRepository stores consolidated episodes for reporting.
type EpisodeRepository struct {
	db *sql.DB
}

// NewEpisodeRepository constructs a repository.
func NewEpisodeRepository(db *sql.DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

// EnsureSchema creates the episodes table when missing.
func (r *EpisodeRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, episodesSchema)
	return err
}

// SaveEpisodes upserts episodes by their content-derived id.
func (r *EpisodeRepository) SaveEpisodes(ctx context.Context, equipment string, items []episodes.ConsolidatedEpisode) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	if equipment == "" {
		return errors.New("episode repo: empty equipment")
	}
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, ep := range items {
		efficiency, err := json.Marshal(ep.Efficiency)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO equipment_episodes (
	id, equipment, kind, identifier, start_at, end_at, duration_minutes,
	consolidated, record_count, conflicts_resolved, efficiency, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	end_at = EXCLUDED.end_at,
	duration_minutes = EXCLUDED.duration_minutes,
	consolidated = EXCLUDED.consolidated,
	record_count = EXCLUDED.record_count,
	conflicts_resolved = EXCLUDED.conflicts_resolved,
	efficiency = EXCLUDED.efficiency,
	updated_at = EXCLUDED.updated_at`,
			ep.ID,
			equipment,
			string(ep.Kind),
			ep.Identifier,
			ep.StartTime.UTC(),
			ep.EndTime.UTC(),
			ep.DurationMinutes,
			ep.Consolidated,
			ep.RecordCount,
			ep.ConflictsResolved,
			string(efficiency),
			now,
		); err != nil {
			return fmt.Errorf("episode repo: upsert %s: %w", ep.ID, err)
		}
	}
	return tx.Commit()
}

// ListByEquipment returns episodes overlapping [from, to) ordered by start.
// Source events are not stored and come back empty.
func (r *EpisodeRepository) ListByEquipment(ctx context.Context, equipment string, from, to time.Time) ([]episodes.ConsolidatedEpisode, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("episode repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, kind, identifier, start_at, end_at, duration_minutes,
	consolidated, record_count, conflicts_resolved, efficiency
FROM equipment_episodes
WHERE equipment = $1 AND start_at < $3 AND end_at >= $2
ORDER BY start_at, id`, equipment, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []episodes.ConsolidatedEpisode
	for rows.Next() {
		var (
			ep         episodes.ConsolidatedEpisode
			kind       string
			efficiency []byte
		)
		if err := rows.Scan(
			&ep.ID,
			&kind,
			&ep.Identifier,
			&ep.StartTime,
			&ep.EndTime,
			&ep.DurationMinutes,
			&ep.Consolidated,
			&ep.RecordCount,
			&ep.ConflictsResolved,
			&efficiency,
		); err != nil {
			return nil, err
		}
		ep.Kind = telemetry.Kind(kind)
		ep.StartTime = ep.StartTime.UTC()
		ep.EndTime = ep.EndTime.UTC()
		if err := json.Unmarshal(efficiency, &ep.Efficiency); err != nil {
			return nil, fmt.Errorf("episode repo: decode efficiency: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
