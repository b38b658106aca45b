package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"run-route/internal/geo"
	"run-route/internal/run-service/domain"
	"run-route/pkg/db"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultHistoryLimit caps ListByRunner when the caller passes no limit.
const DefaultHistoryLimit = 50

// PostgresRunRepository implements domain.RunRepository. Paths are stored
// as GeoJSON LineStrings and splits as a JSON array, both in jsonb columns.
type PostgresRunRepository struct {
	db db.Querier
}

func NewPostgresRunRepository(q db.Querier) *PostgresRunRepository {
	return &PostgresRunRepository{db: q}
}

// Save persists a finished run
func (r *PostgresRunRepository) Save(ctx context.Context, run *domain.RunRecord) error {
	path, err := geojson.NewGeometry(geo.LineString(run.Path)).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	splits := run.Splits
	if splits == nil {
		splits = []domain.Split{}
	}
	splitsJSON, err := json.Marshal(splits)
	if err != nil {
		return fmt.Errorf("encode splits: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO runs (
			id, runner_id, started_at, ended_at, distance_m, duration_ms,
			average_pace, target_distance_m, strategy, path, splits
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID,
		run.RunnerID,
		run.StartedAt,
		run.EndedAt,
		run.DistanceM,
		run.Duration.Milliseconds(),
		run.AveragePace,
		run.TargetDistanceM,
		run.Strategy,
		path,
		splitsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListByRunner returns the runner's latest runs, newest first
func (r *PostgresRunRepository) ListByRunner(ctx context.Context, runnerID string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, runner_id, started_at, ended_at, distance_m, duration_ms,
			average_pace, target_distance_m, strategy, path, splits
		FROM runs
		WHERE runner_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, runnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		var (
			run        domain.RunRecord
			durationMs int64
			path       []byte
			splits     []byte
		)
		if err := rows.Scan(
			&run.ID,
			&run.RunnerID,
			&run.StartedAt,
			&run.EndedAt,
			&run.DistanceM,
			&durationMs,
			&run.AveragePace,
			&run.TargetDistanceM,
			&run.Strategy,
			&path,
			&splits,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		if run.Path, err = decodePath(path); err != nil {
			return nil, fmt.Errorf("decode path of run %s: %w", run.ID, err)
		}
		if len(splits) > 0 {
			if err := json.Unmarshal(splits, &run.Splits); err != nil {
				return nil, fmt.Errorf("decode splits of run %s: %w", run.ID, err)
			}
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func decodePath(data []byte) ([]geo.Coordinate, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	line, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("expected LineString, got %q", g.Type)
	}
	return geo.FromLineString(line), nil
}
