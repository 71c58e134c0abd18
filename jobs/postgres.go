package jobs

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PostgresRecorder persists job records to a postgres table, one row per
// job, upserted on every save.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder wraps an existing pool.
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

// EnsureSchema creates the jobs table if it does not exist.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stabilization_jobs (
			id            UUID PRIMARY KEY,
			state         TEXT NOT NULL,
			target_class  TEXT NOT NULL DEFAULT '',
			method        TEXT NOT NULL DEFAULT '',
			width         INT NOT NULL,
			height        INT NOT NULL,
			fps           DOUBLE PRECISION NOT NULL,
			frame_count   INT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			report        JSONB,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "create jobs table")
	}
	return nil
}

// Save upserts one record.
func (r *PostgresRecorder) Save(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO stabilization_jobs (
			id, state, target_class, method, width, height, fps,
			frame_count, error_message, report, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			state=$2, target_class=$3, method=$4,
			frame_count=$8, error_message=$9, report=$10, updated_at=$12`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.State, rec.TargetClass, rec.Method,
		rec.Width, rec.Height, rec.FPS, rec.FrameCount,
		rec.Error, rec.Report, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert job record")
	}
	return nil
}
