package postgres

import (
	"context"
	"fmt"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Append upserts a batch keyed on (run_id, sequence). Worker retries after a
// half-acknowledged batch land on the conflict arm, so delivery is effectively
// idempotent: last writer wins per sequence.
func (r *LogRepository) Append(ctx context.Context, runID string, lines []domain.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO job_logs (run_id, sequence, stream, line)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (run_id, sequence) DO UPDATE
			SET stream = EXCLUDED.stream, line = EXCLUDED.line`,
			runID, l.Sequence, l.Stream, l.Line)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append log line: %w", err)
		}
	}
	return nil
}

func (r *LogRepository) ListAfter(ctx context.Context, runID string, after int) ([]domain.LogLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, sequence, stream, line
		FROM job_logs
		WHERE run_id = $1 AND sequence > $2
		ORDER BY sequence ASC`, runID, after)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []domain.LogLine
	for rows.Next() {
		var l domain.LogLine
		if err := rows.Scan(&l.RunID, &l.Sequence, &l.Stream, &l.Line); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
