package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/model"
)

const deadLetterCols = `id, dialer_task_id, phase, chunk, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at`

func (s *PostgresStore) EnqueueDeadLetter(ctx context.Context, dl model.DeadLetter) error {
	chunkJSON, err := json.Marshal(dl.Chunk)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dead letter chunk")
	}

	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dialer.dead_letters (`+deadLetterCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		dl.ID, dl.DialerTaskID, dl.Phase, chunkJSON, dl.Error, dl.ErrorType,
		dl.RetryCount, dl.MaxRetries, dl.NextRetryAt, dl.CreatedAt, dl.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dead letter")
}

// DequeueDeadLetters returns entries due for retry, oldest first. With
// IncludeNotDue every entry is listed.
func (s *PostgresStore) DequeueDeadLetters(ctx context.Context, filter model.DeadLetterFilter) ([]model.DeadLetter, error) {
	query := `SELECT ` + deadLetterCols + ` FROM dialer.dead_letters WHERE 1=1`
	if !filter.IncludeNotDue {
		query += ` AND next_retry_at <= now() AND retry_count < max_retries`
	}
	args := []any{}
	argIdx := 1

	if filter.DialerTaskID != "" {
		query += fmt.Sprintf(` AND dialer_task_id = $%d`, argIdx)
		args = append(args, filter.DialerTaskID)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dead letters")
	}
	defer rows.Close()

	var entries []model.DeadLetter
	for rows.Next() {
		var e model.DeadLetter
		var chunkJSON []byte
		if err := rows.Scan(&e.ID, &e.DialerTaskID, &e.Phase, &chunkJSON, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		if err := json.Unmarshal(chunkJSON, &e.Chunk); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dead letter chunk")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dead letters iterate")
}

func (s *PostgresStore) IncrementDeadLetterRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dialer.dead_letters
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dead letter retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dead letter not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDeadLetter(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dialer.dead_letters WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dead letter")
}

func (s *PostgresStore) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dialer.dead_letters`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dead letters")
}
