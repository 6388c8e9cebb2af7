package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/db"
	"github.com/sells-group/dialer-cli/internal/model"
)

const taskCols = `id, type, task_date, rank, status, error, created_at, updated_at`

var taskEventCols = []string{"dialer_task_id", "status", "data", "created_at"}

// CreateDialerTask inserts the day's task for taskType, or returns the
// existing one. It is safe to call on every phase entry.
func (s *PostgresStore) CreateDialerTask(ctx context.Context, taskType string, rank int, date time.Time) (*model.DialerTask, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO dialer.tasks (id, type, task_date, rank, status, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6, $6)
		 ON CONFLICT (type, task_date) DO UPDATE SET updated_at = dialer.tasks.updated_at
		 RETURNING `+taskCols,
		uuid.New().String(), taskType, dateOnly(date), rank, string(model.TaskStatusInitiated), now,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create dialer task %s", taskType)
	}
	return t, nil
}

func (s *PostgresStore) GetDialerTask(ctx context.Context, taskType string, date time.Time) (*model.DialerTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskCols+` FROM dialer.tasks WHERE type = $1 AND task_date = $2`,
		taskType, dateOnly(date),
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dialer task %s", taskType)
	}
	return t, nil
}

func (s *PostgresStore) GetDialerTaskByID(ctx context.Context, id string) (*model.DialerTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskCols+` FROM dialer.tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dialer task %s", id)
	}
	return t, nil
}

func (s *PostgresStore) UpdateDialerTaskStatus(ctx context.Context, id string, status model.TaskStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dialer.tasks SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update dialer task status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStore) ListDialerTasks(ctx context.Context, filter TaskFilter) ([]model.DialerTask, error) {
	query := `SELECT ` + taskCols + ` FROM dialer.tasks WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Date != nil {
		query += fmt.Sprintf(` AND task_date = $%d`, argIdx)
		args = append(args, dateOnly(*filter.Date))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	query += ` ORDER BY task_date DESC, rank ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dialer tasks")
	}
	defer rows.Close()

	var tasks []model.DialerTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dialer task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list dialer tasks iterate")
}

func (s *PostgresStore) RecordTaskEvent(ctx context.Context, taskID string, status model.TaskStatus, data map[string]any) error {
	dataJSON, err := marshalEventData(data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dialer.task_events (dialer_task_id, status, data, created_at) VALUES ($1, $2, $3, $4)`,
		taskID, string(status), dataJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record task event %s for %s", status, taskID)
}

// RecordTaskEvents appends many events with COPY.
func (s *PostgresStore) RecordTaskEvents(ctx context.Context, events []model.DialerTaskEvent) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		dataJSON, err := marshalEventData(e.Data)
		if err != nil {
			return 0, err
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, []any{e.DialerTaskID, string(e.Status), dataJSON, created})
	}
	n, err := db.CopyFromSchema(ctx, s.pool, "dialer", "task_events", taskEventCols, rows)
	return n, eris.Wrap(err, "postgres: record task events")
}

func (s *PostgresStore) ListTaskEvents(ctx context.Context, taskID string) ([]model.DialerTaskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dialer_task_id, status, data, created_at FROM dialer.task_events
		 WHERE dialer_task_id = $1 ORDER BY id ASC`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list task events %s", taskID)
	}
	defer rows.Close()

	var events []model.DialerTaskEvent
	for rows.Next() {
		e, err := scanTaskEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list task events iterate")
}

// LatestTaskEvent returns the newest event with the given status, or nil if
// there is none.
func (s *PostgresStore) LatestTaskEvent(ctx context.Context, taskID string, status model.TaskStatus) (*model.DialerTaskEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, dialer_task_id, status, data, created_at FROM dialer.task_events
		 WHERE dialer_task_id = $1 AND status = $2 ORDER BY id DESC LIMIT 1`,
		taskID, string(status),
	)
	e, err := scanTaskEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ProcessedBatches returns the distinct batch numbers with a
// construct_processed event, ascending.
func (s *PostgresStore) ProcessedBatches(ctx context.Context, taskID string) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT (data->>'batch')::int AS batch FROM dialer.task_events
		 WHERE dialer_task_id = $1 AND status = $2 AND data ? 'batch'
		 ORDER BY batch`,
		taskID, string(model.EventConstructProcessed),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: processed batches %s", taskID)
	}
	defer rows.Close()

	var batches []int
	for rows.Next() {
		var b int
		if err := rows.Scan(&b); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processed batch")
		}
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: processed batches iterate")
}

func marshalEventData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal event data")
	}
	return b, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.DialerTask, error) {
	var t model.DialerTask
	var status string
	if err := row.Scan(&t.ID, &t.Type, &t.TaskDate, &t.Rank, &status, &t.Error, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	return &t, nil
}

func scanTaskEvent(row scannable) (*model.DialerTaskEvent, error) {
	var e model.DialerTaskEvent
	var status string
	var data []byte
	if err := row.Scan(&e.ID, &e.DialerTaskID, &status, &data, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan task event")
	}
	e.Status = model.TaskStatus(status)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal event data")
		}
	}
	return &e, nil
}
