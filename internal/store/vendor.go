package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/model"
)

const vendorTaskCols = `vendor_task_id, dialer_task_id, rank, chunk_index, group_name, contacts, start_time, end_time, created_at`

// SaveVendorTask records a task created at the vendor. Saving the same
// vendor task twice is a no-op.
func (s *PostgresStore) SaveVendorTask(ctx context.Context, vt model.VendorTask) error {
	if vt.CreatedAt.IsZero() {
		vt.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dialer.vendor_tasks (`+vendorTaskCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (vendor_task_id) DO NOTHING`,
		vt.VendorTaskID, vt.DialerTaskID, vt.Rank, vt.ChunkIndex, vt.GroupName,
		vt.Contacts, vt.StartTime, vt.EndTime, vt.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save vendor task %s", vt.VendorTaskID)
}

func (s *PostgresStore) GetVendorTask(ctx context.Context, vendorTaskID string) (*model.VendorTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+vendorTaskCols+` FROM dialer.vendor_tasks WHERE vendor_task_id = $1`,
		vendorTaskID,
	)
	vt, err := scanVendorTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVendorTaskNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get vendor task %s", vendorTaskID)
	}
	return vt, nil
}

func (s *PostgresStore) GetVendorTaskByChunk(ctx context.Context, dialerTaskID string, chunkIndex int) (*model.VendorTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+vendorTaskCols+` FROM dialer.vendor_tasks WHERE dialer_task_id = $1 AND chunk_index = $2`,
		dialerTaskID, chunkIndex,
	)
	vt, err := scanVendorTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVendorTaskNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get vendor task for chunk %d of %s", chunkIndex, dialerTaskID)
	}
	return vt, nil
}

func (s *PostgresStore) ListVendorTasks(ctx context.Context, dialerTaskID string) ([]model.VendorTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vendorTaskCols+` FROM dialer.vendor_tasks WHERE dialer_task_id = $1 ORDER BY chunk_index`,
		dialerTaskID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list vendor tasks %s", dialerTaskID)
	}
	defer rows.Close()
	return collectVendorTasks(rows)
}

// ListVendorTasksBetween returns vendor tasks whose call window overlaps
// [from, to).
func (s *PostgresStore) ListVendorTasksBetween(ctx context.Context, from, to time.Time) ([]model.VendorTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vendorTaskCols+` FROM dialer.vendor_tasks
		 WHERE start_time < $2 AND end_time > $1
		 ORDER BY start_time, vendor_task_id`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendor tasks between")
	}
	defer rows.Close()
	return collectVendorTasks(rows)
}

func collectVendorTasks(rows rowsScanner) ([]model.VendorTask, error) {
	var out []model.VendorTask
	for rows.Next() {
		vt, err := scanVendorTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor task")
		}
		out = append(out, *vt)
	}
	return out, eris.Wrap(rows.Err(), "postgres: vendor tasks iterate")
}

func scanVendorTask(row scannable) (*model.VendorTask, error) {
	var vt model.VendorTask
	err := row.Scan(&vt.VendorTaskID, &vt.DialerTaskID, &vt.Rank, &vt.ChunkIndex, &vt.GroupName,
		&vt.Contacts, &vt.StartTime, &vt.EndTime, &vt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &vt, nil
}
