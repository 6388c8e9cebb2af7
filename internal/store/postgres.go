package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection. These are the
// per-callback and per-chunk hot paths.
var preparedStatements = map[string]string{
	"get_vendor_task":     `SELECT ` + vendorTaskCols + ` FROM dialer.vendor_tasks WHERE vendor_task_id = $1`,
	"get_dialer_task":     `SELECT ` + taskCols + ` FROM dialer.tasks WHERE type = $1 AND task_date = $2`,
	"insert_task_event":   `INSERT INTO dialer.task_events (dialer_task_id, status, data, created_at) VALUES ($1, $2, $3, $4)`,
	"update_task_status":  `UPDATE dialer.tasks SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_vendor_by_chunk": `SELECT ` + vendorTaskCols + ` FROM dialer.vendor_tasks WHERE dialer_task_id = $1 AND chunk_index = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Nothing to prepare before the first migrate.
		var migrated bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('dialer.vendor_tasks') IS NOT NULL`).Scan(&migrated); err != nil {
			return eris.Wrap(err, "postgres: check schema")
		}
		if !migrated {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS dialer;

CREATE TABLE IF NOT EXISTS dialer.tasks (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type       TEXT NOT NULL,
	task_date  DATE NOT NULL,
	rank       INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'initiated',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (type, task_date)
);

CREATE INDEX IF NOT EXISTS idx_dialer_tasks_date ON dialer.tasks(task_date);

CREATE TABLE IF NOT EXISTS dialer.task_events (
	id             BIGSERIAL PRIMARY KEY,
	dialer_task_id TEXT NOT NULL REFERENCES dialer.tasks(id) ON DELETE CASCADE,
	status         TEXT NOT NULL,
	data           JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialer_task_events_task_status ON dialer.task_events(dialer_task_id, status);

CREATE TABLE IF NOT EXISTS dialer.constructed_records (
	id                 BIGSERIAL PRIMARY KEY,
	task_date          DATE NOT NULL,
	dialer_task_id     TEXT NOT NULL,
	sort_order         INTEGER NOT NULL,
	batch_number       INTEGER NOT NULL,
	customer_id        BIGINT NOT NULL,
	account_payment_id BIGINT NOT NULL,
	application_id     BIGINT NOT NULL,
	loan_id            BIGINT NOT NULL,
	full_name          TEXT NOT NULL DEFAULT '',
	gender             TEXT NOT NULL DEFAULT '',
	date_of_birth      TEXT NOT NULL DEFAULT '',
	phone_number       TEXT NOT NULL DEFAULT '',
	mobile_phone_2     TEXT NOT NULL DEFAULT '',
	company_phone      TEXT NOT NULL DEFAULT '',
	spouse_name        TEXT NOT NULL DEFAULT '',
	spouse_phone       TEXT NOT NULL DEFAULT '',
	kin_name           TEXT NOT NULL DEFAULT '',
	kin_phone          TEXT NOT NULL DEFAULT '',
	kin_relation       TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	partner_name       TEXT NOT NULL DEFAULT '',
	product_type       TEXT NOT NULL DEFAULT '',
	loan_purpose       TEXT NOT NULL DEFAULT '',
	virtual_account    TEXT NOT NULL DEFAULT '',
	dpd                INTEGER NOT NULL,
	due_date           TEXT NOT NULL DEFAULT '',
	due_amount         NUMERIC(18,2) NOT NULL DEFAULT 0,
	installment_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
	late_fee           NUMERIC(18,2) NOT NULL DEFAULT 0,
	outstanding        NUMERIC(18,2) NOT NULL DEFAULT 0,
	installment_number INTEGER NOT NULL DEFAULT 0,
	last_pay_date      TEXT NOT NULL DEFAULT '',
	last_pay_amount    NUMERIC(18,2) NOT NULL DEFAULT 0,
	UNIQUE (task_date, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_dialer_constructed_date_rank ON dialer.constructed_records(task_date, sort_order, dpd DESC);

CREATE TABLE IF NOT EXISTS dialer.vendor_tasks (
	vendor_task_id TEXT PRIMARY KEY,
	dialer_task_id TEXT NOT NULL REFERENCES dialer.tasks(id) ON DELETE CASCADE,
	rank           INTEGER NOT NULL,
	chunk_index    INTEGER NOT NULL,
	group_name     TEXT NOT NULL,
	contacts       INTEGER NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (dialer_task_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_dialer_vendor_tasks_window ON dialer.vendor_tasks(start_time, end_time);

CREATE TABLE IF NOT EXISTS dialer.call_results (
	call_id            TEXT PRIMARY KEY,
	vendor_task_id     TEXT NOT NULL,
	dialer_task_id     TEXT NOT NULL,
	account_payment_id BIGINT NOT NULL DEFAULT 0,
	customer_id        BIGINT NOT NULL DEFAULT 0,
	phone_number       TEXT NOT NULL,
	state              TEXT NOT NULL,
	hangup_reason      TEXT NOT NULL DEFAULT '',
	call_result        TEXT NOT NULL DEFAULT '',
	agent_name         TEXT NOT NULL DEFAULT '',
	ring_duration      INTEGER NOT NULL DEFAULT 0,
	talk_duration      INTEGER NOT NULL DEFAULT 0,
	start_time         TIMESTAMPTZ,
	end_time           TIMESTAMPTZ,
	recording_url      TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialer_call_results_vendor_task ON dialer.call_results(vendor_task_id);

CREATE TABLE IF NOT EXISTS dialer.dead_letters (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dialer_task_id TEXT NOT NULL,
	phase          TEXT NOT NULL,
	chunk          JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialer_dead_letters_next_retry ON dialer.dead_letters(next_retry_at);

CREATE TABLE IF NOT EXISTS dialer.feature_settings (
	name       TEXT PRIMARY KEY,
	is_active  BOOLEAN NOT NULL DEFAULT true,
	parameters JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// sourceMigration creates the lending tables the pipeline reads from. In
// production these are owned by the loan platform; this exists for local
// databases and integration environments.
const sourceMigration = `
CREATE SCHEMA IF NOT EXISTS lending;

CREATE TABLE IF NOT EXISTS lending.customers (
	id               BIGINT PRIMARY KEY,
	fullname         TEXT NOT NULL DEFAULT '',
	gender           TEXT NOT NULL DEFAULT '',
	dob              DATE,
	mobile_phone_1   TEXT NOT NULL DEFAULT '',
	mobile_phone_2   TEXT NOT NULL DEFAULT '',
	company_phone    TEXT NOT NULL DEFAULT '',
	spouse_name      TEXT NOT NULL DEFAULT '',
	spouse_phone     TEXT NOT NULL DEFAULT '',
	kin_name         TEXT NOT NULL DEFAULT '',
	kin_phone        TEXT NOT NULL DEFAULT '',
	kin_relationship TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lending.applications (
	id           BIGINT PRIMARY KEY,
	customer_id  BIGINT NOT NULL REFERENCES lending.customers(id),
	account_id   BIGINT NOT NULL,
	partner_name TEXT NOT NULL DEFAULT '',
	product_type TEXT NOT NULL DEFAULT '',
	loan_purpose TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lending.loans (
	id              BIGINT PRIMARY KEY,
	loan_xid        BIGINT NOT NULL,
	account_id      BIGINT NOT NULL,
	application_id  BIGINT NOT NULL REFERENCES lending.applications(id),
	virtual_account TEXT NOT NULL DEFAULT '',
	loan_status     TEXT NOT NULL DEFAULT 'current'
);

CREATE TABLE IF NOT EXISTS lending.account_payments (
	id                 BIGINT PRIMARY KEY,
	account_id         BIGINT NOT NULL,
	customer_id        BIGINT NOT NULL REFERENCES lending.customers(id),
	due_date           DATE NOT NULL,
	due_amount         NUMERIC(18,2) NOT NULL,
	installment_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
	late_fee_amount    NUMERIC(18,2) NOT NULL DEFAULT 0,
	paid_amount        NUMERIC(18,2) NOT NULL DEFAULT 0,
	paid_date          DATE,
	is_paid            BOOLEAN NOT NULL DEFAULT false,
	installment_number INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_lending_account_payments_unpaid ON lending.account_payments(account_id, due_date) WHERE NOT is_paid;

CREATE TABLE IF NOT EXISTS lending.ptp (
	id                 BIGSERIAL PRIMARY KEY,
	account_id         BIGINT NOT NULL,
	account_payment_id BIGINT NOT NULL,
	ptp_date           DATE NOT NULL,
	ptp_amount         NUMERIC(18,2) NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_lending_ptp_account ON lending.ptp(account_id, ptp_date);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// MigrateSource creates the lending source tables.
func (s *PostgresStore) MigrateSource(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, sourceMigration)
	return eris.Wrap(err, "postgres: migrate source")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// dateOnly truncates t to its calendar date in its own location, returned in
// UTC so DATE parameters do not shift.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
