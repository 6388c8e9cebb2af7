package scratch

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file. Expired rows are
// invisible to reads and removed by Purge.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "scratch: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "scratch: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scratch_keys (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scratch_keys_expires_at ON scratch_keys(expires_at);
`

// Migrate creates the scratch table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "scratch: migrate sqlite")
}

func (s *SQLiteStore) SetIDs(ctx context.Context, key string, ids []int64, ttl time.Duration) error {
	data, err := encodeIDs(ids)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(ttl).UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scratch_keys (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, string(data), expiresAt,
	)
	return eris.Wrapf(err, "scratch: set %s", key)
}

func (s *SQLiteStore) GetIDs(ctx context.Context, key string) ([]int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM scratch_keys WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "scratch: get %s", key)
	}
	return decodeIDs([]byte(value))
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM scratch_keys WHERE key IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "scratch: delete")
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM scratch_keys WHERE key LIKE ? ESCAPE '\' AND expires_at > ? ORDER BY key`,
		escapeLike(prefix)+"%", s.now().UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "scratch: list keys")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "scratch: scan key")
		}
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "scratch: list keys iterate")
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scratch_keys WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "scratch: purge expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "scratch: rows affected")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
