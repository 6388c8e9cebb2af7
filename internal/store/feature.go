package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/model"
)

func (s *PostgresStore) GetFeatureSetting(ctx context.Context, name string) (*model.FeatureSetting, error) {
	var fs model.FeatureSetting
	var params []byte
	err := s.pool.QueryRow(ctx,
		`SELECT name, is_active, parameters FROM dialer.feature_settings WHERE name = $1`,
		name,
	).Scan(&fs.Name, &fs.IsActive, &params)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFeatureNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get feature setting %s", name)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fs.Parameters); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal feature parameters %s", name)
		}
	}
	return &fs, nil
}

func (s *PostgresStore) UpsertFeatureSetting(ctx context.Context, fs model.FeatureSetting) error {
	params := fs.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal feature parameters")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dialer.feature_settings (name, is_active, parameters, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE SET is_active = $2, parameters = $3, updated_at = now()`,
		fs.Name, fs.IsActive, paramsJSON,
	)
	return eris.Wrapf(err, "postgres: upsert feature setting %s", fs.Name)
}
