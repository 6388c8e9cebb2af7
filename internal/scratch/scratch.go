// Package scratch holds short-lived batch id lists between the populate and
// construct phases. Keys expire on their own; a missing key means the batch
// has to be populated again.
package scratch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/config"
)

// ErrNotFound is returned when a key is missing or expired.
var ErrNotFound = errors.New("scratch: key not found")

// Store is a TTL key-value store for id lists.
type Store interface {
	SetIDs(ctx context.Context, key string, ids []int64, ttl time.Duration) error
	GetIDs(ctx context.Context, key string) ([]int64, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// BatchKey names the scratch key for one populated batch.
func BatchKey(date time.Time, rank, batch int) string {
	return fmt.Sprintf("%s:rank_%d:batch_%d", DatePrefix(date), rank, batch)
}

// DatePrefix is the common prefix of every batch key for a task date.
func DatePrefix(date time.Time) string {
	return "populated:" + date.Format("2006-01-02")
}

// New opens the backend selected by cfg.Scratch.Driver.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Scratch.Driver {
	case "", "redis":
		return NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	case "sqlite":
		s, err := NewSQLite(cfg.Scratch.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("scratch: unknown driver %q", cfg.Scratch.Driver)
	}
}

func encodeIDs(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	return data, eris.Wrap(err, "scratch: encode ids")
}

func decodeIDs(data []byte) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, eris.Wrap(err, "scratch: decode ids")
	}
	return ids, nil
}
