package scratch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-cli/internal/config"
)

func TestBatchKey(t *testing.T) {
	date := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "populated:2026-10-17:rank_3:batch_2", BatchKey(date, 3, 2))
	assert.Equal(t, "populated:2026-10-17", DatePrefix(date))
}

func TestNew_SQLite(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scratch.Driver = "sqlite"
	cfg.Scratch.SQLitePath = filepath.Join(t.TempDir(), "s.db")

	st, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	require.NoError(t, st.SetIDs(context.Background(), "k", []int64{1}, time.Hour))
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scratch.Driver = "memcached"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestDecodeIDs_Invalid(t *testing.T) {
	_, err := decodeIDs([]byte("{"))
	assert.Error(t, err)
}
