// Package dialer runs the collections dialer pipeline: populate eligible
// accounts into batches, construct vendor records, send them to AI Rudder
// and reconcile call results back.
package dialer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/config"
	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/store"
)

// Settings are the effective runtime parameters after the feature setting
// has been applied on top of config.
type Settings struct {
	Active        bool
	PopulateCron  string
	SendCron      string
	SweepCron     string
	BatchSize     int
	SendBatchSize int
}

// FeatureReader loads a feature setting by name.
type FeatureReader interface {
	GetFeatureSetting(ctx context.Context, name string) (*model.FeatureSetting, error)
}

// LoadSettings resolves Settings. A missing feature setting leaves the
// config values in force; an inactive one disables the pipeline.
func LoadSettings(ctx context.Context, fr FeatureReader, cfg config.DialerConfig) (Settings, error) {
	s := Settings{
		Active:        true,
		PopulateCron:  cfg.PopulateCron,
		SendCron:      cfg.SendCron,
		SweepCron:     cfg.SweepCron,
		BatchSize:     cfg.BatchSize,
		SendBatchSize: cfg.SendBatchSize,
	}
	if cfg.FeatureName == "" {
		return s, nil
	}

	fs, err := fr.GetFeatureSetting(ctx, cfg.FeatureName)
	if errors.Is(err, store.ErrFeatureNotFound) {
		return s, nil
	}
	if err != nil {
		return s, eris.Wrapf(err, "dialer: load feature setting %s", cfg.FeatureName)
	}

	s.Active = fs.IsActive
	s.PopulateCron = stringParam(fs.Parameters, "populate_cron", s.PopulateCron)
	s.SendCron = stringParam(fs.Parameters, "send_cron", s.SendCron)
	s.SweepCron = stringParam(fs.Parameters, "sweep_cron", s.SweepCron)
	s.BatchSize = intParam(fs.Parameters, "batch_size", s.BatchSize)
	s.SendBatchSize = intParam(fs.Parameters, "send_batch_size", s.SendBatchSize)
	return s, nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	var n int
	switch v := params[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	default:
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}
