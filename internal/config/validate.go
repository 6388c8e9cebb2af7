package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings a command mode depends on are present
// and sane. Modes: "pipeline", "serve", "worker".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireDB := func() {
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	requireVendor := func() {
		if c.AIRudder.AppKey == "" {
			errs = append(errs, "airudder.app_key is required")
		}
		if c.AIRudder.AppSecret == "" {
			errs = append(errs, "airudder.app_secret is required")
		}
	}

	switch mode {
	case "pipeline", "worker":
		requireDB()
		requireVendor()
		if mode == "worker" && c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "serve":
		requireDB()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Dialer.BatchSize <= 0 {
		errs = append(errs, "dialer.batch_size must be > 0")
	}
	if c.Dialer.SendBatchSize <= 0 {
		errs = append(errs, "dialer.send_batch_size must be > 0")
	}
	if c.Dialer.ScratchTTLHours <= 0 {
		errs = append(errs, "dialer.scratch_ttl_hours must be > 0")
	}
	if c.Dialer.SweepWindowMins <= 0 || 60%c.Dialer.SweepWindowMins != 0 {
		errs = append(errs, "dialer.sweep_window_mins must divide 60")
	}
	switch c.Scratch.Driver {
	case "redis", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("scratch.driver %q must be redis or sqlite", c.Scratch.Driver))
	}

	seen := make(map[int]bool)
	for _, r := range c.Dialer.Ranks {
		if r.ID <= 0 {
			errs = append(errs, "dialer.ranks ids must be > 0")
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Sprintf("dialer.ranks duplicate id %d", r.ID))
		}
		seen[r.ID] = true
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
