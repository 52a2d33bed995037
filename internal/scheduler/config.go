package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/repairpay/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled        bool
	RunInterval    time.Duration
	RelayBatchSize int
	// RelayGrace skips rows younger than this so the inline relay after
	// commit gets the first chance to publish them.
	RelayGrace  time.Duration
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RunInterval:    30 * time.Second,
		RelayBatchSize: 100,
		RelayGrace:     10 * time.Second,
		JobTimeout:     30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.Enabled = cfg.SchedulerEnabled
	if cfg.SchedulerIntervalSecs > 0 {
		out.RunInterval = time.Duration(cfg.SchedulerIntervalSecs) * time.Second
	}
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RelayBatchSize <= 0 {
		c.RelayBatchSize = defaults.RelayBatchSize
	}
	if c.RelayGrace < 0 {
		c.RelayGrace = 0
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func (c Config) isJobEnabled(name string) bool {
	if len(c.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range c.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}
