package scheduler

import (
	"time"

	"github.com/smallbiznis/creatorops/internal/config"
)

// Config controls the scheduler loop. The sweep interval itself comes from
// the engine config and is re-read after every run.
type Config struct {
	JobTimeout  time.Duration
	EnabledJobs []string
	Disabled    bool
}

func DefaultConfig() Config {
	return Config{
		JobTimeout: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		JobTimeout:  time.Duration(cfg.Scheduler.JobTimeoutSeconds) * time.Second,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
		Disabled:    cfg.Scheduler.Disabled,
	}.withDefaults()
}
