package scheduler

import (
	"time"
)

// Config controls how often each maintenance job fires. The scheduler wakes
// up every TickInterval and runs whichever jobs are due.
type Config struct {
	TickInterval time.Duration

	ProxyHealthCheckInterval time.Duration
	QuotaResetInterval       time.Duration
	PaymentCleanupInterval   time.Duration
	PaymentPollInterval      time.Duration

	JobTimeout time.Duration

	// EnabledJobs restricts the scheduler to the named jobs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		TickInterval:             30 * time.Second,
		ProxyHealthCheckInterval: 5 * time.Minute,
		QuotaResetInterval:       24 * time.Hour,
		PaymentCleanupInterval:   time.Minute,
		PaymentPollInterval:      time.Minute,
		JobTimeout:               2 * time.Minute,
	}
}

func ProvideConfig() Config {
	return DefaultConfig()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.ProxyHealthCheckInterval <= 0 {
		c.ProxyHealthCheckInterval = defaults.ProxyHealthCheckInterval
	}
	if c.QuotaResetInterval <= 0 {
		c.QuotaResetInterval = defaults.QuotaResetInterval
	}
	if c.PaymentCleanupInterval <= 0 {
		c.PaymentCleanupInterval = defaults.PaymentCleanupInterval
	}
	if c.PaymentPollInterval <= 0 {
		c.PaymentPollInterval = defaults.PaymentPollInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
