package config

import (
	"errors"
	"fmt"
	"slices"
)

var supportedFormats = []string{"csv", "json", "yaml", "sqlite", "gob"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateCluster(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !slices.Contains(supportedFormats, c.Storage.Format) {
		return fmt.Errorf("storage.format %q is not supported (use one of %v)", c.Storage.Format, supportedFormats)
	}
	return nil
}

func (c *Config) validateJobs() error {
	switch c.Jobs.Backend {
	case BackendLocal, BackendSlurm:
	default:
		return fmt.Errorf("jobs.backend %q is not supported (use %q or %q)", c.Jobs.Backend, BackendLocal, BackendSlurm)
	}
	if c.Jobs.MaxConcurrentJobs <= 0 {
		return errors.New("jobs.max_concurrent_jobs must be positive")
	}
	if c.Jobs.BatchSize < 0 {
		return errors.New("jobs.batch_size must be >= 0")
	}
	if c.Jobs.BatchCount < 0 {
		return errors.New("jobs.batch_count must be >= 0")
	}
	if c.Jobs.BatchSize > 0 && c.Jobs.BatchCount > 0 {
		return errors.New("jobs.batch_size and jobs.batch_count are mutually exclusive")
	}
	if c.Jobs.WaitTimeoutSeconds < 0 {
		return errors.New("jobs.wait_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateCluster() error {
	if err := ensurePositiveMap(map[string]int{
		"cluster.poll_interval_seconds": c.Cluster.PollIntervalSeconds,
		"cluster.max_array_parallel":    c.Cluster.MaxArrayParallel,
	}); err != nil {
		return err
	}
	if c.Cluster.Retries < 0 {
		return errors.New("cluster.retries must be >= 0")
	}
	if c.Cluster.RetryBackoffSeconds < 0 {
		return errors.New("cluster.retry_backoff_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
