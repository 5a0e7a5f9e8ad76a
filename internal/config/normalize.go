package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeJobs()
	c.normalizeCluster()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("POSEFLOW_WORK_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.WorkDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() {
	c.Storage.Format = strings.ToLower(strings.TrimSpace(c.Storage.Format))
	if c.Storage.Format == "" {
		c.Storage.Format = defaultStorageFormat
	}
}

func (c *Config) normalizeJobs() {
	c.Jobs.Backend = strings.ToLower(strings.TrimSpace(c.Jobs.Backend))
	if c.Jobs.Backend == "" {
		c.Jobs.Backend = defaultBackend
	}
	if c.Jobs.MaxConcurrentJobs <= 0 {
		c.Jobs.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
}

func (c *Config) normalizeCluster() {
	c.Cluster.Partition = strings.TrimSpace(c.Cluster.Partition)
	if c.Cluster.Partition == "" {
		if value, ok := os.LookupEnv("SLURM_PARTITION"); ok {
			c.Cluster.Partition = strings.TrimSpace(value)
		}
	}
	c.Cluster.SbatchBinary = strings.TrimSpace(c.Cluster.SbatchBinary)
	if c.Cluster.SbatchBinary == "" {
		c.Cluster.SbatchBinary = defaultSbatchBinary
	}
	c.Cluster.SacctBinary = strings.TrimSpace(c.Cluster.SacctBinary)
	if c.Cluster.SacctBinary == "" {
		c.Cluster.SacctBinary = defaultSacctBinary
	}
	c.Cluster.ScancelBinary = strings.TrimSpace(c.Cluster.ScancelBinary)
	if c.Cluster.ScancelBinary == "" {
		c.Cluster.ScancelBinary = defaultScancelBinary
	}
	if c.Cluster.MaxArrayParallel <= 0 {
		c.Cluster.MaxArrayParallel = defaultMaxArrayParallel
	}
	args := make([]string, 0, len(c.Cluster.ExtraArgs))
	for _, arg := range c.Cluster.ExtraArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.Cluster.ExtraArgs = args
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
