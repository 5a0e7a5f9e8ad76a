package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Storage controls how pose tables are checkpointed.
type Storage struct {
	Format      string `toml:"format"`
	Checkpoints bool   `toml:"checkpoints"`
}

// Jobs contains backend selection and batching options.
type Jobs struct {
	Backend            string `toml:"backend"`
	MaxConcurrentJobs  int    `toml:"max_concurrent_jobs"`
	BatchSize          int    `toml:"batch_size"`
	BatchCount         int    `toml:"batch_count"`
	WaitTimeoutSeconds int    `toml:"wait_timeout_seconds"`
}

// Cluster contains options for queue-based scheduler backends.
type Cluster struct {
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	Retries             int      `toml:"retries"`
	RetryBackoffSeconds int      `toml:"retry_backoff_seconds"`
	Partition           string   `toml:"partition"`
	MaxArrayParallel    int      `toml:"max_array_parallel"`
	SbatchBinary        string   `toml:"sbatch_binary"`
	SacctBinary         string   `toml:"sacct_binary"`
	ScancelBinary       string   `toml:"scancel_binary"`
	ExtraArgs           []string `toml:"extra_args"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for poseflow.
//
// Configuration sections by subsystem:
//   - Paths: working directory (checkpoints, stage outputs, ledger, lock) and logs
//   - Storage: checkpoint format
//   - Jobs: backend selection, concurrency cap, chunking policy, wait timeout
//   - Cluster: scheduler binaries, poll cadence, and transient retry policy
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Storage Storage `toml:"storage"`
	Jobs    Jobs    `toml:"jobs"`
	Cluster Cluster `toml:"cluster"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("poseflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CheckpointDir returns the directory stage checkpoints are written to.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.Paths.WorkDir, "checkpoints")
}

// LedgerPath returns the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.WorkDir, "poseflow.db")
}

// LockPath returns the work directory lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.WorkDir, ".poseflow.lock")
}

// SchedulerBinaries lists the scheduler executables the configured backend needs.
func (c *Config) SchedulerBinaries() []string {
	if c.Jobs.Backend != BackendSlurm {
		return nil
	}
	return []string{c.Cluster.SbatchBinary, c.Cluster.SacctBinary, c.Cluster.ScancelBinary}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
