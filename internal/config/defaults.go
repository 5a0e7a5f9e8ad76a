package config

const (
	// BackendLocal runs job units as local subprocesses.
	BackendLocal = "local"
	// BackendSlurm submits job units as SLURM array jobs.
	BackendSlurm = "slurm"
)

const (
	defaultConfigPath          = "~/.config/poseflow/config.toml"
	defaultWorkDir             = "~/.local/share/poseflow/work"
	defaultLogDir              = "~/.local/share/poseflow/logs"
	defaultStorageFormat       = "json"
	defaultBackend             = BackendLocal
	defaultMaxConcurrentJobs   = 4
	defaultPollIntervalSeconds = 10
	defaultRetries             = 3
	defaultRetryBackoffSeconds = 2
	defaultMaxArrayParallel    = 100
	defaultSbatchBinary        = "sbatch"
	defaultSacctBinary         = "sacct"
	defaultScancelBinary       = "scancel"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Storage: Storage{
			Format:      defaultStorageFormat,
			Checkpoints: true,
		},
		Jobs: Jobs{
			Backend:           defaultBackend,
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
		},
		Cluster: Cluster{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			Retries:             defaultRetries,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
			MaxArrayParallel:    defaultMaxArrayParallel,
			SbatchBinary:        defaultSbatchBinary,
			SacctBinary:         defaultSacctBinary,
			ScancelBinary:       defaultScancelBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
