// Package config loads, normalizes, and validates poseflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// POSEFLOW_WORK_DIR and SLURM_PARTITION. The Config type centralizes every
// knob the CLI and the workflow package need: the working directory, the
// checkpoint format, and the job backend options.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical format names, and clear validation errors.
package config
