package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"poseflow/internal/config"
	"poseflow/internal/persist"
	"poseflow/internal/poses"
)

// checkpointer writes stage snapshots into the work directory.
type checkpointer struct {
	dir    string
	format persist.Format
}

func newCheckpointer(cfg *config.Config) (*checkpointer, error) {
	format, err := persist.ParseFormat(cfg.Storage.Format)
	if err != nil {
		return nil, err
	}
	return &checkpointer{dir: cfg.CheckpointDir(), format: format}, nil
}

func (c *checkpointer) path(prefix string) string {
	return filepath.Join(c.dir, prefix+c.format.Extension())
}

// Checkpoint implements stage.Checkpointer.
func (c *checkpointer) Checkpoint(_ context.Context, store *poses.Store, prefix string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}
	path := c.path(prefix)
	if err := persist.Save(store, path, c.format); err != nil {
		return "", err
	}
	return path, nil
}

// CheckpointPath is where the checkpoint of the stage with prefix lives.
func CheckpointPath(cfg *config.Config, prefix string) (string, error) {
	cp, err := newCheckpointer(cfg)
	if err != nil {
		return "", err
	}
	return cp.path(prefix), nil
}

// LoadCheckpoint restores the store saved after the stage with prefix.
func LoadCheckpoint(cfg *config.Config, prefix string) (*poses.Store, error) {
	cp, err := newCheckpointer(cfg)
	if err != nil {
		return nil, err
	}
	return persist.LoadFormat(cp.path(prefix), cp.format)
}
