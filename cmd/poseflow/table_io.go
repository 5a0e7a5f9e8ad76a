package main

import (
	"errors"
	"strings"

	"poseflow/internal/persist"
	"poseflow/internal/poses"
)

// tableFormat resolves an explicit --format value or infers one from path.
func tableFormat(path, format string) (persist.Format, error) {
	if strings.TrimSpace(format) != "" {
		return persist.ParseFormat(format)
	}
	return persist.FormatFromPath(path)
}

func loadTable(path, format string) (*poses.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("table path is required")
	}
	f, err := tableFormat(path, format)
	if err != nil {
		return nil, err
	}
	return persist.LoadFormat(path, f)
}

func saveTable(store *poses.Store, path, format string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("output path is required")
	}
	f, err := tableFormat(path, format)
	if err != nil {
		return err
	}
	return persist.Save(store, path, f)
}
