package persist

import (
	"fmt"
	"path/filepath"
	"strings"

	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
)

// Format names a table encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatSQLite Format = "sqlite"
	FormatGob    Format = "gob"
)

// Formats lists supported formats.
var Formats = []Format{FormatCSV, FormatJSON, FormatYAML, FormatSQLite, FormatGob}

// Extension is the file extension Save callers should use.
func (f Format) Extension() string {
	return "." + string(f)
}

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "sqlite", "sqlite3", "db":
		return FormatSQLite, nil
	case "gob":
		return FormatGob, nil
	}
	return "", pipeline.Wrap(pipeline.ErrConfiguration, "", "persist", fmt.Sprintf("unknown format %q", name), nil)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", pipeline.Wrap(pipeline.ErrConfiguration, "", "persist", fmt.Sprintf("cannot infer format of %s", path), nil)
	}
	return ParseFormat(ext)
}

// Save writes store to path in the given format.
func Save(store *poses.Store, path string, format Format) error {
	var err error
	switch format {
	case FormatCSV:
		err = saveCSV(store, path)
	case FormatJSON:
		err = saveJSON(store, path)
	case FormatYAML:
		err = saveYAML(store, path)
	case FormatSQLite:
		err = saveSQLite(store, path)
	case FormatGob:
		err = saveGob(store, path)
	default:
		_, err = ParseFormat(string(format))
		return err
	}
	if err != nil {
		return fmt.Errorf("save %s table %s: %w", format, path, err)
	}
	return nil
}

// Load reads a table, inferring the format from the extension.
func Load(path string) (*poses.Store, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return LoadFormat(path, format)
}

// LoadFormat reads a table in an explicit format.
func LoadFormat(path string, format Format) (*poses.Store, error) {
	var (
		store *poses.Store
		err   error
	)
	switch format {
	case FormatCSV:
		store, err = loadCSV(path)
	case FormatJSON:
		store, err = loadJSON(path)
	case FormatYAML:
		store, err = loadYAML(path)
	case FormatSQLite:
		store, err = loadSQLite(path)
	case FormatGob:
		store, err = loadGob(path)
	default:
		_, err = ParseFormat(string(format))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load %s table %s: %w", format, path, err)
	}
	return store, nil
}
