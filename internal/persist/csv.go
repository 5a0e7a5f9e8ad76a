package persist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"poseflow/internal/fileutil"
	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
)

// kindsMarker opens the optional first record declaring score column kinds.
// Each further field is "<name>=<kind>"; the name may itself contain '='.
//
//	#kinds,relax_energy=number,relax_chain=text
const kindsMarker = "#kinds"

func saveCSV(store *poses.Store, path string) error {
	cols := store.Columns()
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if len(cols) > 0 {
			decls := []string{kindsMarker}
			for _, col := range cols {
				decls = append(decls, col.Name+"="+col.Kind.String())
			}
			if err := writer.Write(decls); err != nil {
				return err
			}
		}

		header := append([]string(nil), requiredColumns...)
		for _, col := range cols {
			header = append(header, col.Name)
		}
		if err := writer.Write(header); err != nil {
			return err
		}
		for _, rec := range store.Records() {
			line := []string{rec.Identity, rec.OriginPath, rec.CurrentPath}
			for _, col := range cols {
				line = append(line, rec.Value(col.Name).String())
			}
			if err := writer.Write(line); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	})
}

func loadCSV(path string) (*poses.Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// The kinds record and the table differ in width; rows are checked below.
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	var declared map[string]poses.Kind
	if err == nil && len(header) > 0 && header[0] == kindsMarker {
		if declared, err = parseKinds(header[1:]); err != nil {
			return nil, err
		}
		header, err = reader.Read()
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &SchemaError{Path: path, Missing: append([]string(nil), requiredColumns...)}
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if missing := missingRequired(header); len(missing) > 0 {
		return nil, &SchemaError{Path: path, Missing: missing}
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	for i, line := range rows {
		if len(line) != len(header) {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "load",
				fmt.Sprintf("row %d has %d fields, header has %d", i+1, len(line), len(header)), nil)
		}
	}

	position := make(map[string]int, len(header))
	var scoreNames []string
	for i, name := range header {
		if _, dup := position[name]; dup {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "load", fmt.Sprintf("duplicate column %q", name), nil)
		}
		position[name] = i
		if name != poses.ColumnIdentity && name != poses.ColumnOriginPath && name != poses.ColumnCurrentPath {
			scoreNames = append(scoreNames, name)
		}
	}

	cols := make([]poses.Column, len(scoreNames))
	for i, name := range scoreNames {
		kind, ok := declared[name]
		if !ok {
			kind = inferKind(rows, position[name])
		}
		cols[i] = poses.Column{Name: name, Kind: kind}
	}

	records := make([]poses.Record, 0, len(rows))
	for _, line := range rows {
		rec := poses.Record{
			Identity:    line[position[poses.ColumnIdentity]],
			OriginPath:  line[position[poses.ColumnOriginPath]],
			CurrentPath: line[position[poses.ColumnCurrentPath]],
			Scores:      make(map[string]poses.Value, len(cols)),
		}
		for _, col := range cols {
			raw := line[position[col.Name]]
			if raw == "" {
				continue
			}
			value, err := coerce(col, raw)
			if err != nil {
				return nil, err
			}
			rec.Scores[col.Name] = value
		}
		records = append(records, rec)
	}
	return poses.FromRows(cols, records)
}

func parseKinds(decls []string) (map[string]poses.Kind, error) {
	declared := make(map[string]poses.Kind, len(decls))
	for _, decl := range decls {
		idx := strings.LastIndex(decl, "=")
		if idx <= 0 {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "load", fmt.Sprintf("malformed kind declaration %q", decl), nil)
		}
		kind, err := poses.ParseKind(decl[idx+1:])
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "load", "kinds record", err)
		}
		declared[decl[:idx]] = kind
	}
	return declared, nil
}

// inferKind types an undeclared column: number when every present cell
// parses as a float, text otherwise.
func inferKind(rows [][]string, idx int) poses.Kind {
	kind := poses.KindMissing
	for _, line := range rows {
		cell := line[idx]
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return poses.KindText
		}
		kind = poses.KindNumber
	}
	return kind
}
