package persist

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"poseflow/internal/pipeline"
	"poseflow/internal/poses"
)

var requiredColumns = []string{poses.ColumnIdentity, poses.ColumnOriginPath, poses.ColumnCurrentPath}

// document is the json and yaml layout.
type document struct {
	Columns []documentColumn `json:"columns" yaml:"columns"`
	Records []map[string]any `json:"records" yaml:"records"`
}

type documentColumn struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
}

func toDocument(store *poses.Store) document {
	doc := document{Columns: []documentColumn{}, Records: []map[string]any{}}
	cols := store.Columns()
	for _, col := range cols {
		doc.Columns = append(doc.Columns, documentColumn{Name: col.Name, Kind: col.Kind.String()})
	}
	for _, rec := range store.Records() {
		entry := map[string]any{
			poses.ColumnIdentity:    rec.Identity,
			poses.ColumnOriginPath:  rec.OriginPath,
			poses.ColumnCurrentPath: rec.CurrentPath,
		}
		for _, col := range cols {
			entry[col.Name] = documentCell(rec.Value(col.Name))
		}
		doc.Records = append(doc.Records, entry)
	}
	return doc
}

// documentCell returns the encodable form of v. JSON has no infinities, so
// they are written as "+Inf" and "-Inf", which coerce parses back for number
// columns.
func documentCell(v poses.Value) any {
	if f, ok := v.Float(); ok && math.IsInf(f, 0) {
		return v.String()
	}
	return v.Interface()
}

func fromDocument(path string, doc document) (*poses.Store, error) {
	cols := make([]poses.Column, 0, len(doc.Columns))
	for _, c := range doc.Columns {
		kind, err := poses.ParseKind(c.Kind)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrConfiguration, "", "load", "column "+c.Name, err)
		}
		cols = append(cols, poses.Column{Name: c.Name, Kind: kind})
	}
	records := make([]poses.Record, 0, len(doc.Records))
	for i, entry := range doc.Records {
		var missing []string
		for _, name := range requiredColumns {
			if _, ok := entry[name].(string); !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, &SchemaError{Path: fmt.Sprintf("%s record %d", path, i), Missing: missing}
		}
		rec := poses.Record{
			Identity:    entry[poses.ColumnIdentity].(string),
			OriginPath:  entry[poses.ColumnOriginPath].(string),
			CurrentPath: entry[poses.ColumnCurrentPath].(string),
			Scores:      make(map[string]poses.Value, len(cols)),
		}
		for _, col := range cols {
			value, err := coerce(col, entry[col.Name])
			if err != nil {
				return nil, err
			}
			rec.Scores[col.Name] = value
		}
		records = append(records, rec)
	}
	return poses.FromRows(cols, records)
}

// coerce decodes a raw cell under its column kind. Text cells that decoders
// turned into numbers and number cells stored as strings are both accepted.
func coerce(col poses.Column, raw any) (poses.Value, error) {
	if raw == nil {
		return poses.Missing(), nil
	}
	switch col.Kind {
	case poses.KindText:
		switch v := raw.(type) {
		case string:
			return poses.Text(v), nil
		case []byte:
			return poses.Text(string(v)), nil
		}
		value, err := poses.ValueOf(raw)
		if err != nil {
			return poses.Missing(), err
		}
		return poses.Text(value.String()), nil
	case poses.KindNumber:
		switch v := raw.(type) {
		case string:
			return parseNumber(col.Name, v)
		case []byte:
			return parseNumber(col.Name, string(v))
		}
	}
	value, err := poses.ValueOf(raw)
	if err != nil {
		return poses.Missing(), pipeline.Wrap(pipeline.ErrConfiguration, "", "load", "column "+col.Name, err)
	}
	return value, nil
}

func parseNumber(column, raw string) (poses.Value, error) {
	if raw == "" {
		return poses.Missing(), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return poses.Missing(), pipeline.Wrap(pipeline.ErrConfiguration, "", "load", fmt.Sprintf("column %s: %q is not a number", column, raw), nil)
	}
	return poses.Number(f), nil
}

func missingRequired(header []string) []string {
	var missing []string
	for _, name := range requiredColumns {
		if !slices.Contains(header, name) {
			missing = append(missing, name)
		}
	}
	return missing
}
