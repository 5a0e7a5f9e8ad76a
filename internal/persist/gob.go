package persist

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"poseflow/internal/fileutil"
	"poseflow/internal/poses"
)

type gobTable struct {
	Columns []gobColumn
	Rows    []gobRow
}

type gobColumn struct {
	Name string
	Kind uint8
}

type gobRow struct {
	Identity    string
	OriginPath  string
	CurrentPath string
	Cells       []gobCell
}

type gobCell struct {
	Column string
	Number float64
	Text   string
	Kind   uint8
}

func saveGob(store *poses.Store, path string) error {
	var table gobTable
	cols := store.Columns()
	for _, col := range cols {
		table.Columns = append(table.Columns, gobColumn{Name: col.Name, Kind: uint8(col.Kind)})
	}
	for _, rec := range store.Records() {
		row := gobRow{Identity: rec.Identity, OriginPath: rec.OriginPath, CurrentPath: rec.CurrentPath}
		for _, col := range cols {
			value := rec.Value(col.Name)
			if value.IsMissing() {
				continue
			}
			cell := gobCell{Column: col.Name, Kind: uint8(value.Kind())}
			cell.Number, _ = value.Float()
			cell.Text, _ = value.Str()
			row.Cells = append(row.Cells, cell)
		}
		table.Rows = append(table.Rows, row)
	}
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(table)
	})
}

func loadGob(path string) (*poses.Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var table gobTable
	if err := gob.NewDecoder(file).Decode(&table); err != nil {
		return nil, fmt.Errorf("decode gob: %w", err)
	}
	cols := make([]poses.Column, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = poses.Column{Name: col.Name, Kind: poses.Kind(col.Kind)}
	}
	records := make([]poses.Record, len(table.Rows))
	for i, row := range table.Rows {
		if row.Identity == "" {
			return nil, &SchemaError{Path: path, Missing: []string{poses.ColumnIdentity}}
		}
		rec := poses.Record{
			Identity:    row.Identity,
			OriginPath:  row.OriginPath,
			CurrentPath: row.CurrentPath,
			Scores:      make(map[string]poses.Value, len(row.Cells)),
		}
		for _, cell := range row.Cells {
			switch poses.Kind(cell.Kind) {
			case poses.KindNumber:
				rec.Scores[cell.Column] = poses.Number(cell.Number)
			case poses.KindText:
				rec.Scores[cell.Column] = poses.Text(cell.Text)
			}
		}
		records[i] = rec
	}
	return poses.FromRows(cols, records)
}
