package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"poseflow/internal/poses"
)

// The sqlite layout keeps score column names and kinds in their own table and
// stores rows in insertion order, read back by rowid. Score columns live in
// positional fields because sqlite compares identifiers without case:
//
//	columns(name TEXT PRIMARY KEY, kind TEXT, position INTEGER, field TEXT UNIQUE)
//	poses(description TEXT UNIQUE, origin_path TEXT, current_path TEXT, score_0, score_1, ...)
func saveSQLite(store *poses.Store, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeSQLite(context.Background(), store, tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	committed = true
	return nil
}

func writeSQLite(ctx context.Context, store *poses.Store, path string) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close sqlite db: %w", closeErr)
		}
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cols := store.Columns()
	defs := []string{
		"description TEXT NOT NULL UNIQUE",
		"origin_path TEXT NOT NULL",
		"current_path TEXT NOT NULL",
	}
	names := append([]string(nil), requiredColumns...)
	for i, col := range cols {
		defs = append(defs, quoteIdent(scoreField(i))+" "+sqlType(col.Kind))
		names = append(names, scoreField(i))
	}
	statements := []string{
		"CREATE TABLE columns (name TEXT PRIMARY KEY, kind TEXT NOT NULL, position INTEGER NOT NULL, field TEXT NOT NULL UNIQUE)",
		"CREATE TABLE poses (" + strings.Join(defs, ", ") + ")",
	}
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	for i, col := range cols {
		if _, err = tx.ExecContext(ctx, "INSERT INTO columns (name, kind, position, field) VALUES (?, ?, ?, ?)", col.Name, col.Kind.String(), i, scoreField(i)); err != nil {
			return fmt.Errorf("insert column %s: %w", col.Name, err)
		}
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert, err := tx.PrepareContext(ctx, "INSERT INTO poses ("+strings.Join(quoted, ", ")+") VALUES ("+placeholders+")")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	for _, rec := range store.Records() {
		args := []any{rec.Identity, rec.OriginPath, rec.CurrentPath}
		for _, col := range cols {
			args = append(args, rec.Value(col.Name).Interface())
		}
		if _, err = insert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Identity, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func loadSQLite(path string) (*poses.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	defer db.Close()
	ctx := context.Background()

	present, err := tableColumns(ctx, db, "poses")
	if err != nil {
		return nil, err
	}
	if missing := missingRequired(present); len(missing) > 0 {
		return nil, &SchemaError{Path: path, Missing: missing}
	}

	stored, err := readColumnKinds(ctx, db)
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]bool, len(stored))
	for _, sc := range stored {
		mapped[sc.field] = true
	}
	for _, name := range present {
		if !mapped[name] && name != poses.ColumnIdentity && name != poses.ColumnOriginPath && name != poses.ColumnCurrentPath {
			stored = append(stored, storedColumn{Column: poses.Column{Name: name}, field: name})
		}
	}
	cols := make([]poses.Column, len(stored))
	for i, sc := range stored {
		cols[i] = sc.Column
	}

	selectCols := append([]string(nil), requiredColumns...)
	for _, sc := range stored {
		selectCols = append(selectCols, sc.field)
	}
	for i, name := range selectCols {
		selectCols[i] = quoteIdent(name)
	}
	rows, err := db.QueryContext(ctx, "SELECT "+strings.Join(selectCols, ", ")+" FROM poses ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var records []poses.Record
	for rows.Next() {
		var identity, origin, current string
		cells := make([]any, len(cols))
		dest := []any{&identity, &origin, &current}
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		rec := poses.Record{Identity: identity, OriginPath: origin, CurrentPath: current, Scores: make(map[string]poses.Value, len(cols))}
		for i, col := range cols {
			value, err := coerce(col, cells[i])
			if err != nil {
				return nil, err
			}
			rec.Scores[col.Name] = value
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poses: %w", err)
	}
	return poses.FromRows(cols, records)
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// storedColumn is a score column and the poses field holding it. Tables
// written by other tools have no columns table and use the name as field.
type storedColumn struct {
	poses.Column
	field string
}

func scoreField(position int) string {
	return fmt.Sprintf("score_%d", position)
}

func readColumnKinds(ctx context.Context, db *sql.DB) ([]storedColumn, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, kind, field FROM columns ORDER BY position")
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, nil
		}
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()
	var cols []storedColumn
	for rows.Next() {
		var name, kindName, field string
		if err := rows.Scan(&name, &kindName, &field); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		kind, err := poses.ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		cols = append(cols, storedColumn{Column: poses.Column{Name: name, Kind: kind}, field: field})
	}
	return cols, rows.Err()
}

func sqlType(kind poses.Kind) string {
	switch kind {
	case poses.KindNumber:
		return "REAL"
	case poses.KindText:
		return "TEXT"
	}
	return "BLOB"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
