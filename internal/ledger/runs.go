package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"poseflow/internal/jobs"
	"poseflow/internal/stage"
)

// ErrRunNotFound is returned for run ids the ledger has never seen.
var ErrRunNotFound = errors.New("stage run not found")

var _ stage.Recorder = (*Store)(nil)

const runColumns = `r.id, r.stage, r.prefix, r.backend, r.units, r.state, r.detail,
    r.started_at, r.updated_at, r.finished_at,
    (SELECT COUNT(1) FROM unit_results u WHERE u.run_id = r.id AND u.status = 'failure')`

// StartRun inserts a run in the pending state.
func (s *Store) StartRun(ctx context.Context, run stage.RunInfo) error {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	err := s.exec(ctx,
		`INSERT INTO stage_runs (id, stage, prefix, backend, units, state, started_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Stage, run.Prefix, run.Backend, run.Units, string(stage.StatePending),
		formatTime(started), formatTime(started),
	)
	if err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// RecordState moves a run to state. Terminal states also stamp finished_at.
func (s *Store) RecordState(ctx context.Context, runID string, state stage.State, detail string) error {
	now := formatTime(time.Now())
	var finished any
	if state.Terminal() || state.Succeeded() {
		finished = now
	}
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`UPDATE stage_runs SET state = ?, detail = ?, updated_at = ?, finished_at = COALESCE(?, finished_at)
            WHERE id = ?`,
			string(state), nullableString(detail), now, finished, runID,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update stage run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordResults stores one row per result. Recording the same identity
// again for a run replaces the earlier row.
func (s *Store) RecordResults(ctx context.Context, runID, batch string, results []jobs.Result) error {
	if len(results) == 0 {
		return nil
	}
	now := formatTime(time.Now())
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin results tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO unit_results
            (run_id, batch, identity, status, exit_code, diagnostic, primary_output, recorded_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare results insert: %w", err)
		}
		defer stmt.Close()

		for _, result := range results {
			if _, err := stmt.ExecContext(ctx,
				runID, batch, result.Identity, string(result.Status), result.ExitCode,
				nullableString(result.Diagnostic), nullableString(result.PrimaryOutput()), now,
			); err != nil {
				return fmt.Errorf("insert result %s: %w", result.Identity, err)
			}
		}
		return tx.Commit()
	})
}

// Runs lists the most recent runs first. A limit of zero lists all runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM stage_runs r ORDER BY r.started_at DESC, r.rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns a single run by id.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM stage_runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// UnitResults lists the recorded results of a run in identity order. When
// failedOnly is set only failures are returned.
func (s *Store) UnitResults(ctx context.Context, runID string, failedOnly bool) ([]UnitResult, error) {
	query := `SELECT run_id, batch, identity, status, exit_code, diagnostic, primary_output, recorded_at
        FROM unit_results WHERE run_id = ?`
	if failedOnly {
		query += ` AND status = 'failure'`
	}
	query += ` ORDER BY identity`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list unit results: %w", err)
	}
	defer rows.Close()

	var results []UnitResult
	for rows.Next() {
		var (
			result     UnitResult
			diagnostic sql.NullString
			primary    sql.NullString
			recorded   string
		)
		if err := rows.Scan(&result.RunID, &result.Batch, &result.Identity, &result.Status,
			&result.ExitCode, &diagnostic, &primary, &recorded); err != nil {
			return nil, err
		}
		result.Diagnostic = diagnostic.String
		result.PrimaryOutput = primary.String
		if t, err := parseTimeString(recorded); err == nil {
			result.RecordedAt = t
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Prune deletes runs that started before cutoff together with their unit
// results and returns how many runs were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	before := formatTime(cutoff)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM unit_results WHERE run_id IN (SELECT id FROM stage_runs WHERE started_at < ?)`, before); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM stage_runs WHERE started_at < ?`, before)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("prune stage runs: %w", err)
	}
	return removed, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run         Run
		state       string
		detail      sql.NullString
		startedRaw  string
		updatedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.Stage, &run.Prefix, &run.Backend, &run.Units, &state, &detail,
		&startedRaw, &updatedRaw, &finishedRaw, &run.Failed); err != nil {
		return Run{}, err
	}
	run.State = stage.State(state)
	run.Detail = detail.String
	if t, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = t
	}
	if finishedRaw.Valid {
		if t, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return run, nil
}
