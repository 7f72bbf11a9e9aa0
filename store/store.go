// Package store persists simulation runs, their history samples and state
// snapshots in a SQLite database.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/sim"
	"github.com/pthm-cable/grainsim/telemetry"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	model       TEXT NOT NULL,
	seed        INTEGER NOT NULL,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	depth       INTEGER NOT NULL,
	arbitration TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	finished_at TEXT,
	steps       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS samples (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step      INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	series_id INTEGER NOT NULL,
	name      TEXT NOT NULL,
	value     REAL NOT NULL,
	PRIMARY KEY (run_id, step, kind, series_id)
);
CREATE TABLE IF NOT EXISTS snapshots (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step    INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (run_id, step)
);
`

// Run describes a stored simulation run.
type Run struct {
	ID          string     `json:"id"`
	Model       string     `json:"model"`
	Seed        uint64     `json:"seed"`
	Grid        grid.Grid  `json:"grid"`
	Arbitration string     `json:"arbitration"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Steps       int        `json:"steps"`
}

// Store is a SQLite-backed run store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// CreateRun records a new run and returns its id.
func (s *Store) CreateRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model, seed, width, height, depth, arbitration, created_at, steps)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Model, int64(r.Seed), r.Grid.Width, r.Grid.Height, r.Grid.Depth,
		r.Arbitration, r.CreatedAt.Format(time.RFC3339Nano), r.Steps)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.ID, nil
}

// AppendSamples stores history rows for a run in one transaction.
func (s *Store) AppendSamples(ctx context.Context, runID string, rows []telemetry.HistoryRow) (retErr error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO samples (run_id, step, kind, series_id, name, value) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, r.Step, r.Kind, r.ID, r.Name, r.Value); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FinishRun marks a run complete after steps steps.
func (s *Store) FinishRun(ctx context.Context, runID string, steps int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, steps = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), steps, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// SaveSnapshot stores snap under its step for the run.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, snap *sim.Snapshot) error {
	var buf bytes.Buffer
	if err := snap.WriteJSON(&buf); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (run_id, step, payload) VALUES (?, ?, ?)`,
		runID, snap.Step, buf.Bytes())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the run's snapshot at step, or the latest one when
// step is negative.
func (s *Store) LoadSnapshot(ctx context.Context, runID string, step int) (*sim.Snapshot, error) {
	var row *sql.Row
	if step < 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT payload FROM snapshots WHERE run_id = ? ORDER BY step DESC LIMIT 1`, runID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT payload FROM snapshots WHERE run_id = ? AND step = ?`, runID, step)
	}
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("snapshot %s@%d: %w", runID, step, ErrNotFound)
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return sim.ReadSnapshot(bytes.NewReader(payload))
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Samples returns a run's history rows ordered by step, kind and series.
// Grain rows sort before field rows within a step.
func (s *Store) Samples(ctx context.Context, runID string) ([]telemetry.HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, kind, series_id, name, value FROM samples WHERE run_id = ?
		 ORDER BY step, CASE kind WHEN 'grain' THEN 0 ELSE 1 END, series_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []telemetry.HistoryRow
	for rows.Next() {
		var r telemetry.HistoryRow
		if err := rows.Scan(&r.Step, &r.Kind, &r.ID, &r.Name, &r.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const runColumns = `id, model, seed, width, height, depth, arbitration, created_at, finished_at, steps`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r        Run
		seed     int64
		created  string
		finished sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Model, &seed, &r.Grid.Width, &r.Grid.Height, &r.Grid.Depth,
		&r.Arbitration, &created, &finished, &r.Steps); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r.CreatedAt = t
	if finished.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		r.FinishedAt = &ft
	}
	return &r, nil
}
