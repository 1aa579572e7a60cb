package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "fieldbridge/pkg/logx"
)

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type cycleRow struct {
	RunID      string `db:"run_id"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
	Workspaces int    `db:"workspaces"`
	Tasks      int    `db:"tasks"`
	Documents  int    `db:"documents"`
	Fallbacks  int    `db:"fallbacks"`
	Success    int    `db:"success"`
	Failed     int    `db:"failed"`
	Error      string `db:"error"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &sqliteStore{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return s, nil
}

func (s *sqliteStore) runMigrations() error {
	current := 0
	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) AppendCycle(ctx context.Context, r CycleRecord) error {
	row := cycleRow{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt.UnixMilli(),
		FinishedAt: r.FinishedAt.UnixMilli(),
		Workspaces: r.Workspaces,
		Tasks:      r.Tasks,
		Documents:  r.Documents,
		Fallbacks:  r.Fallbacks,
		Success:    r.Success,
		Failed:     r.Failed,
		Error:      r.Error,
	}
	const query = `
INSERT INTO cycles (run_id, started_at, finished_at, workspaces, tasks, documents, fallbacks, success, failed, error)
VALUES (:run_id, :started_at, :finished_at, :workspaces, :tasks, :documents, :fallbacks, :success, :failed, :error)
ON CONFLICT(run_id) DO UPDATE SET
	finished_at = excluded.finished_at,
	workspaces = excluded.workspaces,
	tasks = excluded.tasks,
	documents = excluded.documents,
	fallbacks = excluded.fallbacks,
	success = excluded.success,
	failed = excluded.failed,
	error = excluded.error`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("inserting cycle %s: %w", r.RunID, err)
	}
	return nil
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (run_id, at, kind, task_id, ok) VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.At.UnixMilli(), r.Kind, r.TaskID, r.OK)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecentCycles(ctx context.Context, n int) ([]CycleRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []cycleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT run_id, started_at, finished_at, workspaces, tasks, documents, fallbacks, success, failed, error
		 FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	out := make([]CycleRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, CycleRecord{
			RunID:      r.RunID,
			StartedAt:  time.UnixMilli(r.StartedAt),
			FinishedAt: time.UnixMilli(r.FinishedAt),
			Workspaces: r.Workspaces,
			Tasks:      r.Tasks,
			Documents:  r.Documents,
			Fallbacks:  r.Fallbacks,
			Success:    r.Success,
			Failed:     r.Failed,
			Error:      r.Error,
		})
	}
	return out, nil
}
