package crew

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/untoldecay/pi-messenger/internal/paths"
)

func init() {
	// Cap the wasm sqlite runtime at 64 MiB so a runaway query cannot
	// balloon the host process.
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithMemoryLimitPages(1024)
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    agent_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    exit_code INTEGER NOT NULL DEFAULT 0,
    output_bytes INTEGER NOT NULL DEFAULT 0,
    truncated INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id);
`

// RunRecord is one worker invocation in the run index.
type RunRecord struct {
	RunID       string
	TaskID      string
	AgentName   string
	Role        string
	StartedAt   time.Time
	FinishedAt  time.Time
	ExitCode    int
	OutputBytes int
	Truncated   bool
	Error       string
}

// ArtifactLog indexes worker runs in crew/artifacts/runs.db and owns
// cleanup of aged artifact directories.
type ArtifactLog struct {
	db  *sql.DB
	dir string
}

func runsConnString(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// OpenArtifactLog opens (creating if needed) the run index for a
// project.
func OpenArtifactLog(projectDir string) (*ArtifactLog, error) {
	dir := paths.ArtifactsDir(projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", runsConnString(filepath.Join(dir, "runs.db")))
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run index: %w", err)
	}
	return &ArtifactLog{db: db, dir: dir}, nil
}

// Close releases the database handle.
func (l *ArtifactLog) Close() error { return l.db.Close() }

// RecordRun appends one run row.
func (l *ArtifactLog) RecordRun(r *RunRecord) error {
	truncated := 0
	if r.Truncated {
		truncated = 1
	}
	_, err := l.db.Exec(`
		INSERT INTO runs (run_id, task_id, agent_name, role, started_at, finished_at, exit_code, output_bytes, truncated, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TaskID, r.AgentName, r.Role,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.ExitCode, r.OutputBytes, truncated, r.Error,
	)
	return err
}

// RecentRuns returns the newest runs first, up to limit.
func (l *ArtifactLog) RecentRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(`
		SELECT run_id, task_id, agent_name, role, started_at, finished_at, exit_code, output_bytes, truncated, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		var truncated int
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.AgentName, &r.Role, &started, &finished,
			&r.ExitCode, &r.OutputBytes, &truncated, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		r.Truncated = truncated != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// TaskRuns returns every indexed run for one task, newest first.
func (l *ArtifactLog) TaskRuns(taskID string) ([]*RunRecord, error) {
	rows, err := l.db.Query(`
		SELECT run_id, task_id, agent_name, role, started_at, finished_at, exit_code, output_bytes, truncated, error
		FROM runs WHERE task_id = ? ORDER BY started_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		var truncated int
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.AgentName, &r.Role, &started, &finished,
			&r.ExitCode, &r.OutputBytes, &truncated, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		r.Truncated = truncated != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Cleanup deletes index rows and artifact run directories older than
// the cutoff. Returns the number of directories removed.
func (l *ArtifactLog) Cleanup(olderThan time.Time) (int, error) {
	cutoff := olderThan.UTC().Format(time.RFC3339Nano)
	if _, err := l.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(olderThan) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
