// Package journal keeps a local SQLite record of the upload runs and
// searches issued from this machine. It never stores orchestrator state:
// a new process always starts idle, and the journal only answers "what
// happened", for `lk runs` and the history tab.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/abelbrown/lookalike/internal/search"
	"github.com/abelbrown/lookalike/internal/upload"
)

// Journal handles SQLite persistence. Safe for concurrent use.
type Journal struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Run is one upload run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while unfinished or after a crash
	Total      int
	Chunks     int
	Committed  int
	Outcome    string // "" until finished
	Err        string
}

// ChunkRecord is one committed chunk of a run.
type ChunkRecord struct {
	Index       int
	Size        int
	CommittedAt time.Time
}

// Search is one finished search.
type Search struct {
	ID        string
	Filename  string
	TopK      int
	Results   int
	ElapsedMs int64
	Err       string
	CreatedAt time.Time
}

// Totals aggregates the journal for the dashboard.
type Totals struct {
	Runs           int
	FailedRuns     int
	FilesCommitted int
	Searches       int
}

// Open creates a Journal at dbPath, creating tables if needed.
// ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Journal, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// A named shared-cache database lets every pooled connection see the
		// same data while keeping separate Opens isolated.
		connStr = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
		}
	}

	j := &Journal{db: db, now: time.Now}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create tables: %w", err)
	}
	return j, nil
}

func (j *Journal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total INTEGER NOT NULL,
		chunks INTEGER NOT NULL,
		committed INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS run_chunks (
		run_id TEXT NOT NULL REFERENCES runs(id),
		idx INTEGER NOT NULL,
		size INTEGER NOT NULL,
		committed_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, idx)
	);

	CREATE TABLE IF NOT EXISTS searches (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		top_k INTEGER NOT NULL,
		results INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_searches_created ON searches(created_at DESC);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// RunStarted records a new run.
func (j *Journal) RunStarted(runID string, total, chunks int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`INSERT INTO runs (id, started_at, total, chunks) VALUES (?, ?, ?, ?)`,
		runID, j.now().UTC(), total, chunks)
	if err != nil {
		return fmt.Errorf("journal: record run start: %w", err)
	}
	return nil
}

// ChunkCommitted records a chunk the backend accepted.
func (j *Journal) ChunkCommitted(runID string, index, size int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO run_chunks (run_id, idx, size, committed_at) VALUES (?, ?, ?, ?)`,
		runID, index, size, j.now().UTC()); err != nil {
		return fmt.Errorf("journal: record chunk: %w", err)
	}
	if _, err := tx.Exec(`UPDATE runs SET committed = committed + ? WHERE id = ?`, size, runID); err != nil {
		return fmt.Errorf("journal: update run: %w", err)
	}
	return tx.Commit()
}

// RunFinished stores a run's outcome. committed overrides the running
// chunk tally so the record always matches what the orchestrator reported.
func (j *Journal) RunFinished(runID string, outcome upload.Outcome, committed int, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.Exec(`UPDATE runs SET finished_at = ?, outcome = ?, committed = ?, error = ? WHERE id = ?`,
		j.now().UTC(), string(outcome), committed, errMsg, runID)
	if err != nil {
		return fmt.Errorf("journal: record run finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal: record run finish: unknown run %s", runID)
	}
	return nil
}

// SearchFinished records a finished search.
func (j *Journal) SearchFinished(r search.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := r.QueryID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := j.db.Exec(`INSERT OR REPLACE INTO searches (id, filename, top_k, results, elapsed_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, r.Filename, r.TopK, r.Results, r.Elapsed.Milliseconds(), r.Err, j.now().UTC())
	if err != nil {
		return fmt.Errorf("journal: record search: %w", err)
	}
	return nil
}

// Runs returns up to limit runs, newest first.
func (j *Journal) Runs(limit int) ([]Run, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.queryRuns(`SELECT id, started_at, finished_at, total, chunks, committed, outcome, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limitOrAll(limit))
}

// Run returns one run and its committed chunks in order.
func (j *Journal) Run(id string) (Run, []ChunkRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	runs, err := j.queryRuns(`SELECT id, started_at, finished_at, total, chunks, committed, outcome, error
		FROM runs WHERE id = ?`, id)
	if err != nil {
		return Run{}, nil, err
	}
	if len(runs) == 0 {
		return Run{}, nil, fmt.Errorf("journal: run %s: %w", id, sql.ErrNoRows)
	}

	rows, err := j.db.Query(`SELECT idx, size, committed_at FROM run_chunks WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return Run{}, nil, fmt.Errorf("journal: query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.Index, &c.Size, &c.CommittedAt); err != nil {
			return Run{}, nil, fmt.Errorf("journal: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return runs[0], chunks, rows.Err()
}

// Searches returns up to limit searches, newest first.
func (j *Journal) Searches(limit int) ([]Search, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Query(`SELECT id, filename, top_k, results, elapsed_ms, error, created_at
		FROM searches ORDER BY created_at DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query searches: %w", err)
	}
	defer rows.Close()

	var out []Search
	for rows.Next() {
		var s Search
		if err := rows.Scan(&s.ID, &s.Filename, &s.TopK, &s.Results, &s.ElapsedMs, &s.Err, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan search: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Totals aggregates runs and searches.
func (j *Journal) Totals() (Totals, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var t Totals
	err := j.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(committed), 0) FROM runs`).Scan(&t.Runs, &t.FailedRuns, &t.FilesCommitted)
	if err != nil {
		return Totals{}, fmt.Errorf("journal: totals: %w", err)
	}
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM searches`).Scan(&t.Searches); err != nil {
		return Totals{}, fmt.Errorf("journal: totals: %w", err)
	}
	return t, nil
}

func (j *Journal) queryRuns(query string, args ...any) ([]Run, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Total, &r.Chunks, &r.Committed, &r.Outcome, &r.Err); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

var (
	_ upload.Recorder = (*Journal)(nil)
	_ search.Recorder = (*Journal)(nil)
)
