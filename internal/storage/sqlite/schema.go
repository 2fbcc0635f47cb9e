package sqlite

// Timestamps are unix milliseconds so retention queries compare integers.
const schema = `
-- Runs table: one row per single-category optimization run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL DEFAULT '',
    document_path TEXT NOT NULL DEFAULT '',
    document_title TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    baseline_score REAL NOT NULL DEFAULT 0,
    final_score REAL NOT NULL DEFAULT 0,
    target_score REAL NOT NULL DEFAULT 0,
    improvement REAL NOT NULL DEFAULT 0,
    iterations INTEGER NOT NULL DEFAULT 0 CHECK(iterations >= 0),
    stop_reason TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL DEFAULT 0,
    degraded INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    metrics TEXT NOT NULL DEFAULT '{}',
    score_history TEXT NOT NULL DEFAULT '[]',
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_category ON runs(category);
CREATE INDEX IF NOT EXISTS idx_runs_group ON runs(group_id);

-- Events table: progress events, written while the run is still in flight,
-- so there is no foreign key to runs
CREATE TABLE IF NOT EXISTS run_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    iteration INTEGER NOT NULL DEFAULT 0,
    severity TEXT NOT NULL DEFAULT 'info',
    message TEXT NOT NULL DEFAULT '',
    percent INTEGER NOT NULL DEFAULT 0,
    score REAL NOT NULL DEFAULT 0,
    data TEXT NOT NULL DEFAULT '{}',
    timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, timestamp);
`
