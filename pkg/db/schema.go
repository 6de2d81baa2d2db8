package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Runs: one row per pipeline run
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    entities INTEGER DEFAULT 0,
    downloads_attempted INTEGER DEFAULT 0,
    downloads_succeeded INTEGER DEFAULT 0,
    optimized INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Entities: ranked aggregates selected during a run
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    entity_key TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    image_count INTEGER NOT NULL,
    video_count INTEGER NOT NULL,
    score REAL NOT NULL,
    rank INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
    UNIQUE(run_id, entity_key)
);

CREATE INDEX IF NOT EXISTS idx_entities_run ON entities(run_id);

-- Fetches: every download attempt made during a run
CREATE TABLE IF NOT EXISTS fetches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    entity_key TEXT NOT NULL,
    url TEXT NOT NULL,
    local_path TEXT,
    attempts INTEGER NOT NULL,
    from_cache BOOLEAN DEFAULT 0,
    error TEXT,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_fetches_run ON fetches(run_id);
CREATE INDEX IF NOT EXISTS idx_fetches_entity ON fetches(run_id, entity_key);
`
