package postgres

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id BIGSERIAL PRIMARY KEY,
    name TEXT,
    owner TEXT,
    settings TEXT,
    details TEXT,
    creation TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'Initialized'
);

CREATE TABLE IF NOT EXISTS tasks (
    id BIGSERIAL PRIMARY KEY,
    run_id BIGINT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    annotation TEXT,
    settings TEXT,
    status TEXT NOT NULL DEFAULT 'initialized',
    result TEXT,
    result_details TEXT,
    duration_ms BIGINT
);

CREATE INDEX IF NOT EXISTS idx_tasks_run_status ON tasks (run_id, status, id);
CREATE INDEX IF NOT EXISTS idx_runs_creation ON runs (creation DESC, id DESC);

CREATE TABLE IF NOT EXISTS audit_events (
    event_id BIGSERIAL PRIMARY KEY,
    occurred_at TIMESTAMPTZ NOT NULL,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    request_id TEXT,
    ip TEXT,
    user_agent TEXT,
    payload JSONB NOT NULL,
    integrity_sha256 TEXT NOT NULL
);
`

// EnsureSchema creates the store tables when they do not exist yet. Safe to
// run on every start.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
