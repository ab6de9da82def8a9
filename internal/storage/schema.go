package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied by Migrate. Statements are idempotent so the command can
// run on every deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS assistants (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		model        TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		tools        JSONB,
		file_ids     TEXT[],
		metadata     JSONB,
		created_at   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		file_ids   TEXT[],
		metadata   JSONB,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		thread_id    TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		role         TEXT NOT NULL,
		content      JSONB,
		assistant_id TEXT,
		run_id       TEXT,
		file_ids     TEXT[],
		metadata     JSONB,
		seq          BIGSERIAL,
		created_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_thread_seq ON messages (thread_id, seq)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		thread_id       TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		assistant_id    TEXT NOT NULL REFERENCES assistants(id),
		owner_id        TEXT NOT NULL,
		status          TEXT NOT NULL,
		required_action JSONB,
		last_error      JSONB,
		model           TEXT NOT NULL,
		instructions    TEXT NOT NULL DEFAULT '',
		tools           JSONB,
		file_ids        TEXT[],
		metadata        JSONB,
		created_at      BIGINT NOT NULL,
		expires_at      BIGINT NOT NULL DEFAULT 0,
		started_at      BIGINT NOT NULL DEFAULT 0,
		cancelled_at    BIGINT NOT NULL DEFAULT 0,
		failed_at       BIGINT NOT NULL DEFAULT 0,
		completed_at    BIGINT NOT NULL DEFAULT 0,
		version         BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS runs_thread ON runs (thread_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS runs_expiry ON runs (expires_at) WHERE status IN ('queued','running','requires_action','cancelling')`,
	`CREATE TABLE IF NOT EXISTS tool_calls (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		arguments   JSONB,
		output      TEXT,
		created_at  BIGINT NOT NULL,
		resolved_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS tool_calls_run ON tool_calls (run_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS functions (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		parameters  JSONB,
		created_at  BIGINT NOT NULL,
		UNIQUE (owner_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		filename   TEXT NOT NULL,
		purpose    TEXT NOT NULL DEFAULT '',
		bytes      BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		file_id      TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		sequence     INT NOT NULL,
		start_offset INT NOT NULL,
		end_offset   INT NOT NULL,
		text         TEXT NOT NULL,
		created_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chunks_file ON chunks (file_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS run_steps (
		id            TEXT PRIMARY KEY,
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		thread_id     TEXT NOT NULL,
		type          TEXT NOT NULL,
		status        TEXT NOT NULL,
		message_id    TEXT,
		tool_call_ids TEXT[],
		created_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS run_steps_run ON run_steps (run_id, created_at)`,
}

// Migrate applies the schema to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
