package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// migration is one named, idempotent schema step. Names sort
// lexicographically and define the apply order.
type migration struct {
	Name string
	SQL  string
}

// migrations is the ordered schema history. Append only; never edit an
// applied entry.
var migrations = []migration{
	{
		Name: "0001_core_tables",
		SQL: `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	settings    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title       TEXT NOT NULL DEFAULT '',
	summary     TEXT,
	round_count INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	round_number    INTEGER NOT NULL,
	speaker         TEXT NOT NULL,
	content         TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON conversation_messages(conversation_id, round_number, created_at);

CREATE TABLE IF NOT EXISTS project_files (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	path             TEXT NOT NULL,
	content          TEXT,
	content_location TEXT,
	content_hash     TEXT NOT NULL,
	mime_type        TEXT NOT NULL,
	size_bytes       INTEGER NOT NULL,
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE(project_id, path)
);

CREATE TABLE IF NOT EXISTS content_chunks (
	id          TEXT PRIMARY KEY,
	source_type TEXT NOT NULL CHECK (source_type IN ('file', 'conversation_message')),
	source_id   TEXT NOT NULL,
	project_id  TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '{}',
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON content_chunks(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_chunks_project ON content_chunks(project_id);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	},
	{
		Name: "0002_retrieval_index",
		SQL: `
CREATE VIRTUAL TABLE IF NOT EXISTS retrieval_index USING fts5(
	content,
	chunk_id UNINDEXED,
	project_id UNINDEXED,
	metadata UNINDEXED,
	tokenize='porter unicode61'
);
`,
	},
	{
		Name: "0003_cascade_triggers",
		SQL: `
-- Polymorphic (source_type, source_id) keys cannot be foreign keys, so
-- source-to-chunk cleanup runs through triggers.
CREATE TRIGGER IF NOT EXISTS trg_file_delete_chunks
AFTER DELETE ON project_files
BEGIN
	DELETE FROM content_chunks
	WHERE source_type = 'file' AND source_id = OLD.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_message_delete_chunks
AFTER DELETE ON conversation_messages
BEGIN
	DELETE FROM content_chunks
	WHERE source_type = 'conversation_message' AND source_id = OLD.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_chunk_delete_index
AFTER DELETE ON content_chunks
BEGIN
	DELETE FROM retrieval_index WHERE chunk_id = OLD.id;
END;
`,
	},
}

// migrate applies not-yet-recorded migrations in lexicographic order,
// each inside its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			name       TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	ordered := make([]migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, m := range ordered {
		if applied[m.Name] {
			continue
		}
		err := s.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("migration %s failed: %w", m.Name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO migrations (name, applied_at) VALUES (?, ?)`,
				m.Name, time.Now().UTC().Format(time.RFC3339Nano))
			return err
		})
		if err != nil {
			return err
		}
		s.logger.Info("migration applied", "name", m.Name)
	}
	return nil
}
