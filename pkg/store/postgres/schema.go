package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id           TEXT         PRIMARY KEY,
    project_id   TEXT         NOT NULL DEFAULT '',
    title        TEXT         NOT NULL DEFAULT '',
    last_preview TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_project_id
    ON conversations (project_id);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id              TEXT         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    role            TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
    ON messages (conversation_id, timestamp DESC);
`

const ddlArtifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
    id              TEXT         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    name            TEXT         NOT NULL,
    kind            TEXT         NOT NULL DEFAULT 'document',
    mime_type       TEXT         NOT NULL DEFAULT '',
    source          TEXT         NOT NULL DEFAULT '',
    content         BYTEA        NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (conversation_id, name)
);
`

// Migrate creates every table and index the store needs. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlConversations, ddlMessages, ddlArtifacts} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
