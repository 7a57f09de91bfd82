// Package postgres provides a PostgreSQL-backed [store.Store].
//
// Conversations, messages and artifacts live in three tables sharing one
// [pgxpool.Pool]. Artifact appends are a single INSERT … ON CONFLICT statement,
// so concurrent appends to the voice log never lose data.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/livecall/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store implements [store.Store] on PostgreSQL.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ── Artifacts ────────────────────────────────────────────────────────────────

const artifactColumns = `id, conversation_id, name, kind, mime_type, source, content, created_at, updated_at`

// ReadArtifact implements [store.ArtifactStore].
func (s *Store) ReadArtifact(ctx context.Context, conversationID, name string) (*store.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM artifacts WHERE conversation_id = $1 AND name = $2`
	rows, err := s.pool.Query(ctx, q, conversationID, name)
	if err != nil {
		return nil, fmt.Errorf("postgres store: read artifact: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanArtifact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: read artifact: %w", err)
	}
	return &a, nil
}

// AppendArtifact implements [store.ArtifactStore].
func (s *Store) AppendArtifact(ctx context.Context, a store.Artifact, tail []byte) error {
	store.PrepareArtifact(&a, time.Now().UTC())
	if tail == nil {
		tail = []byte{}
	}
	initial := append(append([]byte(nil), a.Content...), tail...)

	const q = `
		INSERT INTO artifacts
		    (id, conversation_id, name, kind, mime_type, source, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (conversation_id, name) DO UPDATE
		    SET content    = artifacts.content || $10,
		        updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		a.ID, a.ConversationID, a.Name, string(a.Kind), a.MIMEType, string(a.Source),
		initial, a.CreatedAt, a.UpdatedAt, tail,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append artifact: %w", err)
	}
	return nil
}

// SaveArtifact implements [store.ArtifactStore].
func (s *Store) SaveArtifact(ctx context.Context, a store.Artifact) error {
	store.PrepareArtifact(&a, time.Now().UTC())
	if a.Content == nil {
		a.Content = []byte{}
	}

	const q = `
		INSERT INTO artifacts
		    (id, conversation_id, name, kind, mime_type, source, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (conversation_id, name) DO UPDATE
		    SET kind       = EXCLUDED.kind,
		        mime_type  = EXCLUDED.mime_type,
		        source     = EXCLUDED.source,
		        content    = EXCLUDED.content,
		        updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		a.ID, a.ConversationID, a.Name, string(a.Kind), a.MIMEType, string(a.Source),
		a.Content, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save artifact: %w", err)
	}
	return nil
}

// ListArtifacts implements [store.ArtifactStore].
func (s *Store) ListArtifacts(ctx context.Context, conversationID string) ([]store.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM artifacts WHERE conversation_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list artifacts: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanArtifact)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan artifacts: %w", err)
	}
	if list == nil {
		list = []store.Artifact{}
	}
	return list, nil
}

func scanArtifact(row pgx.CollectableRow) (store.Artifact, error) {
	var (
		a            store.Artifact
		kind, source string
	)
	err := row.Scan(&a.ID, &a.ConversationID, &a.Name, &kind, &a.MIMEType, &source, &a.Content, &a.CreatedAt, &a.UpdatedAt)
	a.Kind = store.ArtifactKind(kind)
	a.Source = store.Source(source)
	return a, err
}

// ── History ──────────────────────────────────────────────────────────────────

// RecentMessages implements [store.HistoryStore]. The newest limit messages
// are selected in descending order and returned oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	const q = `
		SELECT id, conversation_id, role, text, timestamp FROM (
		    SELECT id, conversation_id, role, text, timestamp
		    FROM   messages
		    WHERE  conversation_id = $1
		    ORDER  BY timestamp DESC, id DESC
		    LIMIT  $2
		) recent
		ORDER BY timestamp, id`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Message, error) {
		var (
			m    store.Message
			role string
		)
		err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &m.Timestamp)
		m.Role = store.Role(role)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}

// AppendMessage implements [store.HistoryStore].
func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	store.PrepareMessage(&m, time.Now().UTC())
	const q = `
		INSERT INTO messages (id, conversation_id, role, text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, q, m.ID, m.ConversationID, string(m.Role), m.Text, m.Timestamp); err != nil {
		return fmt.Errorf("postgres store: append message: %w", err)
	}
	return nil
}

// Conversation implements [store.HistoryStore].
func (s *Store) Conversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	const q = `SELECT id, project_id, title, last_preview, updated_at FROM conversations WHERE id = $1`
	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: conversation: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanConversation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: conversation: %w", err)
	}
	return &c, nil
}

// ProjectConversations implements [store.HistoryStore].
func (s *Store) ProjectConversations(ctx context.Context, projectID string) ([]store.Conversation, error) {
	const q = `
		SELECT id, project_id, title, last_preview, updated_at
		FROM   conversations
		WHERE  project_id = $1
		ORDER  BY updated_at, id`
	rows, err := s.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: project conversations: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanConversation)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan conversations: %w", err)
	}
	return list, nil
}

// PutConversation implements [store.HistoryStore].
func (s *Store) PutConversation(ctx context.Context, c store.Conversation) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO conversations (id, project_id, title, last_preview, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		    SET project_id   = EXCLUDED.project_id,
		        title        = EXCLUDED.title,
		        last_preview = EXCLUDED.last_preview,
		        updated_at   = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q, c.ID, c.ProjectID, c.Title, c.LastPreview, c.UpdatedAt); err != nil {
		return fmt.Errorf("postgres store: put conversation: %w", err)
	}
	return nil
}

func scanConversation(row pgx.CollectableRow) (store.Conversation, error) {
	var c store.Conversation
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.LastPreview, &c.UpdatedAt)
	return c, err
}
