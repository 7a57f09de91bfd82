// Package store defines the storage collaborators of a live call: the
// conversation history the assistant reads for context and the artifact store
// that holds generated documents and the voice log.
//
// The interfaces are public so that alternative backends can be supplied
// without depending on livecall internals. This module ships an in-memory
// store, PostgreSQL, Badger (embedded) and Redis implementations.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ArtifactKind classifies an artifact's content.
type ArtifactKind string

const (
	KindDocument ArtifactKind = "document"
	KindCode     ArtifactKind = "code"
)

// Source records how an artifact came to exist.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceUploaded  Source = "uploaded"
)

// Conversation is the metadata of one chat session.
type Conversation struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Title       string    `json:"title"`
	LastPreview string    `json:"last_preview,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one text turn of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// Artifact is a named file scoped to a conversation. Names are unique within a
// conversation.
type Artifact struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Name           string       `json:"name"`
	Kind           ArtifactKind `json:"kind"`
	MIMEType       string       `json:"mime_type"`
	Source         Source       `json:"source"`
	Content        []byte       `json:"content"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ArtifactStore holds artifacts keyed by conversation and name.
type ArtifactStore interface {
	// ReadArtifact returns the artifact called name, or [ErrNotFound].
	ReadArtifact(ctx context.Context, conversationID, name string) (*Artifact, error)

	// AppendArtifact appends tail to the content of the artifact named a.Name
	// in a.ConversationID. If no such artifact exists, a is stored with
	// a.Content followed by tail. The append is atomic with respect to other
	// appends on the same artifact.
	AppendArtifact(ctx context.Context, a Artifact, tail []byte) error

	// SaveArtifact stores a, replacing the content of an existing artifact
	// with the same name.
	SaveArtifact(ctx context.Context, a Artifact) error

	// ListArtifacts returns the conversation's artifacts ordered by creation.
	ListArtifacts(ctx context.Context, conversationID string) ([]Artifact, error)
}

// HistoryStore serves conversation metadata and text history.
type HistoryStore interface {
	// RecentMessages returns up to limit of the newest messages of the
	// conversation in chronological order (oldest first).
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Conversation returns the metadata of one conversation, or [ErrNotFound].
	Conversation(ctx context.Context, conversationID string) (*Conversation, error)

	// ProjectConversations returns every conversation in the project.
	ProjectConversations(ctx context.Context, projectID string) ([]Conversation, error)

	// PutConversation creates or replaces conversation metadata.
	PutConversation(ctx context.Context, c Conversation) error

	// AppendMessage adds a message to its conversation.
	AppendMessage(ctx context.Context, m Message) error
}

// Store combines both collaborators. Backends implement all of it.
type Store interface {
	ArtifactStore
	HistoryStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
