package store

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a random identifier for a new record.
func NewID() string { return uuid.New().String() }

// PrepareArtifact fills the identifier and timestamps of a new artifact.
// Backends call it before the first write.
func PrepareArtifact(a *Artifact, now time.Time) {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
}

// PrepareMessage fills the identifier and timestamp of a new message.
func PrepareMessage(m *Message, now time.Time) {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
}
