// Package memstore is an in-memory implementation of [store.Store], used for
// development runs and tests. Contents are lost when the process exits.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/livecall/pkg/store"
)

var _ store.Store = (*Store)(nil)

type artifactKey struct {
	conversation string
	name         string
}

// Store keeps everything in maps guarded by a single RWMutex.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]store.Conversation
	messages      map[string][]store.Message
	artifacts     map[artifactKey]*store.Artifact
	order         map[string][]string // conversation -> artifact names by creation
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[string]store.Conversation),
		messages:      make(map[string][]store.Message),
		artifacts:     make(map[artifactKey]*store.Artifact),
		order:         make(map[string][]string),
	}
}

// ReadArtifact implements [store.ArtifactStore].
func (s *Store) ReadArtifact(_ context.Context, conversationID, name string) (*store.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactKey{conversationID, name}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneArtifact(a), nil
}

// AppendArtifact implements [store.ArtifactStore].
func (s *Store) AppendArtifact(_ context.Context, a store.Artifact, tail []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := artifactKey{a.ConversationID, a.Name}
	if cur, ok := s.artifacts[key]; ok {
		cur.Content = append(cur.Content, tail...)
		cur.UpdatedAt = now
		return nil
	}
	store.PrepareArtifact(&a, now)
	a.Content = append(slices.Clone(a.Content), tail...)
	s.insertLocked(key, &a)
	return nil
}

// SaveArtifact implements [store.ArtifactStore].
func (s *Store) SaveArtifact(_ context.Context, a store.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := artifactKey{a.ConversationID, a.Name}
	if cur, ok := s.artifacts[key]; ok {
		cur.Content = slices.Clone(a.Content)
		cur.Kind = a.Kind
		cur.MIMEType = a.MIMEType
		cur.Source = a.Source
		cur.UpdatedAt = now
		return nil
	}
	store.PrepareArtifact(&a, now)
	a.Content = slices.Clone(a.Content)
	s.insertLocked(key, &a)
	return nil
}

func (s *Store) insertLocked(key artifactKey, a *store.Artifact) {
	s.artifacts[key] = a
	s.order[key.conversation] = append(s.order[key.conversation], key.name)
}

// ListArtifacts implements [store.ArtifactStore].
func (s *Store) ListArtifacts(_ context.Context, conversationID string) ([]store.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Artifact, 0, len(s.order[conversationID]))
	for _, name := range s.order[conversationID] {
		out = append(out, *cloneArtifact(s.artifacts[artifactKey{conversationID, name}]))
	}
	return out, nil
}

// RecentMessages implements [store.HistoryStore].
func (s *Store) RecentMessages(_ context.Context, conversationID string, limit int) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

// Conversation implements [store.HistoryStore].
func (s *Store) Conversation(_ context.Context, conversationID string) (*store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// ProjectConversations implements [store.HistoryStore].
func (s *Store) ProjectConversations(_ context.Context, projectID string) ([]store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Conversation
	for _, c := range s.conversations {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b store.Conversation) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// PutConversation implements [store.HistoryStore].
func (s *Store) PutConversation(_ context.Context, c store.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	s.conversations[c.ID] = c
	return nil
}

// AppendMessage implements [store.HistoryStore]. Messages are kept in
// timestamp order.
func (s *Store) AppendMessage(_ context.Context, m store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	store.PrepareMessage(&m, time.Now().UTC())
	msgs := append(s.messages[m.ConversationID], m)
	slices.SortStableFunc(msgs, func(a, b store.Message) int { return a.Timestamp.Compare(b.Timestamp) })
	s.messages[m.ConversationID] = msgs
	return nil
}

// Ping implements [store.Store]; the in-memory store is always reachable.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() error { return nil }

func cloneArtifact(a *store.Artifact) *store.Artifact {
	c := *a
	c.Content = slices.Clone(a.Content)
	return &c
}
