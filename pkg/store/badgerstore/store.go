// Package badgerstore provides an embedded [store.Store] on top of BadgerDB.
//
// Records are JSON values under prefixed keys:
//
//	conv/<id>                         conversation
//	proj/<project>/<id>               project index (empty value)
//	msg/<conv>/<unix-nanos>/<id>      message
//	art/<conv>/<name>                 artifact
//
// Every mutation runs in a read-write transaction. Conflicting transactions
// are retried, which makes [Store.AppendArtifact] atomic.
package badgerstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/livecall/pkg/store"
)

var _ store.Store = (*Store)(nil)

const maxTxnRetries = 32

// Option configures a [Store].
type Option func(*badger.Options)

// InMemory keeps all data in memory. The path passed to [Open] is ignored.
func InMemory() Option {
	return func(o *badger.Options) {
		*o = o.WithInMemory(true).WithDir("").WithValueDir("")
	}
}

// Store implements [store.Store] on BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	o := badger.DefaultOptions(path).WithLogger(slogLogger{slog.Default().With("component", "badger")})
	for _, opt := range opts {
		opt(&o)
	}
	db, err := badger.Open(o)
	if err != nil {
		return nil, fmt.Errorf("badger store: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Ping implements [store.Store]. An embedded database is reachable while open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store: closed")
	}
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for range maxTxnRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return badger.ErrConflict
}

// ── Keys ─────────────────────────────────────────────────────────────────────

func convKey(id string) []byte          { return []byte("conv/" + id) }
func projPrefix(project string) []byte  { return []byte("proj/" + project + "/") }
func projKey(project, id string) []byte { return append(projPrefix(project), id...) }
func msgPrefix(conv string) []byte      { return []byte("msg/" + conv + "/") }
func artPrefix(conv string) []byte      { return []byte("art/" + conv + "/") }
func artKey(conv, name string) []byte   { return append(artPrefix(conv), name...) }
func msgKey(conv string, ts time.Time, id string) []byte {
	return fmt.Appendf(msgPrefix(conv), "%020d/%s", ts.UnixNano(), id)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scanPrefix decodes every value under prefix in key order.
func scanPrefix[T any](txn *badger.Txn, prefix []byte) ([]T, error) {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
	defer it.Close()

	var out []T
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ── Artifacts ────────────────────────────────────────────────────────────────

// ReadArtifact implements [store.ArtifactStore].
func (s *Store) ReadArtifact(_ context.Context, conversationID, name string) (*store.Artifact, error) {
	var a store.Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, artKey(conversationID, name), &a)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger store: read artifact: %w", err)
	}
	return &a, nil
}

// AppendArtifact implements [store.ArtifactStore].
func (s *Store) AppendArtifact(ctx context.Context, a store.Artifact, tail []byte) error {
	key := artKey(a.ConversationID, a.Name)
	err := s.update(ctx, func(txn *badger.Txn) error {
		now := time.Now().UTC()
		var cur store.Artifact
		switch err := getJSON(txn, key, &cur); {
		case errors.Is(err, store.ErrNotFound):
			cur = a
			cur.Content = slices.Concat(a.Content, tail)
			store.PrepareArtifact(&cur, now)
		case err != nil:
			return err
		default:
			cur.Content = append(cur.Content, tail...)
			cur.UpdatedAt = now
		}
		return setJSON(txn, key, cur)
	})
	if err != nil {
		return fmt.Errorf("badger store: append artifact: %w", err)
	}
	return nil
}

// SaveArtifact implements [store.ArtifactStore].
func (s *Store) SaveArtifact(ctx context.Context, a store.Artifact) error {
	key := artKey(a.ConversationID, a.Name)
	err := s.update(ctx, func(txn *badger.Txn) error {
		next := a
		var cur store.Artifact
		switch err := getJSON(txn, key, &cur); {
		case err == nil:
			next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
			next.UpdatedAt = time.Now().UTC()
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		store.PrepareArtifact(&next, time.Now().UTC())
		return setJSON(txn, key, next)
	})
	if err != nil {
		return fmt.Errorf("badger store: save artifact: %w", err)
	}
	return nil
}

// ListArtifacts implements [store.ArtifactStore].
func (s *Store) ListArtifacts(_ context.Context, conversationID string) ([]store.Artifact, error) {
	var list []store.Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		list, err = scanPrefix[store.Artifact](txn, artPrefix(conversationID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list artifacts: %w", err)
	}
	slices.SortStableFunc(list, func(x, y store.Artifact) int {
		return cmp.Or(x.CreatedAt.Compare(y.CreatedAt), cmp.Compare(x.ID, y.ID))
	})
	if list == nil {
		list = []store.Artifact{}
	}
	return list, nil
}

// ── History ──────────────────────────────────────────────────────────────────

// RecentMessages implements [store.HistoryStore].
func (s *Store) RecentMessages(_ context.Context, conversationID string, limit int) ([]store.Message, error) {
	var msgs []store.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msgs, err = scanPrefix[store.Message](txn, msgPrefix(conversationID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: recent messages: %w", err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}

// AppendMessage implements [store.HistoryStore].
func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	store.PrepareMessage(&m, time.Now().UTC())
	err := s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, msgKey(m.ConversationID, m.Timestamp, m.ID), m)
	})
	if err != nil {
		return fmt.Errorf("badger store: append message: %w", err)
	}
	return nil
}

// Conversation implements [store.HistoryStore].
func (s *Store) Conversation(_ context.Context, conversationID string) (*store.Conversation, error) {
	var c store.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, convKey(conversationID), &c)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger store: conversation: %w", err)
	}
	return &c, nil
}

// ProjectConversations implements [store.HistoryStore].
func (s *Store) ProjectConversations(_ context.Context, projectID string) ([]store.Conversation, error) {
	var list []store.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := projPrefix(projectID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			var c store.Conversation
			if err := getJSON(txn, convKey(id), &c); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return err
			}
			list = append(list, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: project conversations: %w", err)
	}
	return list, nil
}

// PutConversation implements [store.HistoryStore].
func (s *Store) PutConversation(ctx context.Context, c store.Conversation) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		var prev store.Conversation
		switch err := getJSON(txn, convKey(c.ID), &prev); {
		case err == nil && prev.ProjectID != c.ProjectID:
			if err := txn.Delete(projKey(prev.ProjectID, c.ID)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
		if err := txn.Set(projKey(c.ProjectID, c.ID), nil); err != nil {
			return err
		}
		return setJSON(txn, convKey(c.ID), c)
	})
	if err != nil {
		return fmt.Errorf("badger store: put conversation: %w", err)
	}
	return nil
}

// ── Logging ──────────────────────────────────────────────────────────────────

// slogLogger routes badger's printf-style logs into slog.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Errorf(f string, args ...any)   { s.l.Error(fmt.Sprintf(f, args...)) }
func (s slogLogger) Warningf(f string, args ...any) { s.l.Warn(fmt.Sprintf(f, args...)) }
func (s slogLogger) Infof(f string, args ...any)    { s.l.Debug(fmt.Sprintf(f, args...)) }
func (s slogLogger) Debugf(f string, args ...any)   { s.l.Debug(fmt.Sprintf(f, args...)) }
