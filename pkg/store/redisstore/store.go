// Package redisstore provides a [store.Store] backed by Redis.
//
// Layout, relative to the key prefix:
//
//	conv:<id>                  conversation JSON
//	proj:<project>             set of conversation ids
//	msg:<conv>                 sorted set of message JSON, scored by unix micros
//	art:<conv>                 hash of artifact name → metadata JSON
//	artc:<conv>:<name>         artifact content
//
// Artifact appends run as a Lua script so that creating the artifact and
// appending to it cannot interleave with another writer.
package redisstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/livecall/pkg/store"
)

var _ store.Store = (*Store)(nil)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "livecall:"

// appendScript creates the artifact with header+tail, or appends tail.
//
//	KEYS[1] metadata hash   KEYS[2] content key
//	ARGV[1] name  ARGV[2] metadata JSON  ARGV[3] header+tail  ARGV[4] tail
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('SET', KEYS[2], ARGV[3])
else
  redis.call('APPEND', KEYS[2], ARGV[4])
end
return 1
`)

// Option configures a [Store].
type Option func(*Store)

// WithPrefix replaces [DefaultPrefix].
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// Store implements [store.Store] on a Redis client.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New wraps an existing client. The store takes ownership of rdb and closes it
// in [Store.Close].
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open parses a redis:// URL, connects and pings the server.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	s := New(redis.NewClient(o), opts...)
	if err := s.Ping(ctx); err != nil {
		_ = s.rdb.Close()
		return nil, err
	}
	return s, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) convKey(id string) string      { return s.prefix + "conv:" + id }
func (s *Store) projKey(project string) string { return s.prefix + "proj:" + project }
func (s *Store) msgKey(conv string) string     { return s.prefix + "msg:" + conv }
func (s *Store) artKey(conv string) string     { return s.prefix + "art:" + conv }
func (s *Store) contentKey(conv, name string) string {
	return s.prefix + "artc:" + conv + ":" + name
}

// ── Artifacts ────────────────────────────────────────────────────────────────

// metadata is the artifact without its content.
func metadata(a store.Artifact) ([]byte, error) {
	a.Content = nil
	return json.Marshal(a)
}

// ReadArtifact implements [store.ArtifactStore].
func (s *Store) ReadArtifact(ctx context.Context, conversationID, name string) (*store.Artifact, error) {
	var (
		meta    *redis.StringCmd
		content *redis.StringCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		meta = p.HGet(ctx, s.artKey(conversationID), name)
		content = p.Get(ctx, s.contentKey(conversationID, name))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis store: read artifact: %w", err)
	}
	raw, err := meta.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: read artifact: %w", err)
	}

	var a store.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("redis store: decode artifact: %w", err)
	}
	a.Content, err = content.Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis store: read artifact content: %w", err)
	}
	if a.Content == nil {
		a.Content = []byte{}
	}
	return &a, nil
}

// AppendArtifact implements [store.ArtifactStore].
func (s *Store) AppendArtifact(ctx context.Context, a store.Artifact, tail []byte) error {
	store.PrepareArtifact(&a, time.Now().UTC())
	meta, err := metadata(a)
	if err != nil {
		return fmt.Errorf("redis store: encode artifact: %w", err)
	}
	initial := slices.Concat(a.Content, tail)

	keys := []string{s.artKey(a.ConversationID), s.contentKey(a.ConversationID, a.Name)}
	if err := appendScript.Run(ctx, s.rdb, keys, a.Name, meta, initial, tail).Err(); err != nil {
		return fmt.Errorf("redis store: append artifact: %w", err)
	}
	return nil
}

// SaveArtifact implements [store.ArtifactStore].
func (s *Store) SaveArtifact(ctx context.Context, a store.Artifact) error {
	now := time.Now().UTC()
	if prev, err := s.ReadArtifact(ctx, a.ConversationID, a.Name); err == nil {
		a.ID, a.CreatedAt, a.UpdatedAt = prev.ID, prev.CreatedAt, now
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	store.PrepareArtifact(&a, now)

	meta, err := metadata(a)
	if err != nil {
		return fmt.Errorf("redis store: encode artifact: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.artKey(a.ConversationID), a.Name, meta)
		p.Set(ctx, s.contentKey(a.ConversationID, a.Name), a.Content, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: save artifact: %w", err)
	}
	return nil
}

// ListArtifacts implements [store.ArtifactStore].
func (s *Store) ListArtifacts(ctx context.Context, conversationID string) ([]store.Artifact, error) {
	all, err := s.rdb.HGetAll(ctx, s.artKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list artifacts: %w", err)
	}

	list := make([]store.Artifact, 0, len(all))
	for _, raw := range all {
		var a store.Artifact
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("redis store: decode artifact: %w", err)
		}
		list = append(list, a)
	}
	slices.SortFunc(list, func(x, y store.Artifact) int {
		return cmp.Or(x.CreatedAt.Compare(y.CreatedAt), cmp.Compare(x.ID, y.ID))
	})

	if len(list) == 0 {
		return list, nil
	}
	cmds := make([]*redis.StringCmd, len(list))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, a := range list {
			cmds[i] = p.Get(ctx, s.contentKey(conversationID, a.Name))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis store: list artifact content: %w", err)
	}
	for i, c := range cmds {
		b, err := c.Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis store: list artifact content: %w", err)
		}
		list[i].Content = b
	}
	return list, nil
}

// ── History ──────────────────────────────────────────────────────────────────

// RecentMessages implements [store.HistoryStore].
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := s.rdb.ZRange(ctx, s.msgKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: recent messages: %w", err)
	}
	msgs := make([]store.Message, 0, len(raws))
	for _, raw := range raws {
		var m store.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("redis store: decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AppendMessage implements [store.HistoryStore].
func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	store.PrepareMessage(&m, time.Now().UTC())
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis store: encode message: %w", err)
	}
	z := redis.Z{Score: float64(m.Timestamp.UnixMicro()), Member: raw}
	if err := s.rdb.ZAdd(ctx, s.msgKey(m.ConversationID), z).Err(); err != nil {
		return fmt.Errorf("redis store: append message: %w", err)
	}
	return nil
}

// Conversation implements [store.HistoryStore].
func (s *Store) Conversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	raw, err := s.rdb.Get(ctx, s.convKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: conversation: %w", err)
	}
	var c store.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("redis store: decode conversation: %w", err)
	}
	return &c, nil
}

// ProjectConversations implements [store.HistoryStore].
func (s *Store) ProjectConversations(ctx context.Context, projectID string) ([]store.Conversation, error) {
	ids, err := s.rdb.SMembers(ctx, s.projKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: project conversations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.convKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: project conversations: %w", err)
	}

	list := make([]store.Conversation, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c store.Conversation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("redis store: decode conversation: %w", err)
		}
		list = append(list, c)
	}
	slices.SortFunc(list, func(x, y store.Conversation) int {
		return cmp.Or(x.UpdatedAt.Compare(y.UpdatedAt), cmp.Compare(x.ID, y.ID))
	})
	return list, nil
}

// PutConversation implements [store.HistoryStore].
func (s *Store) PutConversation(ctx context.Context, c store.Conversation) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	prev, err := s.Conversation(ctx, c.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis store: encode conversation: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if prev != nil && prev.ProjectID != c.ProjectID {
			p.SRem(ctx, s.projKey(prev.ProjectID), c.ID)
		}
		p.Set(ctx, s.convKey(c.ID), raw, 0)
		p.SAdd(ctx, s.projKey(c.ProjectID), c.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: put conversation: %w", err)
	}
	return nil
}
