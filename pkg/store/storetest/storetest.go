// Package storetest is a conformance suite for [store.Store] implementations.
// Each backend's tests call [Run] with a constructor for a fresh store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livecall/pkg/store"
)

// Run exercises every method of the store returned by newStore. Identifiers are
// random per subtest so backends that share state across calls still pass.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("ReadMissingArtifact", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReadArtifact(context.Background(), store.NewID(), "nope.md")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendCreatesThenAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := store.NewID()
		base := store.Artifact{
			ConversationID: conv,
			Name:           "log.md",
			Kind:           store.KindDocument,
			MIMEType:       "text/markdown",
			Source:         store.SourceGenerated,
			Content:        []byte("# header\n"),
		}
		if err := s.AppendArtifact(ctx, base, []byte("one\n")); err != nil {
			t.Fatalf("AppendArtifact create: %v", err)
		}
		base.Content = []byte("ignored header\n")
		if err := s.AppendArtifact(ctx, base, []byte("two\n")); err != nil {
			t.Fatalf("AppendArtifact append: %v", err)
		}

		got, err := s.ReadArtifact(ctx, conv, "log.md")
		if err != nil {
			t.Fatalf("ReadArtifact: %v", err)
		}
		if want := "# header\none\ntwo\n"; string(got.Content) != want {
			t.Errorf("content = %q, want %q", got.Content, want)
		}
		if got.MIMEType != "text/markdown" || got.Kind != store.KindDocument || got.Source != store.SourceGenerated {
			t.Errorf("metadata = %+v", got)
		}
		if got.ID == "" || got.CreatedAt.IsZero() {
			t.Errorf("id/created_at not assigned: %+v", got)
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := store.NewID()
		a := store.Artifact{ConversationID: conv, Name: "log.md", MIMEType: "text/markdown", Kind: store.KindDocument}

		const n = 20
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AppendArtifact(ctx, a, []byte{'a' + byte(i%26)}); err != nil {
					t.Errorf("AppendArtifact: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := s.ReadArtifact(ctx, conv, "log.md")
		if err != nil {
			t.Fatalf("ReadArtifact: %v", err)
		}
		if len(got.Content) != n {
			t.Errorf("content length = %d, want %d (lost appends)", len(got.Content), n)
		}
	})

	t.Run("SaveReplacesByName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := store.NewID()
		a := store.Artifact{ConversationID: conv, Name: "plan.md", Kind: store.KindDocument, MIMEType: "text/plain", Source: store.SourceGenerated, Content: []byte("v1")}
		if err := s.SaveArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}
		a.Content = []byte("v2")
		a.Kind = store.KindCode
		if err := s.SaveArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}

		list, err := s.ListArtifacts(ctx, conv)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Fatalf("listed %d artifacts, want 1", len(list))
		}
		if string(list[0].Content) != "v2" || list[0].Kind != store.KindCode {
			t.Errorf("artifact = %+v", list[0])
		}
	})

	t.Run("ListScopedAndOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv, other := store.NewID(), store.NewID()
		for i, name := range []string{"b.txt", "a.txt", "c.txt"} {
			a := store.Artifact{
				ConversationID: conv,
				Name:           name,
				Kind:           store.KindDocument,
				MIMEType:       "text/plain",
				CreatedAt:      time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			}
			if err := s.SaveArtifact(ctx, a); err != nil {
				t.Fatal(err)
			}
		}
		_ = s.SaveArtifact(ctx, store.Artifact{ConversationID: other, Name: "x.txt"})

		list, err := s.ListArtifacts(ctx, conv)
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, a := range list {
			names = append(names, a.Name)
		}
		if fmt.Sprint(names) != "[b.txt a.txt c.txt]" {
			t.Errorf("names = %v, want creation order [b.txt a.txt c.txt]", names)
		}
	})

	t.Run("RecentMessages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := store.NewID()
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := range 20 {
			m := store.Message{
				ConversationID: conv,
				Role:           store.RoleUser,
				Text:           fmt.Sprintf("m%02d", i),
				Timestamp:      start.Add(time.Duration(i) * time.Minute),
			}
			if i%2 == 1 {
				m.Role = store.RoleModel
			}
			if err := s.AppendMessage(ctx, m); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.RecentMessages(ctx, conv, 15)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 15 {
			t.Fatalf("got %d messages, want 15", len(got))
		}
		if got[0].Text != "m05" || got[14].Text != "m19" {
			t.Errorf("window = %s..%s, want m05..m19", got[0].Text, got[14].Text)
		}
		if got[1].Role != store.RoleModel {
			t.Errorf("role of m06... = %s", got[1].Role)
		}

		empty, err := s.RecentMessages(ctx, store.NewID(), 15)
		if err != nil || len(empty) != 0 {
			t.Errorf("unknown conversation: %v, %v", empty, err)
		}
	})

	t.Run("Conversations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		project := store.NewID()
		ids := []string{store.NewID(), store.NewID(), store.NewID()}
		for i, id := range ids {
			c := store.Conversation{ID: id, ProjectID: project, Title: fmt.Sprintf("t%d", i), LastPreview: "p"}
			if err := s.PutConversation(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		_ = s.PutConversation(ctx, store.Conversation{ID: store.NewID(), ProjectID: store.NewID(), Title: "elsewhere"})

		got, err := s.Conversation(ctx, ids[1])
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "t1" || got.ProjectID != project {
			t.Errorf("conversation = %+v", got)
		}

		siblings, err := s.ProjectConversations(ctx, project)
		if err != nil {
			t.Fatal(err)
		}
		if len(siblings) != 3 {
			t.Errorf("project has %d conversations, want 3", len(siblings))
		}

		if _, err := s.Conversation(ctx, store.NewID()); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing conversation err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
