// Package callctx assembles the system instruction for a live call.
//
// The context has three parts fetched concurrently: the recent text history of
// the conversation, summaries of the other conversations in the same project,
// and the full voice log left by earlier calls. [FormatInstruction] renders
// them after the persona text.
package callctx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livecall/internal/observe"
	"github.com/MrWong99/livecall/internal/voicelog"
	"github.com/MrWong99/livecall/pkg/store"
)

const (
	// MaxHistory caps the text turns included in the instruction.
	MaxHistory = 15

	DefaultUserLabel      = "User"
	DefaultAssistantLabel = "Assistant"
)

// Labels name the two speakers in rendered history and voice log entries.
type Labels struct {
	User      string
	Assistant string
}

// CallContext is the assembled context of one conversation.
type CallContext struct {
	// History holds up to [MaxHistory] messages, oldest first.
	History []store.Message

	// Siblings are the other conversations of the same project.
	Siblings []store.Conversation

	// VoiceLog is the content of the voice log artifact, or empty.
	VoiceLog string

	Labels Labels

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Assembler fetches a [CallContext] from the stores.
type Assembler struct {
	history      store.HistoryStore
	artifacts    store.ArtifactStore
	historyLimit int
	voiceLogName string
	labels       Labels
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithHistoryLimit sets how many recent messages are included. Values outside
// 1..MaxHistory are clamped.
func WithHistoryLimit(n int) Option {
	return func(a *Assembler) { a.historyLimit = min(max(n, 1), MaxHistory) }
}

// WithVoiceLogName overrides [voicelog.DefaultName].
func WithVoiceLogName(name string) Option {
	return func(a *Assembler) { a.voiceLogName = name }
}

// WithLabels overrides the speaker labels. Empty fields keep their default.
func WithLabels(l Labels) Option {
	return func(a *Assembler) {
		if l.User != "" {
			a.labels.User = l.User
		}
		if l.Assistant != "" {
			a.labels.Assistant = l.Assistant
		}
	}
}

// NewAssembler creates an [Assembler].
func NewAssembler(history store.HistoryStore, artifacts store.ArtifactStore, opts ...Option) *Assembler {
	a := &Assembler{
		history:      history,
		artifacts:    artifacts,
		historyLimit: MaxHistory,
		voiceLogName: voicelog.DefaultName,
		labels:       Labels{User: DefaultUserLabel, Assistant: DefaultAssistantLabel},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble fetches the context of conversationID. A missing conversation or
// voice log yields empty sections; any other store error aborts assembly.
func (a *Assembler) Assemble(ctx context.Context, conversationID string) (*CallContext, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "callctx.assemble")
	defer span.End()

	cc := &CallContext{Labels: a.labels}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		msgs, err := a.history.RecentMessages(egCtx, conversationID, a.historyLimit)
		if err != nil {
			return fmt.Errorf("call context: recent messages of %q: %w", conversationID, err)
		}
		if len(msgs) > a.historyLimit {
			msgs = msgs[len(msgs)-a.historyLimit:]
		}
		cc.History = msgs
		return nil
	})

	eg.Go(func() error {
		siblings, err := a.siblings(egCtx, conversationID)
		if err != nil {
			return fmt.Errorf("call context: siblings of %q: %w", conversationID, err)
		}
		cc.Siblings = siblings
		return nil
	})

	eg.Go(func() error {
		art, err := a.artifacts.ReadArtifact(egCtx, conversationID, a.voiceLogName)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("call context: voice log of %q: %w", conversationID, err)
		}
		cc.VoiceLog = string(art.Content)
		return nil
	})

	if err := eg.Wait(); err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	cc.AssemblyDuration = time.Since(start)
	return cc, nil
}

// siblings lists the project's other conversations.
func (a *Assembler) siblings(ctx context.Context, conversationID string) ([]store.Conversation, error) {
	conv, err := a.history.Conversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if conv.ProjectID == "" {
		return nil, nil
	}
	all, err := a.history.ProjectConversations(ctx, conv.ProjectID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(c store.Conversation) bool { return c.ID == conversationID }), nil
}
