// Package tools executes the model's in-call tool requests.
//
// The set of tools is closed: every wire name maps to a [Kind] with a typed
// argument payload, and the [Bridge] dispatches on the kind through a handler
// table. Each call yields exactly one result. Failures, including panics,
// become error payloads for the model and never abort the batch.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livecall/internal/observe"
	"github.com/MrWong99/livecall/internal/voicelog"
	"github.com/MrWong99/livecall/pkg/provider/live"
	"github.com/MrWong99/livecall/pkg/store"
)

// DefaultVoiceLogName is the artifact reserved for the call transcript.
const DefaultVoiceLogName = voicelog.DefaultName

// imageSurfaceMessage tells the model the UI reacted and it should wait.
const imageSurfaceMessage = "Image studio opened on the user's screen. Wait for them to configure and approve it."

// ToolExecutionError reports a failed tool invocation.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tools: %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// handler runs one decoded invocation.
type handler func(ctx context.Context, conversationID string, args any) (map[string]any, error)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithImageSurface sets the UI callback for [KindOpenImageSurface].
func WithImageSurface(fn func(prompt string)) Option {
	return func(b *Bridge) { b.onOpenImageSurface = fn }
}

// WithVoiceLogName overrides [DefaultVoiceLogName].
func WithVoiceLogName(name string) Option {
	return func(b *Bridge) { b.voiceLogName = name }
}

// WithMetrics records tool call counts and latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge executes tool calls against the artifact store and the UI.
// It is safe for concurrent use.
type Bridge struct {
	artifacts          store.ArtifactStore
	onOpenImageSurface func(prompt string)
	voiceLogName       string
	metrics            *observe.Metrics
	handlers           map[Kind]handler
}

// New creates a Bridge writing artifacts to artifacts.
func New(artifacts store.ArtifactStore, opts ...Option) *Bridge {
	b := &Bridge{
		artifacts:    artifacts,
		voiceLogName: DefaultVoiceLogName,
	}
	for _, o := range opts {
		o(b)
	}
	b.handlers = map[Kind]handler{
		KindPersistArtifact:  b.persistArtifact,
		KindOpenImageSurface: b.openImageSurface,
	}
	return b
}

// ExecuteBatch runs calls concurrently and returns one result per call in
// request order. It returns once every call has resolved.
func (b *Bridge) ExecuteBatch(ctx context.Context, conversationID string, calls []live.ToolCall) []live.ToolResult {
	results := make([]live.ToolResult, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = live.ToolResult{
				ID:       call.ID,
				Name:     call.Name,
				Response: b.Execute(ctx, conversationID, call),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute runs a single call and returns its response payload.
func (b *Bridge) Execute(ctx context.Context, conversationID string, call live.ToolCall) (resp map[string]any) {
	ctx, span := observe.StartSpan(ctx, "tools.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool", call.Name), attribute.String("call_id", call.ID))

	start := time.Now()
	log := observe.Logger(ctx).With("tool", call.Name, "call_id", call.ID)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", r)}
		}
		status := "ok"
		if err != nil {
			status = "error"
			resp = map[string]any{"error": err.Error()}
			observe.FailSpan(span, err)
			log.Warn("tool call failed", "err", err)
		} else {
			log.Debug("tool call completed", "duration", time.Since(start))
		}
		if b.metrics != nil {
			b.metrics.RecordToolCall(ctx, call.Name, status, time.Since(start).Seconds())
		}
	}()

	kind, args, err := Decode(call.Name, call.Args)
	if err != nil {
		return nil
	}
	h, ok := b.handlers[kind]
	if !ok {
		err = &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("no handler for %s", kind)}
		return nil
	}
	resp, err = h(ctx, conversationID, args)
	return resp
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (b *Bridge) persistArtifact(ctx context.Context, conversationID string, raw any) (map[string]any, error) {
	args := raw.(PersistArtifactArgs)
	if args.Name == b.voiceLogName {
		// The voice log belongs to the call manager.
		return map[string]any{"status": "success"}, nil
	}
	if conversationID == "" {
		slog.Warn("tools: artifact not saved, no conversation", "name", args.Name)
		return map[string]any{"status": "success"}, nil
	}

	err := b.artifacts.SaveArtifact(ctx, store.Artifact{
		ConversationID: conversationID,
		Name:           args.Name,
		Kind:           args.Kind,
		MIMEType:       "text/plain",
		Source:         store.SourceGenerated,
		Content:        []byte(args.Content),
	})
	if err != nil {
		return nil, &ToolExecutionError{Tool: NamePersistArtifact, Err: err}
	}
	return map[string]any{"result": fmt.Sprintf("Artifact %s saved to the stage.", args.Name)}, nil
}

func (b *Bridge) openImageSurface(_ context.Context, _ string, raw any) (map[string]any, error) {
	args := raw.(OpenImageSurfaceArgs)
	if b.onOpenImageSurface == nil {
		return map[string]any{"status": "success"}, nil
	}
	b.onOpenImageSurface(args.Prompt)
	return map[string]any{"result": imageSurfaceMessage}, nil
}

// IsToolError reports whether resp is an error payload.
func IsToolError(resp map[string]any) bool {
	_, ok := resp["error"]
	return ok
}
