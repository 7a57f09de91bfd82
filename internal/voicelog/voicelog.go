// Package voicelog persists the spoken transcript of live calls as an
// append-only markdown artifact in the conversation.
//
// The log is read back into the system instruction on the next connect so
// the assistant remembers earlier calls. Only the call manager writes it.
package voicelog

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/livecall/internal/observe"
	"github.com/MrWong99/livecall/pkg/store"
)

// DefaultName is the artifact name reserved for the voice log.
const DefaultName = "Sessao_Voz_Log.md"

// Header starts a newly created log.
const Header = "# CHANGE LOG - VOICE SESSION\nAudio transcript persisted by livecall.\n\n"

// MIMEType of the log artifact.
const MIMEType = "text/markdown"

// Writer appends entries to the voice log of a conversation.
// It is safe for concurrent use.
type Writer struct {
	artifacts store.ArtifactStore
	name      string
	loc       *time.Location
	metrics   *observe.Metrics
}

// Option configures a [Writer].
type Option func(*Writer)

// WithName overrides [DefaultName].
func WithName(name string) Option {
	return func(w *Writer) { w.name = name }
}

// WithLocation sets the time zone of entry timestamps. By default an entry
// uses the location of the time passed to [Writer.Append].
func WithLocation(loc *time.Location) Option {
	return func(w *Writer) { w.loc = loc }
}

// WithMetrics counts appends by outcome.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// New creates a Writer on artifacts.
func New(artifacts store.ArtifactStore, opts ...Option) *Writer {
	w := &Writer{
		artifacts: artifacts,
		name:      DefaultName,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Name returns the artifact name the writer appends to.
func (w *Writer) Name() string { return w.name }

// FormatEntry renders one log line: "\n[HH:MM] speaker: text\n".
func FormatEntry(at time.Time, speaker, text string) string {
	return fmt.Sprintf("\n[%s] %s: %s\n", at.Format("15:04"), speaker, text)
}

// Append adds an entry for speaker at time at. The artifact is created with
// [Header] when it does not exist yet.
func (w *Writer) Append(ctx context.Context, conversationID, speaker, text string, at time.Time) error {
	if w.loc != nil {
		at = at.In(w.loc)
	}
	entry := FormatEntry(at, speaker, text)
	err := w.artifacts.AppendArtifact(ctx, store.Artifact{
		ConversationID: conversationID,
		Name:           w.name,
		Kind:           store.KindDocument,
		MIMEType:       MIMEType,
		Source:         store.SourceGenerated,
		Content:        []byte(Header),
	}, []byte(entry))

	if w.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		w.metrics.RecordVoiceLogWrite(ctx, status)
	}
	if err != nil {
		return fmt.Errorf("voicelog: append to %q: %w", conversationID, err)
	}
	return nil
}
