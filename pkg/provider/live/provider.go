// Package live defines the Provider interface for duplex voice sessions with a
// streaming inference service such as the Gemini Live API.
//
// A session carries base64 PCM audio in both directions, transcription deltas
// for both speakers, tool calls from the model and tool results back to it.
// Sessions are long-lived (seconds to minutes) and are not resumed: when the
// event channel closes the session is over.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"google.golang.org/genai"
)

// AudioChunk is one outbound audio buffer.
type AudioChunk struct {
	// MIMEType describes the encoding, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is base64-encoded little-endian int16 PCM.
	Data string
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its [ToolResult].
	ID string

	// Name is the wire name of the tool.
	Name string

	// Args holds the decoded JSON arguments.
	Args map[string]any
}

// ToolResult answers one [ToolCall].
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// Event is one inbound server message, flattened. Any combination of fields
// may be set on a single event.
type Event struct {
	// SetupComplete is true once the server has acknowledged the session setup.
	SetupComplete bool

	// Audio holds base64 PCM parts of the model's speech, in order.
	Audio []string

	// Interrupted is true when the user barged in and queued speech must stop.
	Interrupted bool

	// InputTranscript and OutputTranscript are transcription deltas for the
	// user's and the model's speech.
	InputTranscript  string
	OutputTranscript string

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// ToolCalls lists the function calls of one batch, in request order.
	ToolCalls []ToolCall
}

// SessionConfig is the configuration sent when a session opens.
type SessionConfig struct {
	// Instructions is the system instruction for the whole session.
	Instructions string

	// Voice is the name of a prebuilt voice. Empty selects the service default.
	Voice string

	// Tools are the function declarations offered to the model.
	Tools []*genai.Tool

	// InputTranscription and OutputTranscription request transcription
	// deltas for the user's and the model's speech.
	InputTranscription  bool
	OutputTranscription bool
}

// Session is an open duplex session. Callers must call Close when done.
type Session interface {
	// SendAudio streams one audio chunk to the model.
	SendAudio(ctx context.Context, chunk AudioChunk) error

	// SendToolResults answers a batch of tool calls in a single message.
	SendToolResults(ctx context.Context, results []ToolResult) error

	// Events returns the inbound event channel. It is closed when the session
	// ends for any reason; call [Session.Err] afterwards to learn why.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil for a clean close.
	Err() error

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a session and sends its setup. The returned session is
	// ready to accept audio.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
