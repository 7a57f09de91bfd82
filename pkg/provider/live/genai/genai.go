// Package genai implements live.Provider on the Live API of the official
// google.golang.org/genai SDK.
//
// The SDK carries raw bytes where the live package carries base64, so audio is
// decoded before sending and re-encoded on receipt.
package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/livecall/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
	_ conn          = (*genai.Session)(nil)
)

// ErrSessionClosed is returned by sends on a closed session.
var ErrSessionClosed = errors.New("genai: session closed")

// DefaultModel is the native-audio model used when none is configured.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// conn is the subset of *genai.Session the provider drives.
type conn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements live.Provider with a genai client.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider for the Gemini API backend.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *genai.Client, opts ...Option) *Provider {
	p := &Provider{client: client, model: DefaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens a Live session with cfg.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	gs, err := p.client.Live.Connect(ctx, p.model, ConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}
	return newSession(gs, slog.With("provider", "genai", "model", p.model)), nil
}

// ConnectConfig translates cfg into the SDK's connect configuration.
func ConnectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	c := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Tools:              cfg.Tools,
	}
	if cfg.Instructions != "" {
		c.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		c.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		c.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		c.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return c
}

// ToEvent flattens one SDK server message. ok is false when msg carries
// nothing the caller acts on.
func ToEvent(msg *genai.LiveServerMessage) (ev live.Event, ok bool) {
	if msg == nil {
		return ev, false
	}
	if msg.SetupComplete != nil {
		ev.SetupComplete = true
		ok = true
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
					continue
				}
				ev.Audio = append(ev.Audio, base64.StdEncoding.EncodeToString(p.InlineData.Data))
			}
		}
		if sc.InputTranscription != nil {
			ev.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			ev.OutputTranscript = sc.OutputTranscription.Text
		}
		ev.Interrupted = sc.Interrupted
		ev.TurnComplete = sc.TurnComplete
		ok = ok || len(ev.Audio) > 0 || ev.InputTranscript != "" || ev.OutputTranscript != "" ||
			ev.Interrupted || ev.TurnComplete
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		ok = ok || len(ev.ToolCalls) > 0
	}
	return ev, ok
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   conn
	events chan live.Event
	done   chan struct{}
	log    *slog.Logger

	// sendMu serialises writes; the SDK session is not safe for concurrent
	// senders.
	sendMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool
}

func newSession(c conn, log *slog.Logger) *session {
	s := &session{
		conn:   c,
		events: make(chan live.Event, 64),
		done:   make(chan struct{}),
		log:    log,
	}
	go s.receiveLoop()
	return s
}

// receiveLoop owns the events channel and closes it when Receive fails.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if !s.isClosed() && !cleanClose(err) {
				s.setErr(fmt.Errorf("genai: receive: %w", err))
			}
			return
		}
		if msg.GoAway != nil {
			s.log.Warn("server is going away")
		}
		ev, ok := ToEvent(msg)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// cleanClose reports whether err is the server ending the session normally.
// The SDK reads with gorilla/websocket and returns its errors unwrapped.
func cleanClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio decodes chunk and streams it as realtime input.
func (s *session) SendAudio(_ context.Context, chunk live.AudioChunk) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("genai: send audio: decode: %w", err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err = s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: chunk.MIMEType, Data: data},
	})
	if err != nil {
		return fmt.Errorf("genai: send audio: %w", err)
	}
	return nil
}

// SendToolResults answers one batch in a single tool response.
func (s *session) SendToolResults(_ context.Context, results []live.ToolResult) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	resp := make([]*genai.FunctionResponse, len(results))
	for i, r := range results {
		resp[i] = &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: resp}); err != nil {
		return fmt.Errorf("genai: send tool results: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan live.Event { return s.events }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close closes the SDK session, which unblocks the receive loop. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close live session", "err", err)
	}
	return nil
}
