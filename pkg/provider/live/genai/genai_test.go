package genai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/livecall/pkg/provider/live"
)

// fakeConn feeds queued server messages to Receive and records sends.
type fakeConn struct {
	msgs chan *genai.LiveServerMessage
	fail error

	mu       sync.Mutex
	audio    []genai.LiveRealtimeInput
	tools    []genai.LiveToolResponseInput
	closed   bool
	closedCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan *genai.LiveServerMessage, 16), closedCh: make(chan struct{})}
}

func (f *fakeConn) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, in)
	return nil
}

func (f *fakeConn) SendToolResponse(in genai.LiveToolResponseInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = append(f.tools, in)
	return nil
}

func (f *fakeConn) Receive() (*genai.LiveServerMessage, error) {
	select {
	case m, ok := <-f.msgs:
		if !ok {
			return nil, f.fail
		}
		return m, nil
	case <-f.closedCh:
		return nil, io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func drain(t *testing.T, s *session) []live.Event {
	t.Helper()
	var out []live.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timeout draining events")
		}
	}
}

func TestConnectConfig(t *testing.T) {
	t.Parallel()
	tools := []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{Name: "x"}}}}
	c := ConnectConfig(live.SessionConfig{
		Instructions:        "persona",
		Voice:               "Kore",
		Tools:               tools,
		InputTranscription:  true,
		OutputTranscription: true,
	})

	if len(c.ResponseModalities) != 1 || c.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", c.ResponseModalities)
	}
	if c.SystemInstruction == nil || c.SystemInstruction.Parts[0].Text != "persona" {
		t.Errorf("system instruction = %+v", c.SystemInstruction)
	}
	if c.SpeechConfig == nil || c.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Errorf("speech config = %+v", c.SpeechConfig)
	}
	if c.InputAudioTranscription == nil || c.OutputAudioTranscription == nil {
		t.Error("transcription not enabled")
	}
	if len(c.Tools) != 1 {
		t.Errorf("tools = %v", c.Tools)
	}

	bare := ConnectConfig(live.SessionConfig{})
	if bare.SystemInstruction != nil || bare.SpeechConfig != nil || bare.InputAudioTranscription != nil {
		t.Errorf("empty config produced %+v", bare)
	}
}

func TestToEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		msg    *genai.LiveServerMessage
		wantOK bool
		check  func(t *testing.T, ev live.Event)
	}{
		{name: "nil", msg: nil},
		{name: "empty", msg: &genai.LiveServerMessage{}},
		{
			name:   "setup complete",
			msg:    &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}},
			wantOK: true,
			check: func(t *testing.T, ev live.Event) {
				if !ev.SetupComplete {
					t.Error("SetupComplete = false")
				}
			},
		},
		{
			name: "audio is base64 encoded",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				ModelTurn: &genai.Content{Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{0, 0, 0}}},
					{Text: "ignored"},
				}},
			}},
			wantOK: true,
			check: func(t *testing.T, ev live.Event) {
				if len(ev.Audio) != 1 || ev.Audio[0] != "AAAA" {
					t.Errorf("audio = %v", ev.Audio)
				}
			},
		},
		{
			name: "transcripts and turn complete",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				InputTranscription:  &genai.Transcription{Text: "hi"},
				OutputTranscription: &genai.Transcription{Text: "hello"},
				TurnComplete:        true,
			}},
			wantOK: true,
			check: func(t *testing.T, ev live.Event) {
				if ev.InputTranscript != "hi" || ev.OutputTranscript != "hello" || !ev.TurnComplete {
					t.Errorf("event = %+v", ev)
				}
			},
		},
		{
			name:   "interrupted",
			msg:    &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}},
			wantOK: true,
			check: func(t *testing.T, ev live.Event) {
				if !ev.Interrupted {
					t.Error("Interrupted = false")
				}
			},
		},
		{
			name: "tool calls keep order",
			msg: &genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
				{ID: "1", Name: "a", Args: map[string]any{"k": "v"}},
				{ID: "2", Name: "b"},
			}}},
			wantOK: true,
			check: func(t *testing.T, ev live.Event) {
				if len(ev.ToolCalls) != 2 || ev.ToolCalls[0].ID != "1" || ev.ToolCalls[1].Name != "b" || ev.ToolCalls[0].Args["k"] != "v" {
					t.Errorf("tool calls = %+v", ev.ToolCalls)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := ToEvent(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}
}

func TestSessionForwardsEventsAndEndsWithError(t *testing.T) {
	t.Parallel()
	fc := newFakeConn()
	fc.fail = errors.New("socket reset")
	s := newSession(fc, discard())

	fc.msgs <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}
	fc.msgs <- &genai.LiveServerMessage{}
	fc.msgs <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}}
	close(fc.msgs)

	events := drain(t, s)
	if len(events) != 2 || !events[0].SetupComplete || !events[1].TurnComplete {
		t.Errorf("events = %+v", events)
	}
	if err := s.Err(); err == nil || !errors.Is(err, fc.fail) {
		t.Errorf("Err() = %v, want wrapped socket reset", err)
	}
}

func TestSessionServerCloseIsClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "normal closure", err: &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"}},
		{name: "eof", err: io.EOF},
		{name: "going away", err: &websocket.CloseError{Code: websocket.CloseGoingAway}, wantErr: true},
		{name: "abnormal", err: io.ErrUnexpectedEOF, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fc := newFakeConn()
			fc.fail = tt.err
			s := newSession(fc, discard())
			close(fc.msgs)

			drain(t, s)
			if got := s.Err() != nil; got != tt.wantErr {
				t.Errorf("Err() = %v, want error: %v", s.Err(), tt.wantErr)
			}
		})
	}
}

func TestSessionSends(t *testing.T) {
	t.Parallel()
	fc := newFakeConn()
	s := newSession(fc, discard())
	defer s.Close()
	ctx := context.Background()

	if err := s.SendAudio(ctx, live.AudioChunk{MIMEType: "audio/pcm;rate=16000", Data: "AAEC"}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := s.SendAudio(ctx, live.AudioChunk{Data: "%%%"}); err == nil {
		t.Error("SendAudio with invalid base64 = nil error")
	}
	err := s.SendToolResults(ctx, []live.ToolResult{
		{ID: "a", Name: "x", Response: map[string]any{"result": "ok"}},
		{ID: "b", Name: "y", Response: map[string]any{"error": "no"}},
	})
	if err != nil {
		t.Fatalf("SendToolResults: %v", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.audio) != 1 {
		t.Fatalf("audio sends = %d, want 1", len(fc.audio))
	}
	if got := fc.audio[0].Audio; got == nil || string(got.Data) != "\x00\x01\x02" || got.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("audio = %+v", got)
	}
	if len(fc.tools) != 1 || len(fc.tools[0].FunctionResponses) != 2 || fc.tools[0].FunctionResponses[1].ID != "b" {
		t.Errorf("tool responses = %+v", fc.tools)
	}
}

func TestSessionCloseIsClean(t *testing.T) {
	t.Parallel()
	fc := newFakeConn()
	s := newSession(fc, discard())

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	drain(t, s)
	if err := s.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
	if err := s.SendAudio(context.Background(), live.AudioChunk{Data: "AA=="}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v", err)
	}
}
