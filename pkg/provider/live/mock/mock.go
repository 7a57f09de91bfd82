// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session. Use
// Session to inject server events and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{TurnComplete: true})
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/livecall/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ErrClosed is returned by sends on a closed mock session.
var ErrClosed = errors.New("mock: session closed")

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records the config of every Connect call in order.
	ConnectCalls []live.SessionConfig
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect configs.
func (p *Provider) Calls() []live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ConnectCalls)
}

// Session is a mock implementation of live.Session.
type Session struct {
	events    chan live.Event
	closeOnce sync.Once

	mu          sync.Mutex
	err         error
	closed      bool
	closeCalls  int
	audio       []live.AudioChunk
	toolResults [][]live.ToolResult

	// SendErr, if non-nil, is returned from every send.
	SendErr error
}

// NewSession returns a session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit delivers ev to the consumer. It blocks when the buffer is full and is
// a no-op after the session has ended.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// End simulates the server ending the session with err (nil for a clean end).
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	s.closeOnce.Do(func() { close(s.events) })
}

// SendAudio records chunk.
func (s *Session) SendAudio(_ context.Context, chunk live.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.audio = append(s.audio, chunk)
	return nil
}

// SendToolResults records one batch.
func (s *Session) SendToolResults(_ context.Context, results []live.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.toolResults = append(s.toolResults, slices.Clone(results))
	return nil
}

// Events returns the event channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session cleanly and counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

// Audio returns a copy of the chunks sent so far.
func (s *Session) Audio() []live.AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audio)
}

// ToolResults returns a copy of the batches sent so far.
func (s *Session) ToolResults() [][]live.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.toolResults)
}

// CloseCount reports how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
