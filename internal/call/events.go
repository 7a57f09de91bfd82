package call

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/livecall/pkg/provider/live"
)

// eventLoop consumes inbound events serially until the session's event
// channel closes.
func (m *Manager) eventLoop(s *session) {
	defer close(s.eventsDone)
	for ev := range s.live.Events() {
		m.handleEvent(s, ev)
	}
	m.ended(s)
}

func (m *Manager) handleEvent(s *session, ev live.Event) {
	if ev.SetupComplete {
		slog.Debug("call: setup complete", "conversation_id", s.conversationID)
	}
	for _, part := range ev.Audio {
		if err := m.playback.PlayChunk(part); err != nil {
			slog.Warn("call: play chunk", "err", err)
			continue
		}
		m.metrics.PlaybackChunks.Add(s.ctx, 1)
	}
	if ev.Interrupted {
		m.playback.StopPlayback()
		m.metrics.PlaybackInterruptions.Add(s.ctx, 1)
		slog.Debug("call: playback interrupted")
	}

	s.input.WriteString(ev.InputTranscript)
	s.output.WriteString(ev.OutputTranscript)
	if ev.TurnComplete {
		m.flushTurn(s)
	}

	if len(ev.ToolCalls) > 0 {
		go m.runTools(s, ev.ToolCalls)
	}
}

// flushTurn writes the accumulated transcripts to the voice log, the user's
// first, and clears both. Write failures are logged and the call goes on.
func (m *Manager) flushTurn(s *session) {
	in := strings.TrimSpace(s.input.String())
	out := strings.TrimSpace(s.output.String())
	s.input.Reset()
	s.output.Reset()

	if s.conversationID == "" || (in == "" && out == "") {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, turnWriteTimeout)
	defer cancel()
	at := m.now()
	if in != "" {
		if err := m.voiceLog.Append(ctx, s.conversationID, m.labels.User, in, at); err != nil {
			slog.Warn("call: voice log", "speaker", m.labels.User, "err", err)
		}
	}
	if out != "" {
		if err := m.voiceLog.Append(ctx, s.conversationID, m.labels.Assistant, out, at); err != nil {
			slog.Warn("call: voice log", "speaker", m.labels.Assistant, "err", err)
		}
	}
}

// runTools executes one batch and sends all results in a single message once
// every call has resolved. Results of a session that is no longer open are
// discarded.
func (m *Manager) runTools(s *session, calls []live.ToolCall) {
	results := m.tools.ExecuteBatch(s.ctx, s.conversationID, calls)

	m.mu.Lock()
	open := m.sess == s && m.state == StateOpen
	m.mu.Unlock()
	if !open {
		slog.Debug("call: discarding tool results of closed session", "calls", len(calls))
		return
	}
	if err := s.live.SendToolResults(s.ctx, results); err != nil && s.ctx.Err() == nil {
		slog.Warn("call: send tool results", "err", err)
	}
}

// ended handles a session that ended without Disconnect. A clean end leaves
// the manager closed, anything else is a [*TransportError].
func (m *Manager) ended(s *session) {
	err := s.live.Err()
	if err == nil {
		if m.stop(s, false, nil) {
			slog.Info("live call ended by server", "conversation_id", s.conversationID)
		}
		return
	}
	if !m.owns(s) {
		return
	}
	m.metrics.RecordTransportError(context.Background(), "session")
	slog.Error("live call failed", "conversation_id", s.conversationID, "err", err)
	m.stop(s, false, &TransportError{Op: "session", Err: err})
}
