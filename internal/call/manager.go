// Package call runs a live voice call: it assembles the conversation context,
// opens a duplex session with the model, streams the microphone up, schedules
// the model's speech for playback, keeps the transcript and answers tool calls.
//
// A [Manager] handles one call at a time. Inbound events are processed on a
// single goroutine, microphone buffers are sent in order by a second one, and
// tool batches run on goroutines of their own so speech keeps flowing while a
// tool is busy. [Manager.Disconnect] is the only way to cancel a call.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/livecall/internal/callctx"
	"github.com/MrWong99/livecall/internal/observe"
	"github.com/MrWong99/livecall/internal/tools"
	"github.com/MrWong99/livecall/internal/voicelog"
	"github.com/MrWong99/livecall/pkg/audio"
	"github.com/MrWong99/livecall/pkg/provider/live"
	"github.com/MrWong99/livecall/pkg/store"
)

const (
	// DefaultVoice is the prebuilt voice used when none is configured.
	DefaultVoice = "Kore"

	// sendQueueSize bounds the capture buffers waiting for the sender.
	sendQueueSize = 64

	// turnWriteTimeout bounds one voice log write.
	turnWriteTimeout = 10 * time.Second
)

// Capture is the microphone side of a call. *capture.Pipeline implements it.
type Capture interface {
	Start(ctx context.Context, onData func(b64 string), onEnd func(error)) error
	Stop()
	Recording() bool
	Volume() float64
}

// Playback is the speaker side of a call. *playback.Scheduler implements it.
type Playback interface {
	PlayChunk(b64 string) error
	StopPlayback()
	Playing() bool
}

// ToolRunner executes a batch of tool calls. *tools.Bridge implements it.
type ToolRunner interface {
	ExecuteBatch(ctx context.Context, conversationID string, calls []live.ToolCall) []live.ToolResult
}

// Option configures a [Manager].
type Option func(*Manager)

// WithPersona sets the persona that leads the system instruction. Defaults to
// [callctx.DefaultPersona].
func WithPersona(p string) Option {
	return func(m *Manager) { m.persona = p }
}

// WithVoice selects the prebuilt voice. Defaults to [DefaultVoice].
func WithVoice(v string) Option {
	return func(m *Manager) { m.voice = v }
}

// WithSpeakerLabels names the user and the assistant in the context and the
// voice log. Empty values keep the defaults.
func WithSpeakerLabels(user, assistant string) Option {
	return func(m *Manager) {
		if user != "" {
			m.labels.User = user
		}
		if assistant != "" {
			m.labels.Assistant = assistant
		}
	}
}

// WithHistoryLimit sets how many text messages go into the context, at most
// [callctx.MaxHistory].
func WithHistoryLimit(n int) Option {
	return func(m *Manager) { m.historyLimit = n }
}

// WithVoiceLogName overrides [voicelog.DefaultName].
func WithVoiceLogName(name string) Option {
	return func(m *Manager) { m.voiceLogName = name }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithClock overrides the time source of voice log entries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCredentials sets the API key the transport was built with. A call
// without credentials fails with a [*ConfigurationError].
func WithCredentials(apiKey string) Option {
	return func(m *Manager) { m.apiKey = apiKey }
}

// WithStateListener registers fn to be called on every state transition.
// fn runs outside the manager's lock and may call its methods.
func WithStateListener(fn func(State)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// Manager owns the lifecycle of live calls. All exported methods are safe for
// concurrent use.
type Manager struct {
	provider  live.Provider
	artifacts store.ArtifactStore
	history   store.HistoryStore
	capture   Capture
	playback  Playback
	tools     ToolRunner

	persona      string
	voice        string
	labels       callctx.Labels
	historyLimit int
	voiceLogName string
	metrics      *observe.Metrics
	now          func() time.Time
	apiKey       string
	listeners    []func(State)

	assembler *callctx.Assembler
	voiceLog  *voicelog.Writer

	mu    sync.Mutex
	state State
	sess  *session
	err   error

	// attempt identifies the latest Connect. Disconnect bumps it so a dial
	// that was cancelled can never install its session.
	attempt    uint64
	cancelDial context.CancelFunc
}

// session is the per-call state. input and output are touched only by the
// event goroutine.
type session struct {
	conversationID string
	live           live.Session
	ctx            context.Context
	cancel         context.CancelFunc
	sendQ          chan string
	eventsDone     chan struct{}
	senderDone     chan struct{}

	input  strings.Builder
	output strings.Builder
}

// New creates a Manager.
func New(provider live.Provider, artifacts store.ArtifactStore, history store.HistoryStore,
	capture Capture, playback Playback, runner ToolRunner, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		artifacts:    artifacts,
		history:      history,
		capture:      capture,
		playback:     playback,
		tools:        runner,
		persona:      callctx.DefaultPersona,
		voice:        DefaultVoice,
		labels:       callctx.Labels{User: callctx.DefaultUserLabel, Assistant: callctx.DefaultAssistantLabel},
		historyLimit: callctx.MaxHistory,
		voiceLogName: voicelog.DefaultName,
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.assembler = callctx.NewAssembler(history, artifacts,
		callctx.WithHistoryLimit(m.historyLimit),
		callctx.WithVoiceLogName(m.voiceLogName),
		callctx.WithLabels(m.labels),
	)
	m.voiceLog = voicelog.New(artifacts,
		voicelog.WithName(m.voiceLogName),
		voicelog.WithMetrics(m.metrics),
	)
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that put the manager in [StateError], or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// SetPersona replaces the persona used by the next Connect. A call that is
// already open keeps its instruction.
func (m *Manager) SetPersona(p string) {
	m.mu.Lock()
	m.persona = p
	m.mu.Unlock()
}

// SetVoice replaces the voice used by the next Connect. Empty keeps the
// current voice.
func (m *Manager) SetVoice(v string) {
	if v == "" {
		return
	}
	m.mu.Lock()
	m.voice = v
	m.mu.Unlock()
}

// Volume returns the microphone level on a 0..100 scale.
func (m *Manager) Volume() float64 { return m.capture.Volume() }

// Playing reports whether model speech is scheduled.
func (m *Manager) Playing() bool { return m.playback.Playing() }

// Recording reports whether the microphone is open.
func (m *Manager) Recording() bool { return m.capture.Recording() }

// ── Connect ──────────────────────────────────────────────────────────────────

// Connect starts a call for conversationID. An empty id starts a call without
// conversation context and without a voice log.
//
// Errors: [ErrAlreadyActive]; [*ConfigurationError] when no credentials are
// set; [*TransportError] when the session cannot be opened;
// [*capture.DeviceError] when the microphone is unavailable. On every error
// all resources are released before Connect returns.
func (m *Manager) Connect(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if m.state.active() {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	if m.apiKey == "" {
		err := &ConfigurationError{Reason: "no API key configured"}
		m.mu.Unlock()
		m.fail(err)
		return err
	}
	m.attempt++
	gen := m.attempt
	m.state = StateConnecting
	m.err = nil
	persona, voice := m.persona, m.voice
	m.mu.Unlock()
	m.notify(StateConnecting)

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "call.connect")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))
	log := observe.Logger(ctx).With("conversation_id", conversationID)

	// dialCtx bounds context assembly and the handshake. Disconnect cancels
	// it; the session itself outlives it.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	m.mu.Lock()
	if m.attempt != gen {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.cancelDial = cancelDial
	m.mu.Unlock()

	var cc *callctx.CallContext
	if conversationID != "" {
		var err error
		cc, err = m.assembler.Assemble(dialCtx, conversationID)
		if err != nil {
			err = fmt.Errorf("call: assemble context: %w", err)
			observe.FailSpan(span, err)
			if !m.failAttempt(gen, err) {
				return ErrDisconnected
			}
			return err
		}
	}

	ls, err := m.provider.Connect(dialCtx, live.SessionConfig{
		Instructions:        callctx.FormatInstruction(persona, cc),
		Voice:               voice,
		Tools:               tools.Declarations(),
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		terr := &TransportError{Op: "connect", Err: err}
		observe.FailSpan(span, terr)
		if !m.failAttempt(gen, terr) {
			return ErrDisconnected
		}
		m.metrics.RecordTransportError(ctx, "connect")
		return terr
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conversationID: conversationID,
		live:           ls,
		ctx:            sessCtx,
		cancel:         cancel,
		sendQ:          make(chan string, sendQueueSize),
		eventsDone:     make(chan struct{}),
		senderDone:     make(chan struct{}),
	}

	m.mu.Lock()
	if m.attempt != gen {
		// Disconnect ran while the transport was dialing. A newer Connect may
		// already be dialing too; leave its state alone.
		m.mu.Unlock()
		cancel()
		_ = ls.Close()
		return ErrDisconnected
	}
	m.cancelDial = nil
	m.sess = s
	m.state = StateOpen
	m.mu.Unlock()

	m.metrics.ActiveCalls.Add(ctx, 1)
	m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	go m.sendLoop(s)
	go m.eventLoop(s)
	m.notify(StateOpen)

	onData := func(b64 string) { m.forward(s, b64) }
	onEnd := func(err error) { go m.inputLost(s, err) }
	if err := m.capture.Start(ctx, onData, onEnd); err != nil {
		observe.FailSpan(span, err)
		m.stop(s, true, err)
		return err
	}
	if !m.owns(s) {
		// The call ended while the microphone was opening.
		m.capture.Stop()
		return nil
	}

	log.Info("live call open", "voice", voice, "context_messages", historyLen(cc), "duration", time.Since(start))
	return nil
}

func historyLen(cc *callctx.CallContext) int {
	if cc == nil {
		return 0
	}
	return len(cc.History)
}

// ── Disconnect ───────────────────────────────────────────────────────────────

// Disconnect ends the current call: the session stops counting as open first,
// then the transport closes, in-flight tools are cancelled and capture and
// playback stop. Results of pending tools are discarded. Disconnect is
// idempotent and safe in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.attempt++
	s := m.sess
	if s == nil {
		cancelDial := m.cancelDial
		m.cancelDial = nil
		dialing := m.state == StateConnecting
		if dialing {
			m.state = StateClosed
		}
		m.mu.Unlock()
		if cancelDial != nil {
			cancelDial()
		}
		if dialing {
			m.notify(StateClosed)
		}
		return
	}
	m.mu.Unlock()

	if m.stop(s, true, nil) {
		slog.Info("live call closed", "conversation_id", s.conversationID)
	}
}

// stop detaches s if it is still the current session, releases it and leaves
// the manager closed, or in [StateError] when cause is set. It reports false
// when someone else already stopped s. waitEvents is false when the caller is
// the event goroutine itself.
func (m *Manager) stop(s *session, waitEvents bool, cause error) bool {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return false
	}
	m.sess = nil
	m.state = StateClosing
	m.mu.Unlock()
	m.notify(StateClosing)

	m.release(s, waitEvents)

	if cause != nil {
		m.fail(cause)
		return true
	}
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
	m.notify(StateClosed)
	return true
}

// release tears down the resources of s. The caller must already have
// detached s from the manager.
func (m *Manager) release(s *session, waitEvents bool) {
	s.cancel()
	if err := s.live.Close(); err != nil {
		slog.Debug("call: close session", "err", err)
	}
	m.capture.Stop()
	<-s.senderDone
	if waitEvents {
		<-s.eventsDone
	}
	m.playback.StopPlayback()
	m.metrics.ActiveCalls.Add(context.Background(), -1)
}

// fail moves the manager to [StateError] with err.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.state = StateError
	m.err = err
	m.mu.Unlock()
	m.notify(StateError)
}

// inputLost ends the call of s when its microphone stops mid-call.
func (m *Manager) inputLost(s *session, err error) {
	if !m.owns(s) {
		return
	}
	slog.Error("live call lost its audio input", "conversation_id", s.conversationID, "err", err)
	m.stop(s, true, err)
}

// failAttempt moves the manager to [StateError] unless a Disconnect or a
// newer Connect has superseded attempt gen.
func (m *Manager) failAttempt(gen uint64, err error) bool {
	m.mu.Lock()
	if m.attempt != gen {
		m.mu.Unlock()
		return false
	}
	m.cancelDial = nil
	m.state = StateError
	m.err = err
	m.mu.Unlock()
	m.notify(StateError)
	return true
}

// owns reports whether s is still the manager's current session.
func (m *Manager) owns(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess == s
}

func (m *Manager) notify(st State) {
	for _, fn := range m.listeners {
		fn(st)
	}
}

// ── Capture → transport ──────────────────────────────────────────────────────

// forward queues one capture buffer for sending. It runs on the encoder
// goroutine and never blocks: buffers produced while the call is not open, or
// when the queue is full, are dropped.
func (m *Manager) forward(s *session, b64 string) {
	m.mu.Lock()
	open := m.sess == s && m.state == StateOpen
	queued := false
	if open {
		select {
		case s.sendQ <- b64:
			queued = true
		default:
		}
	}
	m.mu.Unlock()

	if !queued {
		m.metrics.AudioChunksDropped.Add(s.ctx, 1)
		if open {
			slog.Warn("call: send queue full, dropping capture buffer")
		}
	}
}

// sendLoop sends queued capture buffers in order until the session ends.
func (m *Manager) sendLoop(s *session) {
	defer close(s.senderDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case b64 := <-s.sendQ:
			err := s.live.SendAudio(s.ctx, live.AudioChunk{MIMEType: audio.CaptureMIMEType, Data: b64})
			if err != nil {
				if s.ctx.Err() == nil {
					slog.Debug("call: send audio", "err", err)
				}
				continue
			}
			m.metrics.AudioChunksSent.Add(s.ctx, 1)
		}
	}
}
