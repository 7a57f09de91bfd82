// Package mock provides in-memory implementations of the capture and playback
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1})
//	dev := &mock.Device{Stream: stream}
//	p := capture.New(dev)
//	_ = p.Start(ctx, onData, nil)
//	stream.Push(make([]float32, 2048))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livecall/pkg/audio"
	"github.com/MrWong99/livecall/pkg/audio/capture"
	"github.com/MrWong99/livecall/pkg/audio/playback"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [capture.Device].
type Device struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh mono 16 kHz
	// stream.
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the constraints of every Open call in order.
	OpenCalls []capture.Constraints
}

// Open records the call and returns Stream or OpenErr.
func (d *Device) Open(_ context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, c)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = NewStream(audio.Format{SampleRate: audio.CaptureSampleRate, Channels: 1})
	}
	return d.Stream, nil
}

// OpenCount returns the number of Open calls.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

var _ capture.Device = (*Device)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [capture.Stream]. Feed frames with
// [Stream.Push]; end the stream with [Stream.End].
type Stream struct {
	format audio.Format
	frames chan []float32

	mu         sync.Mutex
	ended      bool
	closeCount int
}

// NewStream returns a Stream delivering frames in format f.
func NewStream(f audio.Format) *Stream {
	return &Stream{format: f, frames: make(chan []float32, 64)}
}

// Format implements [capture.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Frames implements [capture.Stream].
func (s *Stream) Frames() <-chan []float32 { return s.frames }

// Push delivers one frame. It is a no-op after End or Close.
func (s *Stream) Push(frame []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frames <- frame
}

// End closes the frame channel as if the device went away.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
}

// Close implements [capture.Stream]. It ends the stream and counts the call.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.End()
	return nil
}

// CloseCount returns the number of Close calls.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

var _ capture.Stream = (*Stream)(nil)

// ─── Destination ──────────────────────────────────────────────────────────────

// ScheduleCall records a single invocation of Destination.Schedule.
type ScheduleCall struct {
	// Samples is the number of samples scheduled.
	Samples int
	// At is the requested start time.
	At time.Duration
}

// Destination is a mock implementation of [playback.Destination] with a
// manually driven clock. Units never end on their own; call
// [Destination.EndAll] or [Destination.End].
type Destination struct {
	mu sync.Mutex

	// Clock is the value returned by Now.
	Clock time.Duration

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// ScheduleCalls records every Schedule call in order.
	ScheduleCalls []ScheduleCall

	units []*Unit
}

// Now returns Clock.
func (d *Destination) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Clock
}

// SetClock sets Clock.
func (d *Destination) SetClock(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Clock = t
}

// Schedule records the call and returns a new [Unit].
func (d *Destination) Schedule(samples []float32, at time.Duration, onEnded func()) (playback.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScheduleCalls = append(d.ScheduleCalls, ScheduleCall{Samples: len(samples), At: at})
	if d.ScheduleErr != nil {
		return nil, d.ScheduleErr
	}
	u := &Unit{At: at, onEnded: onEnded}
	d.units = append(d.units, u)
	return u, nil
}

// Units returns every unit scheduled so far.
func (d *Destination) Units() []*Unit {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Unit, len(d.units))
	copy(out, d.units)
	return out
}

// Calls returns a copy of ScheduleCalls.
func (d *Destination) Calls() []ScheduleCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ScheduleCall, len(d.ScheduleCalls))
	copy(out, d.ScheduleCalls)
	return out
}

// EndAll ends every unit that has not been stopped or ended yet.
func (d *Destination) EndAll() {
	for _, u := range d.Units() {
		u.End()
	}
}

var _ playback.Destination = (*Destination)(nil)

// Unit is the [playback.Unit] handed out by [Destination].
type Unit struct {
	// At is the scheduled start time.
	At time.Duration

	mu      sync.Mutex
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [playback.Unit].
func (u *Unit) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.ended {
		u.stopped = true
	}
}

// Stopped reports whether Stop was called before the unit ended.
func (u *Unit) Stopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

// End simulates natural completion and fires the onEnded callback once.
// A stopped unit does not fire.
func (u *Unit) End() {
	u.mu.Lock()
	if u.stopped || u.ended {
		u.mu.Unlock()
		return
	}
	u.ended = true
	fn := u.onEnded
	u.mu.Unlock()
	if fn != nil {
		fn()
	}
}
