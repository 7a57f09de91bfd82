// Package playback renders synthesized model audio as one continuous stream.
//
// A [Scheduler] turns discrete, bursty base64 PCM chunks into units on a
// gapless timeline: each chunk starts at max(now, cursor) and advances the
// cursor by its own duration, so chunks that arrive faster than they play sit
// back to back. Interruption flushes everything in flight. The timeline itself
// is supplied by a [Destination]; [Timeline] is the headless implementation.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livecall/pkg/audio"
)

// DefaultResyncThreshold is how far the clock may run past the cursor while
// idle before the cursor is pulled forward to the clock.
const DefaultResyncThreshold = 500 * time.Millisecond

// Destination is an output clock that plays scheduled sample buffers.
//
// Implementations must invoke onEnded at most once per unit, only when the
// unit finished naturally, and never synchronously from within Schedule.
type Destination interface {
	// Now returns the destination's monotonic clock.
	Now() time.Duration

	// Schedule queues samples (mono, normalized) to start at the given clock
	// time. A start time already in the past plays immediately.
	Schedule(samples []float32, at time.Duration, onEnded func()) (Unit, error)
}

// Unit is one scheduled buffer.
type Unit interface {
	// Stop silences the unit. Stopping a finished unit is a no-op.
	Stop()
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSampleRate sets the rate incoming chunks are decoded at. The default is
// [audio.PlaybackSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithResyncThreshold overrides [DefaultResyncThreshold].
func WithResyncThreshold(d time.Duration) Option {
	return func(s *Scheduler) { s.resync = d }
}

// WithPlayingListener registers fn to be called whenever the playing flag
// flips. fn runs outside the scheduler's lock.
func WithPlayingListener(fn func(playing bool)) Option {
	return func(s *Scheduler) { s.onPlaying = fn }
}

// Scheduler places decoded chunks on a [Destination] timeline.
// All exported methods are safe for concurrent use.
type Scheduler struct {
	dest      Destination
	rate      int
	resync    time.Duration
	onPlaying func(bool)

	mu      sync.Mutex
	cursor  int64 // in samples at rate, so chunk boundaries never drift
	units   map[uint64]Unit
	nextID  uint64
	playing bool
}

// NewScheduler returns a Scheduler writing to dest.
func NewScheduler(dest Destination, opts ...Option) *Scheduler {
	s := &Scheduler{
		dest:   dest,
		rate:   audio.PlaybackSampleRate,
		resync: DefaultResyncThreshold,
		units:  make(map[uint64]Unit),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlayChunk decodes a base64 s16le chunk and schedules it right after the
// previously scheduled chunk, or immediately if the cursor has fallen behind
// the clock. An empty chunk is ignored.
func (s *Scheduler) PlayChunk(b64 string) error {
	samples, err := audio.DecodeBase64PCM(b64)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	now := audio.Samples(s.dest.Now(), s.rate)
	start := max(now, s.cursor)
	id := s.nextID
	s.nextID++

	unit, err := s.dest.Schedule(samples, audio.Duration(int(start), s.rate), func() { s.ended(id) })
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("playback: schedule: %w", err)
	}
	if start > s.cursor && s.cursor != 0 {
		slog.Debug("playback underrun", "gap", audio.Duration(int(start-s.cursor), s.rate))
	}
	s.cursor = start + int64(len(samples))
	s.units[id] = unit
	changed := !s.playing
	s.playing = true
	s.mu.Unlock()

	if changed {
		s.notify(true)
	}
	return nil
}

// ended is the natural-completion callback of unit id.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.units[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.units, id)
	if len(s.units) > 0 {
		s.mu.Unlock()
		return
	}
	s.playing = false
	if now := audio.Samples(s.dest.Now(), s.rate); now > s.cursor+audio.Samples(s.resync, s.rate) {
		slog.Debug("playback cursor resync", "cursor", audio.Duration(int(s.cursor), s.rate), "now", s.dest.Now())
		s.cursor = now
	}
	s.mu.Unlock()

	s.notify(false)
}

// StopPlayback stops every tracked unit, clears the set and resets the cursor
// to zero. The next chunk is clamped to the clock, so it starts immediately.
func (s *Scheduler) StopPlayback() {
	s.mu.Lock()
	for id, u := range s.units {
		u.Stop()
		delete(s.units, id)
	}
	s.cursor = 0
	changed := s.playing
	s.playing = false
	s.mu.Unlock()

	if changed {
		s.notify(false)
	}
}

// Playing reports whether any scheduled unit has not yet finished.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Cursor returns the start time the next chunk would get if the clock were
// behind it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.Duration(int(s.cursor), s.rate)
}

// Tracked returns the number of units scheduled and not yet finished.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

func (s *Scheduler) notify(playing bool) {
	if s.onPlaying != nil {
		s.onPlaying(playing)
	}
}
