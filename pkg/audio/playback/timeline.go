package playback

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/livecall/pkg/audio"
)

// Compile-time interface assertion.
var _ Destination = (*Timeline)(nil)

// ErrTimelineClosed is returned by [Timeline.Schedule] after Close.
var ErrTimelineClosed = errors.New("playback: timeline closed")

const (
	// DefaultFrameDuration is the length of each rendered output frame.
	DefaultFrameDuration = 20 * time.Millisecond

	defaultQueueCap = 16
)

// TimelineOption configures a [Timeline] during construction.
type TimelineOption func(*Timeline)

// WithFrameDuration sets the length of each rendered output frame.
func WithFrameDuration(d time.Duration) TimelineOption {
	return func(t *Timeline) {
		if d > 0 {
			t.frameDur = d
		}
	}
}

// WithTimelineRate sets the output sample rate. The default is
// [audio.PlaybackSampleRate].
func WithTimelineRate(rate int) TimelineOption {
	return func(t *Timeline) {
		if rate > 0 {
			t.rate = rate
		}
	}
}

// WithManualClock disables the real-time render goroutine. The clock only
// moves when [Timeline.Advance] is called. Intended for tests and offline
// rendering.
func WithManualClock() TimelineOption {
	return func(t *Timeline) { t.manual = true }
}

// Timeline is a headless [Destination]. Its clock counts rendered samples from
// zero; each tick it mixes every active unit into one mono frame and hands it
// to the output callback. Units waiting for their start time are kept in a
// min-heap ordered by start.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	output   func(audio.AudioFrame)
	rate     int
	frameDur time.Duration
	manual   bool

	mu      sync.Mutex
	pending pendingHeap
	active  []*timelineUnit
	seq     uint64
	pos     int64 // samples rendered so far; the clock
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTimeline creates a Timeline that delivers rendered frames to output.
// Unless [WithManualClock] is given, a render goroutine starts immediately and
// runs until [Timeline.Close].
//
// output is called sequentially from the render goroutine (or from Advance)
// and must not block for extended periods.
func NewTimeline(output func(audio.AudioFrame), opts ...TimelineOption) *Timeline {
	t := &Timeline{
		output:   output,
		rate:     audio.PlaybackSampleRate,
		frameDur: DefaultFrameDuration,
		pending:  make(pendingHeap, 0, defaultQueueCap),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	if !t.manual {
		t.wg.Add(1)
		go t.run()
	}
	return t
}

// Now returns the current clock: the duration of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.Duration(int(t.pos), t.rate)
}

// Schedule queues samples to start at the given clock time, truncated to the
// sample that contains it.
func (t *Timeline) Schedule(samples []float32, at time.Duration, onEnded func()) (Unit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTimelineClosed
	}
	start := audio.Samples(at, t.rate)
	if start < t.pos {
		start = t.pos
	}
	t.seq++
	u := &timelineUnit{
		tl:      t,
		samples: samples,
		start:   start,
		seq:     t.seq,
		onEnded: onEnded,
	}
	heap.Push(&t.pending, u)
	return u, nil
}

// Advance renders frames until the clock has moved by at least d. Only
// meaningful with [WithManualClock].
func (t *Timeline) Advance(d time.Duration) {
	frame := t.frameSamples()
	want := audio.Samples(d, t.rate)
	for done := int64(0); done < want; done += int64(frame) {
		t.renderFrame()
	}
}

// Active returns the number of units scheduled and not yet finished.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) + t.pending.Len()
}

// Close stops the render goroutine and drops every scheduled unit without
// calling their onEnded callbacks. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, u := range t.active {
		u.stopped = true
	}
	for _, u := range t.pending {
		u.stopped = true
	}
	t.active = nil
	t.pending = t.pending[:0]
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
	return nil
}

func (t *Timeline) frameSamples() int {
	n := int(int64(t.frameDur) * int64(t.rate) / int64(time.Second))
	return max(n, 1)
}

// run is the real-time render loop.
func (t *Timeline) run() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.renderFrame()
		}
	}
}

// renderFrame mixes one frame, advances the clock, emits the frame and then
// fires onEnded for every unit that finished inside it.
func (t *Timeline) renderFrame() {
	n := t.frameSamples()
	mix := make([]float32, n)

	t.mu.Lock()
	from := t.pos
	to := from + int64(n)

	for t.pending.Len() > 0 && t.pending[0].start < to {
		u := heap.Pop(&t.pending).(*timelineUnit)
		if !u.stopped {
			t.active = append(t.active, u)
		}
	}

	var ended []func()
	kept := t.active[:0]
	for _, u := range t.active {
		if u.stopped {
			continue
		}
		for i := range n {
			idx := from + int64(i) - u.start
			if idx >= 0 && idx < int64(len(u.samples)) {
				mix[i] += u.samples[idx]
			}
		}
		if u.start+int64(len(u.samples)) <= to {
			u.finished = true
			if u.onEnded != nil {
				ended = append(ended, u.onEnded)
			}
			continue
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(t.active); i++ {
		t.active[i] = nil
	}
	t.active = kept
	t.pos = to
	t.mu.Unlock()

	pcm := make([]int16, n)
	for i, s := range mix {
		pcm[i] = audio.FloatToInt16(s)
	}
	if t.output != nil {
		t.output(audio.AudioFrame{
			Data:       audio.EncodePCM16(pcm),
			SampleRate: t.rate,
			Channels:   1,
			Timestamp:  audio.Duration(int(from), t.rate),
		})
	}
	for _, fn := range ended {
		fn()
	}
}

// timelineUnit is one buffer on a [Timeline].
type timelineUnit struct {
	tl       *Timeline
	samples  []float32
	start    int64
	seq      uint64
	onEnded  func()
	stopped  bool
	finished bool
}

// Stop removes the unit from the mix without firing onEnded.
func (u *timelineUnit) Stop() {
	u.tl.mu.Lock()
	defer u.tl.mu.Unlock()
	if u.finished {
		return
	}
	u.stopped = true
}
