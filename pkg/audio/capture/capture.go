// Package capture owns the microphone side of a live call: it opens an input
// [Device], runs the PCM encoder on a goroutine of its own, meters the volume
// and hands each encoded buffer, base64 encoded, to a caller-supplied sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livecall/pkg/audio"
)

// ErrAlreadyRecording is returned by [Pipeline.Start] when a recording is in
// progress.
var ErrAlreadyRecording = errors.New("capture: already recording")

// ErrStreamEnded is wrapped in the [*DeviceError] passed to the end callback
// of [Pipeline.Start] when the input stops delivering before Stop.
var ErrStreamEnded = errors.New("input stream ended")

// Constraints are the properties requested from the input device.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints requests mono 16 kHz with echo cancellation, noise
// suppression and automatic gain enabled.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       audio.CaptureSampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device grants access to a physical or virtual audio input.
type Device interface {
	// Open acquires the input. A device that cannot honour a constraint
	// exactly may deliver a different format; the pipeline converts it.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open input.
type Stream interface {
	// Format reports the format of the frames delivered on Frames.
	Format() audio.Format

	// Frames delivers normalized, interleaved float frames of arbitrary
	// length. It is closed when the stream ends.
	Frames() <-chan []float32

	// Close releases the device. Close is idempotent.
	Close() error
}

// DeviceError reports that the input device is unavailable or access was
// denied. Recording does not start.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: device unavailable: %v", e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithBufferSize sets the encoder buffer size in samples. The default is
// [audio.EncoderBufferSize].
func WithBufferSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithConstraints overrides [DefaultConstraints].
func WithConstraints(c Constraints) Option {
	return func(p *Pipeline) { p.constraints = c }
}

// Pipeline wires a [Device] through an [audio.Encoder] to a sink.
// All exported methods are safe for concurrent use.
type Pipeline struct {
	dev         Device
	constraints Constraints
	bufferSize  int

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
	volume float64
}

// New returns a Pipeline reading from dev.
func New(dev Device, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:         dev,
		constraints: DefaultConstraints(),
		bufferSize:  audio.EncoderBufferSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start opens the device and begins delivering encoded buffers to onData, in
// the order they are produced. If the device cannot be opened a
// [*DeviceError] is returned and nothing is started; no retry is attempted.
//
// If the stream ends before Stop, onEnd (when non-nil) is called once with a
// [*DeviceError] wrapping [ErrStreamEnded]. The pipeline stays started until
// Stop.
//
// onData and onEnd run on the encoder goroutine. They must not call
// [Pipeline.Stop].
func (p *Pipeline) Start(ctx context.Context, onData func(b64 string), onEnd func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return ErrAlreadyRecording
	}

	stream, err := p.dev.Open(ctx, p.constraints)
	if err != nil {
		return &DeviceError{Err: err}
	}

	enc := audio.NewEncoder(p.bufferSize, func(buf []int16) {
		p.setVolume(audio.Level(buf))
		onData(audio.EncodeBase64PCM(buf))
	})

	runCtx, cancel := context.WithCancel(context.Background())
	src := stream.Frames()
	if f := stream.Format(); f.SampleRate != p.constraints.SampleRate || f.Channels > 1 {
		src = convertFrames(runCtx, src, &audio.FrameConverter{Source: f, Target: p.constraints.SampleRate})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		enc.Run(runCtx, src)
		if runCtx.Err() != nil {
			return
		}
		err := &DeviceError{Err: ErrStreamEnded}
		slog.Warn("capture: input lost", "err", err)
		if onEnd != nil {
			onEnd(err)
		}
	}()

	p.stream = stream
	p.cancel = cancel
	p.done = done
	slog.Debug("capture started", "format", stream.Format().String(), "buffer_size", p.bufferSize)
	return nil
}

// Stop releases the device, stops the encoder and resets the volume to zero.
// Once Stop returns, onData is not called again. Stop is idempotent and safe
// to call when not recording.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stream, cancel, done := p.stream, p.cancel, p.done
	p.stream, p.cancel, p.done = nil, nil, nil
	p.mu.Unlock()

	if stream != nil {
		cancel()
		if err := stream.Close(); err != nil {
			slog.Warn("capture: close stream", "err", err)
		}
		<-done
		slog.Debug("capture stopped")
	}
	p.setVolume(0)
}

// Recording reports whether a stream is open.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Volume returns the meter level of the most recent buffer on a 0..100 scale.
func (p *Pipeline) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Pipeline) setVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// convertFrames adapts frames to the target format on a goroutine. The
// returned channel is closed when in closes or ctx is cancelled.
func convertFrames(ctx context.Context, in <-chan []float32, conv *audio.FrameConverter) <-chan []float32 {
	out := make(chan []float32, cap(in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- conv.Convert(f):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
