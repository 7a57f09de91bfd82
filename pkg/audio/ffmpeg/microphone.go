// Package ffmpeg provides host audio devices backed by the ffmpeg and ffplay
// command line tools: a [Microphone] that satisfies [capture.Device] and a
// [Speaker] that plays rendered playback frames.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livecall/pkg/audio"
	"github.com/MrWong99/livecall/pkg/audio/capture"
)

// Compile-time interface assertions.
var (
	_ capture.Device = (*Microphone)(nil)
	_ capture.Stream = (*micStream)(nil)
)

// defaultFrameSamples is the block size the microphone reads per frame
// (8 ms at 16 kHz), similar to what a browser audio worklet sees.
const defaultFrameSamples = 128

// DefaultStartTimeout bounds how long Open waits for the first audio bytes.
const DefaultStartTimeout = 5 * time.Second

// stderrLimit caps how much of ffmpeg's diagnostics is kept for errors.
const stderrLimit = 2048

// MicOption configures a [Microphone].
type MicOption func(*Microphone)

// WithInput selects the ffmpeg input device. The default is "default" on
// Linux (PulseAudio) and ":0" on macOS (AVFoundation).
func WithInput(input string) MicOption {
	return func(m *Microphone) {
		if input != "" {
			m.input = input
		}
	}
}

// WithFFmpegPath overrides the ffmpeg executable.
func WithFFmpegPath(path string) MicOption {
	return func(m *Microphone) {
		if path != "" {
			m.bin = path
		}
	}
}

// WithStartTimeout overrides [DefaultStartTimeout].
func WithStartTimeout(d time.Duration) MicOption {
	return func(m *Microphone) {
		if d > 0 {
			m.startTimeout = d
		}
	}
}

// Microphone captures from the host's default input through an ffmpeg child
// process writing s16le PCM to stdout.
type Microphone struct {
	bin          string
	input        string
	format       string
	startTimeout time.Duration
}

// NewMicrophone returns a Microphone for the current platform.
func NewMicrophone(opts ...MicOption) *Microphone {
	m := &Microphone{bin: "ffmpeg", input: "default", format: "pulse", startTimeout: DefaultStartTimeout}
	if runtime.GOOS == "darwin" {
		m.input, m.format = ":0", "avfoundation"
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Args returns the ffmpeg arguments used for constraints c.
func (m *Microphone) Args(c capture.Constraints) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", m.format,
		"-i", m.input,
	}
	// ffmpeg has no echo canceller; a light denoise and loudness normaliser
	// stand in for the browser's processing.
	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	return append(args,
		"-ac", fmt.Sprint(max(c.Channels, 1)),
		"-ar", fmt.Sprint(c.SampleRate),
		"-f", "s16le",
		"-",
	)
}

// Open starts ffmpeg and waits until it delivers audio. A missing executable,
// a process that exits first (no such device, access denied) or one that
// stays silent past the start timeout is reported as an error; the capture
// pipeline wraps it in a [capture.DeviceError].
func (m *Microphone) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	path, err := exec.LookPath(m.bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, path, m.Args(c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}

	s := &micStream{
		format: audio.Format{SampleRate: c.SampleRate, Channels: max(c.Channels, 1)},
		frames: make(chan []float32, 32),
		cmd:    cmd,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read(stdout)

	timer := time.NewTimer(m.startTimeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		select {
		case <-s.ready:
			return s, nil
		default:
		}
		s.shutdown(false)
		reason := stderr.String()
		if reason == "" && s.waitErr != nil {
			reason = s.waitErr.Error()
		}
		return nil, fmt.Errorf("ffmpeg: input %q closed before delivering audio: %s", m.input, reason)
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("ffmpeg: no audio from input %q within %v", m.input, m.startTimeout)
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("ffmpeg: open %q: %w", m.input, ctx.Err())
	}
}

type micStream struct {
	format audio.Format
	frames chan []float32
	cmd    *exec.Cmd
	cancel context.CancelFunc
	ready  chan struct{} // closed once audio bytes are available
	done   chan struct{}
	once   sync.Once

	waitErr error // set by Close
}

func (s *micStream) Format() audio.Format     { return s.format }
func (s *micStream) Frames() <-chan []float32 { return s.frames }

func (s *micStream) read(r io.Reader) {
	defer close(s.done)
	defer close(s.frames)
	br := bufio.NewReaderSize(r, 64*1024)
	if _, err := br.Peek(2); err != nil {
		return
	}
	close(s.ready)
	err := ReadFrames(br, defaultFrameSamples*s.format.Channels, s.frames)
	if err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("ffmpeg: microphone read", "err", err)
	}
}

// Close stops ffmpeg and waits for the reader to finish.
func (s *micStream) Close() error {
	s.shutdown(true)
	return nil
}

// shutdown reaps ffmpeg once. Without kill it first gives a process that is
// already exiting a moment to do so, so its exit status is kept.
func (s *micStream) shutdown(kill bool) {
	s.once.Do(func() {
		if kill {
			s.cancel()
		} else {
			t := time.AfterFunc(time.Second, s.cancel)
			defer t.Stop()
		}
		go func() {
			for range s.frames {
			}
		}()
		<-s.done
		s.waitErr = s.cmd.Wait()
		s.cancel()
	})
}

// tailBuffer keeps the last limit bytes written to it. It is written by the
// exec copy goroutine and read only after Wait.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return strings.TrimSpace(string(b.buf)) }

// ReadFrames reads s16le PCM from r and sends it to out as normalized float
// frames of n samples. It returns when r is exhausted; a trailing partial
// frame is delivered as well.
func ReadFrames(r io.Reader, n int, out chan<- []float32) error {
	buf := make([]byte, n*2)
	for {
		read, err := io.ReadFull(r, buf)
		if read >= 2 {
			samples := audio.DecodePCM16(buf[:read])
			frame := make([]float32, len(samples))
			for i, v := range samples {
				frame[i] = audio.Int16ToFloat(v)
			}
			out <- frame
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		if err != nil {
			return err
		}
	}
}
