package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/MrWong99/livecall/pkg/audio"
)

var _ audio.Sink = (*Speaker)(nil)

// Speaker plays mono s16le frames through an ffplay child process reading
// from stdin.
type Speaker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	warned bool
}

// SpeakerArgs returns the ffplay arguments for a mono stream at rate.
func SpeakerArgs(rate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nodisp",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", fmt.Sprint(rate),
		"-ch_layout", "mono",
		"-i", "-",
	}
}

// NewSpeaker starts ffplay (or the executable at bin when non-empty) for
// frames at rate.
func NewSpeaker(bin string, rate int) (*Speaker, error) {
	if bin == "" {
		bin = "ffplay"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffplay: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, SpeakerArgs(rate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffplay: stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffplay: start: %w", err)
	}
	return &Speaker{cmd: cmd, stdin: stdin, cancel: cancel}, nil
}

// Play writes one frame. Write failures are logged once and otherwise ignored
// so that a dead player never stalls the render loop.
func (s *Speaker) Play(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, err := s.stdin.Write(frame.Data); err != nil && !s.warned {
		s.warned = true
		slog.Warn("ffplay: write", "err", err)
	}
}

// Close stops ffplay. Close is idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	s.cancel()
	_ = s.cmd.Wait()
	return nil
}
