package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livecall/pkg/audio"
	"github.com/MrWong99/livecall/pkg/audio/capture"
	"github.com/MrWong99/livecall/pkg/audio/mock"
)

type sink struct {
	mu   sync.Mutex
	bufs []string
	ch   chan struct{}
}

func newSink() *sink { return &sink{ch: make(chan struct{}, 64)} }

func (s *sink) onData(b64 string) {
	s.mu.Lock()
	s.bufs = append(s.bufs, b64)
	s.mu.Unlock()
	s.ch <- struct{}{}
}

func (s *sink) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-s.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for buffer")
		}
	}
}

func (s *sink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bufs...)
}

func TestPipeline_DeliversEncodedBuffers(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1})
	dev := &mock.Device{Stream: stream}
	p := capture.New(dev, capture.WithBufferSize(4))
	out := newSink()

	if err := p.Start(context.Background(), out.onData, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	stream.Push([]float32{0.5, 0.5, 0.5})
	stream.Push([]float32{0.5, -1, -1, -1, -1, 0})
	out.wait(t, 2)

	bufs := out.all()
	first, err := audio.DecodeBase64PCM(bufs[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 4 {
		t.Fatalf("buffer has %d samples, want 4", len(first))
	}
	second, _ := audio.DecodeBase64PCM(bufs[1])
	if second[0] != -1 {
		t.Errorf("second buffer starts with %f, want -1 (FIFO order)", second[0])
	}

	if v := p.Volume(); v != 100 {
		t.Errorf("Volume = %f, want 100 for full-scale input", v)
	}

	c := dev.OpenCalls[0]
	if c.SampleRate != audio.CaptureSampleRate || c.Channels != 1 || !c.EchoCancellation || !c.NoiseSuppression || !c.AutoGainControl {
		t.Errorf("unexpected constraints %+v", c)
	}
}

func TestPipeline_DeviceError(t *testing.T) {
	t.Parallel()

	denied := errors.New("permission denied")
	dev := &mock.Device{OpenErr: denied}
	p := capture.New(dev)

	err := p.Start(context.Background(), func(string) { t.Error("onData called") }, nil)
	var devErr *capture.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("err = %v, want *DeviceError", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("DeviceError does not wrap cause")
	}
	if p.Recording() {
		t.Error("Recording after failed Start")
	}
}

func TestPipeline_StopIdempotent(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1})
	p := capture.New(&mock.Device{Stream: stream}, capture.WithBufferSize(2))

	p.Stop() // not recording yet

	out := newSink()
	if err := p.Start(context.Background(), out.onData, nil); err != nil {
		t.Fatal(err)
	}
	stream.Push([]float32{0.9, 0.9})
	out.wait(t, 1)
	if p.Volume() == 0 {
		t.Fatal("expected non-zero volume while recording")
	}

	p.Stop()
	p.Stop()

	if p.Recording() {
		t.Error("still recording after Stop")
	}
	if p.Volume() != 0 {
		t.Errorf("Volume = %f after Stop, want 0", p.Volume())
	}
	if stream.CloseCount() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CloseCount())
	}
}

func TestPipeline_AlreadyRecording(t *testing.T) {
	t.Parallel()

	p := capture.New(&mock.Device{})
	if err := p.Start(context.Background(), func(string) {}, nil); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if err := p.Start(context.Background(), func(string) {}, nil); !errors.Is(err, capture.ErrAlreadyRecording) {
		t.Errorf("second Start err = %v, want ErrAlreadyRecording", err)
	}
}

func TestPipeline_ConvertsDeviceFormat(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(audio.Format{SampleRate: 48000, Channels: 2})
	p := capture.New(&mock.Device{Stream: stream}, capture.WithBufferSize(160))
	out := newSink()
	if err := p.Start(context.Background(), out.onData, nil); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	// 10 ms of stereo at 48 kHz becomes 160 mono samples at 16 kHz.
	stream.Push(make([]float32, 960))
	out.wait(t, 1)
}

func TestPipeline_RestartAfterStop(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	p := capture.New(dev)
	for range 2 {
		if err := p.Start(context.Background(), func(string) {}, nil); err != nil {
			t.Fatal(err)
		}
		p.Stop()
		dev.Stream = nil
	}
	if dev.OpenCount() != 2 {
		t.Errorf("Open called %d times, want 2", dev.OpenCount())
	}
}

func TestPipeline_StreamEndReported(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1})
	p := capture.New(&mock.Device{Stream: stream})
	ended := make(chan error, 1)
	if err := p.Start(context.Background(), func(string) {}, func(err error) { ended <- err }); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	stream.End()
	select {
	case err := <-ended:
		var devErr *capture.DeviceError
		if !errors.As(err, &devErr) || !errors.Is(err, capture.ErrStreamEnded) {
			t.Errorf("end err = %v, want *DeviceError wrapping ErrStreamEnded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("end callback not called")
	}
}

func TestPipeline_StopDoesNotReportEnd(t *testing.T) {
	t.Parallel()

	p := capture.New(&mock.Device{})
	if err := p.Start(context.Background(), func(string) {}, func(err error) {
		t.Errorf("end callback after Stop: %v", err)
	}); err != nil {
		t.Fatal(err)
	}
	p.Stop()
}
