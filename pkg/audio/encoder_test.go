package audio_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/livecall/pkg/audio"
)

func TestEncoder_BufferCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		size   int
		frames []int
	}{
		{name: "empty", size: 2048, frames: nil},
		{name: "below one buffer", size: 2048, frames: []int{128, 128, 128}},
		{name: "exactly one buffer", size: 2048, frames: []int{1024, 1024}},
		{name: "device block size", size: 2048, frames: []int{128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128, 128}},
		{name: "odd frames", size: 4096, frames: []int{1, 4095, 4097, 3, 10000}},
		{name: "tiny buffer", size: 3, frames: []int{7, 0, 5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var emitted int
			enc := audio.NewEncoder(tc.size, func(buf []int16) {
				if len(buf) != tc.size {
					t.Errorf("emitted buffer len = %d, want %d", len(buf), tc.size)
				}
				emitted++
			})

			total := 0
			for _, n := range tc.frames {
				enc.Write(make([]float32, n))
				total += n
			}

			if want := total / tc.size; emitted != want {
				t.Errorf("emitted = %d, want %d", emitted, want)
			}
			if want := total % tc.size; enc.Pending() != want {
				t.Errorf("Pending = %d, want %d", enc.Pending(), want)
			}
		})
	}
}

func TestEncoder_DefaultSize(t *testing.T) {
	t.Parallel()
	enc := audio.NewEncoder(0, nil)
	if enc.Size() != audio.EncoderBufferSize {
		t.Errorf("Size = %d, want %d", enc.Size(), audio.EncoderBufferSize)
	}
}

func TestEncoder_RoundTrip(t *testing.T) {
	t.Parallel()

	const size = 256
	in := make([]float32, size)
	for i := range in {
		// Sweep past both ends of the range so clamping is exercised.
		in[i] = float32(-1.5 + 3*float64(i)/float64(size-1))
	}

	var got []int16
	enc := audio.NewEncoder(size, func(buf []int16) { got = buf })
	enc.Write(in)
	if got == nil {
		t.Fatal("no buffer emitted")
	}

	const bound = 2.0 / 32768
	for i, s := range in {
		clamped := math.Max(-1, math.Min(1, float64(s)))
		back := float64(audio.Int16ToFloat(got[i]))
		if diff := math.Abs(back - clamped); diff > bound {
			t.Errorf("sample %d: in=%f back=%f diff=%g exceeds %g", i, s, back, diff, bound)
		}
	}
}

func TestEncoder_BuffersAreIndependent(t *testing.T) {
	t.Parallel()

	var bufs [][]int16
	enc := audio.NewEncoder(2, func(buf []int16) { bufs = append(bufs, buf) })
	enc.Write([]float32{0.5, 0.5, -0.5, -0.5})

	if len(bufs) != 2 {
		t.Fatalf("emitted %d buffers, want 2", len(bufs))
	}
	if bufs[0][0] <= 0 || bufs[1][0] >= 0 {
		t.Errorf("buffers share storage: %v", bufs)
	}
}

func TestEncoder_Run(t *testing.T) {
	t.Parallel()

	out := make(chan []int16, 4)
	enc := audio.NewEncoder(4, func(buf []int16) { out <- buf })
	frames := make(chan []float32, 4)

	done := make(chan struct{})
	go func() {
		enc.Run(context.Background(), frames)
		close(done)
	}()

	frames <- []float32{0.1, 0.2, 0.3}
	frames <- []float32{0.4, 0.5}
	close(frames)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after frames closed")
	}
	if len(out) != 1 {
		t.Fatalf("emitted %d buffers, want 1", len(out))
	}
	if enc.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", enc.Pending())
	}
}

func TestEncoder_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	enc := audio.NewEncoder(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		enc.Run(ctx, make(chan []float32))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
