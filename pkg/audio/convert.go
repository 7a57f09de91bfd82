package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FrameConverter turns interleaved float frames from a device format into mono
// frames at the target rate. It logs a warning on the first mismatch.
// Create one per stream; not designed for shared use across goroutines.
type FrameConverter struct {
	Source Format
	Target int

	warnedMismatch sync.Once
}

// Convert returns samples in mono at c.Target. If the source already matches,
// samples are returned unchanged (zero allocation). Conversion order: downmix
// first, then resample, so stereo input is never resampled.
func (c *FrameConverter) Convert(samples []float32) []float32 {
	if c.Source.SampleRate == c.Target && c.Source.Channels <= 1 {
		return samples
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("capture format mismatch: converting",
			"from", c.Source.String(),
			"to", Format{SampleRate: c.Target, Channels: 1}.String(),
		)
	})
	if c.Source.Channels > 1 {
		samples = Downmix(samples, c.Source.Channels)
	}
	return Resample(samples, c.Source.SampleRate, c.Target)
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
