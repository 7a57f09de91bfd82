// Package audio holds the PCM primitives shared by capture and playback:
// wire formats, float/int16 conversion, base64 framing, resampling, the
// fixed-size [Encoder] and microphone level metering.
package audio

import "time"

// Wire formats of the live call. Both directions are mono signed 16-bit
// little-endian PCM, base64-encoded when they travel over the transport.
const (
	// CaptureSampleRate is the rate microphone audio is encoded at.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate synthesized model audio arrives at.
	PlaybackSampleRate = 24000

	// CaptureMIMEType labels outbound realtime audio chunks.
	CaptureMIMEType = "audio/pcm;rate=16000"

	// EncoderBufferSize is the number of samples per encoded capture buffer
	// (128 ms at 16 kHz).
	EncoderBufferSize = 2048
)

// AudioFrame represents a single frame of PCM audio flowing through the call.
// Capture frames travel to the transport, playback frames travel to the
// output device. A frame is immutable once emitted.
type AudioFrame struct {
	// PCM audio data, signed 16-bit little-endian.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is always 1 on the wire.
	Channels int

	// Timestamp marks the frame's position relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playing time of n samples at rate, rounded up to the
// next nanosecond. Samples(Duration(n, rate), rate) == n for every n.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration((int64(n)*int64(time.Second) + int64(rate) - 1) / int64(rate))
}

// Samples returns how many whole samples at rate fit into d.
func Samples(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}

// Sink consumes rendered playback frames, typically an output device.
type Sink interface {
	// Play writes one frame. It must not block for longer than the frame's
	// duration.
	Play(frame AudioFrame)

	// Close releases the device.
	Close() error
}
