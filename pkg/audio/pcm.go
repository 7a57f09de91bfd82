package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// FloatToInt16 converts a normalized sample to int16. The input is clamped to
// [-1, 1]; negative values scale by 32768 and non-negative values by 32767 so
// neither end overflows. NaN maps to zero.
func FloatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}

// Int16ToFloat converts a sample back to the normalized range by dividing by
// 32768.
func Int16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// EncodePCM16 serialises samples as little-endian int16 bytes.
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16 parses little-endian int16 bytes. A trailing odd byte is
// ignored.
func DecodePCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// EncodeBase64PCM serialises samples as base64 over little-endian int16
// bytes, the wire representation of a realtime audio chunk.
func EncodeBase64PCM(samples []int16) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeBase64PCM decodes a base64 audio chunk into normalized float samples.
func DecodeBase64PCM(b64 string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	samples := DecodePCM16(raw)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = Int16ToFloat(s)
	}
	return out, nil
}
