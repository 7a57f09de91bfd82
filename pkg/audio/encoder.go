package audio

import "context"

// Encoder accumulates normalized float samples into fixed-size int16 buffers.
// Every time the internal buffer fills it is handed to the emit callback and
// the write offset resets to zero. Partial buffers are never emitted.
//
// Write never fails: out-of-range and NaN samples are clamped by
// [FloatToInt16]. An Encoder is not safe for concurrent use; [Encoder.Run]
// gives it a goroutine of its own.
type Encoder struct {
	buf    []int16
	offset int
	emit   func([]int16)
}

// NewEncoder returns an Encoder producing buffers of size samples. A size of
// zero or less selects [EncoderBufferSize]. emit receives each full buffer and
// owns it after the call returns.
func NewEncoder(size int, emit func([]int16)) *Encoder {
	if size <= 0 {
		size = EncoderBufferSize
	}
	return &Encoder{
		buf:  make([]int16, size),
		emit: emit,
	}
}

// Size returns the number of samples per emitted buffer.
func (e *Encoder) Size() int { return len(e.buf) }

// Pending returns the number of samples held back until the buffer fills.
func (e *Encoder) Pending() int { return e.offset }

// Write appends samples, emitting as many full buffers as they complete.
func (e *Encoder) Write(samples []float32) {
	for _, s := range samples {
		e.buf[e.offset] = FloatToInt16(s)
		e.offset++
		if e.offset == len(e.buf) {
			full := e.buf
			e.buf = make([]int16, len(full))
			e.offset = 0
			if e.emit != nil {
				e.emit(full)
			}
		}
	}
}

// Reset discards any pending samples.
func (e *Encoder) Reset() { e.offset = 0 }

// Run feeds frames into the encoder until frames is closed or ctx is
// cancelled. It is the encoder's processing loop and is meant to run on a
// dedicated goroutine so that capture keeps pace regardless of what the rest
// of the process is doing.
func (e *Encoder) Run(ctx context.Context, frames <-chan []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			e.Write(f)
		}
	}
}
