package audio

import "errors"

// ErrOverflow is returned when the buffered-but-unconsumed byte count
// exceeds the configured cap. The session owning the buffer must be
// terminated; this protects against unbounded memory growth from a slow
// or stalled downstream consumer.
var ErrOverflow = errors.New("audio: frame buffer backlog exceeded")

// Frame is one fixed-duration window of PCM samples. Frames are retained
// only within the active segmentation window.
type Frame struct {
	Samples []int16
	Index   uint64 // Position in the session's frame stream, starting at 0
}

// FrameBuffer accumulates raw PCM bytes into fixed-size analysis frames.
// The transport may deliver chunks of any size; whatever does not fill a
// whole frame is carried forward to the next Write call.
type FrameBuffer struct {
	frameBytes int
	maxBytes   int
	pending    []byte
	nextIndex  uint64
}

// NewFrameBuffer creates a frame buffer emitting frames of frameBytes bytes.
// maxBytes bounds the pending backlog; Write fails with ErrOverflow beyond it.
func NewFrameBuffer(frameBytes, maxBytes int) *FrameBuffer {
	return &FrameBuffer{
		frameBytes: frameBytes,
		maxBytes:   maxBytes,
		pending:    make([]byte, 0, frameBytes),
	}
}

// Write ingests an arbitrarily sized chunk and returns all frames it
// completes, in order. A chunk smaller than one frame is buffered; a chunk
// spanning many frames yields them all. At most one trailing partial frame
// is held back at any time.
func (fb *FrameBuffer) Write(chunk []byte) ([]Frame, error) {
	if len(fb.pending)+len(chunk) > fb.maxBytes {
		return nil, ErrOverflow
	}

	fb.pending = append(fb.pending, chunk...)

	var frames []Frame
	for len(fb.pending) >= fb.frameBytes {
		raw := fb.pending[:fb.frameBytes]
		frames = append(frames, Frame{
			Samples: BytesToSamples(raw),
			Index:   fb.nextIndex,
		})
		fb.nextIndex++
		fb.pending = fb.pending[fb.frameBytes:]
	}

	// Compact so the backing array does not grow without bound
	if len(fb.pending) > 0 && cap(fb.pending) > fb.frameBytes*2 {
		compact := make([]byte, len(fb.pending), fb.frameBytes)
		copy(compact, fb.pending)
		fb.pending = compact
	}

	return frames, nil
}

// Pending returns the number of buffered bytes not yet emitted as a frame.
func (fb *FrameBuffer) Pending() int {
	return len(fb.pending)
}

// FrameBytes returns the configured frame size in bytes.
func (fb *FrameBuffer) FrameBytes() int {
	return fb.frameBytes
}
