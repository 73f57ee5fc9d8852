// Package segmenter derives segment boundaries from classified audio frames.
package segmenter

import (
	"github.com/whispercap/transcription-gateway/internal/audio"
)

// CloseReason records why a segment boundary was placed.
type CloseReason string

const (
	// ReasonSilence - a run of consecutive silence frames followed speech.
	ReasonSilence CloseReason = "silence"
	// ReasonCap - the segment hit the maximum duration cap, possibly mid-speech.
	ReasonCap CloseReason = "cap"
	// ReasonFlush - the session is finalizing and the open window was flushed.
	ReasonFlush CloseReason = "flush"
)

// Segment is a contiguous span of frames bounded by segmenter decisions.
// It carries a per-session monotonically increasing sequence number and is
// immutable once handed to the dispatcher.
type Segment struct {
	Seq     uint64
	Samples []int16
	Frames  int
	Reason  CloseReason
}

// Config holds the boundary-decision tunables, all expressed in frames.
type Config struct {
	SilenceRunFrames        int // Consecutive silence frames after speech that close a segment
	MaxFrames               int // Duration cap; closes even mid-speech
	OverlapFrames           int // Trailing context carried into the next segment on a cap cut
	MaxLeadingSilenceFrames int // A window with no speech at all is dropped after this long
}

// Segmenter consumes classified frames and produces segments. It is owned by
// a single session and advanced only by that session's ingestion path, so it
// needs no locking.
type Segmenter struct {
	config Config
	vad    *audio.VADClassifier
	window []audio.Frame

	sawSpeech      bool
	silenceRun     int
	leadingSilence int
	nextSeq        uint64
	dropped        uint64
}

// New creates a segmenter using the given classifier and boundary config.
func New(vad *audio.VADClassifier, config Config) *Segmenter {
	return &Segmenter{
		config: config,
		vad:    vad,
	}
}

// Push advances the segmenter by one frame. It returns a closed segment when
// this frame completed a boundary decision, or nil. Leading silence before
// any speech is discarded, never segmented.
func (s *Segmenter) Push(frame audio.Frame) *Segment {
	isSpeech := s.vad.Classify(frame)

	if !s.sawSpeech {
		if !isSpeech {
			s.leadingSilence++
			if s.leadingSilence >= s.config.MaxLeadingSilenceFrames {
				// Speechless window: drop without producing anything
				s.leadingSilence = 0
				s.dropped++
			}
			return nil
		}
		s.sawSpeech = true
		s.leadingSilence = 0
	}

	s.window = append(s.window, frame)

	if isSpeech {
		s.silenceRun = 0
	} else {
		s.silenceRun++
	}

	// The duration cap takes precedence over silence-run detection: a
	// maximum-length segment always closes, even mid-speech, and the
	// remaining audio starts a new segment seeded with trailing overlap
	// to preserve word-boundary continuity across the cut.
	if len(s.window) >= s.config.MaxFrames {
		seg := s.close(ReasonCap)
		s.seedOverlap(seg)
		return seg
	}

	if s.silenceRun >= s.config.SilenceRunFrames {
		return s.close(ReasonSilence)
	}

	return nil
}

// Flush closes and returns the open window, if it accumulated speech.
// Called when the session transitions to finalizing.
func (s *Segmenter) Flush() *Segment {
	if !s.sawSpeech || len(s.window) == 0 {
		return nil
	}
	return s.close(ReasonFlush)
}

// DroppedWindows returns how many speechless windows were discarded.
func (s *Segmenter) DroppedWindows() uint64 {
	return s.dropped
}

// NextSeq returns the sequence number the next closed segment will carry.
func (s *Segmenter) NextSeq() uint64 {
	return s.nextSeq
}

func (s *Segmenter) close(reason CloseReason) *Segment {
	total := 0
	for _, f := range s.window {
		total += len(f.Samples)
	}
	samples := make([]int16, 0, total)
	for _, f := range s.window {
		samples = append(samples, f.Samples...)
	}

	seg := &Segment{
		Seq:     s.nextSeq,
		Samples: samples,
		Frames:  len(s.window),
		Reason:  reason,
	}
	s.nextSeq++

	s.window = nil
	s.sawSpeech = false
	s.silenceRun = 0
	s.leadingSilence = 0

	return seg
}

// seedOverlap restarts the window with the tail of a cap-cut segment so the
// next inference sees a few hundred milliseconds of trailing context.
func (s *Segmenter) seedOverlap(seg *Segment) {
	n := s.config.OverlapFrames
	if n <= 0 || seg.Frames == 0 {
		return
	}
	if n > seg.Frames {
		n = seg.Frames
	}

	frameLen := len(seg.Samples) / seg.Frames
	tail := seg.Samples[len(seg.Samples)-n*frameLen:]
	for i := 0; i < n; i++ {
		s.window = append(s.window, audio.Frame{
			Samples: tail[i*frameLen : (i+1)*frameLen],
		})
	}
	// The cut happened mid-speech; the seeded window counts as speech so a
	// following silence run can close it normally.
	s.sawSpeech = true
	s.silenceRun = 0
}
