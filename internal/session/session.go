// Package session owns the per-connection transcription pipeline: the
// frame buffer, the segmenter, the serialized inference dispatcher, the
// ordered result emitter, and the lifecycle state machine tying them
// together. The registry provides process-wide admission control.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whispercap/transcription-gateway/internal/audio"
	"github.com/whispercap/transcription-gateway/internal/config"
	"github.com/whispercap/transcription-gateway/internal/diarization"
	"github.com/whispercap/transcription-gateway/internal/engine"
	"github.com/whispercap/transcription-gateway/internal/observability"
	"github.com/whispercap/transcription-gateway/internal/segmenter"
)

// ErrSessionClosed is returned when audio arrives after the session
// stopped ingesting.
var ErrSessionClosed = errors.New("session: closed")

const (
	segmentQueueSize = 32
	emitQueueSize    = 64
)

// Session owns one client's buffer, segmenter state, dispatcher queue and
// lifecycle. Ingest, Stop and Abort are called from the single transport
// read goroutine; the dispatcher goroutine owns the emission path. The two
// flows never touch the same field: segmentation state advances only on
// ingestion, emission state only on received hypotheses.
type Session struct {
	id        string
	cfg       *config.Config
	createdAt time.Time

	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	// Ingestion path
	frames *audio.FrameBuffer
	seg    *segmenter.Segmenter

	// Dispatch path
	segments chan *segmenter.Segment
	engine   engine.Engine
	diarizer diarization.Diarizer
	emitter  *Emitter

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	segClosed bool
	aborted   bool
}

// New creates a session in CONNECTING state and starts its dispatcher.
// diarizer is nil when the diarization feature flag is off.
func New(id string, cfg *config.Config, eng engine.Engine, diarizer diarization.Diarizer, sink Sink) *Session {
	logger := observability.WithSession(id)

	vad := audio.NewVADClassifier(&audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
	})

	s := &Session{
		id:        id,
		cfg:       cfg,
		createdAt: time.Now(),
		logger:    logger,
		metrics:   observability.NewSessionMetrics(id),
		frames:    audio.NewFrameBuffer(cfg.FrameBytes(), cfg.MaxBufferedBytes),
		seg: segmenter.New(vad, segmenter.Config{
			SilenceRunFrames:        cfg.VADSilenceFrames,
			MaxFrames:               cfg.MaxSegmentFrames(),
			OverlapFrames:           cfg.OverlapFrames(),
			MaxLeadingSilenceFrames: cfg.MaxLeadingSilenceFrames(),
		}),
		segments: make(chan *segmenter.Segment, segmentQueueSize),
		engine:   eng,
		diarizer: diarizer,
		emitter:  NewEmitter(sink, emitQueueSize, logger),
		done:     make(chan struct{}),
		state:    StateConnecting,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.dispatch(ctx)

	return s
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the admission timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached CLOSED and the emitter finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// AnnounceAdmission queues the connection-open acknowledgment.
func (s *Session) AnnounceAdmission() error {
	if err := s.emitter.Emit(ControlMessage{Type: TypeConnectionEstablished, SessionID: s.id}); err != nil {
		return err
	}
	s.metrics.RecordEvent("control")
	return nil
}

// Ingest routes one inbound audio chunk through the frame buffer and the
// segmenter, queueing any completed segments for inference. The first
// chunk moves the session from CONNECTING to STREAMING.
func (s *Session) Ingest(chunk []byte) error {
	s.mu.Lock()
	if !s.state.canIngest() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateConnecting {
		s.state = StateStreaming
		s.logger.Debug().Str("state", StateStreaming.String()).Msg("Session streaming")
	}
	s.mu.Unlock()

	s.metrics.RecordAudioBytes(int64(len(chunk)))

	frames, err := s.frames.Write(chunk)
	if err != nil {
		s.metrics.RecordOverflow()
		return err // audio.ErrOverflow
	}

	for _, f := range frames {
		seg := s.seg.Push(f)
		if seg == nil {
			continue
		}
		if err := s.enqueue(seg); err != nil {
			s.metrics.RecordOverflow()
			return err
		}
	}
	return nil
}

// enqueue hands a closed segment to the dispatcher without blocking the
// read loop. A full queue means the downstream stalled long enough that
// the backlog protection has to kick in.
func (s *Session) enqueue(seg *segmenter.Segment) error {
	select {
	case s.segments <- seg:
		s.metrics.RecordSegment(string(seg.Reason))
		return nil
	default:
		return fmt.Errorf("segment queue full: %w", audio.ErrOverflow)
	}
}

// Stop begins graceful finalization: ingestion ends, the open window is
// flushed, and in-flight inference is allowed to complete before the
// session closes. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateFinalizing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateFinalizing
	closeNow := !s.segClosed
	s.segClosed = true
	s.mu.Unlock()

	s.logger.Info().Str("state", StateFinalizing.String()).Msg("Session finalizing")

	if seg := s.seg.Flush(); seg != nil {
		if err := s.enqueue(seg); err != nil {
			s.logger.Warn().Uint64("seq", seg.Seq).Msg("Dropping flushed segment, queue full")
		}
	}
	if closeNow {
		close(s.segments)
	}
}

// Abort forces the session to CLOSED from any state. In-flight inference
// is abandoned and queued-but-unsent events are discarded; used for
// transport errors, buffer overflow and idle timeout.
func (s *Session) Abort(reason string) {
	s.mu.Lock()
	if s.state == StateClosed && s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.state = StateClosed
	closeNow := !s.segClosed
	s.segClosed = true
	s.mu.Unlock()

	s.logger.Info().Str("reason", reason).Str("state", StateClosed.String()).Msg("Session aborted")

	s.cancel()
	s.emitter.Discard()
	if closeNow {
		close(s.segments)
	}
}

// dispatch is the per-session inference loop. Segments are strictly
// serialized: the next segment is not submitted until the previous one's
// final hypothesis arrived, so results are ordered without a reorder
// buffer downstream.
func (s *Session) dispatch(ctx context.Context) {
	for seg := range s.segments {
		if ctx.Err() != nil {
			continue // aborted: drain without submitting new work
		}
		s.processSegment(ctx, seg)
	}
	s.finish(ctx)
}

// finish transitions to CLOSED, emits the terminating control message and
// releases the emitter. Runs exactly once, when the dispatcher drains.
func (s *Session) finish(ctx context.Context) {
	s.mu.Lock()
	aborted := s.aborted
	s.state = StateClosed
	s.mu.Unlock()

	if !aborted {
		if err := s.emitter.Emit(ControlMessage{Type: TypeReadyToStop, SessionID: s.id}); err == nil {
			s.metrics.RecordEvent("control")
		}
		s.emitter.CloseAndDrain()
	}

	s.metrics.RecordSessionEnd()
	s.logger.Info().Str("state", StateClosed.String()).Msg("Session closed")
	close(s.done)
}

// processSegment runs one segment through the engine and, for the final
// hypothesis, the diarization adapter. Engine failure or timeout produces
// a single degraded final event instead of blocking the session.
func (s *Session) processSegment(ctx context.Context, seg *segmenter.Segment) {
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.EngineTimeout)*time.Second)
	defer cancel()

	stream, err := s.engine.Transcribe(tctx, seg.Samples)
	if err != nil {
		s.metrics.RecordInference(time.Since(start), false)
		s.metrics.RecordError("inference_error", "engine")
		s.logger.Warn().Err(err).Uint64("seq", seg.Seq).Msg("Inference submission failed")
		s.emitFinal(seg, "", nil, nil, time.Since(start), "inference_error")
		return
	}

	var final *engine.Hypothesis
	for h := range stream {
		if h.Final {
			hh := h
			final = &hh
			break // stream closes after the final hypothesis
		}
		s.emitPartial(seg, h, time.Since(start))
	}

	if final == nil {
		s.metrics.RecordInference(time.Since(start), false)
		s.metrics.RecordError("inference_error", "engine")
		s.logger.Warn().Uint64("seq", seg.Seq).Msg("Engine produced no final hypothesis")
		s.emitFinal(seg, "", nil, nil, time.Since(start), "inference_error")
		return
	}

	s.metrics.RecordInference(time.Since(start), true)

	var speaker *int
	if s.diarizer != nil {
		sp, derr := s.diarizer.Label(ctx, seg.Samples, final.Text)
		if derr != nil {
			// Degrade gracefully: the transcription is still emitted,
			// just without a speaker.
			s.metrics.RecordDiarization(false)
			s.logger.Warn().Err(derr).Uint64("seq", seg.Seq).Msg("Diarization failed, emitting without speaker")
		} else {
			s.metrics.RecordDiarization(true)
			speaker = sp
		}
	}

	s.emitFinal(seg, final.Text, confidencePtr(final.Confidence), speaker, time.Since(start), "")
}

func (s *Session) emitPartial(seg *segmenter.Segment, h engine.Hypothesis, elapsed time.Duration) {
	ev := TranscriptionEvent{
		Type:           TypeTranscription,
		Text:           h.Text,
		IsFinal:        false,
		Confidence:     confidencePtr(h.Confidence),
		Language:       s.cfg.Language,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      epochSeconds(time.Now()),
		SegmentID:      s.segmentID(seg.Seq),
		Seq:            seg.Seq,
	}
	if err := s.emitter.Emit(ev); err == nil {
		s.metrics.RecordEvent("partial")
	}
}

func (s *Session) emitFinal(seg *segmenter.Segment, text string, confidence *float64, speaker *int, elapsed time.Duration, errMarker string) {
	ev := TranscriptionEvent{
		Type:           TypeTranscription,
		Text:           text,
		IsFinal:        true,
		Confidence:     confidence,
		Language:       s.cfg.Language,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      epochSeconds(time.Now()),
		Speaker:        speaker,
		SegmentID:      s.segmentID(seg.Seq),
		Seq:            seg.Seq,
		Error:          errMarker,
	}
	if err := s.emitter.Emit(ev); err == nil {
		s.metrics.RecordEvent("final")
	}
}

// segmentID builds the wire identifier for a segment, unique within the
// session.
func (s *Session) segmentID(seq uint64) string {
	return fmt.Sprintf("%s-seg-%d", s.id, seq)
}

func confidencePtr(c float64) *float64 {
	if c <= 0 {
		return nil
	}
	return &c
}
