package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrEmitterClosed is returned when emitting after the session stopped
// accepting events.
var ErrEmitterClosed = errors.New("session: emitter closed")

// Sink is the transport-side message writer the emitter drains into.
// The WebSocket connection wrapper satisfies this.
type Sink interface {
	WriteEvent(v interface{}) error
}

// Emitter serializes events to the transport in arrival order. One emitter
// exists per session and owns the only goroutine that writes to the sink,
// so events from different sessions can never interleave onto the wrong
// transport, and a final event queued after its partials stays after them.
type Emitter struct {
	sink   Sink
	queue  chan interface{}
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	flush  chan struct{} // pump drains the queue, then exits
	abort  chan struct{} // pump drops everything still queued
	done   chan struct{}

	dead bool // sink failed; owned by the pump goroutine
}

// NewEmitter creates an emitter and starts its drain goroutine.
func NewEmitter(sink Sink, queueSize int, logger zerolog.Logger) *Emitter {
	e := &Emitter{
		sink:   sink,
		queue:  make(chan interface{}, queueSize),
		logger: logger,
		flush:  make(chan struct{}),
		abort:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.pump()
	return e
}

// Emit queues one event for delivery. It blocks while the queue is full
// (the dispatcher's await-queue-space suspension point) and unblocks with
// an error when the emitter is closed underneath it, so an abort can never
// strand a blocked caller.
func (e *Emitter) Emit(v interface{}) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEmitterClosed
	}
	e.mu.Unlock()

	select {
	case e.queue <- v:
		return nil
	case <-e.abort:
		return ErrEmitterClosed
	case <-e.flush:
		return ErrEmitterClosed
	}
}

// CloseAndDrain stops accepting events and blocks until everything already
// queued has been written to the sink.
func (e *Emitter) CloseAndDrain() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.flush)
	}
	e.mu.Unlock()
	<-e.done
}

// Discard stops accepting events and drops anything still queued. Used on
// transport errors: the peer is gone, there is nobody to deliver to.
func (e *Emitter) Discard() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.abort)
		close(e.flush)
	}
	e.mu.Unlock()
	<-e.done
}

func (e *Emitter) pump() {
	defer close(e.done)

	for {
		select {
		case v := <-e.queue:
			e.write(v)
		case <-e.flush:
			for {
				select {
				case v := <-e.queue:
					e.write(v)
				default:
					return
				}
			}
		}
	}
}

// write delivers one event unless the session aborted or the sink already
// failed. A failed sink poisons the rest of the stream; the transport is
// tearing the connection down anyway.
func (e *Emitter) write(v interface{}) {
	select {
	case <-e.abort:
		return
	default:
	}
	if e.dead {
		return
	}
	if err := e.sink.WriteEvent(v); err != nil {
		e.logger.Warn().Err(err).Msg("Transport write failed, discarding remaining events")
		e.dead = true
	}
}
