// Package engine treats the recognition engine as an opaque capability:
// submit a segment, receive a hypothesis stream. Any concrete engine
// satisfying the interface is substitutable, including the scripted one
// used for deterministic tests.
package engine

import "context"

// Hypothesis is one textual hypothesis for a submitted segment.
// An engine may emit multiple improving partial hypotheses before the
// final one (incremental mode) or exactly one final (single-shot mode).
type Hypothesis struct {
	Text       string
	Final      bool
	Confidence float64
}

// Engine is the capability interface for the external recognition engine.
//
// Transcribe submits one segment's samples and returns a stream that
// delivers zero or more partial hypotheses followed by at most one final
// hypothesis, then closes. If the stream closes without a final hypothesis
// the engine failed for that segment; the caller decides how to degrade.
// Cancelling the context abandons the stream.
type Engine interface {
	Transcribe(ctx context.Context, samples []int16) (<-chan Hypothesis, error)

	// Ping verifies the engine is reachable. Used for the startup-fatal
	// probe and the readiness endpoint.
	Ping(ctx context.Context) error

	Close() error
}
