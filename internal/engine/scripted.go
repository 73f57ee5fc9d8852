package engine

import (
	"context"
	"sync"
)

// ScriptedEngine returns pre-scripted hypothesis streams, one script per
// submitted segment in order. It exists for deterministic testing of the
// session pipeline without a live recognition server.
type ScriptedEngine struct {
	mu      sync.Mutex
	scripts [][]Hypothesis
	calls   int
	fail    bool
}

// NewScriptedEngine creates an engine that plays back the given scripts.
// Each script is the full hypothesis stream for one segment. Once the
// scripts run out, further segments receive a single empty final.
func NewScriptedEngine(scripts ...[]Hypothesis) *ScriptedEngine {
	return &ScriptedEngine{scripts: scripts}
}

// FailNext makes every subsequent Transcribe stream close without a final
// hypothesis, simulating an engine failure.
func (e *ScriptedEngine) FailNext() {
	e.mu.Lock()
	e.fail = true
	e.mu.Unlock()
}

// Calls returns how many segments were submitted.
func (e *ScriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Transcribe plays back the next script.
func (e *ScriptedEngine) Transcribe(ctx context.Context, samples []int16) (<-chan Hypothesis, error) {
	e.mu.Lock()
	idx := e.calls
	e.calls++
	fail := e.fail
	var script []Hypothesis
	if idx < len(e.scripts) {
		script = e.scripts[idx]
	} else {
		script = []Hypothesis{{Text: "", Final: true}}
	}
	e.mu.Unlock()

	out := make(chan Hypothesis, len(script))
	go func() {
		defer close(out)
		if fail {
			return
		}
		for _, h := range script {
			select {
			case out <- h:
			case <-ctx.Done():
				return
			}
			if h.Final {
				return
			}
		}
	}()
	return out, nil
}

// Ping always succeeds.
func (e *ScriptedEngine) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (e *ScriptedEngine) Close() error {
	return nil
}
