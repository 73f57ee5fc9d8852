package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whispercap/transcription-gateway/internal/audio"
	"github.com/whispercap/transcription-gateway/internal/config"
	"github.com/whispercap/transcription-gateway/internal/diarization"
	"github.com/whispercap/transcription-gateway/internal/engine"
	"github.com/whispercap/transcription-gateway/internal/session"
)

func testConfig() *config.Config {
	return &config.Config{
		Language:             "en",
		EngineTimeout:        5,
		MaxSessions:          4,
		IdleTimeoutSec:       30,
		FrameDurationMs:      20,
		MaxBufferedBytes:     1 << 20,
		VADEnergyThreshold:   500.0,
		VADSilenceFrames:     3,
		MaxSegmentDurationMs: 400,
		SegmentOverlapMs:     60,
		MaxLeadingSilenceMs:  1000,
	}
}

// wireEvent is the union of everything the gateway sends, decoded loosely
// so tests can also check for absent keys.
type wireEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
	SegmentID string `json:"segment_id"`
	Error     string `json:"error"`

	raw map[string]json.RawMessage
}

func (e *wireEvent) has(key string) bool {
	_, ok := e.raw[key]
	return ok
}

func newGateway(t *testing.T, cfg *config.Config, eng engine.Engine, diar diarization.Diarizer) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(cfg.MaxSessions)
	srv := httptest.NewServer(HandleTranscribeWS(cfg, registry, eng, diar))
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to decode event %q: %v", data, err)
	}
	if err := json.Unmarshal(data, &ev.raw); err != nil {
		t.Fatalf("Failed to decode event keys: %v", err)
	}
	return ev
}

func sendSpeech(t *testing.T, conn *websocket.Conn, cfg *config.Config, frames int) {
	t.Helper()
	samples := make([]int16, cfg.FrameSamples()*frames)
	for i := range samples {
		samples[i] = 5000
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, audio.SamplesToBytes(samples)); err != nil {
		t.Fatalf("Failed to send speech: %v", err)
	}
}

func sendSilence(t *testing.T, conn *websocket.Conn, cfg *config.Config, frames int) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, cfg.FrameBytes()*frames)); err != nil {
		t.Fatalf("Failed to send silence: %v", err)
	}
}

func sendStop(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("Failed to send stop: %v", err)
	}
}

// Single utterance end to end: establishment, partial, final, ready_to_stop.
func TestGateway_SingleUtterance(t *testing.T) {
	cfg := testConfig()
	eng := engine.NewScriptedEngine([]engine.Hypothesis{
		{Text: "hel", Final: false},
		{Text: "hello world", Final: true},
	})
	srv, _ := newGateway(t, cfg, eng, nil)
	conn := dial(t, srv)

	established := readEvent(t, conn)
	if established.Type != session.TypeConnectionEstablished {
		t.Fatalf("Expected %s first, got %s", session.TypeConnectionEstablished, established.Type)
	}
	if established.SessionID == "" {
		t.Error("Expected a session id in the establishment message")
	}

	sendSpeech(t, conn, cfg, 5)
	sendSilence(t, conn, cfg, 3)

	partial := readEvent(t, conn)
	if partial.Type != session.TypeTranscription || partial.IsFinal {
		t.Errorf("Expected a partial transcription, got %+v", partial)
	}
	if partial.Text != "hel" {
		t.Errorf("Expected partial text 'hel', got %q", partial.Text)
	}

	final := readEvent(t, conn)
	if !final.IsFinal {
		t.Errorf("Expected a final transcription, got %+v", final)
	}
	if final.Text != "hello world" {
		t.Errorf("Expected final text 'hello world', got %q", final.Text)
	}
	if final.SegmentID != established.SessionID+"-seg-0" {
		t.Errorf("Expected segment id %q, got %q", established.SessionID+"-seg-0", final.SegmentID)
	}

	sendStop(t, conn)

	last := readEvent(t, conn)
	if last.Type != session.TypeReadyToStop {
		t.Errorf("Expected %s, got %+v", session.TypeReadyToStop, last)
	}

	// The server then closes cleanly
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure, got %v", err)
	}
}

// Admission control: the N+1st connection is refused with a policy
// violation close, existing sessions are untouched, and a freed slot
// admits again.
func TestGateway_CapacityRejection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	srv, registry := newGateway(t, cfg, engine.NewScriptedEngine(), nil)

	first := dial(t, srv)
	if ev := readEvent(t, first); ev.Type != session.TypeConnectionEstablished {
		t.Fatalf("Expected first client admitted, got %+v", ev)
	}

	second := dial(t, srv)
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected policy violation close for rejected session, got %v", err)
	}

	// First session keeps working
	sendSpeech(t, first, cfg, 4)
	sendSilence(t, first, cfg, 3)
	if ev := readEvent(t, first); ev.Type != session.TypeTranscription {
		t.Errorf("Expected surviving session to still transcribe, got %+v", ev)
	}

	// Ending the first session frees the slot
	sendStop(t, first)
	readEvent(t, first) // ready_to_stop
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	first.ReadMessage() // close frame

	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected slot released, registry count %d", registry.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	third := dial(t, srv)
	if ev := readEvent(t, third); ev.Type != session.TypeConnectionEstablished {
		t.Errorf("Expected admission after release, got %+v", ev)
	}
}

// Engine failure mid-session: a degraded final is emitted and the session
// keeps accepting subsequent segments.
func TestGateway_EngineFailureDegrades(t *testing.T) {
	cfg := testConfig()
	eng := engine.NewScriptedEngine()
	eng.FailNext()
	srv, _ := newGateway(t, cfg, eng, nil)
	conn := dial(t, srv)
	readEvent(t, conn) // established

	for i := 0; i < 2; i++ {
		sendSpeech(t, conn, cfg, 4)
		sendSilence(t, conn, cfg, 3)

		ev := readEvent(t, conn)
		if !ev.IsFinal {
			t.Errorf("Segment %d: expected degraded final, got %+v", i, ev)
		}
		if ev.Error != "inference_error" {
			t.Errorf("Segment %d: expected error marker, got %q", i, ev.Error)
		}
	}

	sendStop(t, conn)
	if ev := readEvent(t, conn); ev.Type != session.TypeReadyToStop {
		t.Errorf("Expected %s after degraded finals, got %+v", session.TypeReadyToStop, ev)
	}
}

// Abrupt client disconnect releases the admission slot.
func TestGateway_DisconnectReleasesSlot(t *testing.T) {
	cfg := testConfig()
	srv, registry := newGateway(t, cfg, engine.NewScriptedEngine(), nil)

	conn := dial(t, srv)
	readEvent(t, conn) // established
	sendSpeech(t, conn, cfg, 2)

	conn.Close() // no close handshake

	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected session released after disconnect, registry count %d", registry.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Graceful client close finalizes instead of aborting: the open window is
// flushed through inference before the session is released.
func TestGateway_CloseFrameFinalizes(t *testing.T) {
	cfg := testConfig()
	eng := engine.NewScriptedEngine([]engine.Hypothesis{{Text: "flushed tail", Final: true}})
	srv, registry := newGateway(t, cfg, eng, nil)
	conn := dial(t, srv)
	readEvent(t, conn) // established

	// Speech with no closing silence, then a clean close handshake
	sendSpeech(t, conn, cfg, 4)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Failed to send close frame: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected session released after close handshake")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The flushed window still went through inference
	if eng.Calls() != 1 {
		t.Errorf("Expected the open window to be flushed and transcribed, got %d submissions", eng.Calls())
	}
}

type fixedDiarizer struct{ speaker int }

func (d *fixedDiarizer) Label(ctx context.Context, samples []int16, text string) (*int, error) {
	sp := d.speaker
	return &sp, nil
}

func (d *fixedDiarizer) Ping(ctx context.Context) error { return nil }

// With diarization disabled the speaker key is absent entirely, not null.
func TestGateway_SpeakerFieldPresence(t *testing.T) {
	cfg := testConfig()

	run := func(t *testing.T, diar diarization.Diarizer) wireEvent {
		eng := engine.NewScriptedEngine([]engine.Hypothesis{{Text: "who said this", Final: true}})
		srv, _ := newGateway(t, cfg, eng, diar)
		conn := dial(t, srv)
		readEvent(t, conn) // established

		sendSpeech(t, conn, cfg, 4)
		sendSilence(t, conn, cfg, 3)
		return readEvent(t, conn)
	}

	t.Run("disabled", func(t *testing.T) {
		final := run(t, nil)
		if !final.IsFinal {
			t.Fatalf("Expected final, got %+v", final)
		}
		if final.has("speaker") {
			t.Error("Expected no speaker key with diarization disabled")
		}
	})

	t.Run("enabled", func(t *testing.T) {
		final := run(t, &fixedDiarizer{speaker: 3})
		if !final.has("speaker") {
			t.Fatal("Expected speaker key with diarization enabled")
		}
		var speaker int
		if err := json.Unmarshal(final.raw["speaker"], &speaker); err != nil || speaker != 3 {
			t.Errorf("Expected speaker 3, got %s", final.raw["speaker"])
		}
	})
}

// Idle sessions are terminated once no bytes arrive for the timeout.
func TestGateway_IdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeoutSec = 1
	srv, registry := newGateway(t, cfg, engine.NewScriptedEngine(), nil)

	conn := dial(t, srv)
	readEvent(t, conn) // established

	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected idle session to be terminated")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
