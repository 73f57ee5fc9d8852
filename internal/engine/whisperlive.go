package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/whispercap/transcription-gateway/internal/audio"
	"github.com/whispercap/transcription-gateway/internal/config"
	"github.com/whispercap/transcription-gateway/internal/observability"
	"github.com/whispercap/transcription-gateway/internal/resilience"
)

// audio bytes per outbound WebSocket message to the engine
const engineWriteChunk = 8192

// endOfAudioMarker tells the engine no further audio follows for this segment.
const endOfAudioMarker = "END_OF_AUDIO"

// wlHandshake is the first message sent on every engine connection.
type wlHandshake struct {
	UID      string `json:"uid"`
	Language string `json:"language"`
	Task     string `json:"task"`
	Model    string `json:"model"`
	UseVAD   bool   `json:"use_vad"`
}

// wlServerMessage covers everything the engine sends back: the readiness
// ack after the handshake, backpressure status, and hypothesis updates.
type wlServerMessage struct {
	UID      string          `json:"uid"`
	Status   string          `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
	Segments []wlTextSegment `json:"segments,omitempty"`
}

type wlTextSegment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
}

// WhisperLiveClient implements Engine against a WhisperLive-style
// recognition server: JSON handshake, float32 PCM audio frames, JSON
// hypothesis messages. Each Transcribe call opens its own connection, so
// segments from different sessions run concurrently while the per-session
// dispatcher keeps submissions serialized.
type WhisperLiveClient struct {
	config  *config.Config
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker
	dialer  *websocket.Dialer
}

// NewWhisperLiveClient creates a client for the engine at cfg.EngineURL.
func NewWhisperLiveClient(cfg *config.Config) *WhisperLiveClient {
	return &WhisperLiveClient{
		config: cfg,
		logger: observability.GetLogger().With().Str("component", "engine").Logger(),
		breaker: resilience.NewCircuitBreaker(
			"engine",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Transcribe submits one segment and streams hypotheses back. The stream
// closes after the final hypothesis; closing without one means the engine
// failed or timed out for this segment.
func (c *WhisperLiveClient) Transcribe(ctx context.Context, samples []int16) (<-chan Hypothesis, error) {
	var conn *websocket.Conn
	err := c.breaker.Call(func() error {
		var dialErr error
		conn, dialErr = c.connect(ctx)
		return dialErr
	})
	observability.UpdateCircuitBreakerState("engine", int(c.breaker.GetState()))
	if err != nil {
		return nil, fmt.Errorf("engine unavailable: %w", err)
	}

	out := make(chan Hypothesis, 16)

	// Force the blocking reads below to fail when the caller gives up.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()

		if err := c.sendAudio(conn, samples); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send segment audio to engine")
			return
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}

		for {
			var msg wlServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				// Closed without a final hypothesis: failure path,
				// the dispatcher emits the degraded final event.
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.logger.Warn().Err(err).Msg("Engine stream ended without final hypothesis")
				}
				return
			}

			if len(msg.Segments) == 0 {
				continue
			}

			text, done := joinSegments(msg.Segments)
			h := Hypothesis{Text: text, Final: done}
			select {
			case out <- h:
			case <-ctx.Done():
				return
			}
			if done {
				return
			}
		}
	}()

	return out, nil
}

// connect dials the engine and completes the handshake.
func (c *WhisperLiveClient) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.config.EngineURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine at %s: %w", c.config.EngineURL, err)
	}

	hs := wlHandshake{
		UID:      uuid.New().String(),
		Language: c.config.Language,
		Task:     "transcribe",
		Model:    c.config.WhisperModel,
		UseVAD:   false, // segmentation already happened upstream
	}
	if err := conn.WriteJSON(hs); err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine handshake write failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack wlServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine handshake read failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if ack.Status == "WAIT" {
		conn.Close()
		return nil, fmt.Errorf("engine at capacity")
	}
	if ack.Message != "SERVER_READY" {
		conn.Close()
		return nil, fmt.Errorf("unexpected engine handshake reply: %q", ack.Message)
	}

	return conn, nil
}

// sendAudio streams the segment as normalized float32 PCM followed by the
// end-of-audio marker.
func (c *WhisperLiveClient) sendAudio(conn *websocket.Conn, samples []int16) error {
	payload := audio.SamplesToFloat32LE(samples)
	for off := 0; off < len(payload); off += engineWriteChunk {
		end := off + engineWriteChunk
		if end > len(payload) {
			end = len(payload)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, payload[off:end]); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(endOfAudioMarker))
}

// Ping dials the engine and completes a handshake to verify it is up.
func (c *WhisperLiveClient) Ping(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close releases client resources. Connections are per-segment, so there
// is nothing persistent to tear down.
func (c *WhisperLiveClient) Close() error {
	return nil
}

func joinSegments(segs []wlTextSegment) (text string, done bool) {
	parts := make([]string, 0, len(segs))
	done = true
	for _, s := range segs {
		t := strings.TrimSpace(s.Text)
		if t != "" {
			parts = append(parts, t)
		}
		if !s.Completed {
			done = false
		}
	}
	return strings.Join(parts, " "), done
}
