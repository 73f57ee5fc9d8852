// Package transport terminates client WebSocket connections on /transcribe
// and bridges them to sessions: binary frames carry PCM audio in, JSON
// events flow out through the session's emitter.
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/whispercap/transcription-gateway/internal/audio"
	"github.com/whispercap/transcription-gateway/internal/config"
	"github.com/whispercap/transcription-gateway/internal/diarization"
	"github.com/whispercap/transcription-gateway/internal/engine"
	"github.com/whispercap/transcription-gateway/internal/observability"
	"github.com/whispercap/transcription-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins; auth is out of
		// scope for the gateway itself.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const writeTimeout = 10 * time.Second

// clientCommand is an inbound text frame. Anything the gateway does not
// recognize is ignored.
type clientCommand struct {
	Type string `json:"type"`
}

// Conn wraps a WebSocket connection as a session sink. The session's
// emitter is the only event writer, but close frames come from the
// handler goroutine, so writes are serialized here.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// WriteEvent marshals one event to the client with a write deadline, so a
// stalled peer turns into an error instead of a wedged emitter.
func (c *Conn) WriteEvent(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *Conn) writeClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

// HandleTranscribeWS is the entry point for /transcribe connections. One
// invocation owns one session for the life of the socket.
func HandleTranscribeWS(cfg *config.Config, registry *session.Registry, eng engine.Engine, diarizer diarization.Diarizer) http.HandlerFunc {
	logger := observability.GetLogger()
	idleTimeout := time.Duration(cfg.IdleTimeoutSec) * time.Second

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer ws.Close()

		conn := &Conn{ws: ws}
		id := observability.NewSessionID()
		sess := session.New(id, cfg, eng, diarizer, conn)

		// Admission happens after the session exists so rejection can
		// tear it down through the normal path.
		if err := registry.Admit(sess); err != nil {
			observability.RecordRejection()
			logger.Warn().
				Str("session_id", id).
				Int("active", registry.Count()).
				Msg("Session rejected, at capacity")
			sess.Abort("capacity")
			<-sess.Done()
			conn.writeClose(websocket.ClosePolicyViolation, "capacity")
			return
		}
		defer registry.Release(id)

		if err := sess.AnnounceAdmission(); err != nil {
			logger.Warn().Err(err).Str("session_id", id).Msg("Failed to announce admission")
		}

		readLoop(ws, conn, sess, idleTimeout)

		// Let the pipeline settle (in-flight inference, queued events,
		// the terminating control message) before the close frame.
		<-sess.Done()
		conn.writeClose(websocket.CloseNormalClosure, "")
	}
}

// readLoop consumes inbound frames until the client stops, disconnects,
// or the session terminates it. It is the only reader of the socket and
// the only caller of Ingest/Stop/Abort, which keeps the session's
// ingestion path single-threaded.
func readLoop(ws *websocket.Conn, conn *Conn, sess *session.Session, idleTimeout time.Duration) {
	logger := observability.WithSession(sess.ID())

	for {
		ws.SetReadDeadline(time.Now().Add(idleTimeout))
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			handleReadError(err, sess, logger)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			ierr := sess.Ingest(data)
			if ierr == nil {
				continue
			}
			if errors.Is(ierr, session.ErrSessionClosed) {
				// Audio raced the stop; drop it.
				continue
			}
			if errors.Is(ierr, audio.ErrOverflow) {
				logger.Warn().Int("chunk_bytes", len(data)).Msg("Buffer overflow, terminating session")
				sess.Abort("overflow")
				conn.writeClose(websocket.CloseInternalServerErr, "buffer_overflow")
				return
			}
			logger.Error().Err(ierr).Msg("Ingest failed, terminating session")
			sess.Abort("ingest_error")
			return

		case websocket.TextMessage:
			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				logger.Debug().Err(err).Msg("Ignoring malformed text frame")
				continue
			}
			switch cmd.Type {
			case "stop", "end_session":
				sess.Stop()
				return
			default:
				logger.Debug().Str("type", cmd.Type).Msg("Ignoring unknown command")
			}
		}
	}
}

// handleReadError maps a socket read failure to the matching lifecycle
// transition: a clean close finalizes gracefully, everything else aborts
// and discards undelivered events.
func handleReadError(err error, sess *session.Session, logger zerolog.Logger) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Info().Msg("Client closed connection, finalizing")
		sess.Stop()
		return
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Info().Msg("Idle timeout, terminating session")
		sess.Abort("idle_timeout")
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure) {
		logger.Warn().Err(err).Msg("WebSocket read error")
	}
	sess.Abort("transport_error")
}
