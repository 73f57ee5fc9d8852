package session

import "time"

// Outbound message types on the transport.
const (
	TypeTranscription         = "transcription"
	TypeConnectionEstablished = "connection_established"
	TypeReadyToStop           = "ready_to_stop"
)

// TranscriptionEvent is one hypothesis update serialized to the client.
// Exactly one event with IsFinal=true exists per committed segment; zero
// or more partials may precede it for the same segment.
type TranscriptionEvent struct {
	Type           string   `json:"type"`
	Text           string   `json:"text"`
	IsFinal        bool     `json:"is_final"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Language       string   `json:"language"`
	ProcessingTime float64  `json:"processing_time"` // seconds
	Timestamp      float64  `json:"timestamp"`       // epoch seconds
	Speaker        *int     `json:"speaker,omitempty"`
	SegmentID      string   `json:"segment_id"`
	Error          string   `json:"error,omitempty"` // marker on degraded finals

	// Seq orders events within a session; it is encoded in SegmentID
	// and kept here for internal assertions.
	Seq uint64 `json:"-"`
}

// ControlMessage is a non-transcription message to the client.
type ControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
