package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the transcription gateway service.
// Everything is read once at startup; there is no hot-reload.
type Config struct {
	// Server configuration
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port string `envconfig:"PORT" default:"8000"`

	// Recognition engine configuration
	WhisperModel  string `envconfig:"WHISPER_MODEL" default:"base"`     // Model identifier passed to the engine
	ModelCacheDir string `envconfig:"MODEL_CACHE_DIR" default:"/cache"` // Where the engine caches model files
	Language      string `envconfig:"LANGUAGE" default:"en"`            // Source language tag (en, es, fr, ...)
	EngineURL     string `envconfig:"ENGINE_URL" default:"ws://localhost:6006"`
	EngineTimeout int    `envconfig:"ENGINE_TIMEOUT" default:"30"` // Per-segment inference timeout in seconds

	// Diarization configuration
	DiarizationEnabled bool   `envconfig:"DIARIZATION_ENABLED" default:"false"`
	DiarizationURL     string `envconfig:"DIARIZATION_URL" default:"http://localhost:9090"`
	DiarizationTimeout int    `envconfig:"DIARIZATION_TIMEOUT" default:"5"` // Per-request timeout in seconds

	// Session admission and lifecycle
	MaxSessions    int `envconfig:"MAX_SESSIONS" default:"16"`     // Admission limit for concurrent sessions
	IdleTimeoutSec int `envconfig:"IDLE_TIMEOUT_SEC" default:"60"` // No inbound bytes for this long closes the session

	// Audio framing configuration
	FrameDurationMs  int `envconfig:"FRAME_DURATION_MS" default:"20"`       // Analysis frame size (20-30ms)
	MaxBufferedBytes int `envconfig:"MAX_BUFFERED_BYTES" default:"1048576"` // Frame buffer backlog cap before overflow

	// Voice activity detection and segmentation
	VADEnergyThreshold   float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`    // RMS energy threshold for speech
	VADSilenceFrames     int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`         // Silence run that closes a segment (25 frames * 20ms = 500ms)
	MaxSegmentDurationMs int     `envconfig:"MAX_SEGMENT_DURATION_MS" default:"15000"` // Duration cap, closes even mid-speech
	SegmentOverlapMs     int     `envconfig:"SEGMENT_OVERLAP_MS" default:"300"`        // Trailing context carried across a cap cut
	MaxLeadingSilenceMs  int     `envconfig:"MAX_LEADING_SILENCE_MS" default:"30000"`  // Speechless window dropped after this long

	// Engine resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // Milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // Milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// SampleRate is fixed by the transport contract: 16kHz mono 16-bit PCM,
// no negotiation.
const SampleRate = 16000

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// FrameBytes returns the size in bytes of one analysis frame.
func (c *Config) FrameBytes() int {
	return SampleRate * c.FrameDurationMs / 1000 * BytesPerSample
}

// FrameSamples returns the number of samples in one analysis frame.
func (c *Config) FrameSamples() int {
	return SampleRate * c.FrameDurationMs / 1000
}

// MaxSegmentFrames returns the duration cap expressed in frames.
func (c *Config) MaxSegmentFrames() int {
	return c.MaxSegmentDurationMs / c.FrameDurationMs
}

// OverlapFrames returns the cap-cut trailing overlap expressed in frames.
func (c *Config) OverlapFrames() int {
	return c.SegmentOverlapMs / c.FrameDurationMs
}

// MaxLeadingSilenceFrames returns the speechless-drop limit expressed in frames.
func (c *Config) MaxLeadingSilenceFrames() int {
	return c.MaxLeadingSilenceMs / c.FrameDurationMs
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that envconfig cannot express.
func (c *Config) Validate() error {
	if c.MaxSessions < 1 {
		return fmt.Errorf("MAX_SESSIONS must be at least 1, got %d", c.MaxSessions)
	}
	if c.FrameDurationMs < 10 || c.FrameDurationMs > 100 {
		return fmt.Errorf("FRAME_DURATION_MS must be between 10 and 100, got %d", c.FrameDurationMs)
	}
	if c.MaxBufferedBytes < c.FrameBytes() {
		return fmt.Errorf("MAX_BUFFERED_BYTES must hold at least one frame (%d bytes), got %d", c.FrameBytes(), c.MaxBufferedBytes)
	}
	if c.MaxSegmentDurationMs <= c.SegmentOverlapMs {
		return fmt.Errorf("MAX_SEGMENT_DURATION_MS (%d) must exceed SEGMENT_OVERLAP_MS (%d)", c.MaxSegmentDurationMs, c.SegmentOverlapMs)
	}
	if c.EngineURL == "" {
		return fmt.Errorf("ENGINE_URL is required")
	}
	if c.DiarizationEnabled && c.DiarizationURL == "" {
		return fmt.Errorf("DIARIZATION_URL is required when DIARIZATION_ENABLED is true")
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
