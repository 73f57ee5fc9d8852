// Package diarization attaches speaker labels to finalized hypotheses via
// an external collaborator. It is pure post-processing: partial hypotheses
// are never labeled, and adapter failure degrades to an unlabeled event.
package diarization

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/whispercap/transcription-gateway/internal/audio"
	"github.com/whispercap/transcription-gateway/internal/config"
	"github.com/whispercap/transcription-gateway/internal/observability"
	"github.com/whispercap/transcription-gateway/internal/resilience"
)

// Diarizer labels a finalized segment with a speaker identity.
// A nil speaker means no label could be assigned.
type Diarizer interface {
	Label(ctx context.Context, samples []int16, text string) (*int, error)

	// Ping verifies the collaborator is reachable, for readiness checks.
	Ping(ctx context.Context) error
}

// labelRequest is the JSON body sent to the diarization service.
type labelRequest struct {
	Audio      string `json:"audio"` // base64 16kHz mono s16le PCM
	SampleRate int    `json:"sample_rate"`
	Text       string `json:"text,omitempty"`
}

// labelResponse is the JSON body returned by the diarization service.
type labelResponse struct {
	Speaker *int `json:"speaker"`
}

// HTTPAdapter implements Diarizer against an HTTP JSON sidecar
// (typically a pyannote-style service).
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewHTTPAdapter creates an adapter for the service at cfg.DiarizationURL.
func NewHTTPAdapter(cfg *config.Config) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: cfg.DiarizationURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.DiarizationTimeout) * time.Second,
		},
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: observability.GetLogger().With().Str("component", "diarization").Logger(),
	}
}

// Label asks the collaborator for a speaker identity. Transient network
// failures are retried with backoff; anything else surfaces to the caller,
// which emits the event with the speaker unset.
func (a *HTTPAdapter) Label(ctx context.Context, samples []int16, text string) (*int, error) {
	body, err := json.Marshal(labelRequest{
		Audio:      base64.StdEncoding.EncodeToString(audio.SamplesToBytes(samples)),
		SampleRate: config.SampleRate,
		Text:       text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode diarization request: %w", err)
	}

	var speaker *int
	err = resilience.Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/label", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("diarization service returned %d", resp.StatusCode)
		}

		var out labelResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode diarization response: %w", err)
		}
		speaker = out.Speaker
		return nil
	}, a.retry, resilience.IsRetryableNetworkError)

	if err != nil {
		return nil, err
	}
	return speaker, nil
}

// Ping checks the collaborator's health endpoint.
func (a *HTTPAdapter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("diarization service returned %d", resp.StatusCode)
	}
	return nil
}
