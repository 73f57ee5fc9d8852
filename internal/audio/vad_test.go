package audio

import (
	"testing"
)

func speechFrame(n int) Frame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 5000 // High amplitude
	}
	return Frame{Samples: samples}
}

func silenceFrame(n int) Frame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 10 // Low amplitude
	}
	return Frame{Samples: samples}
}

func TestVADClassifier_Speech(t *testing.T) {
	vad := NewVADClassifier(&VADConfig{EnergyThreshold: 500.0})

	if !vad.Classify(speechFrame(320)) {
		t.Error("Expected high-energy frame to classify as speech")
	}
}

func TestVADClassifier_Silence(t *testing.T) {
	vad := NewVADClassifier(&VADConfig{EnergyThreshold: 500.0})

	if vad.Classify(silenceFrame(320)) {
		t.Error("Expected low-energy frame to classify as silence")
	}
}

func TestVADClassifier_Threshold(t *testing.T) {
	lowThreshold := NewVADClassifier(&VADConfig{EnergyThreshold: 100.0})
	highThreshold := NewVADClassifier(&VADConfig{EnergyThreshold: 5000.0})

	// Medium-energy frame
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = 1000
	}
	frame := Frame{Samples: samples}

	if !lowThreshold.Classify(frame) {
		t.Error("Expected low threshold to detect speech")
	}
	if highThreshold.Classify(frame) {
		t.Error("Expected high threshold to not detect speech")
	}
}

func TestVADClassifier_NilConfig(t *testing.T) {
	vad := NewVADClassifier(nil)

	if !vad.Classify(speechFrame(320)) {
		t.Error("Expected default config to detect high-energy speech")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
}

func TestCalculateRMS(t *testing.T) {
	// Test with known values
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	// Expected RMS: sqrt((1000^2 + 1000^2 + 2000^2 + 2000^2) / 4)
	expected := 1581.14 // Approximate
	tolerance := 1.0

	if rms < expected-tolerance || rms > expected+tolerance {
		t.Errorf("Expected RMS around %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty samples, got %f", rms)
	}
}

func TestDetectSilence(t *testing.T) {
	// High energy samples
	highSamples := []int16{5000, 5000, 5000}
	if DetectSilence(highSamples, 1000.0) {
		t.Error("Expected high energy samples to not be silence")
	}

	// Low energy samples
	lowSamples := []int16{10, 10, 10}
	if !DetectSilence(lowSamples, 1000.0) {
		t.Error("Expected low energy samples to be silence")
	}
}
