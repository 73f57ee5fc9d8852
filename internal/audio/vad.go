package audio

// VADConfig holds configuration for voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
	}
}

// VADClassifier labels frames as speech or silence using RMS energy.
// It is stateless; boundary decisions (silence runs, caps) belong to the
// segmenter.
type VADClassifier struct {
	config *VADConfig
}

// NewVADClassifier creates a new VAD classifier
func NewVADClassifier(config *VADConfig) *VADClassifier {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADClassifier{config: config}
}

// Classify returns true when the frame contains speech
func (v *VADClassifier) Classify(frame Frame) bool {
	return CalculateRMS(frame.Samples) > v.config.EnergyThreshold
}

// DetectSilence reports whether samples fall below the given energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
