package audio

import (
	"encoding/binary"
	"math"
)

// BytesToSamples decodes little-endian 16-bit signed PCM bytes into samples.
// len(data) must be even; the caller (frame buffer) guarantees whole frames.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples back to little-endian 16-bit PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// SamplesToFloat32LE converts 16-bit samples to the little-endian float32
// normalized form ([-1.0, 1.0]) the recognition engine consumes.
func SamplesToFloat32LE(samples []int16) []byte {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		f := float32(s) / 32768.0
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// CalculateRMS calculates the root mean square energy of audio samples.
// Used by the VAD classifier to separate speech from silence.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
