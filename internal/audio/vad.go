package audio

// VADConfig holds configuration for energy based voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	FrameSize       int     // Samples per frame
	PadFrames       int     // Frames of silence kept around trimmed speech
}

// DefaultVADConfig returns a configuration tuned for 24kHz synthesized speech
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 300.0,
		FrameSize:       480, // 20ms at 24kHz
		PadFrames:       2,
	}
}

// VADDetector classifies frames as speech or silence by RMS energy
type VADDetector struct {
	config *VADConfig
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// IsSpeech reports whether a single frame exceeds the energy threshold
func (v *VADDetector) IsSpeech(samples []int16) bool {
	return CalculateRMS(samples) > v.config.EnergyThreshold
}

// TrimSilence drops leading and trailing silent frames, keeping PadFrames of
// margin on each side. Audio with no speech at all is returned unchanged so a
// quiet line is never turned into an empty file.
func TrimSilence(samples []int16, config *VADConfig) []int16 {
	if config == nil {
		config = DefaultVADConfig()
	}
	v := NewVADDetector(config)
	frame := config.FrameSize
	if frame <= 0 || len(samples) <= frame {
		return samples
	}

	first, last := -1, -1
	for start := 0; start < len(samples); start += frame {
		end := min(start+frame, len(samples))
		if v.IsSpeech(samples[start:end]) {
			if first < 0 {
				first = start
			}
			last = end
		}
	}
	if first < 0 {
		return samples
	}

	pad := config.PadFrames * frame
	return samples[max(0, first-pad):min(len(samples), last+pad)]
}

// DetectSilence detects if audio samples represent silence
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
