package tts

import (
	"context"
	"path/filepath"
	"time"

	"github.com/lexiqai/story-pipeline/internal/audio"
)

// SilenceSynthesizer writes silent WAV files sized to the text.
// It needs no credentials and is meant for local runs and pipeline tests.
type SilenceSynthesizer struct {
	// Voices restricts SupportsVoice when non-empty
	Voices map[string]bool
}

// Kind implements VoiceSynthesizer
func (s *SilenceSynthesizer) Kind() Kind {
	return KindSilence
}

// SupportsVoice implements VoiceSynthesizer
func (s *SilenceSynthesizer) SupportsVoice(voiceID string) bool {
	if len(s.Voices) == 0 {
		return voiceID != ""
	}
	return s.Voices[voiceID]
}

// Synthesize implements VoiceSynthesizer
func (s *SilenceSynthesizer) Synthesize(ctx context.Context, text, voiceID, outputDir string, position int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	samples := int(EstimateDuration(text).Seconds() * SampleRate)
	path := filepath.Join(outputDir, FileName(position))
	if _, err := audio.WriteWAVFile(path, make([]byte, samples*2), audio.Mono16(SampleRate)); err != nil {
		return "", err
	}
	return path, nil
}

// EstimateDuration assumes roughly 150 words per minute and 5 characters per word
func EstimateDuration(text string) time.Duration {
	words := max(1, len(text)/5)
	return time.Duration(float64(words) * 60.0 / 150.0 * float64(time.Second))
}
