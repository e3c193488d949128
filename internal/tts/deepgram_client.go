package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speak "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
)

// auraVoices are the Deepgram Aura models, which double as voice ids
var auraVoices = map[string]bool{
	"aura-asteria-en": true,
	"aura-luna-en":    true,
	"aura-stella-en":  true,
	"aura-athena-en":  true,
	"aura-hera-en":    true,
	"aura-orion-en":   true,
	"aura-arcas-en":   true,
	"aura-perseus-en": true,
	"aura-angus-en":   true,
	"aura-orpheus-en": true,
	"aura-helios-en":  true,
	"aura-zeus-en":    true,
}

// saveFunc writes synthesized speech for text to path
type saveFunc func(ctx context.Context, path, text string, options *interfaces.SpeakOptions) error

// DeepgramSynthesizer implements VoiceSynthesizer using Deepgram's speak REST API
type DeepgramSynthesizer struct {
	save saveFunc
}

// NewDeepgramSynthesizer creates a new Deepgram client
func NewDeepgramSynthesizer(cfg *config.Config) *DeepgramSynthesizer {
	c := speak.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	dg := api.New(c)

	return &DeepgramSynthesizer{
		save: func(ctx context.Context, path, text string, options *interfaces.SpeakOptions) error {
			_, err := dg.ToSave(ctx, path, text, options)
			return err
		},
	}
}

// Kind implements VoiceSynthesizer
func (d *DeepgramSynthesizer) Kind() Kind {
	return KindDeepgram
}

// SupportsVoice accepts the Aura model names
func (d *DeepgramSynthesizer) SupportsVoice(voiceID string) bool {
	return auraVoices[strings.ToLower(voiceID)]
}

// Synthesize writes a 24kHz linear16 WAV for text
func (d *DeepgramSynthesizer) Synthesize(ctx context.Context, text, voiceID, outputDir string, position int) (string, error) {
	path := filepath.Join(outputDir, FileName(position))
	options := &interfaces.SpeakOptions{
		Model:      strings.ToLower(voiceID),
		Encoding:   "linear16",
		Container:  "wav",
		SampleRate: SampleRate,
	}

	if err := d.save(ctx, path, text, options); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("deepgram speak: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("deepgram speak: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return "", fmt.Errorf("deepgram speak: empty audio for position %d", position)
	}

	observability.RecordAudioBytes(string(KindDeepgram), info.Size())
	return path, nil
}
