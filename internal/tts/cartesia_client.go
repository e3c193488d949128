package tts

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lexiqai/story-pipeline/internal/audio"
	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
)

const (
	cartesiaURL     = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion = "2024-06-10"
	maxAmplitude    = 29000 // about -1 dBFS
)

// CartesiaSynthesizer implements VoiceSynthesizer using Cartesia's bytes endpoint
type CartesiaSynthesizer struct {
	apiKey     string
	apiURL     string
	modelID    string
	sampleRate int
	httpClient *http.Client
	limiter    *rate.Limiter
	vad        *audio.VADConfig
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaRequest is the request payload for the Cartesia TTS API
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
}

// NewCartesiaSynthesizer creates a new Cartesia client
func NewCartesiaSynthesizer(cfg *config.Config) *CartesiaSynthesizer {
	rps := cfg.TTSRequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &CartesiaSynthesizer{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     cartesiaURL,
		modelID:    cfg.CartesiaModelID,
		sampleRate: cmp.Or(cfg.CartesiaSampleRate, SampleRate),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		vad:        audio.DefaultVADConfig(),
	}
}

// Kind implements VoiceSynthesizer
func (c *CartesiaSynthesizer) Kind() Kind {
	return KindCartesia
}

// SupportsVoice accepts Cartesia voice ids, which are UUIDs
func (c *CartesiaSynthesizer) SupportsVoice(voiceID string) bool {
	_, err := uuid.Parse(voiceID)
	return err == nil
}

// Synthesize requests raw PCM, trims leading and trailing silence and writes a WAV file
func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text, voiceID, outputDir string, position int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("cartesia rate limit wait: %w", err)
	}

	pcm, err := c.fetch(ctx, text, voiceID)
	if err != nil {
		return "", err
	}

	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return "", fmt.Errorf("cartesia returned unusable audio: %w", err)
	}
	if audio.DetectSilence(samples, c.vad.EnergyThreshold) {
		return "", fmt.Errorf("cartesia returned silent audio for voice %s", voiceID)
	}
	samples = audio.Resample(samples, c.sampleRate, SampleRate)
	samples = audio.TrimSilence(samples, c.vad)
	samples = audio.NormalizeAudio(samples, maxAmplitude)

	path := filepath.Join(outputDir, FileName(position))
	n, err := audio.WriteWAVFile(path, audio.EncodePCM16(samples), audio.Mono16(SampleRate))
	if err != nil {
		return "", err
	}
	observability.RecordAudioBytes(string(KindCartesia), n)
	return path, nil
}

func (c *CartesiaSynthesizer) fetch(ctx context.Context, text, voiceID string) ([]byte, error) {
	reqBody := cartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading cartesia audio response: %w", err)
	}
	return pcm, nil
}
