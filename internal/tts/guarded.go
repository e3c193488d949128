package tts

import (
	"context"
	"fmt"

	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/resilience"
)

// Guarded wraps a backend with a circuit breaker shared by all of its jobs
type Guarded struct {
	VoiceSynthesizer
	breaker *resilience.CircuitBreaker
}

// Compile-time interface assertion
var _ VoiceSynthesizer = (*Guarded)(nil)

// NewGuarded creates a Guarded synthesizer
func NewGuarded(s VoiceSynthesizer, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{VoiceSynthesizer: s, breaker: breaker}
}

// Synthesize fails fast while the backend's breaker is open
func (g *Guarded) Synthesize(ctx context.Context, text, voiceID, outputDir string, position int) (string, error) {
	var path string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		path, err = g.VoiceSynthesizer.Synthesize(ctx, text, voiceID, outputDir, position)
		return err
	})
	if err != nil {
		observability.IncrementCircuitBreakerFailures(string(g.Kind()))
		return "", err
	}
	return path, nil
}

// Healthy reports whether the breaker currently lets requests through
func (g *Guarded) Healthy(ctx context.Context) (bool, error) {
	state, requests, failures, _ := g.breaker.GetStats()
	if state == resilience.StateOpen {
		return false, fmt.Errorf("%s circuit open after %d failures in %d requests", g.Kind(), failures, requests)
	}
	return true, nil
}
