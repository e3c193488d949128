package tts

import (
	"fmt"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/resilience"
)

// New builds the backend named by kind, wrapped in a circuit breaker
func New(kind Kind, cfg *config.Config) (*Guarded, error) {
	var backend VoiceSynthesizer
	switch kind {
	case KindDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY is required for the %s backend", kind)
		}
		backend = NewDeepgramSynthesizer(cfg)
	case KindCartesia:
		if cfg.CartesiaAPIKey == "" {
			return nil, fmt.Errorf("CARTESIA_API_KEY is required for the %s backend", kind)
		}
		backend = NewCartesiaSynthesizer(cfg)
	case KindSilence:
		backend = &SilenceSynthesizer{}
	default:
		return nil, fmt.Errorf("unknown voice generator %q", kind)
	}

	breaker := resilience.NewCircuitBreaker(
		"tts-"+string(kind),
		cfg.CircuitBreakerMaxFailures,
		config.Seconds(cfg.CircuitBreakerResetTimeout),
	).OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})

	return NewGuarded(backend, breaker), nil
}
