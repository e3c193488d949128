package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectConfig holds configuration for opening a dependency that may not be up yet
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of attempts
	Backoff     time.Duration // Delay after the first failure
	Multiplier  float64       // Backoff growth factor
	MaxBackoff  time.Duration // Upper bound on the delay
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Connect calls open until it returns a value, backing off exponentially between
// attempts. name is used for logging only.
func Connect[T any](ctx context.Context, name string, open func(ctx context.Context) (T, error), config *ReconnectConfig) (T, error) {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	var zero T
	var lastErr error
	backoff := config.Backoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := open(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("target", name).Int("attempt", attempt).Msg("Connected after retry")
			}
			return v, nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}
		log.Warn().Err(err).
			Str("target", name).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Connection attempt failed")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return zero, fmt.Errorf("connect %s: gave up after %d attempts: %w", name, config.MaxAttempts, lastErr)
}
