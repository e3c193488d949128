// Package synthesis fans dialogue lines out to a voice synthesizer and joins
// the results under a per-batch deadline.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/story"
	"github.com/lexiqai/story-pipeline/internal/tts"
)

var (
	// ErrUnknownSpeaker marks a line whose speaker has no configured voice
	ErrUnknownSpeaker = errors.New("speaker has no configured voice")

	// ErrUnsupportedVoice marks a voice id the backend cannot use
	ErrUnsupportedVoice = errors.New("voice not supported by backend")
)

// Result is the outcome of one line. AudioPath is empty when the line failed.
type Result struct {
	Position  int
	AudioPath string
	Err       error
}

// FanOut runs one synthesis job per line on a shared worker pool
type FanOut struct {
	pool    *ants.Pool
	synth   tts.VoiceSynthesizer
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a FanOut with a pool of the given size
func New(synth tts.VoiceSynthesizer, workers int, timeout time.Duration) (*FanOut, error) {
	logger := observability.Component("synthesis")
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		logger.Error().Interface("panic", p).Msg("Panic in synthesis worker")
	}))
	if err != nil {
		return nil, fmt.Errorf("create synthesis pool: %w", err)
	}
	return &FanOut{pool: pool, synth: synth, timeout: timeout, logger: logger}, nil
}

// Close releases the worker pool
func (f *FanOut) Close() {
	f.pool.Release()
}

type job struct {
	position int
	text     string
	voiceID  string
}

// Synthesize writes <outputDir>/<position>.wav for every line whose speaker
// resolves to a voice. The returned results are sorted by position and hold
// one entry per line that finished, including unresolved speakers. When the
// deadline passes first, the results gathered so far are returned together
// with story.ErrSynthesisTimeout and outstanding jobs are cancelled.
func (f *FanOut) Synthesize(ctx context.Context, lines []story.Line, voices map[string]string, outputDir string) ([]Result, error) {
	results := make([]Result, 0, len(lines))
	jobs := make([]job, 0, len(lines))

	for pos, line := range lines {
		voiceID, ok := voices[line.Speaker]
		switch {
		case !ok:
			f.logger.Warn().Str("speaker", line.Speaker).Int("position", pos).Msg("No voice for speaker, line skipped")
			results = append(results, Result{Position: pos, Err: ErrUnknownSpeaker})
		case !f.synth.SupportsVoice(voiceID):
			f.logger.Warn().Str("voice", voiceID).Str("backend", string(f.synth.Kind())).Msg("Unsupported voice")
			results = append(results, Result{Position: pos, Err: fmt.Errorf("%w: %s", ErrUnsupportedVoice, voiceID)})
		default:
			jobs = append(jobs, job{position: pos, text: line.Text, voiceID: voiceID})
		}
	}

	if len(jobs) == 0 {
		sortResults(results)
		return results, nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	// Sized so that late jobs never block after the join gives up
	done := make(chan Result, len(jobs))

	// Submit blocks while every worker is busy, so it runs beside the join
	// and the deadline counts from the start of the batch.
	go func() {
		for _, j := range jobs {
			if err := batchCtx.Err(); err != nil {
				done <- Result{Position: j.position, Err: fmt.Errorf("submit synthesis job: %w", err)}
				continue
			}
			err := f.pool.Submit(func() {
				path, err := f.synth.Synthesize(batchCtx, j.text, j.voiceID, outputDir, j.position)
				done <- Result{Position: j.position, AudioPath: path, Err: err}
			})
			if err != nil {
				done <- Result{Position: j.position, Err: fmt.Errorf("submit synthesis job: %w", err)}
			}
		}
	}()

	expire := func(pending int) ([]Result, error) {
		cancel()
		f.logger.Warn().Int("pending", pending).Dur("timeout", f.timeout).Msg("Synthesis deadline reached")
		sortResults(results)
		return results, story.ErrSynthesisTimeout
	}

	for pending := len(jobs); pending > 0; pending-- {
		// A fired deadline wins over results that are ready at the same time
		select {
		case <-timer.C:
			return expire(pending)
		default:
		}

		select {
		case r := <-done:
			if r.Err != nil {
				f.logger.Error().Err(r.Err).Int("position", r.Position).Msg("Synthesis job failed")
			}
			results = append(results, r)
		case <-timer.C:
			return expire(pending)
		case <-ctx.Done():
			sortResults(results)
			return results, ctx.Err()
		}
	}

	sortResults(results)
	return results, nil
}

// Succeeded counts results that carry an audio path
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.AudioPath != "" {
			n++
		}
	}
	return n
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool { return results[i].Position < results[j].Position })
}
