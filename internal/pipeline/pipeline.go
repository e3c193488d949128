// Package pipeline turns queued topics into stories, one iteration at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/dialogue"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/story"
	"github.com/lexiqai/story-pipeline/internal/synthesis"
	"github.com/lexiqai/story-pipeline/internal/textgen"
)

// TopicRepository is the part of the topic store the pipeline consumes
type TopicRepository interface {
	SelectNext(ctx context.Context) (*story.Topic, error)
	Delete(ctx context.Context, id string) error
}

// StoryRepository is the part of the story store the pipeline writes to
type StoryRepository interface {
	StoryLookup
	Create(ctx context.Context, s *story.Story) (*story.Story, error)
	CountByClass(ctx context.Context, class story.PriorityClass) (int, error)
}

// Synthesizer renders dialogue lines into per-line audio files
type Synthesizer interface {
	Synthesize(ctx context.Context, lines []story.Line, voices map[string]string, outputDir string) ([]synthesis.Result, error)
}

// Dependencies are the collaborators of a Pipeline
type Dependencies struct {
	Topics      TopicRepository
	Stories     StoryRepository
	Generator   textgen.Generator
	Synthesizer Synthesizer
	State       *observability.PipelineState

	// OnStory is called after a story is persisted and its topic retired
	OnStory func(*story.Story)
}

// Pipeline runs the select, generate, synthesize, persist loop
type Pipeline struct {
	deps         Dependencies
	auditor      *Auditor
	audioDir     string
	configName   string
	systemPrompt string
	voices       map[string]string
	caps         map[story.PriorityClass]int
	manifest     bool
	backoffs     map[Outcome]time.Duration
	logger       zerolog.Logger

	// sleep waits between iterations; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline from configuration and the dialogue file
func New(cfg *config.Config, d *config.Dialogue, deps Dependencies) *Pipeline {
	if deps.State == nil {
		deps.State = &observability.PipelineState{}
	}
	return &Pipeline{
		deps:         deps,
		auditor:      NewAuditor(cfg.AudioDir(), cfg.ManifestEnabled, deps.Stories),
		audioDir:     cfg.AudioDir(),
		configName:   cfg.ConfigName,
		systemPrompt: d.SystemPrompt,
		voices:       d.VoiceMap(),
		caps:         cfg.ClassCaps(),
		manifest:     cfg.ManifestEnabled,
		backoffs: map[Outcome]time.Duration{
			OutcomeIdle:      config.Seconds(cfg.IdleBackoff),
			OutcomeQuota:     config.Seconds(cfg.QuotaBackoff),
			OutcomeTransient: config.Seconds(cfg.TransientBackoff),
			OutcomeDiscarded: config.Seconds(cfg.DiscardBackoff),
		},
		logger: observability.Component("pipeline"),
		sleep:  sleepContext,
	}
}

// Audit runs the directory reconciliation on its own
func (p *Pipeline) Audit(ctx context.Context) ([]Removal, error) {
	return p.auditor.Run(ctx)
}

// Run loops until ctx is cancelled or an iteration ends fatally.
// Cancellation is a clean stop and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info().Str("audio_dir", p.audioDir).Msg("Pipeline started")
	for {
		outcome, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			p.logger.Info().Msg("Pipeline stopped")
			return nil
		}
		if outcome == OutcomeFatal {
			p.logger.Error().Err(err).Msg("Pipeline halted")
			p.deps.State.Halt(err.Error())
			return err
		}

		if d := p.backoffs[outcome]; d > 0 {
			if err := p.sleep(ctx, d); err != nil {
				p.logger.Info().Msg("Pipeline stopped")
				return nil
			}
		}
	}
}

// RunOnce performs a single iteration. The error is non-nil for every
// outcome other than OutcomeCreated and OutcomeIdle.
func (p *Pipeline) RunOnce(ctx context.Context) (Outcome, error) {
	iterationID := observability.NewIterationID()
	m := observability.NewIterationMetrics(iterationID)
	logger := observability.WithIteration(iterationID)

	outcome, err := p.iterate(ctx, logger, m)
	m.RecordIterationEnd(outcome.String())

	switch outcome {
	case OutcomeIdle, OutcomeCreated:
	case OutcomeQuota:
		logger.Debug().Err(err).Msg("Quota reached")
	default:
		logger.Warn().Err(err).Str("outcome", outcome.String()).Msg("Iteration failed")
		m.RecordError(outcome.String(), "pipeline")
	}
	return outcome, err
}

func (p *Pipeline) iterate(ctx context.Context, logger zerolog.Logger, m *observability.Metrics) (Outcome, error) {
	if _, err := p.auditor.Run(ctx); err != nil {
		if story.IsRepositoryError(err) {
			return OutcomeFatal, fmt.Errorf("audit: %w", err)
		}
		logger.Warn().Err(err).Msg("Audit incomplete")
	}

	topic, err := p.deps.Topics.SelectNext(ctx)
	if err != nil {
		return OutcomeFatal, fmt.Errorf("select topic: %w", err)
	}
	if topic == nil {
		return OutcomeIdle, nil
	}

	logger = logger.With().
		Str("topic_id", topic.ID).
		Str("priority_class", topic.PriorityClass.String()).
		Logger()
	m.RecordTopicSelected(topic.PriorityClass.String())

	if limit, ok := p.caps[topic.PriorityClass]; ok {
		n, err := p.deps.Stories.CountByClass(ctx, topic.PriorityClass)
		if err != nil {
			return OutcomeFatal, fmt.Errorf("count stories: %w", err)
		}
		if n >= limit {
			return OutcomeQuota, fmt.Errorf("%w: %s has %d of %d", story.ErrQuotaReached, topic.PriorityClass, n, limit)
		}
	}

	logger.Info().Msg("Generating dialogue")
	m.RecordGenerationStart()
	raw, err := p.deps.Generator.Generate(ctx, p.systemPrompt, topic.Text)
	m.RecordGenerationEnd(err == nil)
	if err != nil {
		switch {
		case story.IsFatal(err):
			return OutcomeFatal, err
		case errors.Is(err, story.ErrEmptyResponse), errors.Is(err, story.ErrRejectedTopic):
			return p.retire(ctx, topic, err)
		default:
			return OutcomeTransient, err
		}
	}

	normalized, err := dialogue.Normalize(raw)
	if err != nil {
		return p.retire(ctx, topic, err)
	}
	lines, err := dialogue.ParseLines(normalized)
	if err != nil {
		return p.retire(ctx, topic, err)
	}

	storyID := uuid.NewString()
	dir := filepath.Join(p.audioDir, storyID)
	logger = logger.With().Str("story_id", storyID).Logger()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return OutcomeDiscarded, fmt.Errorf("create story directory: %w", err)
	}

	logger.Info().Int("lines", len(lines)).Msg("Synthesizing dialogue")
	m.RecordSynthesisStart()
	results, err := p.deps.Synthesizer.Synthesize(ctx, lines, p.voices, dir)
	succeeded := synthesis.Succeeded(results)
	m.RecordSynthesisEnd(succeeded, len(lines)-succeeded)
	if err == nil {
		err = validate(dir, lines, results)
	}
	if err == nil && p.manifest {
		err = writeManifest(dir, lines, results)
	}
	if err != nil {
		p.discard(logger, dir)
		return OutcomeDiscarded, err
	}

	s := assemble(topic, storyID, p.configName, lines, results)
	created, err := p.deps.Stories.Create(ctx, s)
	if err != nil {
		return OutcomeFatal, fmt.Errorf("persist story: %w", err)
	}
	// The story is persisted, so a topic someone else already removed counts as retired
	if err := p.deps.Topics.Delete(ctx, topic.ID); errors.Is(err, story.ErrNotFound) {
		logger.Warn().Msg("Topic already removed before retirement")
	} else if err != nil {
		return OutcomeFatal, fmt.Errorf("retire topic: %w", err)
	}

	m.RecordStoryCreated(topic.PriorityClass.String())
	logger.Info().Int("scenes", len(created.Scenes)).Msg("Story created")
	if p.deps.OnStory != nil {
		p.deps.OnStory(created)
	}
	return OutcomeCreated, nil
}

// retire deletes a topic whose generation can never succeed
func (p *Pipeline) retire(ctx context.Context, topic *story.Topic, cause error) (Outcome, error) {
	if err := p.deps.Topics.Delete(ctx, topic.ID); err != nil && !errors.Is(err, story.ErrNotFound) {
		return OutcomeFatal, fmt.Errorf("delete poison topic: %w", err)
	}
	return OutcomePoison, cause
}

func (p *Pipeline) discard(logger zerolog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("Failed to remove discarded output")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
