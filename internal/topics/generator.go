// Package topics produces System-class topics from the dialogue templates
// whenever the queue runs low.
package topics

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/story"
)

// SystemRequestor is the requestor name on generated topics
const SystemRequestor = "System"

// ErrNoThemes means the dialogue data has nothing to build a topic from
var ErrNoThemes = errors.New("dialogue data has no themes or characters")

// Store is the part of the topic store the generator needs
type Store interface {
	CountAll(ctx context.Context) (int, error)
	Create(ctx context.Context, t *story.Topic) (*story.Topic, error)
}

// Generator keeps at least maxTopics topics queued
type Generator struct {
	data      config.DialogueData
	store     Store
	maxTopics int
	interval  time.Duration
	rng       *rand.Rand
	logger    zerolog.Logger
}

// NewGenerator creates a Generator
func NewGenerator(data config.DialogueData, store Store, maxTopics int, interval time.Duration) *Generator {
	return &Generator{
		data:      data,
		store:     store,
		maxTopics: maxTopics,
		interval:  interval,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:    observability.Component("topic-generator"),
	}
}

// Text fills a random theme template with random characters and attributes.
// {character2} and {character3} fall back to {character1} when fewer
// characters were drawn.
func (g *Generator) Text() (string, error) {
	if len(g.data.Themes) == 0 || len(g.data.Characters) == 0 {
		return "", ErrNoThemes
	}

	names := make([]string, len(g.data.Characters))
	for i, c := range g.data.Characters {
		names[i] = c.Name
	}
	count := len(names)
	if count > 2 {
		count = 2 + g.rng.IntN(count-1)
	}
	chosen := make([]string, 0, count)
	for _, i := range g.rng.Perm(len(names))[:count] {
		chosen = append(chosen, names[i])
	}
	character := func(n int) string {
		if n < len(chosen) {
			return chosen[n]
		}
		return chosen[0]
	}

	r := strings.NewReplacer(
		"{character1}", character(0),
		"{character2}", character(1),
		"{character3}", character(2),
		"{emotion}", g.pick(g.data.Emotions),
		"{action}", g.pick(g.data.Actions),
		"{topic}", g.pick(g.data.Topics),
		"{interaction}", g.pick(g.data.Interactions),
	)
	return r.Replace(g.pick(g.data.Themes)), nil
}

func (g *Generator) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[g.rng.IntN(len(options))]
}

// Fill creates System topics until the queue holds maxTopics of any class.
// It returns how many were created.
func (g *Generator) Fill(ctx context.Context) (int, error) {
	total, err := g.store.CountAll(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for ; total < g.maxTopics; total++ {
		text, err := g.Text()
		if err != nil {
			return created, err
		}
		topic, err := g.store.Create(ctx, &story.Topic{
			PriorityClass: story.ClassSystem,
			RequestorName: SystemRequestor,
			Text:          text,
			IsAllowed:     true,
		})
		if err != nil {
			return created, err
		}
		created++
		g.logger.Info().Str("topic_id", topic.ID).Str("text", text).Msg("Generated system topic")
	}
	return created, nil
}

// Run fills the queue now and then on every tick until ctx is cancelled
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if _, err := g.Fill(ctx); err != nil && ctx.Err() == nil {
			g.logger.Error().Err(err).Msg("Failed to generate system topics")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
