package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/storage"
	"github.com/lexiqai/story-pipeline/internal/story"
	"github.com/lexiqai/story-pipeline/internal/synthesis"
	"github.com/lexiqai/story-pipeline/internal/tts"
)

const scenarioARaw = "CharA: Hello\n\nCharB: Hi there\nassistant: (ignore)\n"

type memTopics struct {
	mu        sync.Mutex
	topics    []story.Topic
	selectErr error
}

func (m *memTopics) add(class story.PriorityClass, text string) *story.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := story.Topic{
		ID:            text,
		PriorityClass: class,
		RequestorName: "tester",
		Text:          text,
		CreatedAt:     time.Now(),
	}
	m.topics = append(m.topics, t)
	return &t
}

func (m *memTopics) SelectNext(ctx context.Context) (*story.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	if len(m.topics) == 0 {
		return nil, nil
	}
	sorted := append([]story.Topic{}, m.topics...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PriorityClass.Rank() != sorted[j].PriorityClass.Rank() {
			return sorted[i].PriorityClass.Rank() > sorted[j].PriorityClass.Rank()
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	t := sorted[0]
	return &t, nil
}

func (m *memTopics) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.topics {
		if t.ID == id {
			m.topics = append(m.topics[:i], m.topics[i+1:]...)
			return nil
		}
	}
	return story.ErrNotFound
}

func (m *memTopics) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

type memStories struct {
	mu      sync.Mutex
	stories map[string]*story.Story
}

func newMemStories() *memStories {
	return &memStories{stories: map[string]*story.Story{}}
}

func (m *memStories) Create(ctx context.Context, s *story.Story) (*story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := *s
	created.CreatedAt = time.Now()
	m.stories[created.ID] = &created
	return &created, nil
}

func (m *memStories) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stories[id]
	return ok, nil
}

func (m *memStories) CountByClass(ctx context.Context, class story.PriorityClass) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.stories {
		if s.SourcePriorityClass == class {
			n++
		}
	}
	return n, nil
}

func (m *memStories) all() []*story.Story {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*story.Story, 0, len(m.stories))
	for _, s := range m.stories {
		out = append(out, s)
	}
	return out
}

type fakeGenerator struct {
	raw    []string
	err    error
	calls  int
	during func()
}

func (g *fakeGenerator) Generate(ctx context.Context, systemPrompt, topicText string) ([]string, error) {
	g.calls++
	if g.during != nil {
		g.during()
	}
	return g.raw, g.err
}

// stallingSynth writes silence except for positions that wait for cancellation
type stallingSynth struct {
	tts.SilenceSynthesizer
	stall map[int]bool
}

func (s *stallingSynth) Synthesize(ctx context.Context, text, voiceID, outputDir string, position int) (string, error) {
	if s.stall[position] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.SilenceSynthesizer.Synthesize(ctx, text, voiceID, outputDir, position)
}

type harness struct {
	cfg       *config.Config
	topics    *memTopics
	stories   *memStories
	generator *fakeGenerator
	state     *observability.PipelineState
	pipeline  *Pipeline
	published []*story.Story
	slept     []time.Duration
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ConfigName:       "default",
		AudioRoot:        t.TempDir(),
		ManifestEnabled:  true,
		MaxSystemStories: 10,
		StoryClassCaps:   map[string]int{"RSS": 100},
		IdleBackoff:      10,
		QuotaBackoff:     11,
		TransientBackoff: 30,
		DiscardBackoff:   12,
	}
}

var testDialogue = &config.Dialogue{
	SystemPrompt: "Write a dialogue",
	DialogueData: config.DialogueData{
		Characters: []config.Character{
			{Name: "CharA", Voice: "voice-a"},
			{Name: "CharB", Voice: "voice-b"},
		},
	},
}

func newHarness(t *testing.T, cfg *config.Config, synth tts.VoiceSynthesizer, timeout time.Duration) *harness {
	t.Helper()
	if synth == nil {
		synth = &tts.SilenceSynthesizer{}
	}
	fanOut, err := synthesis.New(synth, 4, timeout)
	require.NoError(t, err)
	t.Cleanup(fanOut.Close)

	h := &harness{
		cfg:       cfg,
		topics:    &memTopics{},
		stories:   newMemStories(),
		generator: &fakeGenerator{raw: []string{scenarioARaw}},
		state:     &observability.PipelineState{},
	}
	h.pipeline = New(cfg, testDialogue, Dependencies{
		Topics:      h.topics,
		Stories:     h.stories,
		Generator:   h.generator,
		Synthesizer: fanOut,
		State:       h.state,
		OnStory:     func(s *story.Story) { h.published = append(h.published, s) },
	})
	h.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

func storyDirs(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	entries, err := os.ReadDir(cfg.AudioDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestRunOnce_CreatesStory(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, 2*time.Second)
	h.topics.add(story.ClassVIP, "A and B discuss the weather")

	outcome, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Zero(t, h.topics.len(), "topic must be retired")

	stories := h.stories.all()
	require.Len(t, stories, 1)
	s := stories[0]
	assert.Equal(t, story.ClassVIP, s.SourcePriorityClass)
	assert.Equal(t, "tester", s.RequestorName)
	assert.Equal(t, "A and B discuss the weather", s.SourceTopicText)
	require.Len(t, s.Scenes, 2)
	assert.Equal(t, story.Scene{Speaker: "CharA", Text: "Hello", AudioPath: "default/" + s.ID + "/0.wav"}, s.Scenes[0])
	assert.Equal(t, story.Scene{Speaker: "CharB", Text: "Hi there", AudioPath: "default/" + s.ID + "/1.wav"}, s.Scenes[1])

	for _, scene := range s.Scenes {
		info, err := os.Stat(filepath.Join(h.cfg.AudioRoot, filepath.FromSlash(scene.AudioPath)))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	manifest, err := os.ReadFile(filepath.Join(h.cfg.AudioDir(), s.ID, ManifestName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "CharA::Hello::"))
	assert.True(t, strings.HasPrefix(lines[1], "CharB::Hi there::"))

	require.Len(t, h.published, 1)
	assert.Equal(t, s.ID, h.published[0].ID)
}

func TestRunOnce_SynthesisTimeoutDiscardsRun(t *testing.T) {
	synth := &stallingSynth{stall: map[int]bool{1: true}}
	h := newHarness(t, testConfig(t), synth, 100*time.Millisecond)
	h.topics.add(story.ClassUser, "topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomeDiscarded, outcome)
	assert.ErrorIs(t, err, story.ErrSynthesisTimeout)
	assert.Equal(t, 1, h.topics.len(), "topic must stay queued")
	assert.Empty(t, h.stories.all())
	assert.Empty(t, storyDirs(t, h.cfg), "output directory must be removed")
}

func TestRunOnce_EmptyGenerationIsPoison(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.raw = nil
	h.generator.err = story.ErrEmptyResponse
	h.topics.add(story.ClassUser, "topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomePoison, outcome)
	assert.ErrorIs(t, err, story.ErrEmptyResponse)
	assert.Zero(t, h.topics.len())
	assert.Empty(t, h.stories.all())
	assert.Empty(t, storyDirs(t, h.cfg))
}

func TestRunOnce_RejectedTopicIsPoison(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.raw = nil
	h.generator.err = fmt.Errorf("%w: status=400: context length exceeded", story.ErrRejectedTopic)
	h.topics.add(story.ClassUser, "a very long topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomePoison, outcome)
	assert.ErrorIs(t, err, story.ErrRejectedTopic)
	assert.Zero(t, h.topics.len())
	assert.Empty(t, h.stories.all())
}

func TestRunOnce_MalformedGenerationIsPoison(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.raw = []string{"*They stare at each other*", "(silence)"}
	h.topics.add(story.ClassRSS, "topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomePoison, outcome)
	assert.ErrorIs(t, err, story.ErrMalformedGeneration)
	assert.Zero(t, h.topics.len())
}

func TestRunOnce_SystemQuotaRetainsTopic(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSystemStories = 1
	h := newHarness(t, cfg, nil, time.Second)
	_, err := h.stories.Create(context.Background(), &story.Story{ID: "existing", SourcePriorityClass: story.ClassSystem})
	require.NoError(t, err)
	h.topics.add(story.ClassSystem, "system topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomeQuota, outcome)
	assert.ErrorIs(t, err, story.ErrQuotaReached)
	assert.Equal(t, 1, h.topics.len())
	assert.Zero(t, h.generator.calls)
}

func TestRunOnce_ClassCapKeyIsCaseInsensitive(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoryClassCaps = map[string]int{"rss": 0}
	h := newHarness(t, cfg, nil, time.Second)
	h.topics.add(story.ClassRSS, "rss topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomeQuota, outcome)
	assert.ErrorIs(t, err, story.ErrQuotaReached)
	assert.Equal(t, 1, h.topics.len())
}

func TestRunOnce_TopicRemovedDuringRunStillCreatesStory(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, 2*time.Second)
	topic := h.topics.add(story.ClassUser, "topic")
	h.generator.during = func() {
		require.NoError(t, h.topics.Delete(context.Background(), topic.ID))
	}

	outcome, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Len(t, h.stories.all(), 1)
	assert.Len(t, h.published, 1)
}

func TestRunOnce_UncappedClassIgnoresQuota(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSystemStories = 0
	h := newHarness(t, cfg, nil, time.Second)
	h.topics.add(story.ClassVIP, "vip topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestRunOnce_ServiceErrorRetainsTopic(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.err = &story.ServiceError{Service: "openai", Err: errors.New("status=503")}
	h.topics.add(story.ClassUser, "topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomeTransient, outcome)
	assert.True(t, story.IsServiceError(err))
	assert.Equal(t, 1, h.topics.len())
}

func TestRunOnce_UnknownSpeakerFailsValidation(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.raw = []string{"CharA: Hello", "Narrator: Meanwhile"}
	h.topics.add(story.ClassUser, "topic")

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomeDiscarded, outcome)
	assert.ErrorIs(t, err, story.ErrResourceMismatch)
	assert.Equal(t, 1, h.topics.len())
	assert.Empty(t, storyDirs(t, h.cfg))
}

func TestRunOnce_Idle(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, OutcomeIdle, outcome)
}

func TestRunOnce_RepositoryErrorIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.topics.selectErr = &story.RepositoryError{Op: "select topic", Err: errors.New("disk I/O error")}

	outcome, err := h.pipeline.RunOnce(context.Background())
	assert.Equal(t, OutcomeFatal, outcome)
	assert.True(t, story.IsRepositoryError(err))
}

func TestRun_FatalErrorHaltsPipeline(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.err = &story.FatalError{Service: "openai", Err: errors.New("status=401: invalid api key")}
	h.topics.add(story.ClassUser, "topic")

	err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.True(t, story.IsFatal(err))
	assert.False(t, h.state.Running())
	assert.Empty(t, h.slept)
	assert.Equal(t, 1, h.topics.len())
}

func TestRun_BacksOffPerOutcome(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.topics.add(story.ClassUser, "first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// created (no sleep), then idle, then stop
	h.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		cancel()
		return ctx.Err()
	}

	require.NoError(t, h.pipeline.Run(ctx))
	assert.Equal(t, []time.Duration{10 * time.Second}, h.slept)
	assert.Len(t, h.stories.all(), 1)
	assert.True(t, h.state.Running())
}

func TestRun_TransientBackoff(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, time.Second)
	h.generator.err = &story.ServiceError{Service: "openai", Err: errors.New("timeout")}
	h.topics.add(story.ClassUser, "topic")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		cancel()
		return ctx.Err()
	}

	require.NoError(t, h.pipeline.Run(ctx))
	assert.Equal(t, []time.Duration{30 * time.Second}, h.slept)
}

func TestPipeline_RoundTripThroughStorage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	db, err := storage.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	topics := storage.NewTopicStore(db)
	stories := storage.NewStoryStore(db, cfg.AudioDir())
	fanOut, err := synthesis.New(&tts.SilenceSynthesizer{}, 4, 2*time.Second)
	require.NoError(t, err)
	defer fanOut.Close()

	p := New(cfg, testDialogue, Dependencies{
		Topics:      topics,
		Stories:     stories,
		Generator:   &fakeGenerator{raw: []string{scenarioARaw}},
		Synthesizer: fanOut,
	})

	_, err = topics.Create(ctx, &story.Topic{PriorityClass: story.ClassVIP, RequestorName: "alice", Text: "weather"})
	require.NoError(t, err)

	outcome, err := p.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	stored, err := stories.GetHighestPriorityPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.RequestorName)
	assert.Equal(t, []string{"CharA", "CharB"}, []string{stored.Scenes[0].Speaker, stored.Scenes[1].Speaker})

	n, err := topics.CountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A later audit keeps the complete, recorded directory
	removed, err := p.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)

	require.NoError(t, stories.Delete(ctx, stored.ID))
	assert.Empty(t, storyDirs(t, cfg))
}
