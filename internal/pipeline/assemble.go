package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lexiqai/story-pipeline/internal/audio"
	"github.com/lexiqai/story-pipeline/internal/story"
	"github.com/lexiqai/story-pipeline/internal/synthesis"
)

// validate checks that dir holds exactly one file per line and that every
// line produced audio
func validate(dir string, lines []story.Line, results []synthesis.Result) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", story.ErrResourceMismatch, err)
	}
	files := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files++
		}
	}
	if files != len(lines) {
		return fmt.Errorf("%w: %d files for %d lines", story.ErrResourceMismatch, files, len(lines))
	}

	if len(results) != len(lines) {
		return fmt.Errorf("%w: %d results for %d lines", story.ErrResourceMismatch, len(results), len(lines))
	}
	for i, r := range results {
		if r.Position != i || r.AudioPath == "" {
			return fmt.Errorf("%w: no audio for line %d", story.ErrResourceMismatch, i)
		}
	}
	return nil
}

// assemble zips the sorted results with their lines. Audio paths are stored
// relative to the audio root as <config>/<story_id>/<file>.
func assemble(topic *story.Topic, storyID, configName string, lines []story.Line, results []synthesis.Result) *story.Story {
	scenes := make([]story.Scene, len(lines))
	for i, line := range lines {
		scenes[i] = story.Scene{
			Speaker:   line.Speaker,
			Text:      line.Text,
			AudioPath: filepath.ToSlash(filepath.Join(configName, storyID, filepath.Base(results[i].AudioPath))),
		}
	}
	return &story.Story{
		ID:                  storyID,
		SourcePriorityClass: topic.PriorityClass,
		RequestorName:       topic.RequestorName,
		SourceTopicText:     topic.Text,
		Scenes:              scenes,
	}
}

// writeManifest writes speaker::text::seconds for every scene
func writeManifest(dir string, lines []story.Line, results []synthesis.Result) error {
	var b strings.Builder
	for i, line := range lines {
		info, err := audio.ReadWAVInfo(results[i].AudioPath)
		if err != nil {
			return fmt.Errorf("read duration of line %d: %w", i, err)
		}
		b.WriteString(line.String())
		b.WriteString(story.Delimiter)
		b.WriteString(strconv.FormatFloat(info.Duration.Seconds(), 'f', 3, 64))
		b.WriteByte('\n')
	}

	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		os.Remove(path)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
