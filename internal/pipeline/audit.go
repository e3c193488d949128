package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/tts"
)

// ManifestName is the per-story script written next to the audio files
const ManifestName = "script.txt"

// Audit removal reasons, also used as metric labels
const (
	ReasonEmpty         = "empty"
	ReasonNoAudio       = "no_audio"
	ReasonNoManifest    = "no_manifest"
	ReasonEmptyArtifact = "empty_artifact"
	ReasonOrphaned      = "orphaned"
)

// StoryLookup answers whether a story record exists
type StoryLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Removal describes a directory deleted by the audit
type Removal struct {
	ID     string
	Reason string
}

// Auditor reconciles per-story audio directories with the story records
type Auditor struct {
	dir      string
	manifest bool
	stories  StoryLookup
	logger   zerolog.Logger
}

// NewAuditor creates an Auditor over dir. stories may be nil, in which case
// directories are only checked for completeness.
func NewAuditor(dir string, manifest bool, stories StoryLookup) *Auditor {
	return &Auditor{
		dir:      dir,
		manifest: manifest,
		stories:  stories,
		logger:   observability.Component("audit"),
	}
}

// Run deletes every story directory that is incomplete or has no story record.
// A second run with no writes in between removes nothing.
func (a *Auditor) Run(ctx context.Context) ([]Removal, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []Removal
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		id := entry.Name()
		path := filepath.Join(a.dir, id)
		reason, err := a.check(ctx, id, path)
		if err != nil {
			return removed, err
		}
		if reason == "" {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			a.logger.Error().Err(err).Str("story_id", id).Msg("Failed to remove story directory")
			continue
		}
		a.logger.Warn().Str("story_id", id).Str("reason", reason).Msg("Removed story directory")
		observability.RecordAuditRemoved(reason)
		removed = append(removed, Removal{ID: id, Reason: reason})
	}
	return removed, nil
}

// check returns the removal reason for a directory, or "" to keep it
func (a *Auditor) check(ctx context.Context, id, path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return ReasonEmpty, nil
	}

	audioFiles := 0
	hasManifest := false
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		_, isAudio := tts.PositionFromFileName(entry.Name())
		isManifest := entry.Name() == ManifestName
		if !isAudio && !isManifest {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return "", err
		}
		if info.Size() == 0 {
			return ReasonEmptyArtifact, nil
		}
		if isAudio {
			audioFiles++
		} else {
			hasManifest = true
		}
	}

	switch {
	case audioFiles == 0:
		return ReasonNoAudio, nil
	case a.manifest && !hasManifest:
		return ReasonNoManifest, nil
	}

	if a.stories != nil {
		exists, err := a.stories.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return ReasonOrphaned, nil
		}
	}
	return "", nil
}
