package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lexiqai/story-pipeline/internal/story"
)

var storyColumns = []string{"id", "priority_class", "requestor_name", "source_topic_text", "scenes", "created_at"}

// StoryStore persists completed stories. Each story owns <audioDir>/<id>.
type StoryStore struct {
	db       *DB
	audioDir string
}

// NewStoryStore creates a StoryStore whose audio directories live under audioDir
func NewStoryStore(db *DB, audioDir string) *StoryStore {
	return &StoryStore{db: db, audioDir: audioDir}
}

// Dir is the audio directory of a story id
func (s *StoryStore) Dir(id string) string {
	return filepath.Join(s.audioDir, id)
}

// Create inserts a story, assigning an id and a creation time when missing
func (s *StoryStore) Create(ctx context.Context, st *story.Story) (*story.Story, error) {
	created := *st
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now()
	}
	created.CreatedAt = created.CreatedAt.UTC()

	scenes, err := json.Marshal(created.Scenes)
	if err != nil {
		return nil, fmt.Errorf("encode scenes: %w", err)
	}

	_, err = s.db.exec(ctx, psql.Insert("stories").
		Columns("id", "priority_class", "priority_rank", "requestor_name", "source_topic_text", "scenes", "created_at").
		Values(created.ID, string(created.SourcePriorityClass), created.SourcePriorityClass.Rank(),
			created.RequestorName, created.SourceTopicText, string(scenes), toUnix(created.CreatedAt)))
	if err != nil {
		return nil, story.NewRepositoryError("create story", err)
	}
	return &created, nil
}

// GetByID returns story.ErrNotFound for unknown ids
func (s *StoryStore) GetByID(ctx context.Context, id string) (*story.Story, error) {
	stories, err := s.query(ctx, psql.Select(storyColumns...).From("stories").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, story.NewRepositoryError("get story", err)
	}
	if len(stories) == 0 {
		return nil, story.ErrNotFound
	}
	return &stories[0], nil
}

// Exists reports whether a story record exists
func (s *StoryStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.db.count(ctx, psql.Select("COUNT(*)").From("stories").Where(sq.Eq{"id": id}))
	if err != nil {
		return false, story.NewRepositoryError("story exists", err)
	}
	return n > 0, nil
}

// GetHighestPriorityPending returns the oldest story of the highest non-empty
// class, or nil when there are none
func (s *StoryStore) GetHighestPriorityPending(ctx context.Context) (*story.Story, error) {
	stories, err := s.query(ctx, psql.Select(storyColumns...).From("stories").
		OrderBy("priority_rank DESC", "created_at ASC", "rowid ASC").
		Limit(1))
	if err != nil {
		return nil, story.NewRepositoryError("highest priority story", err)
	}
	if len(stories) == 0 {
		return nil, nil
	}
	return &stories[0], nil
}

// CountAll counts stories
func (s *StoryStore) CountAll(ctx context.Context) (int, error) {
	n, err := s.db.count(ctx, psql.Select("COUNT(*)").From("stories"))
	return n, story.NewRepositoryError("count stories", err)
}

// CountByClass counts stories produced from topics of one class
func (s *StoryStore) CountByClass(ctx context.Context, class story.PriorityClass) (int, error) {
	n, err := s.db.count(ctx, psql.Select("COUNT(*)").From("stories").Where(sq.Eq{"priority_class": string(class)}))
	return n, story.NewRepositoryError("count stories by class", err)
}

// Update rewrites a story's metadata and scenes
func (s *StoryStore) Update(ctx context.Context, st *story.Story) error {
	scenes, err := json.Marshal(st.Scenes)
	if err != nil {
		return fmt.Errorf("encode scenes: %w", err)
	}
	err = s.db.execOne(ctx, psql.Update("stories").
		Set("priority_class", string(st.SourcePriorityClass)).
		Set("priority_rank", st.SourcePriorityClass.Rank()).
		Set("requestor_name", st.RequestorName).
		Set("source_topic_text", st.SourceTopicText).
		Set("scenes", string(scenes)).
		Where(sq.Eq{"id": st.ID}))
	return story.NewRepositoryError("update story", err)
}

// Delete removes the story record and then its audio directory
func (s *StoryStore) Delete(ctx context.Context, id string) error {
	if id == "" || filepath.Base(id) != id {
		return story.ErrNotFound
	}
	if err := s.db.execOne(ctx, psql.Delete("stories").Where(sq.Eq{"id": id})); err != nil {
		return story.NewRepositoryError("delete story", err)
	}
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("remove audio for story %s: %w", id, err)
	}
	return nil
}

func (s *StoryStore) query(ctx context.Context, b sq.SelectBuilder) ([]story.Story, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []story.Story
	for rows.Next() {
		var (
			st      story.Story
			class   string
			scenes  string
			created int64
		)
		if err := rows.Scan(&st.ID, &class, &st.RequestorName, &st.SourceTopicText, &scenes, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scenes), &st.Scenes); err != nil {
			return nil, fmt.Errorf("decode scenes of story %s: %w", st.ID, err)
		}
		st.SourcePriorityClass = story.PriorityClass(class)
		st.CreatedAt = fromUnix(created)
		stories = append(stories, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stories, nil
}
