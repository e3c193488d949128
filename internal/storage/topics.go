package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lexiqai/story-pipeline/internal/story"
)

var topicColumns = []string{"id", "priority_class", "requestor_name", "text", "is_allowed", "created_at"}

// TopicStore is the priority-ordered queue of pending topics
type TopicStore struct {
	db *DB
}

// NewTopicStore creates a TopicStore
func NewTopicStore(db *DB) *TopicStore {
	return &TopicStore{db: db}
}

// Create inserts a topic, assigning an id and a creation time when missing
func (s *TopicStore) Create(ctx context.Context, t *story.Topic) (*story.Topic, error) {
	if !t.PriorityClass.Valid() {
		return nil, fmt.Errorf("create topic: unknown priority class %q", t.PriorityClass)
	}
	created := *t
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now()
	}
	created.CreatedAt = created.CreatedAt.UTC()

	_, err := s.db.exec(ctx, psql.Insert("topics").
		Columns("id", "priority_class", "priority_rank", "requestor_name", "text", "is_allowed", "created_at").
		Values(created.ID, string(created.PriorityClass), created.PriorityClass.Rank(),
			created.RequestorName, created.Text, created.IsAllowed, toUnix(created.CreatedAt)))
	if err != nil {
		return nil, story.NewRepositoryError("create topic", err)
	}
	return &created, nil
}

// GetByID returns story.ErrNotFound for unknown ids
func (s *TopicStore) GetByID(ctx context.Context, id string) (*story.Topic, error) {
	topics, err := s.query(ctx, psql.Select(topicColumns...).From("topics").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, story.NewRepositoryError("get topic", err)
	}
	if len(topics) == 0 {
		return nil, story.ErrNotFound
	}
	return &topics[0], nil
}

// SelectNext returns the oldest topic of the highest non-empty priority class,
// or nil when the queue is empty
func (s *TopicStore) SelectNext(ctx context.Context) (*story.Topic, error) {
	topics, err := s.query(ctx, psql.Select(topicColumns...).From("topics").
		OrderBy("priority_rank DESC", "created_at ASC", "rowid ASC").
		Limit(1))
	if err != nil {
		return nil, story.NewRepositoryError("select next topic", err)
	}
	if len(topics) == 0 {
		return nil, nil
	}
	return &topics[0], nil
}

// OldestNByCreation returns up to n topics ordered by creation time regardless of class
func (s *TopicStore) OldestNByCreation(ctx context.Context, n int) ([]story.Topic, error) {
	topics, err := s.query(ctx, psql.Select(topicColumns...).From("topics").
		OrderBy("created_at ASC", "rowid ASC").
		Limit(uint64(max(0, n))))
	if err != nil {
		return nil, story.NewRepositoryError("oldest topics", err)
	}
	return topics, nil
}

// CountAll counts pending topics
func (s *TopicStore) CountAll(ctx context.Context) (int, error) {
	n, err := s.db.count(ctx, psql.Select("COUNT(*)").From("topics"))
	return n, story.NewRepositoryError("count topics", err)
}

// CountByClass counts pending topics of one class
func (s *TopicStore) CountByClass(ctx context.Context, class story.PriorityClass) (int, error) {
	n, err := s.db.count(ctx, psql.Select("COUNT(*)").From("topics").Where(sq.Eq{"priority_class": string(class)}))
	return n, story.NewRepositoryError("count topics by class", err)
}

// Update rewrites a topic's mutable fields
func (s *TopicStore) Update(ctx context.Context, t *story.Topic) error {
	err := s.db.execOne(ctx, psql.Update("topics").
		Set("priority_class", string(t.PriorityClass)).
		Set("priority_rank", t.PriorityClass.Rank()).
		Set("requestor_name", t.RequestorName).
		Set("text", t.Text).
		Set("is_allowed", t.IsAllowed).
		Where(sq.Eq{"id": t.ID}))
	return story.NewRepositoryError("update topic", err)
}

// Delete removes a topic
func (s *TopicStore) Delete(ctx context.Context, id string) error {
	err := s.db.execOne(ctx, psql.Delete("topics").Where(sq.Eq{"id": id}))
	return story.NewRepositoryError("delete topic", err)
}

func (s *TopicStore) query(ctx context.Context, b sq.SelectBuilder) ([]story.Topic, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []story.Topic
	for rows.Next() {
		var (
			t       story.Topic
			class   string
			created int64
		)
		if err := rows.Scan(&t.ID, &class, &t.RequestorName, &t.Text, &t.IsAllowed, &created); err != nil {
			return nil, err
		}
		t.PriorityClass = story.PriorityClass(class)
		t.CreatedAt = fromUnix(created)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topics, nil
}
