// Package storage persists topics and stories in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/lexiqai/story-pipeline/internal/story"
)

// errNoRows is returned by execOne when nothing matched
var errNoRows = story.ErrNotFound

const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id             TEXT PRIMARY KEY,
	priority_class TEXT NOT NULL,
	priority_rank  INTEGER NOT NULL,
	requestor_name TEXT NOT NULL DEFAULT '',
	text           TEXT NOT NULL,
	is_allowed     INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS topics_selection ON topics (priority_rank DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS stories (
	id                TEXT PRIMARY KEY,
	priority_class    TEXT NOT NULL,
	priority_rank     INTEGER NOT NULL,
	requestor_name    TEXT NOT NULL DEFAULT '',
	source_topic_text TEXT NOT NULL,
	scenes            TEXT NOT NULL,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS stories_selection ON stories (priority_rank DESC, created_at ASC);
`

// psql is the statement builder shared by both stores. SQLite accepts "?" placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// DB is an open SQLite database with the schema applied
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer. Also keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}

	return &DB{db: db}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping is a readiness check
func (d *DB) Ping(ctx context.Context) (bool, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (d *DB) count(ctx context.Context, b sq.SelectBuilder) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *DB) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return d.db.ExecContext(ctx, query, args...)
}

// execOne runs a statement expected to touch exactly one row
func (d *DB) execOne(ctx context.Context, b sq.Sqlizer) error {
	res, err := d.exec(ctx, b)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}
