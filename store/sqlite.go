package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/martinemde/codeloop/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	environment TEXT NOT NULL DEFAULT '',
	knowledge_summary TEXT NOT NULL DEFAULT '',
	last_touched INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	messages TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_last_touched ON conversations(last_touched DESC);
`

// SQLiteStore keeps conversations in a SQLite database. Messages are
// stored as one JSON document per conversation.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path. ":memory:" opens a
// private in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize conversation schema: %w", err)
	}

	logger.Debug("conversation store opened", zap.String("path", path))
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, environment, last_touched, message_count
		FROM conversations
		ORDER BY last_touched DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum   Summary
			nanos int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Environment, &nanos, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.LastTouched = time.Unix(0, nanos)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*chat.Conversation, error) {
	var (
		r        chat.Record
		nanos    int64
		messages string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, environment, knowledge_summary, last_touched, messages
		FROM conversations WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.Environment, &r.KnowledgeSummary, &nanos, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(messages), &r.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", id, err)
	}
	r.LastTouched = time.Unix(0, nanos)
	return chat.FromRecord(r), nil
}

func (s *SQLiteStore) Put(ctx context.Context, conv *chat.Conversation) error {
	r := conv.Snapshot()
	if r.Messages == nil {
		r.Messages = []chat.Message{}
	}
	messages, err := json.Marshal(r.Messages)
	if err != nil {
		return fmt.Errorf("encode messages of %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, environment, knowledge_summary, last_touched, message_count, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			environment = excluded.environment,
			knowledge_summary = excluded.knowledge_summary,
			last_touched = excluded.last_touched,
			message_count = excluded.message_count,
			messages = excluded.messages`,
		r.ID, r.Title, r.Environment, r.KnowledgeSummary, r.LastTouched.UnixNano(), len(r.Messages), string(messages),
	)
	if err != nil {
		return fmt.Errorf("put conversation %s: %w", r.ID, err)
	}
	s.logger.Debug("conversation saved", zap.String("conversation_id", r.ID), zap.Int("messages", len(r.Messages)))
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
