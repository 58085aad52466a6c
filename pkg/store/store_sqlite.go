package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chatlens/chatlens/pkg/metrics"
)

const (
	defaultMaxTitleLength   = 255
	defaultMaxContentLength = 32_000
)

// Options bound the mutable inputs. Zero values fall back to defaults.
type Options struct {
	MaxTitleLength   int
	MaxContentLength int
}

// SQLiteStore is the canonical conversation store. It owns the process-wide
// corpus version counter: every durable write advances it, and the insight
// cache reads it as its invalidation token.
type SQLiteStore struct {
	db         *sql.DB
	locks      *convLocks
	version    atomic.Int64
	maxTitle   int
	maxContent int
}

// NewSQLiteStore creates/opens the conversation database at path.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:         db,
		locks:      newConvLocks(),
		maxTitle:   opts.MaxTitleLength,
		maxContent: opts.MaxContentLength,
	}
	if s.maxTitle <= 0 {
		s.maxTitle = defaultMaxTitleLength
	}
	if s.maxContent <= 0 {
		s.maxContent = defaultMaxContentLength
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			pinned INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			last_message_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_list_idx ON conversations(status, pinned DESC, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			truncated INTEGER NOT NULL DEFAULT 0,
			model_used TEXT NOT NULL DEFAULT '',
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_conv_seq_idx ON messages(conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS corpus_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);`,
		`INSERT OR IGNORE INTO corpus_meta(id, version) VALUES (1, 0);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}

	var v int64
	if err := s.db.QueryRow(`SELECT version FROM corpus_meta WHERE id = 1`).Scan(&v); err != nil {
		return fmt.Errorf("load corpus version: %w", err)
	}
	s.version.Store(v)
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// CorpusVersion returns the current corpus version. Monotonic, advanced on
// every durable write, persisted across restarts.
func (s *SQLiteStore) CorpusVersion() int64 {
	return s.version.Load()
}

// bumpVersion advances corpus_meta inside tx and returns the new version.
// The in-memory counter is advanced after commit via advanceVersion.
func bumpVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE corpus_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("bump corpus version: %w", err)
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM corpus_meta WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read corpus version: %w", err)
	}
	return v, nil
}

// advanceVersion moves the atomic forward, never backward, so commit-order
// races between goroutines cannot regress the published version.
func (s *SQLiteStore) advanceVersion(v int64) {
	for {
		cur := s.version.Load()
		if v <= cur || s.version.CompareAndSwap(cur, v) {
			return
		}
	}
}

// CreateConversation creates an active conversation. An empty title gets the
// placeholder; an oversized one fails validation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if len(title) > s.maxTitle {
		return Conversation{}, fmt.Errorf("%w: title exceeds %d bytes", ErrValidation, s.maxTitle)
	}

	now := nowMS()
	conv := Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    StatusActive,
		CreatedAt: msToTime(now),
		UpdatedAt: msToTime(now),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(id, title, status, pinned, summary, message_count, created_at_ms, updated_at_ms, last_message_at_ms)
VALUES(?, ?, ?, 0, '', 0, ?, ?, 0)`,
		conv.ID, conv.Title, conv.Status, now, now); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	v, err := bumpVersion(ctx, tx)
	if err != nil {
		return Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("create conversation commit: %w", err)
	}
	s.advanceVersion(v)
	return conv, nil
}

// AppendMessage appends one message to a conversation's log. Appends to the
// same conversation are serialized; timestamps are non-decreasing within the
// conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, role Role, content string) (Message, error) {
	return s.AppendMessageOpts(ctx, conversationID, role, content, AppendOptions{})
}

// AppendMessageOpts is AppendMessage with assistant-message metadata.
func (s *SQLiteStore) AppendMessageOpts(ctx context.Context, conversationID string, role Role, content string, opts AppendOptions) (Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("%w: empty message content", ErrValidation)
	}
	if len(content) > s.maxContent {
		return Message{}, fmt.Errorf("%w: message content exceeds %d bytes", ErrValidation, s.maxContent)
	}

	lock := s.locks.get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("append message begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var count int
	err = tx.QueryRowContext(ctx, `SELECT status, message_count FROM conversations WHERE id = ?`, conversationID).
		Scan(&status, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("load conversation: %w", err)
	}
	if ConversationStatus(status) == StatusArchived {
		return Message{}, fmt.Errorf("%w: %s is archived", ErrNotFound, conversationID)
	}
	if count == 0 && role == RoleAssistant {
		return Message{}, fmt.Errorf("%w: a conversation cannot start with an assistant message", ErrValidation)
	}

	// Clock monotonicity is enforced per conversation, not globally.
	createdAt := nowMS()
	var lastMS sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
SELECT created_at_ms FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`, conversationID).
		Scan(&lastMS); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("load last message: %w", err)
	}
	if lastMS.Valid && createdAt < lastMS.Int64 {
		createdAt = lastMS.Int64
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      msToTime(createdAt),
		Truncated:      opts.Truncated,
		ModelUsed:      opts.ModelUsed,
		ResponseTimeMS: opts.ResponseTimeMS,
		TokenCount:     opts.TokenCount,
	}

	truncated := 0
	if msg.Truncated {
		truncated = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, seq, role, content, created_at_ms, truncated, model_used, response_time_ms, token_count)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, count+1, msg.Role, msg.Content, createdAt, truncated, msg.ModelUsed, msg.ResponseTimeMS, msg.TokenCount); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE conversations
SET message_count = message_count + 1, updated_at_ms = ?, last_message_at_ms = ?
WHERE id = ?`, createdAt, createdAt, conversationID); err != nil {
		return Message{}, fmt.Errorf("update conversation counters: %w", err)
	}

	v, err := bumpVersion(ctx, tx)
	if err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("append message commit: %w", err)
	}
	s.advanceVersion(v)
	metrics.MessagesAppended.WithLabelValues(string(role)).Inc()
	return msg, nil
}

// GetConversation returns a conversation with its messages in append order.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	conv, err := s.getConversationRow(ctx, id)
	if err != nil {
		return Conversation{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, role, content, created_at_ms, truncated, model_used, response_time_ms, token_count
FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return Conversation{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var createdMS int64
		var truncated int
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &createdMS, &truncated, &m.ModelUsed, &m.ResponseTimeMS, &m.TokenCount); err != nil {
			return Conversation{}, fmt.Errorf("scan message: %w", err)
		}
		m.ConversationID = id
		m.CreatedAt = msToTime(createdMS)
		m.Truncated = truncated != 0
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, fmt.Errorf("iterate messages: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) getConversationRow(ctx context.Context, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, status, pinned, summary, message_count, created_at_ms, updated_at_ms, last_message_at_ms
FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var conv Conversation
	var pinned int
	var createdMS, updatedMS, lastMS int64
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Status, &pinned, &conv.Summary, &conv.MessageCount, &createdMS, &updatedMS, &lastMS); err != nil {
		return Conversation{}, err
	}
	conv.Pinned = pinned != 0
	conv.CreatedAt = msToTime(createdMS)
	conv.UpdatedAt = msToTime(updatedMS)
	conv.LastMessageAt = msToTime(lastMS)
	return conv, nil
}

// ListConversations returns conversations without their messages, pinned
// first, then most recently updated.
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ListFilter) ([]Conversation, error) {
	query := `
SELECT id, title, status, pinned, summary, message_count, created_at_ms, updated_at_ms, last_message_at_ms
FROM conversations`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY pinned DESC, updated_at_ms DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// SetTitle renames a conversation.
func (s *SQLiteStore) SetTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", ErrValidation)
	}
	if len(title) > s.maxTitle {
		return fmt.Errorf("%w: title exceeds %d bytes", ErrValidation, s.maxTitle)
	}
	return s.updateConversation(ctx, id, `UPDATE conversations SET title = ?, updated_at_ms = ? WHERE id = ?`, title, nowMS(), id)
}

// SetPinned toggles the pinned flag.
func (s *SQLiteStore) SetPinned(ctx context.Context, id string, pinned bool) error {
	p := 0
	if pinned {
		p = 1
	}
	return s.updateConversation(ctx, id, `UPDATE conversations SET pinned = ?, updated_at_ms = ? WHERE id = ?`, p, nowMS(), id)
}

// SetSummary stores a generated conversation summary.
func (s *SQLiteStore) SetSummary(ctx context.Context, id, summary string) error {
	return s.updateConversation(ctx, id, `UPDATE conversations SET summary = ?, updated_at_ms = ? WHERE id = ?`, summary, nowMS(), id)
}

// ArchiveConversation soft-deletes a conversation. Idempotent; the message
// log is preserved and further appends fail with ErrNotFound.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string) error {
	return s.updateConversation(ctx, id, `UPDATE conversations SET status = ?, updated_at_ms = ? WHERE id = ?`, string(StatusArchived), nowMS(), id)
}

func (s *SQLiteStore) updateConversation(ctx context.Context, id, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update conversation begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	v, err := bumpVersion(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update conversation commit: %w", err)
	}
	s.advanceVersion(v)
	return nil
}

// MessagesSince returns all messages created at or after since, oldest
// first, across every conversation. Read-only corpus scan for the insight
// engine.
func (s *SQLiteStore) MessagesSince(ctx context.Context, since time.Time) ([]Message, error) {
	sinceMS := int64(0)
	if !since.IsZero() {
		sinceMS = since.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, created_at_ms, truncated, model_used, response_time_ms, token_count
FROM messages WHERE created_at_ms >= ? ORDER BY created_at_ms, seq`, sinceMS)
	if err != nil {
		return nil, fmt.Errorf("messages since: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdMS int64
		var truncated int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdMS, &truncated, &m.ModelUsed, &m.ResponseTimeMS, &m.TokenCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = msToTime(createdMS)
		m.Truncated = truncated != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Stats returns corpus-wide counts for the activity summary.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (messageCount, conversationCount int, err error) {
	sinceMS := since.UnixMilli()
	if since.IsZero() {
		sinceMS = 0
	}
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT conversation_id) FROM messages WHERE created_at_ms >= ?`, sinceMS).
		Scan(&messageCount, &conversationCount)
	if err != nil {
		return 0, 0, fmt.Errorf("corpus stats: %w", err)
	}
	return messageCount, conversationCount, nil
}
