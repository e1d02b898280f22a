// Package sqlite implements store.Store against a local SQLite file via
// modernc.org/sqlite, used in standalone mode when no Postgres DSN is
// configured, giving the fallback store real durable semantics instead of
// an in-memory map.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tollgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	preferred_model_key TEXT NOT NULL DEFAULT '',
	custom_personality TEXT NOT NULL DEFAULT '',
	balance_micros INTEGER NOT NULL DEFAULT 0,
	is_premium INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	is_forum INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	topic_id TEXT NOT NULL DEFAULT '',
	model_key TEXT NOT NULL DEFAULT '',
	per_thread_system_prompt TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE (chat_id, user_id, topic_id)
);
CREATE TABLE IF NOT EXISTS messages (
	chat_id TEXT NOT NULL,
	external_message_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	caption TEXT NOT NULL DEFAULT '',
	reply_to TEXT NOT NULL DEFAULT '',
	media_group_id TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '[]',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	thinking_tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (chat_id, external_message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages(thread_id, created_at);
CREATE TABLE IF NOT EXISTS user_files (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	source_ref TEXT NOT NULL DEFAULT '',
	provider_file_id TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	file_kind TEXT NOT NULL,
	mime TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	uploaded_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	origin TEXT NOT NULL,
	upload_context TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_user_files_thread ON user_files(thread_id, uploaded_at);
CREATE INDEX IF NOT EXISTS idx_user_files_expires ON user_files(expires_at);
CREATE TABLE IF NOT EXISTS balance_operations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount_micros INTEGER NOT NULL,
	balance_before_micros INTEGER NOT NULL,
	balance_after_micros INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	provider_charge_id TEXT NOT NULL DEFAULT '',
	linked_message_id TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_balance_ops_user_created ON balance_operations(user_id, created_at);
`

// Store implements store.Store backed by a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite write serialization
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetUser(ctx context.Context, userID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, preferred_model_key, custom_personality, balance_micros, is_premium, created_at, updated_at
		FROM users WHERE id = ?`, userID)
	var u store.User
	var isPremium int
	if err := row.Scan(&u.ID, &u.DisplayName, &u.PreferredModelKey, &u.CustomPersonality,
		&u.BalanceMicros, &isPremium, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.IsPremium = isPremium != 0
	return &u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *store.User) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, preferred_model_key, custom_personality, balance_micros, is_premium, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			preferred_model_key = excluded.preferred_model_key,
			custom_personality = excluded.custom_personality,
			is_premium = excluded.is_premium,
			updated_at = excluded.updated_at`,
		u.ID, u.DisplayName, u.PreferredModelKey, u.CustomPersonality, u.BalanceMicros, boolToInt(u.IsPremium), now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, title, is_forum FROM chats WHERE id = ?`, chatID)
	var c store.Chat
	var isForum int
	if err := row.Scan(&c.ID, &c.Kind, &c.Title, &isForum); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	c.IsForum = isForum != 0
	return &c, nil
}

func (s *Store) UpsertChat(ctx context.Context, c *store.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, kind, title, is_forum) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, title = excluded.title, is_forum = excluded.is_forum`,
		c.ID, c.Kind, c.Title, boolToInt(c.IsForum))
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, chatID, userID, topicID string) (*store.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, user_id, topic_id, model_key, per_thread_system_prompt, created_at
		FROM threads WHERE chat_id = ? AND user_id = ? AND topic_id = ?`, chatID, userID, topicID)
	var t store.Thread
	if err := row.Scan(&t.ID, &t.ChatID, &t.UserID, &t.TopicID, &t.ModelKey, &t.PerThreadSystemPrompt, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

func (s *Store) CreateThread(ctx context.Context, t *store.Thread) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, chat_id, user_id, topic_id, model_key, per_thread_system_prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id, topic_id) DO NOTHING`,
		t.ID, t.ChatID, t.UserID, t.TopicID, t.ModelKey, t.PerThreadSystemPrompt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *Store) AppendMessages(ctx context.Context, msgs []store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append messages: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		attJSON, _ := json.Marshal(m.Attachments)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (chat_id, external_message_id, thread_id, role, text, caption, reply_to,
				media_group_id, attachments, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
				thinking_tokens, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (chat_id, external_message_id) DO UPDATE SET
				text = excluded.text, caption = excluded.caption, attachments = excluded.attachments`,
			m.ChatID, m.ExternalMsgID, m.ThreadID, m.Role, m.Text, m.Caption, m.ReplyTo,
			m.MediaGroupID, attJSON, m.InputTokens, m.OutputTokens, m.CacheReadTokens, m.CacheWriteTokens,
			m.ThinkingTokens, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, threadID string, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, external_message_id, thread_id, role, text, caption, reply_to,
		       media_group_id, attachments, input_tokens, output_tokens, cache_read_tokens,
		       cache_write_tokens, thinking_tokens, created_at
		FROM messages WHERE thread_id = ? ORDER BY created_at ASC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var attJSON []byte
		if err := rows.Scan(&m.ChatID, &m.ExternalMsgID, &m.ThreadID, &m.Role, &m.Text, &m.Caption, &m.ReplyTo,
			&m.MediaGroupID, &attJSON, &m.InputTokens, &m.OutputTokens, &m.CacheReadTokens,
			&m.CacheWriteTokens, &m.ThinkingTokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		_ = json.Unmarshal(attJSON, &m.Attachments)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateUserFile(ctx context.Context, f *store.UserFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	metaJSON, _ := json.Marshal(f.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_files (id, thread_id, source_ref, provider_file_id, filename, file_kind, mime,
			size, uploaded_at, expires_at, origin, upload_context, metadata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.ThreadID, f.SourceRef, f.ProviderFileID, f.Filename, f.FileKind, f.Mime,
		f.Size, f.UploadedAt, f.ExpiresAt, f.Origin, f.UploadContext, metaJSON)
	if err != nil {
		return fmt.Errorf("create user file: %w", err)
	}
	return nil
}

func (s *Store) ListUserFiles(ctx context.Context, threadID string) ([]store.UserFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, source_ref, provider_file_id, filename, file_kind, mime, size,
		       uploaded_at, expires_at, origin, upload_context, metadata
		FROM user_files WHERE thread_id = ? ORDER BY uploaded_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list user files: %w", err)
	}
	defer rows.Close()

	var out []store.UserFile
	for rows.Next() {
		var f store.UserFile
		var metaJSON []byte
		if err := rows.Scan(&f.ID, &f.ThreadID, &f.SourceRef, &f.ProviderFileID, &f.Filename, &f.FileKind,
			&f.Mime, &f.Size, &f.UploadedAt, &f.ExpiresAt, &f.Origin, &f.UploadContext, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan user file: %w", err)
		}
		_ = json.Unmarshal(metaJSON, &f.Metadata)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) DeleteUserFile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user file: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredUserFiles(ctx context.Context, now int64) ([]store.UserFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, source_ref, provider_file_id, filename, file_kind, mime, size,
		       uploaded_at, expires_at, origin, upload_context, metadata
		FROM user_files WHERE expires_at <= ?`, time.Unix(now, 0))
	if err != nil {
		return nil, fmt.Errorf("list expired user files: %w", err)
	}
	defer rows.Close()

	var out []store.UserFile
	for rows.Next() {
		var f store.UserFile
		var metaJSON []byte
		if err := rows.Scan(&f.ID, &f.ThreadID, &f.SourceRef, &f.ProviderFileID, &f.Filename, &f.FileKind,
			&f.Mime, &f.Size, &f.UploadedAt, &f.ExpiresAt, &f.Origin, &f.UploadContext, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan expired user file: %w", err)
		}
		_ = json.Unmarshal(metaJSON, &f.Metadata)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ApplyBalanceOp serializes on the single sqlite connection (SetMaxOpenConns(1))
// so the read-modify-write of balance_micros is atomic without row locks.
func (s *Store) ApplyBalanceOp(ctx context.Context, op *store.BalanceOperation) (int64, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin balance op: %w", err)
	}
	defer tx.Rollback()

	var before int64
	if err := tx.QueryRowContext(ctx, `SELECT balance_micros FROM users WHERE id = ?`, op.UserID).Scan(&before); err != nil {
		return 0, fmt.Errorf("read user balance: %w", err)
	}
	after := before + op.AmountMicros
	op.BalanceBeforeMicros = before
	op.BalanceAfterMicros = after

	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance_micros = ?, updated_at = ? WHERE id = ?`,
		after, op.CreatedAt, op.UserID); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balance_operations (id, user_id, kind, amount_micros, balance_before_micros,
			balance_after_micros, description, provider_charge_id, linked_message_id,
			input_tokens, output_tokens, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		op.ID, op.UserID, op.Kind, op.AmountMicros, op.BalanceBeforeMicros, op.BalanceAfterMicros,
		op.Description, op.ProviderChargeID, op.LinkedMessageID, op.InputTokens, op.OutputTokens, op.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert balance op: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit balance op: %w", err)
	}
	return after, nil
}

func (s *Store) ListBalanceOps(ctx context.Context, userID string, limit int) ([]store.BalanceOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount_micros, balance_before_micros, balance_after_micros,
		       description, provider_charge_id, linked_message_id, input_tokens, output_tokens, created_at
		FROM balance_operations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list balance ops: %w", err)
	}
	defer rows.Close()

	var out []store.BalanceOperation
	for rows.Next() {
		var op store.BalanceOperation
		if err := rows.Scan(&op.ID, &op.UserID, &op.Kind, &op.AmountMicros, &op.BalanceBeforeMicros,
			&op.BalanceAfterMicros, &op.Description, &op.ProviderChargeID, &op.LinkedMessageID,
			&op.InputTokens, &op.OutputTokens, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan balance op: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
