// Package pg implements store.Store against PostgreSQL via database/sql
// with the pgx stdlib driver, matching the rest of the gateway's managed-mode
// plumbing (see cmd/migrate.go).
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tollgate/internal/store"
)

// Store implements store.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetUser(ctx context.Context, userID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, preferred_model_key, custom_personality,
		       balance_micros, is_premium, created_at, updated_at
		FROM users WHERE id = $1`, userID)

	var u store.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.PreferredModelKey, &u.CustomPersonality,
		&u.BalanceMicros, &u.IsPremium, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *store.User) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, preferred_model_key, custom_personality, balance_micros, is_premium, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			preferred_model_key = EXCLUDED.preferred_model_key,
			custom_personality = EXCLUDED.custom_personality,
			is_premium = EXCLUDED.is_premium,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.DisplayName, u.PreferredModelKey, u.CustomPersonality, u.BalanceMicros, u.IsPremium, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, title, is_forum FROM chats WHERE id = $1`, chatID)
	var c store.Chat
	if err := row.Scan(&c.ID, &c.Kind, &c.Title, &c.IsForum); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

func (s *Store) UpsertChat(ctx context.Context, c *store.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, kind, title, is_forum)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, title = EXCLUDED.title, is_forum = EXCLUDED.is_forum`,
		c.ID, c.Kind, c.Title, c.IsForum)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, chatID, userID, topicID string) (*store.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, user_id, topic_id, model_key, per_thread_system_prompt, created_at
		FROM threads WHERE chat_id = $1 AND user_id = $2 AND topic_id = $3`, chatID, userID, topicID)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
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
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (chat_id, external_message_id) DO UPDATE SET
				text = EXCLUDED.text, caption = EXCLUDED.caption, attachments = EXCLUDED.attachments`,
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
		FROM messages WHERE thread_id = $1 ORDER BY created_at ASC LIMIT $2`, threadID, limit)
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
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
		FROM user_files WHERE thread_id = $1 ORDER BY uploaded_at ASC`, threadID)
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user file: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredUserFiles(ctx context.Context, now int64) ([]store.UserFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, source_ref, provider_file_id, filename, file_kind, mime, size,
		       uploaded_at, expires_at, origin, upload_context, metadata
		FROM user_files WHERE expires_at <= $1`, time.Unix(now, 0))
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

// ApplyBalanceOp inserts the operation row and updates users.balance_micros
// in one transaction — the only path allowed to touch balance, per the
// gateway's no-lost-charge invariant. Never routed through write-behind.
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
	if err := tx.QueryRowContext(ctx, `SELECT balance_micros FROM users WHERE id = $1 FOR UPDATE`, op.UserID).Scan(&before); err != nil {
		return 0, fmt.Errorf("lock user balance: %w", err)
	}
	after := before + op.AmountMicros
	op.BalanceBeforeMicros = before
	op.BalanceAfterMicros = after

	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance_micros = $1, updated_at = $2 WHERE id = $3`,
		after, op.CreatedAt, op.UserID); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balance_operations (id, user_id, kind, amount_micros, balance_before_micros,
			balance_after_micros, description, provider_charge_id, linked_message_id,
			input_tokens, output_tokens, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
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
		FROM balance_operations WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
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
