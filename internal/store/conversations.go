package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conclave/pkg/types"
)

// CreateConversation inserts a new conversation under its project.
func (s *Store) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	if conv.ID == "" {
		conv.ID = types.NewID()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM projects WHERE id = ?`, conv.ProjectID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("project %s: %w", conv.ProjectID, ErrNotFound)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, project_id, title, summary, round_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.ProjectID, conv.Title, nullable(conv.Summary), conv.RoundCount,
			formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
		return classifyError(err)
	})
}

// GetConversation fetches a conversation with its reconstructed rounds.
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	conv, err := s.getConversationRow(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Rounds = types.BuildRounds(messages)
	return conv, nil
}

func (s *Store) getConversationRow(ctx context.Context, id string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, summary, round_count, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	var conv types.Conversation
	var summary sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.ProjectID, &conv.Title, &summary,
		&conv.RoundCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.Summary = summary.String
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return &conv, nil
}

// ConversationProjectID resolves the owning project without loading the
// message history.
func (s *Store) ConversationProjectID(ctx context.Context, conversationID string) (string, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id FROM conversations WHERE id = ?`, conversationID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve project: %w", err)
	}
	return projectID, nil
}

// ListMessages returns all messages of a conversation ordered by
// (round_number, created_at).
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, round_number, speaker, content, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY round_number, created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessage fetches a single message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, round_number, speaker, content, metadata, created_at
		FROM conversation_messages WHERE id = ?`, id)

	var msg types.Message
	var metadata, createdAt string
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.RoundNumber, &msg.Speaker,
		&msg.Content, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	msg.Metadata = unmarshalMap(metadata)
	msg.CreatedAt = parseTime(createdAt)
	return &msg, nil
}

// AppendRound persists the user message that opens round N = round_count+1
// and bumps round_count, in one transaction. The message's RoundNumber is
// filled in and returned.
func (s *Store) AppendRound(ctx context.Context, conversationID string, userMsg *types.Message) (int, error) {
	var roundNumber int
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT round_count FROM conversations WHERE id = ?`, conversationID).Scan(&count)
		if err == sql.ErrNoRows {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		roundNumber = count + 1

		userMsg.ConversationID = conversationID
		userMsg.RoundNumber = roundNumber
		userMsg.Speaker = types.SpeakerUser
		if err := insertMessage(ctx, tx, userMsg); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET round_count = ?, updated_at = ? WHERE id = ?`,
			roundNumber, formatTime(time.Now().UTC()), conversationID)
		return classifyError(err)
	})
	if err != nil {
		return 0, err
	}
	return roundNumber, nil
}

// AppendAgentMessage persists one agent reply in an existing round and
// touches the conversation's updated_at.
func (s *Store) AppendAgentMessage(ctx context.Context, msg *types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			formatTime(time.Now().UTC()), msg.ConversationID)
		return classifyError(err)
	})
}

// insertMessage writes one immutable message row inside a transaction.
func insertMessage(ctx context.Context, tx *sql.Tx, msg *types.Message) error {
	if msg.ID == "" {
		msg.ID = types.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	metadata, err := marshalMap(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_messages
			(id, conversation_id, round_number, speaker, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.RoundNumber, msg.Speaker,
		msg.Content, metadata, formatTime(msg.CreatedAt))
	return classifyError(err)
}

// UpdateConversationTitle sets the title (used when the first round names a
// fresh conversation).
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
			title, formatTime(time.Now().UTC()), id)
		if err != nil {
			return classifyError(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// DeleteConversation removes a conversation; messages cascade and their
// chunks follow through triggers.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return classifyError(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ConversationCount returns the number of stored conversations.
func (s *Store) ConversationCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	var metadata, createdAt string
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.RoundNumber, &msg.Speaker,
		&msg.Content, &metadata, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Metadata = unmarshalMap(metadata)
	msg.CreatedAt = parseTime(createdAt)
	return &msg, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
