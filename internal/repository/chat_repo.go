package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"norvis/internal/model"
)

// ErrChatNotFound covers both missing chats and chats owned by someone else.
var ErrChatNotFound = errors.New("chat not found or access denied")

type ChatRepository interface {
	CreateChat(ctx context.Context, userID, title, modelName string) (*model.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error)
	ListChats(ctx context.Context, userID string, limit, offset int) ([]model.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
	CreateMessage(ctx context.Context, chatID, role string, parts model.MessageParts) (*model.Message, error)
	ListMessages(ctx context.Context, chatID, userID string, limit int) ([]model.Message, error)
}

type chatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) ChatRepository {
	return &chatRepo{db: db}
}

const chatColumns = `id, user_id, title, model, created_at, updated_at`

func scanChat(row rowScanner) (*model.Chat, error) {
	var chat model.Chat
	if err := row.Scan(
		&chat.ID,
		&chat.UserID,
		&chat.Title,
		&chat.Model,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepo) CreateChat(ctx context.Context, userID, title, modelName string) (*model.Chat, error) {
	query := `
		INSERT INTO chats (user_id, title, model)
		VALUES ($1, $2, $3)
		RETURNING ` + chatColumns
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, userID, title, modelName))
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

func (r *chatRepo) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1 AND user_id = $2`
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, chatID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return chat, nil
}

func (r *chatRepo) ListChats(ctx context.Context, userID string, limit, offset int) ([]model.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	chats := []model.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return chats, nil
}

func (r *chatRepo) DeleteChat(ctx context.Context, chatID, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// CreateMessage appends a message and bumps the chat's updated_at.
func (r *chatRepo) CreateMessage(ctx context.Context, chatID, role string, parts model.MessageParts) (*model.Message, error) {
	query := `
		WITH touched AS (
			UPDATE chats SET updated_at = NOW() WHERE id = $1
		)
		INSERT INTO messages (chat_id, role, parts)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id, chat_id, role, parts, created_at
	`
	var message model.Message
	err := r.db.QueryRowContext(ctx, query, chatID, role, parts).Scan(
		&message.ID,
		&message.ChatID,
		&message.Role,
		&message.Parts,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	return &message, nil
}

// ListMessages returns the latest limit messages oldest first.
func (r *chatRepo) ListMessages(ctx context.Context, chatID, userID string, limit int) ([]model.Message, error) {
	var owned string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID).Scan(&owned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("verifying chat ownership: %w", err)
	}

	query := `
		SELECT id, chat_id, role, parts, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var message model.Message
		if err := rows.Scan(
			&message.ID,
			&message.ChatID,
			&message.Role,
			&message.Parts,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
