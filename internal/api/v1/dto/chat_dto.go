package dto

import (
	"strings"
	"time"

	"norvis/internal/model"
)

type ChatCreateDTO struct {
	Title *string `json:"title,omitempty" validate:"omitempty,max=200"`
	Model string  `json:"model,omitempty" validate:"omitempty,max=100"`
}

type ChatResponseDTO struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessagePartDTO struct {
	Type string `json:"type" validate:"required,oneof=text"`
	Text string `json:"text,omitempty" validate:"max=8000"`
}

type MessageCreateDTO struct {
	Parts []MessagePartDTO `json:"parts" validate:"required,min=1,dive"`
}

// Text joins the text parts of the request.
func (m MessageCreateDTO) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

type MessageResponseDTO struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chat_id"`
	Role      string           `json:"role"`
	Parts     []MessagePartDTO `json:"parts"`
	CreatedAt time.Time        `json:"created_at"`
}

type MessageExchangeResponseDTO struct {
	UserMessage      MessageResponseDTO `json:"user_message"`
	AssistantMessage MessageResponseDTO `json:"assistant_message"`
	Remaining        int                `json:"remaining"`
}

func NewChatResponse(c *model.Chat) ChatResponseDTO {
	return ChatResponseDTO{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Model:     c.Model,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func NewMessageResponse(m *model.Message) MessageResponseDTO {
	parts := make([]MessagePartDTO, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, MessagePartDTO{Type: p.Type, Text: p.Text})
	}
	return MessageResponseDTO{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      m.Role,
		Parts:     parts,
		CreatedAt: m.CreatedAt,
	}
}
