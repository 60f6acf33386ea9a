package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"norvis/internal/model"
	"norvis/internal/provider"
	"norvis/internal/repository"

	"github.com/rs/zerolog"
)

var ErrChatNotFound = repository.ErrChatNotFound

// historyLimit bounds how many prior messages are sent to the provider.
const historyLimit = 50

// Generator produces an assistant reply. *provider.Registry satisfies it.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// MessageExchange is the outcome of SendMessage. When Quota.Allowed is
// false nothing was stored and both messages are nil.
type MessageExchange struct {
	Quota            model.QuotaDecision
	UserMessage      *model.Message
	AssistantMessage *model.Message
}

type ChatService interface {
	CreateChat(ctx context.Context, userID, title, modelName string) (*model.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error)
	ListChats(ctx context.Context, userID string, limit, offset int) ([]model.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
	ListMessages(ctx context.Context, chatID, userID string, limit int) ([]model.Message, error)
	// SendMessage gates on the user's quota, stores the user message, asks the
	// provider for a reply and stores it.
	SendMessage(ctx context.Context, chatID, userID, text string) (*MessageExchange, error)
}

type chatService struct {
	chatRepo     repository.ChatRepository
	quotas       QuotaService
	generator    Generator
	defaultModel string
	maxTokens    int
	logger       zerolog.Logger
}

func NewChatService(
	chatRepo repository.ChatRepository,
	quotas QuotaService,
	generator Generator,
	defaultModel string,
	maxTokens int,
	logger zerolog.Logger,
) ChatService {
	return &chatService{
		chatRepo:     chatRepo,
		quotas:       quotas,
		generator:    generator,
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		logger:       logger.With().Str("service", "ChatService").Logger(),
	}
}

func (s *chatService) CreateChat(ctx context.Context, userID, title, modelName string) (*model.Chat, error) {
	if title == "" {
		title = "New Chat"
	}
	if modelName == "" {
		modelName = s.defaultModel
	}
	chat, err := s.chatRepo.CreateChat(ctx, userID, title, modelName)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create chat")
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	chat, err := s.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return chat, nil
}

func (s *chatService) ListChats(ctx context.Context, userID string, limit, offset int) ([]model.Chat, error) {
	chats, err := s.chatRepo.ListChats(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list chats")
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return chats, nil
}

func (s *chatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	if err := s.chatRepo.DeleteChat(ctx, chatID, userID); err != nil {
		if !errors.Is(err, repository.ErrChatNotFound) {
			s.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to delete chat")
		}
		return fmt.Errorf("deleting chat: %w", err)
	}
	return nil
}

func (s *chatService) ListMessages(ctx context.Context, chatID, userID string, limit int) ([]model.Message, error) {
	messages, err := s.chatRepo.ListMessages(ctx, chatID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

func (s *chatService) SendMessage(ctx context.Context, chatID, userID, text string) (*MessageExchange, error) {
	chat, err := s.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("chat not found: %w", err)
	}

	decision, err := s.quotas.EvaluateAndConsume(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return &MessageExchange{Quota: decision}, nil
	}

	userMsg, err := s.chatRepo.CreateMessage(ctx, chatID, model.RoleChatUser, model.MessageParts{{Type: "text", Text: text}})
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to store user message")
		return nil, fmt.Errorf("creating message: %w", err)
	}

	history, err := s.chatRepo.ListMessages(ctx, chatID, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	resp, err := s.generator.Generate(ctx, provider.Request{
		Model:     chat.Model,
		Messages:  toProviderMessages(history),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	reply := strings.TrimSpace(resp.Content)
	assistantMsg, err := s.chatRepo.CreateMessage(ctx, chatID, model.RoleChatAssistant, model.MessageParts{{Type: "text", Text: reply}})
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to store assistant message")
		return nil, fmt.Errorf("creating message: %w", err)
	}

	return &MessageExchange{
		Quota:            decision,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}, nil
}

func toProviderMessages(history []model.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		text := m.Parts.Text()
		if text == "" {
			continue
		}
		out = append(out, provider.Message{Role: m.Role, Content: text})
	}
	return out
}
