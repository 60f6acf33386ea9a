package service

import (
	"context"
	"strings"

	"norvis/internal/provider"
	"norvis/internal/ratelimit"

	"github.com/rs/zerolog"
)

// GuestLimiter is satisfied by *ratelimit.Limiter.
type GuestLimiter interface {
	CheckAndConsume(ctx context.Context, ip string) (ratelimit.Decision, error)
}

// GuestReply is the outcome of one anonymous message. Reply is empty when
// Decision.Allowed is false.
type GuestReply struct {
	Decision ratelimit.Decision
	Reply    string
	Model    string
}

type GuestService interface {
	// Chat rate-limits ip and, when allowed, asks the guest model for a reply.
	// Guest conversations are not persisted; the client resends history.
	Chat(ctx context.Context, ip string, messages []provider.Message) (*GuestReply, error)
}

type guestService struct {
	limiter   GuestLimiter
	generator Generator
	model     string
	maxTokens int
	logger    zerolog.Logger
}

func NewGuestService(limiter GuestLimiter, generator Generator, guestModel string, maxTokens int, logger zerolog.Logger) GuestService {
	return &guestService{
		limiter:   limiter,
		generator: generator,
		model:     guestModel,
		maxTokens: maxTokens,
		logger:    logger.With().Str("service", "GuestService").Logger(),
	}
}

func (s *guestService) Chat(ctx context.Context, ip string, messages []provider.Message) (*GuestReply, error) {
	decision, err := s.limiter.CheckAndConsume(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return &GuestReply{Decision: decision}, nil
	}

	resp, err := s.generator.Generate(ctx, provider.Request{
		Model:     s.model,
		Messages:  messages,
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &GuestReply{
		Decision: decision,
		Reply:    strings.TrimSpace(resp.Content),
		Model:    s.model,
	}, nil
}
