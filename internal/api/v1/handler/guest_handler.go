package handler

import (
	"encoding/json"
	"net/http"

	"norvis/internal/api/v1/dto"
	"norvis/internal/middleware"
	"norvis/internal/provider"
	"norvis/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type GuestHandler struct {
	guestService service.GuestService
	clientIPs    *middleware.ClientIPResolver
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewGuestHandler keys guests by clientIPs. A nil resolver keys them by the
// socket address.
func NewGuestHandler(guestService service.GuestService, clientIPs *middleware.ClientIPResolver, validate *validator.Validate, logger zerolog.Logger) *GuestHandler {
	return &GuestHandler{guestService: guestService, clientIPs: clientIPs, validate: validate, logger: logger}
}

// RegisterRoutes mounts the unauthenticated guest routes.
func (h *GuestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /guest/chat", h.chat)
}

// chat godoc
// @Summary Chat as a guest
// @Description Answers without an account. Each client IP gets a small number of messages per window.
// @Tags guest
// @Accept json
// @Produce json
// @Param request body dto.GuestChatRequestDTO true "Conversation so far"
// @Success 200 {object} dto.GuestChatResponseDTO
// @Failure 400 {string} string "Validation failed"
// @Failure 429 {object} dto.LimitExceededDTO
// @Failure 502 {string} string "AI provider failed"
// @Failure 503 {string} string "Rate limit store unavailable"
// @Router /guest/chat [post]
func (h *GuestHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req dto.GuestChatRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	messages := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := h.guestService.Chat(r.Context(), h.clientIPs.ClientIP(r), messages)
	if err != nil {
		writeError(w, h.logger, err, "Failed to answer guest message")
		return
	}
	if !reply.Decision.Allowed {
		writeLimited(w, h.logger, dto.LimitExceededDTO{
			Error:             "Guest message limit reached. Sign up to keep chatting.",
			RetryAfterSeconds: reply.Decision.RetryAfterSeconds,
		})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.GuestChatResponseDTO{
		Reply:     reply.Reply,
		Model:     reply.Model,
		Remaining: reply.Decision.Remaining,
	})
}
