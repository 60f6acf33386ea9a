package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"norvis/internal/api/v1/dto"
	"norvis/internal/middleware"
	"norvis/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type ChatHandler struct {
	chatService service.ChatService
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewChatHandler(chatService service.ChatService, validate *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		validate:    validate,
		logger:      logger,
	}
}

func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /chats", authMw(http.HandlerFunc(h.createChat)))
	mux.Handle("GET /chats", authMw(http.HandlerFunc(h.listChats)))
	mux.Handle("GET /chats/{id}", authMw(http.HandlerFunc(h.getChat)))
	mux.Handle("DELETE /chats/{id}", authMw(http.HandlerFunc(h.deleteChat)))
	mux.Handle("GET /chats/{id}/messages", authMw(http.HandlerFunc(h.listMessages)))
	mux.Handle("POST /chats/{id}/messages", authMw(http.HandlerFunc(h.sendMessage)))
}

// createChat godoc
// @Summary Create a chat
// @Description Creates an empty chat. Title defaults to "New Chat" and model to the server default.
// @Tags chats
// @Accept json
// @Produce json
// @Param chat body dto.ChatCreateDTO false "Chat creation request"
// @Success 201 {object} dto.ChatResponseDTO
// @Failure 400 {string} string "Invalid JSON payload"
// @Failure 401 {string} string "Unauthorized"
// @Failure 500 {string} string "Failed to create chat"
// @Router /chats [post]
func (h *ChatHandler) createChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.ChatCreateDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}

	chat, err := h.chatService.CreateChat(r.Context(), userID, title, req.Model)
	if err != nil {
		writeError(w, h.logger, err, "Failed to create chat")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, dto.NewChatResponse(chat))
}

// listChats godoc
// @Summary List chats
// @Description Lists the caller's chats, most recently updated first.
// @Tags chats
// @Produce json
// @Param limit query int false "Maximum number of chats to return" default(50)
// @Param offset query int false "Number of chats to skip" default(0)
// @Success 200 {array} dto.ChatResponseDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 500 {string} string "Failed to list chats"
// @Router /chats [get]
func (h *ChatHandler) listChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	limit := queryInt(r, "limit", 50, 1, 100)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	chats, err := h.chatService.ListChats(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list chats")
		return
	}
	resp := make([]dto.ChatResponseDTO, 0, len(chats))
	for i := range chats {
		resp = append(resp, dto.NewChatResponse(&chats[i]))
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// getChat godoc
// @Summary Get a chat
// @Tags chats
// @Produce json
// @Param id path string true "Chat ID"
// @Success 200 {object} dto.ChatResponseDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Chat not found"
// @Router /chats/{id} [get]
func (h *ChatHandler) getChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	chat, err := h.chatService.GetChat(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, h.logger, err, "Failed to get chat")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.NewChatResponse(chat))
}

// deleteChat godoc
// @Summary Delete a chat
// @Description Deletes a chat and all its messages.
// @Tags chats
// @Param id path string true "Chat ID"
// @Success 204 {string} string "No Content"
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Chat not found"
// @Router /chats/{id} [delete]
func (h *ChatHandler) deleteChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	if err := h.chatService.DeleteChat(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, h.logger, err, "Failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listMessages godoc
// @Summary List messages in a chat
// @Tags messages
// @Produce json
// @Param id path string true "Chat ID"
// @Param limit query int false "Maximum number of messages to return" default(100)
// @Success 200 {array} dto.MessageResponseDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Chat not found"
// @Router /chats/{id}/messages [get]
func (h *ChatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	limit := queryInt(r, "limit", 100, 1, 500)

	messages, err := h.chatService.ListMessages(r.Context(), r.PathValue("id"), userID, limit)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list messages")
		return
	}
	resp := make([]dto.MessageResponseDTO, 0, len(messages))
	for i := range messages {
		resp = append(resp, dto.NewMessageResponse(&messages[i]))
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// sendMessage godoc
// @Summary Send a message
// @Description Counts the message against the daily quota, then stores it with the assistant reply.
// @Tags messages
// @Accept json
// @Produce json
// @Param id path string true "Chat ID"
// @Param message body dto.MessageCreateDTO true "Message parts"
// @Success 201 {object} dto.MessageExchangeResponseDTO
// @Failure 400 {string} string "Validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Chat or quota not found"
// @Failure 429 {object} dto.LimitExceededDTO
// @Failure 502 {string} string "AI provider failed"
// @Failure 503 {string} string "Quota storage unavailable"
// @Router /chats/{id}/messages [post]
func (h *ChatHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.MessageCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	text := req.Text()
	if text == "" {
		http.Error(w, "Message text is required", http.StatusBadRequest)
		return
	}

	ex, err := h.chatService.SendMessage(r.Context(), r.PathValue("id"), userID, text)
	if err != nil {
		writeError(w, h.logger, err, "Failed to send message")
		return
	}
	if !ex.Quota.Allowed {
		resetAt := ex.Quota.ResetAt
		writeLimited(w, h.logger, dto.LimitExceededDTO{
			Error:             "Daily message limit reached",
			Limit:             ex.Quota.Limit,
			ResetAt:           &resetAt,
			RetryAfterSeconds: ex.Quota.RetryAfterSeconds,
		})
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, dto.MessageExchangeResponseDTO{
		UserMessage:      dto.NewMessageResponse(ex.UserMessage),
		AssistantMessage: dto.NewMessageResponse(ex.AssistantMessage),
		Remaining:        ex.Quota.Remaining,
	})
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
