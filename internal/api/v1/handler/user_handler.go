package handler

import (
	"encoding/json"
	"net/http"

	"norvis/internal/api/v1/dto"
	"norvis/internal/middleware"
	"norvis/internal/model"
	"norvis/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type UserHandler struct {
	userService service.UserService
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewUserHandler(userService service.UserService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{userService: userService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /users", authMw(http.HandlerFunc(h.createUser)))
	mux.Handle("GET /users/me", authMw(http.HandlerFunc(h.getUser)))
}

// createUser godoc
// @Summary Create the caller's profile
// @Description Stores the profile for the authenticated user and provisions the FREE quota.
// @Tags users
// @Accept json
// @Produce json
// @Param user body dto.UserCreateDTO true "Profile"
// @Success 201 {object} dto.UserResponseDTO
// @Failure 400 {string} string "Validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 409 {string} string "User already exists"
// @Router /users [post]
func (h *UserHandler) createUser(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.UserCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.userService.Create(r.Context(), &model.User{
		UserID: userID,
		Name:   req.Name,
		Email:  req.Email,
	})
	if err != nil {
		writeError(w, h.logger, err, "Failed to create user")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, dto.NewUserResponse(created))
}

// getUser godoc
// @Summary Get the caller's profile
// @Tags users
// @Produce json
// @Success 200 {object} dto.UserResponseDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "User not found"
// @Router /users/me [get]
func (h *UserHandler) getUser(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "User ID not found in context", http.StatusUnauthorized)
		return
	}
	user, err := h.userService.Get(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "Failed to get user")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.NewUserResponse(user))
}
