package dto

type GuestMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=8000"`
}

// GuestChatRequestDTO carries the whole anonymous conversation; nothing is
// stored server side.
type GuestChatRequestDTO struct {
	Messages []GuestMessageDTO `json:"messages" validate:"required,min=1,max=20,dive"`
}

type GuestChatResponseDTO struct {
	Reply     string `json:"reply"`
	Model     string `json:"model"`
	Remaining int    `json:"remaining"`
}
