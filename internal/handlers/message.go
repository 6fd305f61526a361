package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"cot-backend/internal/models"
)

type messageGenerator interface {
	GenerateMessage(ctx context.Context, prompt string) (string, error)
}

type MessageHandler struct {
	generator messageGenerator
}

func NewMessageHandler(generator messageGenerator) *MessageHandler {
	return &MessageHandler{generator: generator}
}

// SendMessage forwards a single prompt to the model without orchestration.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid request body"))
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("Prompt content is required"))
		return
	}

	text, err := h.generator.GenerateMessage(r.Context(), req.Prompt)
	if err != nil {
		logger := zerolog.Ctx(r.Context())
		if clientGone(r, err) {
			logger.Info().Msg("client disconnected during message generation")
			return
		}
		logger.Error().Err(err).Msg("message generation failed")
		writeJSON(w, http.StatusInternalServerError, errorResp("Failed to generate content"))
		return
	}

	writeJSON(w, http.StatusOK, models.MessageResponse{Message: text})
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}
