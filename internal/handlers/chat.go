package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/akarpov/llmbot-backend/internal/platform/apperr"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/services"
)

type ChatRequest struct {
	UserID string `json:"user_id" binding:"required"`
	ChatID string `json:"chat_id" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

type ChatResponse struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type ResetRequest struct {
	SessionID string `json:"session_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
}

type ChatHandler struct {
	log  *logger.Logger
	chat services.ChatService
}

func NewChatHandler(baseLog *logger.Logger, chat services.ChatService) *ChatHandler {
	return &ChatHandler{log: baseLog.With("handler", "ChatHandler"), chat: chat}
}

func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("text must be non-empty"))
		return
	}

	reply, err := h.chat.HandleTurn(c.Request.Context(), req.UserID, req.ChatID, req.Text)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindGeneration:
			h.log.Error("Generation failed", "chat_id", req.ChatID, "error", err)
			RespondError(c, http.StatusBadGateway, "generation_failed",
				fmt.Errorf("could not produce a reply, please try again"))
		case apperr.KindPersistence:
			h.log.Error("Persistence failed", "chat_id", req.ChatID, "error", err)
			RespondError(c, http.StatusInternalServerError, "persistence_failed",
				fmt.Errorf("could not store the turn"))
		default:
			h.log.Error("Turn failed", "chat_id", req.ChatID, "error", err)
			RespondError(c, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}

	RespondOK(c, ChatResponse{Text: reply, Type: "message"})
}

func (h *ChatHandler) ResetChat(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" && strings.TrimSpace(req.ChatID) == "" {
		RespondError(c, http.StatusBadRequest, "bad_request",
			fmt.Errorf("either session_id or chat_id is required"))
		return
	}

	var sessionID *uuid.UUID
	if strings.TrimSpace(req.SessionID) != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid session_id"))
			return
		}
		sessionID = &parsed
	}

	affected, err := h.chat.Reset(c.Request.Context(), sessionID, req.ChatID)
	if err != nil {
		h.log.Error("Reset failed", "chat_id", req.ChatID, "error", err)
		RespondError(c, http.StatusInternalServerError, "persistence_failed", err)
		return
	}
	if affected == 0 {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no active session found"))
		return
	}

	RespondOK(c, gin.H{"status": "ok", "reset_sessions": affected})
}
