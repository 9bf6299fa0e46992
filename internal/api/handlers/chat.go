// HTTP handler for the streaming chat endpoint.
// POST /api/v1/chat/stream — bridges the chat service's chunk channel onto SSE.
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/planpilot/planpilot/internal/domain/chat"
	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/infra/llm"
)

// ChatService is the chat capability the handler consumes.
type ChatService interface {
	Chat(ctx context.Context, in chat.ChatInput) (<-chan chat.StreamChunk, error)
}

// ChatHandler handles streaming chat HTTP requests.
type ChatHandler struct {
	chatService ChatService
}

// NewChatHandler creates a new ChatHandler backed by the provided service.
func NewChatHandler(chatService ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatMessage is one prior conversation turn in the request body.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Prompt   string        `json:"prompt"`
	ConfigID string        `json:"configId,omitempty"`
	Language string        `json:"language,omitempty"`
	History  []chatMessage `json:"history,omitempty"`
}

type chatRequestError struct {
	status  int
	message string
}

func (e chatRequestError) Error() string { return e.message }

// Chat handles POST /api/v1/chat/stream.
// The response is a text/event-stream of chat.StreamChunk frames; the last
// frame is either done or error, and client disconnect ends the stream with
// no trailing frame.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	input, err := buildChatInput(r)
	if err != nil {
		writeChatError(w, err)
		return
	}

	stream, err := h.chatService.Chat(r.Context(), input)
	if err != nil {
		writeError(w, statusForChatError(err), err.Error())
		return
	}

	bw, flusher, err := prepareChatStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	streamChatChunks(bw, flusher, stream)
}

func buildChatInput(r *http.Request) (chat.ChatInput, error) {
	ctx := r.Context()
	wsID, err := getWorkspaceID(ctx)
	if err != nil {
		return chat.ChatInput{}, chatRequestError{status: http.StatusUnauthorized, message: "missing workspace context"}
	}

	userID, err := getUserID(ctx)
	if err != nil {
		return chat.ChatInput{}, chatRequestError{status: http.StatusUnauthorized, message: "missing user context"}
	}

	var req chatRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		return chat.ChatInput{}, chatRequestError{status: http.StatusBadRequest, message: errInvalidBody}
	}
	if req.Prompt == "" {
		return chat.ChatInput{}, chatRequestError{status: http.StatusBadRequest, message: "prompt is required"}
	}

	history := make([]llm.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	return chat.ChatInput{
		WorkspaceID: wsID,
		UserID:      userID,
		ConfigID:    req.ConfigID,
		Prompt:      req.Prompt,
		Language:    req.Language,
		History:     history,
	}, nil
}

func prepareChatStream(w http.ResponseWriter) (*bufio.Writer, http.Flusher, error) {
	w.Header().Set(headerContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Flusher")
	}

	return bufio.NewWriter(w), flusher, nil
}

func streamChatChunks(bw *bufio.Writer, flusher http.Flusher, stream <-chan chat.StreamChunk) {
	for chunk := range stream {
		b, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(bw, "data: %s\n\n", string(b)); err != nil {
			return
		}
		_ = bw.Flush()
		flusher.Flush()
	}
}

func writeChatError(w http.ResponseWriter, err error) {
	var reqErr chatRequestError
	if errors.As(err, &reqErr) {
		writeError(w, reqErr.status, reqErr.message)
		return
	}
	writeError(w, http.StatusInternalServerError, "chat failed")
}

// statusForChatError maps config-resolution failures, the only errors the
// chat service returns synchronously, to HTTP codes.
func statusForChatError(err error) int {
	if errors.Is(err, settings.ErrConfigNotFound) || errors.Is(err, settings.ErrNoDefaultConfig) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
