package chat

import (
	"context"
	"strings"
	"time"

	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/domain/usage"
	"github.com/planpilot/planpilot/internal/infra/eventbus"
	"github.com/planpilot/planpilot/internal/infra/llm"
)

// ConfigSource resolves a workspace's stored LLM configs.
type ConfigSource interface {
	Get(ctx context.Context, workspaceID, id string) (*settings.Config, error)
	Default(ctx context.Context, workspaceID string) (*settings.Config, error)
}

// Streamer is the orchestration capability the service consumes.
type Streamer interface {
	StreamChat(ctx context.Context, cfg llm.ProviderConfig, prompt, language string, history []llm.Message, cb llm.StreamCallbacks)
}

// Service turns one chat request into a channel of stream chunks suitable
// for an SSE response, and publishes a usage event after each completed
// stream.
type Service struct {
	configs ConfigSource
	orch    Streamer
	bus     eventbus.EventBus
}

type ChatInput struct {
	WorkspaceID string
	UserID      string
	ConfigID    string // empty selects the workspace default
	Prompt      string
	Language    string
	History     []llm.Message
}

// StreamChunk is one frame of the SSE response.
type StreamChunk struct {
	Type  string `json:"type"` // token | done | error
	Delta string `json:"delta,omitempty"`
	Full  string `json:"full,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

func NewService(configs ConfigSource, orch Streamer, bus eventbus.EventBus) *Service {
	return &Service{configs: configs, orch: orch, bus: bus}
}

// Chat resolves the target config and starts the stream. Config resolution
// failures are returned directly, before any chunk is produced; everything
// after that arrives on the channel, which closes after the terminal frame.
func (s *Service) Chat(ctx context.Context, in ChatInput) (<-chan StreamChunk, error) {
	cfg, err := s.resolveConfig(ctx, in)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		s.orch.StreamChat(ctx, cfg.ProviderConfig(), in.Prompt, in.Language, in.History, llm.StreamCallbacks{
			OnChunk: func(text string) {
				send(ctx, ch, StreamChunk{Type: "token", Delta: text})
			},
			OnComplete: func(fullText string) {
				s.publishUsage(in, cfg, fullText)
				send(ctx, ch, StreamChunk{Type: "done", Done: true, Full: fullText})
			},
			OnError: func(err error) {
				send(ctx, ch, StreamChunk{Type: "error", Error: err.Error()})
			},
		})
	}()
	return ch, nil
}

func (s *Service) resolveConfig(ctx context.Context, in ChatInput) (*settings.Config, error) {
	if strings.TrimSpace(in.ConfigID) != "" {
		return s.configs.Get(ctx, in.WorkspaceID, in.ConfigID)
	}
	return s.configs.Default(ctx, in.WorkspaceID)
}

func (s *Service) publishUsage(in ChatInput, cfg *settings.Config, fullText string) {
	if s.bus == nil {
		return
	}
	promptChars := len(in.Prompt)
	for _, m := range in.History {
		promptChars += len(m.Content)
	}
	s.bus.Publish(eventbus.TopicLLMUsage, usage.Event{
		WorkspaceID:          in.WorkspaceID,
		UserID:               in.UserID,
		ConfigID:             cfg.ID,
		ConfigName:           cfg.Name,
		Provider:             string(cfg.Provider),
		PromptChars:          promptChars,
		ResponseChars:        len(fullText),
		CostPerMillionTokens: cfg.CostPerMillionTokens,
		At:                   time.Now().UTC(),
	})
}

// send delivers a chunk unless the consumer is gone.
func send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}
