package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/domain/usage"
	"github.com/planpilot/planpilot/internal/infra/eventbus"
	"github.com/planpilot/planpilot/internal/infra/llm"
)

type stubConfigSource struct {
	byID       map[string]*settings.Config
	defaultCfg *settings.Config
}

func (s *stubConfigSource) Get(_ context.Context, _, id string) (*settings.Config, error) {
	cfg, ok := s.byID[id]
	if !ok {
		return nil, settings.ErrConfigNotFound
	}
	return cfg, nil
}

func (s *stubConfigSource) Default(context.Context, string) (*settings.Config, error) {
	if s.defaultCfg == nil {
		return nil, settings.ErrNoDefaultConfig
	}
	return s.defaultCfg, nil
}

// stubStreamer replays a scripted callback sequence.
type stubStreamer struct {
	chunks   []string
	err      error
	gotCfg   llm.ProviderConfig
	gotMsgs  []llm.Message
	gotLang  string
	gotQuery string
}

func (s *stubStreamer) StreamChat(_ context.Context, cfg llm.ProviderConfig, prompt, language string, history []llm.Message, cb llm.StreamCallbacks) {
	s.gotCfg = cfg
	s.gotQuery = prompt
	s.gotLang = language
	s.gotMsgs = history
	if s.err != nil {
		cb.OnError(s.err)
		return
	}
	full := ""
	for _, c := range s.chunks {
		full += c
		cb.OnChunk(c)
	}
	cb.OnComplete(full)
}

func testConfig() *settings.Config {
	return &settings.Config{
		ID:                   "cfg-1",
		WorkspaceID:          "ws-1",
		Name:                 "team default",
		Provider:             llm.ProviderOpenAI,
		APIURL:               "https://api.openai.com",
		APIToken:             "sk-test",
		CostPerMillionTokens: 10,
	}
}

func collect(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var out []StreamChunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatal("stream channel never closed")
		}
	}
}

func TestChat_StreamsTokensThenDone(t *testing.T) {
	streamer := &stubStreamer{chunks: []string{"Hello, ", "world."}}
	svc := NewService(&stubConfigSource{defaultCfg: testConfig()}, streamer, nil)

	ch, err := svc.Chat(context.Background(), ChatInput{WorkspaceID: "ws-1", Prompt: "hi", Language: "English"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	chunks := collect(t, ch)
	if len(chunks) != 3 {
		t.Fatalf("expected 2 tokens + done, got %+v", chunks)
	}
	if chunks[0].Type != "token" || chunks[0].Delta != "Hello, " {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	last := chunks[len(chunks)-1]
	if last.Type != "done" || !last.Done || last.Full != "Hello, world." {
		t.Errorf("terminal chunk = %+v", last)
	}
	if streamer.gotCfg.APIToken != "sk-test" {
		t.Errorf("streamer got config %+v", streamer.gotCfg)
	}
}

func TestChat_ErrorChunkTerminates(t *testing.T) {
	streamer := &stubStreamer{err: errors.New("upstream exploded")}
	svc := NewService(&stubConfigSource{defaultCfg: testConfig()}, streamer, nil)

	ch, err := svc.Chat(context.Background(), ChatInput{WorkspaceID: "ws-1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	chunks := collect(t, ch)
	if len(chunks) != 1 || chunks[0].Type != "error" || chunks[0].Error != "upstream exploded" {
		t.Errorf("got %+v", chunks)
	}
}

func TestChat_ConfigResolution(t *testing.T) {
	named := testConfig()
	named.ID = "cfg-named"
	source := &stubConfigSource{
		byID:       map[string]*settings.Config{"cfg-named": named},
		defaultCfg: testConfig(),
	}
	svc := NewService(source, &stubStreamer{chunks: []string{"ok."}}, nil)

	t.Run("explicit config id", func(t *testing.T) {
		ch, err := svc.Chat(context.Background(), ChatInput{WorkspaceID: "ws-1", ConfigID: "cfg-named", Prompt: "hi"})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		collect(t, ch)
	})

	t.Run("unknown config id", func(t *testing.T) {
		_, err := svc.Chat(context.Background(), ChatInput{WorkspaceID: "ws-1", ConfigID: "nope", Prompt: "hi"})
		if !errors.Is(err, settings.ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("no default configured", func(t *testing.T) {
		empty := NewService(&stubConfigSource{}, &stubStreamer{}, nil)
		_, err := empty.Chat(context.Background(), ChatInput{WorkspaceID: "ws-1", Prompt: "hi"})
		if !errors.Is(err, settings.ErrNoDefaultConfig) {
			t.Fatalf("expected ErrNoDefaultConfig, got %v", err)
		}
	})
}

func TestChat_PublishesUsageEvent(t *testing.T) {
	bus := eventbus.New()
	events := bus.Subscribe(eventbus.TopicLLMUsage)

	streamer := &stubStreamer{chunks: []string{"four char response."}}
	svc := NewService(&stubConfigSource{defaultCfg: testConfig()}, streamer, bus)

	ch, err := svc.Chat(context.Background(), ChatInput{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Prompt:      "question",
		History:     []llm.Message{{Role: llm.RoleUser, Content: "earlier"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	collect(t, ch)

	select {
	case evt := <-events:
		payload, ok := evt.Payload.(usage.Event)
		if !ok {
			t.Fatalf("payload type %T", evt.Payload)
		}
		if payload.WorkspaceID != "ws-1" || payload.UserID != "user-1" {
			t.Errorf("payload = %+v", payload)
		}
		if payload.PromptChars != len("question")+len("earlier") {
			t.Errorf("prompt chars = %d", payload.PromptChars)
		}
		if payload.ResponseChars != len("four char response.") {
			t.Errorf("response chars = %d", payload.ResponseChars)
		}
		if payload.CostPerMillionTokens != 10 {
			t.Errorf("cost per million = %f", payload.CostPerMillionTokens)
		}
	case <-time.After(time.Second):
		t.Fatal("no usage event published")
	}
}
