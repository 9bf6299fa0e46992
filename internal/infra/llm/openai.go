package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

const chatCompletionsPath = "v1/chat/completions"

// openAIAdapter targets any OpenAI-compatible chat completions endpoint.
// Response framing is Server-Sent Events: each `data: <json>` line carries
// one chunk with the delta at choices[0].delta.content.
type openAIAdapter struct {
	log *logrus.Logger
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature"`
	MaxTokens   int                     `json:"max_tokens"`
	Stream      bool                    `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (a *openAIAdapter) BuildRequest(ctx context.Context, cfg ProviderConfig, msgs []Message) (*http.Request, error) {
	body, err := json.Marshal(buildChatCompletionBody(cfg, msgs))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, NormalizeOpenAIURL(cfg.APIURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIToken)
	return req, nil
}

func (a *openAIAdapter) ExtractDeltas(st *StreamState, chunk string) []string {
	return extractSSEDeltas(st, chunk, a.log)
}

func (a *openAIAdapter) Flush(st *StreamState) []string {
	return flushSSE(st, a.log)
}

// buildChatCompletionBody is shared by the OpenAI and Azure adapters — the
// payload shape is identical, only URL and auth header differ.
func buildChatCompletionBody(cfg ProviderConfig, msgs []Message) chatCompletionRequest {
	apiMsgs := make([]chatCompletionMessage, len(msgs))
	for i, m := range msgs {
		apiMsgs[i] = chatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return chatCompletionRequest{
		Messages:    apiMsgs,
		Temperature: cfg.Temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}
}

const defaultMaxTokens = 4096

// NormalizeOpenAIURL appends the chat completions path when the configured
// URL is just a base endpoint. Idempotent: applying it twice yields the same
// URL as applying it once.
func NormalizeOpenAIURL(raw string) string {
	trimmed := strings.TrimRight(raw, "/")
	if strings.HasSuffix(trimmed, chatCompletionsPath) {
		return trimmed
	}
	return trimmed + "/" + chatCompletionsPath
}

// extractSSEDeltas consumes one decoded chunk of an SSE stream. Complete
// lines are parsed; the trailing incomplete line stays in st.partial for the
// next chunk. Malformed data lines are logged and skipped — partial JSON is
// expected mid-flight, it must never kill the stream.
func extractSSEDeltas(st *StreamState, chunk string, log *logrus.Logger) []string {
	st.partial += chunk

	var deltas []string
	for {
		idx := strings.IndexByte(st.partial, '\n')
		if idx < 0 {
			break
		}
		line := st.partial[:idx]
		st.partial = st.partial[idx+1:]
		if d, ok := parseSSELine(line, log); ok {
			deltas = append(deltas, d)
		}
	}
	return deltas
}

// flushSSE drains a final unterminated line left after end-of-stream.
func flushSSE(st *StreamState, log *logrus.Logger) []string {
	line := st.partial
	st.partial = ""
	if d, ok := parseSSELine(line, log); ok {
		return []string{d}
	}
	return nil
}

// parseSSELine extracts the delta from one `data: <json>` line.
// Returns false for blank lines, non-data lines, the [DONE] sentinel, and
// chunks without content.
func parseSSELine(line string, log *logrus.Logger) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" || !strings.HasPrefix(line, "data: ") {
		return "", false
	}
	data := strings.TrimPrefix(line, "data: ")
	if data == "[DONE]" {
		return "", false
	}

	var chunk chatCompletionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		log.WithError(err).Warn("skipping malformed sse line")
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
