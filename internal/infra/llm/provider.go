package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Adapter is the per-vendor strategy. Each back end implements the same
// capabilities — build one outbound HTTP request, extract text deltas from
// raw response chunks — so the orchestrator never branches on the provider
// beyond selecting the adapter once per request. Implementations are
// stateless; all per-request parse state lives in the StreamState they are
// handed.
type Adapter interface {
	// BuildRequest produces the vendor-specific HTTP POST for one turn.
	BuildRequest(ctx context.Context, cfg ProviderConfig, msgs []Message) (*http.Request, error)

	// ExtractDeltas consumes one decoded chunk of the response body and
	// returns zero or more raw text deltas. Incomplete frames are retained
	// in the state for the next chunk. Malformed frames are logged and
	// skipped, never fatal.
	ExtractDeltas(st *StreamState, chunk string) []string

	// Flush drains whatever is still held in the state after end-of-stream.
	// A provider may end the byte stream mid-frame.
	Flush(st *StreamState) []string
}

// AdapterFor selects the adapter for a provider value.
func AdapterFor(provider Provider, log *logrus.Logger) (Adapter, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	switch provider {
	case ProviderOpenAI:
		return &openAIAdapter{log: log}, nil
	case ProviderAzureOpenAI:
		return &azureAdapter{log: log}, nil
	case ProviderGemini:
		return &geminiAdapter{log: log}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// APIError is a non-2xx provider response surfaced through OnError.
type APIError struct {
	Provider Provider
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Message)
}

// ReadAPIError drains an error response body and extracts the most useful
// message available: a structured JSON error if the body parses, the raw
// body text otherwise.
func ReadAPIError(provider Provider, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := parseErrorBody(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Provider: provider, Status: resp.StatusCode, Message: msg}
}

// parseErrorBody tries the common structured error shapes before falling
// back to the raw text.
func parseErrorBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var structured struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Error.Message != "" {
			return structured.Error.Message
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	return trimmed
}
