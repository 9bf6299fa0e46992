// Package llm normalizes heterogeneous LLM provider responses into a uniform
// incremental text stream. Three vendor adapters (OpenAI-compatible, Azure
// OpenAI, Gemini) translate request/response shapes; a stream reader pumps
// decoded bytes; a fragment buffer batches tiny deltas into UI-sized chunks.
// The application is never coupled to a specific vendor wire format.
package llm

import (
	"errors"
	"strings"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is the closed enum of supported LLM back ends.
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderAzureOpenAI Provider = "azure-openai"
	ProviderGemini      Provider = "gemini"
)

// ProviderConfig identifies one target endpoint, its credentials and
// generation parameters. Loaded at conversation start and immutable for the
// duration of a single request.
type ProviderConfig struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Provider             Provider `json:"provider"`
	APIURL               string   `json:"apiUrl"`
	APIToken             string   `json:"apiToken"`
	Temperature          float64  `json:"temperature"`
	MaxTokens            int      `json:"maxTokens"`
	CostPerMillionTokens float64  `json:"costPerMillionTokens"`
	IsDefault            bool     `json:"isDefault"`
}

var (
	// ErrMissingProvider is returned when the config has no provider set.
	ErrMissingProvider = errors.New("llm config: provider is required")
	// ErrMissingAPIURL is returned when the config has no API URL set.
	ErrMissingAPIURL = errors.New("llm config: api url is required")
	// ErrMissingAPIToken is returned when the config has no API token set.
	ErrMissingAPIToken = errors.New("llm config: api token is required")
	// ErrUnknownProvider is returned for a provider outside the closed enum.
	ErrUnknownProvider = errors.New("llm config: unknown provider")
)

// Validate checks that the config can be used for a request. It runs before
// any network call so a broken config fails fast.
func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(string(c.Provider)) == "" {
		return ErrMissingProvider
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return ErrMissingAPIURL
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return ErrMissingAPIToken
	}
	switch c.Provider {
	case ProviderOpenAI, ProviderAzureOpenAI, ProviderGemini:
		return nil
	default:
		return ErrUnknownProvider
	}
}

// StreamState is the per-request parse state owned by exactly one in-flight
// stream. It is created at request start and discarded at completion, error
// or abort — never shared between requests, so two concurrent turns cannot
// corrupt each other's buffers.
type StreamState struct {
	full    strings.Builder // normalized response accumulated so far
	partial string          // unconsumed tail of the provider wire stream
}

// NewStreamState returns an empty parse state for one request.
func NewStreamState() *StreamState {
	return &StreamState{}
}

// AppendFull records an emitted chunk into the full-response accumulator.
func (s *StreamState) AppendFull(chunk string) {
	s.full.WriteString(chunk)
}

// Full returns the complete normalized response accumulated so far.
func (s *StreamState) Full() string {
	return s.full.String()
}

// StreamCallbacks is the only surface the UI collaborator consumes.
// OnChunk fires zero or more times in order; afterwards exactly one of
// OnComplete / OnError fires, never both. A nil member is skipped.
type StreamCallbacks struct {
	OnChunk    func(text string)
	OnComplete func(fullText string)
	OnError    func(err error)
}
