// Package chat drives one LLM conversation turn end to end: it assembles the
// outbound message history, selects the provider adapter, pumps the response
// stream through the fragment buffer and delivers chunk/complete/error
// callbacks to the caller.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planpilot/planpilot/internal/infra/llm"
)

const defaultStreamTimeout = 5 * time.Minute

// Orchestrator owns the stateless pieces shared by all turns: the HTTP
// client, the logger and the fragment-buffer tuning. Every call allocates its
// own per-request stream state, so concurrent turns never share buffers.
type Orchestrator struct {
	client *http.Client
	log    *logrus.Logger
	buffer llm.FragmentBufferOptions
}

// NewOrchestrator creates an orchestrator. A nil client gets a default with a
// streaming-friendly timeout.
func NewOrchestrator(client *http.Client, buffer llm.FragmentBufferOptions, log *logrus.Logger) *Orchestrator {
	if client == nil {
		client = &http.Client{Timeout: defaultStreamTimeout}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{client: client, log: log, buffer: buffer}
}

// StreamPrompt sends history plus one user prompt to the configured provider
// and streams the normalized response through cb.
//
// The config is validated before any network call; a broken config reaches
// OnError immediately. After that, cb.OnChunk fires zero or more times in
// order, then exactly one of OnComplete/OnError — unless ctx is cancelled, in
// which case the stream terminates silently with no further callbacks.
func (o *Orchestrator) StreamPrompt(ctx context.Context, cfg llm.ProviderConfig, prompt string, history []llm.Message, cb llm.StreamCallbacks) {
	msgs := append(append([]llm.Message{}, history...), llm.Message{Role: llm.RoleUser, Content: prompt})
	o.stream(ctx, cfg, msgs, cb)
}

// StreamChat is the conversational entry point: it guarantees a single
// system message carrying the language instruction and appends the prompt as
// the final user turn when the history doesn't already end with one.
func (o *Orchestrator) StreamChat(ctx context.Context, cfg llm.ProviderConfig, prompt, language string, history []llm.Message, cb llm.StreamCallbacks) {
	msgs := withLanguageInstruction(history, language)
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleUser {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
	}
	o.stream(ctx, cfg, msgs, cb)
}

func (o *Orchestrator) stream(ctx context.Context, cfg llm.ProviderConfig, msgs []llm.Message, cb llm.StreamCallbacks) {
	if err := cfg.Validate(); err != nil {
		fail(cb, err)
		return
	}

	adapter, err := llm.AdapterFor(cfg.Provider, o.log)
	if err != nil {
		fail(cb, err)
		return
	}

	req, err := adapter.BuildRequest(ctx, cfg, msgs)
	if err != nil {
		fail(cb, fmt.Errorf("build request: %w", err))
		return
	}

	resp, err := o.client.Do(req)
	if err != nil {
		if aborted(ctx) {
			return
		}
		fail(cb, fmt.Errorf("%s request: %w", cfg.Provider, err))
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail(cb, llm.ReadAPIError(cfg.Provider, resp))
		return
	}

	st := llm.NewStreamState()
	fb := llm.NewFragmentBuffer(o.buffer, func(chunk string) {
		st.AppendFull(chunk)
		if cb.OnChunk != nil {
			cb.OnChunk(chunk)
		}
	}, o.log)

	readErr := llm.ReadStream(ctx, resp.Body, func(text string) {
		for _, delta := range adapter.ExtractDeltas(st, text) {
			fb.Add(delta)
		}
	})
	if readErr != nil {
		// No chunk may follow a failed or cancelled read, including from a
		// pending timed flush.
		fb.Stop()
		if aborted(ctx) {
			return
		}
		fail(cb, fmt.Errorf("read stream: %w", readErr))
		return
	}

	for _, delta := range adapter.Flush(st) {
		fb.Add(delta)
	}
	fb.Flush()

	if cb.OnComplete != nil {
		cb.OnComplete(st.Full())
	}
}

func fail(cb llm.StreamCallbacks, err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// aborted reports whether the caller cancelled the turn. Abort is a benign
// termination, not an error: it suppresses OnError entirely.
func aborted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// withLanguageInstruction returns a copy of history holding exactly one
// system message with the response-language instruction. An existing system
// message gets the instruction appended once; otherwise a new system turn is
// prepended.
func withLanguageInstruction(history []llm.Message, language string) []llm.Message {
	if language == "" {
		language = "English"
	}
	instruction := fmt.Sprintf("Please provide your response in %s language.", language)

	msgs := append([]llm.Message{}, history...)
	for i, m := range msgs {
		if m.Role != llm.RoleSystem {
			continue
		}
		if !strings.Contains(m.Content, instruction) {
			msgs[i].Content = m.Content + "\n" + instruction
		}
		return msgs
	}
	return append([]llm.Message{{Role: llm.RoleSystem, Content: instruction}}, msgs...)
}
