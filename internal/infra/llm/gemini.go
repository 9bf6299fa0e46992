package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	defaultGeminiModel   = "gemini-pro"
	streamGenerateSuffix = ":streamGenerateContent"
	generateSuffix       = ":generateContent"

	// Delimiters for the synthetic system-context turn. Gemini has no native
	// system role, so all system messages are merged into one user turn
	// wrapped in these markers, acknowledged by a synthetic model turn.
	systemContextHeader = "###SYSTEM CONTEXT###"
	systemContextFooter = "###END###"
	systemAckText       = "Understood."
)

// geminiAdapter targets Google's Gemini streamGenerateContent endpoint.
// The response is not line-delimited SSE: it is a pretty-printed JSON array
// of response objects arriving in arbitrary slices, so delta extraction runs
// an ordered list of fallback strategies against an accumulating buffer.
type geminiAdapter struct {
	log *logrus.Logger
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings"`
}

func (a *geminiAdapter) BuildRequest(ctx context.Context, cfg ProviderConfig, msgs []Message) (*http.Request, error) {
	reqBody := geminiRequest{
		Contents: buildGeminiContents(msgs),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: maxOutputTokens(cfg),
			TopP:            0.95,
			TopK:            40,
		},
		SafetySettings: geminiSafetySettings(),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.normalizeURL(cfg.APIURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cfg.APIToken)
	return req, nil
}

func maxOutputTokens(cfg ProviderConfig) int {
	if cfg.MaxTokens != 0 {
		return cfg.MaxTokens
	}
	return defaultMaxTokens
}

// geminiSafetySettings disables content blocking for all four harm
// categories — filtering is the host platform's concern, and a blocked
// response mid-plan is worse than an unfiltered one.
func geminiSafetySettings() []geminiSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]geminiSafetySetting, len(categories))
	for i, c := range categories {
		settings[i] = geminiSafetySetting{Category: c, Threshold: "BLOCK_NONE"}
	}
	return settings
}

// buildGeminiContents maps the uniform conversation onto Gemini's contents
// array. Role mapping: assistant → model, user → user. All system messages
// are merged into a single delimited user turn followed by a synthetic
// acknowledgement model turn, so the real conversation is unaffected by
// system content and at most one system-equivalent entry is ever submitted.
func buildGeminiContents(msgs []Message) []geminiContent {
	var systemParts []string
	var contents []geminiContent

	for _, m := range msgs {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	if len(systemParts) == 0 {
		return contents
	}

	merged := systemContextHeader + "\n" + strings.Join(systemParts, "\n\n") + "\n" + systemContextFooter
	prefix := []geminiContent{
		{Role: "user", Parts: []geminiPart{{Text: merged}}},
		{Role: "model", Parts: []geminiPart{{Text: systemAckText}}},
	}
	return append(prefix, contents...)
}

// normalizeURL ensures the URL references :streamGenerateContent and carries
// a model segment, defaulting to gemini-pro with a warning when none is
// configured. Idempotent.
func (a *geminiAdapter) normalizeURL(raw string) string {
	u := raw
	if strings.HasSuffix(u, generateSuffix) && !strings.HasSuffix(u, streamGenerateSuffix) {
		u = strings.TrimSuffix(u, generateSuffix) + streamGenerateSuffix
	}
	if !strings.Contains(u, streamGenerateSuffix) {
		if !strings.Contains(u, "/models/") {
			a.log.WithField("model", defaultGeminiModel).
				Warn("gemini url has no model segment, defaulting")
			u = strings.TrimRight(u, "/") + "/models/" + defaultGeminiModel
		}
		u += streamGenerateSuffix
	}
	return u
}

func (a *geminiAdapter) ExtractDeltas(st *StreamState, chunk string) []string {
	st.partial += chunk

	var deltas []string
	for {
		idx := strings.IndexByte(st.partial, '\n')
		if idx < 0 {
			break
		}
		line := st.partial[:idx]
		st.partial = st.partial[idx+1:]
		if d, ok := a.extractLine(line); ok {
			deltas = append(deltas, d)
		}
	}
	return deltas
}

func (a *geminiAdapter) Flush(st *StreamState) []string {
	line := st.partial
	st.partial = ""
	if d, ok := a.extractLine(line); ok {
		return []string{d}
	}
	return nil
}

// geminiStrategies are the fragment extraction fallbacks, tried in order of
// preference for every frame line: full JSON parse, regex capture of the
// text field, last-resort substring after the literal `"text":`. The wire
// format is undocumented; the layered fallback is a deliberate defensive
// measure, and each strategy is independently testable.
var geminiStrategies = []struct {
	name string
	fn   func(line string) (string, bool)
}{
	{"json", geminiExtractJSON},
	{"regex", geminiExtractRegex},
	{"substring", geminiExtractSubstring},
}

// extractLine applies the strategy chain to one line of the response buffer.
// Array punctuation and metadata lines are skipped silently; a line that
// mentions "text" but defeats every strategy is logged.
func (a *geminiAdapter) extractLine(line string) (string, bool) {
	trimmed := strings.Trim(line, " \t\r,[]")
	if trimmed == "" {
		return "", false
	}
	for _, s := range geminiStrategies {
		if d, ok := s.fn(trimmed); ok {
			return d, true
		}
	}
	if strings.Contains(trimmed, `"text"`) {
		a.log.WithField("line", trimmed).Warn("gemini fragment defeated all extraction strategies")
	}
	return "", false
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Text string `json:"text"`
}

// geminiExtractJSON parses a line that is a complete JSON object and walks
// the candidates/content/parts shape (or a bare text field).
func geminiExtractJSON(line string) (string, bool) {
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return "", false
	}
	var chunk geminiChunk
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, c := range chunk.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	if b.Len() > 0 {
		return b.String(), true
	}
	if chunk.Text != "" {
		return chunk.Text, true
	}
	return "", false
}

var geminiTextRe = regexp.MustCompile(`"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// geminiExtractRegex captures the text field value out of a partial object.
// The capture preserves escape sequences; the fragment buffer unescapes.
func geminiExtractRegex(line string) (string, bool) {
	m := geminiTextRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// geminiExtractSubstring is the last resort: take whatever follows the
// literal `"text":`, stripped of surrounding quotes. Used when a value is
// split across reads and the closing quote has not arrived yet.
func geminiExtractSubstring(line string) (string, bool) {
	idx := strings.Index(line, `"text":`)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(`"text":`):], " \t")
	rest = strings.TrimPrefix(rest, `"`)
	if end := strings.LastIndexByte(rest, '"'); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}
