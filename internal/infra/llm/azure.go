package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// defaultAzureAPIVersion is appended when the configured deployment URL
// carries no api-version query parameter.
const defaultAzureAPIVersion = "2023-07-01-preview"

// azureAdapter targets Azure-hosted OpenAI deployments. The payload and SSE
// framing are identical to plain OpenAI; only auth (api-key header) and URL
// shape (deployment path + api-version query) differ.
type azureAdapter struct {
	log *logrus.Logger
}

func (a *azureAdapter) BuildRequest(ctx context.Context, cfg ProviderConfig, msgs []Message) (*http.Request, error) {
	body, err := json.Marshal(buildChatCompletionBody(cfg, msgs))
	if err != nil {
		return nil, err
	}

	url := a.normalizeURL(cfg.APIURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", cfg.APIToken)
	return req, nil
}

func (a *azureAdapter) ExtractDeltas(st *StreamState, chunk string) []string {
	return extractSSEDeltas(st, chunk, a.log)
}

func (a *azureAdapter) Flush(st *StreamState) []string {
	return flushSSE(st, a.log)
}

// normalizeURL appends the default api-version when absent. Idempotent.
func (a *azureAdapter) normalizeURL(raw string) string {
	if strings.Contains(raw, "api-version=") {
		return raw
	}
	a.log.WithField("apiVersion", defaultAzureAPIVersion).
		Warn("azure url has no api-version, using default")
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "api-version=" + defaultAzureAPIVersion
}
