// Package workitems is a thin typed client for the host work-tracking
// platform's work-item REST API. Endpoints used:
//   - GET    /workitems/{id}      — fetch one work item
//   - POST   /workitems           — create a work item (optionally parented)
//   - PATCH  /workitems/{id}      — update title/description/state
package workitems

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

var ErrWorkItemNotFound = errors.New("work item not found")

// WorkItem is one item in the host platform's hierarchy.
type WorkItem struct {
	ID          int    `json:"id"`
	Type        string `json:"type"` // Epic | Feature | Story | Task
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
	ParentID    int    `json:"parentId,omitempty"`
	URL         string `json:"url,omitempty"`
}

type CreateWorkItemInput struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ParentID    int    `json:"parentId,omitempty"`
}

type UpdateWorkItemInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	State       *string `json:"state,omitempty"`
}

// Client calls the platform API with a personal access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client with a 30s default timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Get fetches one work item by id.
func (c *Client) Get(ctx context.Context, id int) (*WorkItem, error) {
	respBody, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workitems/%d", id), nil)
	if err != nil {
		return nil, err
	}
	defer respBody.Close() //nolint:errcheck

	var item WorkItem
	if decodeErr := json.NewDecoder(respBody).Decode(&item); decodeErr != nil {
		return nil, fmt.Errorf("decode work item: %w", decodeErr)
	}
	return &item, nil
}

// Create adds a new work item, parented under in.ParentID when non-zero.
func (c *Client) Create(ctx context.Context, in CreateWorkItemInput) (*WorkItem, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, fmt.Errorf("type is required")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(ctx, http.MethodPost, "/workitems", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close() //nolint:errcheck

	var item WorkItem
	if decodeErr := json.NewDecoder(respBody).Decode(&item); decodeErr != nil {
		return nil, fmt.Errorf("decode created work item: %w", decodeErr)
	}
	return &item, nil
}

// Update applies the non-nil fields of in to an existing work item.
func (c *Client) Update(ctx context.Context, id int, in UpdateWorkItemInput) (*WorkItem, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/workitems/%d", id), body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close() //nolint:errcheck

	var item WorkItem
	if decodeErr := json.NewDecoder(respBody).Decode(&item); decodeErr != nil {
		return nil, fmt.Errorf("decode updated work item: %w", decodeErr)
	}
	return &item, nil
}

// do sends one request and returns the response body. Caller closes it.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (io.ReadCloser, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("workitems %s %s: build request: %w", method, path, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workitems %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close() //nolint:errcheck
		return nil, ErrWorkItemNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("workitems %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
