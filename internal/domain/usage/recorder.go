// Package usage accounts for LLM spend. The chat layer publishes one Event
// per completed stream; the Recorder consumes them off the event bus and
// persists per-workspace token counts and estimated cost.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planpilot/planpilot/internal/infra/eventbus"
	"github.com/planpilot/planpilot/pkg/uuid"
)

// charsPerToken is the rough chars-to-tokens heuristic used when the
// provider reports no token counts over the stream.
const charsPerToken = 4

// Event is the payload published on eventbus.TopicLLMUsage after one
// completed stream.
type Event struct {
	WorkspaceID          string
	UserID               string
	ConfigID             string
	ConfigName           string
	Provider             string
	PromptChars          int
	ResponseChars        int
	CostPerMillionTokens float64
	At                   time.Time
}

// Record is one persisted usage row.
type Record struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspaceId"`
	UserID         string    `json:"userId"`
	ConfigID       string    `json:"configId"`
	ConfigName     string    `json:"configName"`
	Provider       string    `json:"provider"`
	PromptTokens   int       `json:"promptTokens"`
	ResponseTokens int       `json:"responseTokens"`
	EstimatedCost  float64   `json:"estimatedCost"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary aggregates a workspace's usage over all recorded streams.
type Summary struct {
	WorkspaceID    string  `json:"workspaceId"`
	Streams        int     `json:"streams"`
	PromptTokens   int     `json:"promptTokens"`
	ResponseTokens int     `json:"responseTokens"`
	EstimatedCost  float64 `json:"estimatedCost"`
}

// Recorder persists usage rows and serves usage queries.
type Recorder struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewRecorder(db *sql.DB, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{db: db, log: log}
}

// Start subscribes to eventbus.TopicLLMUsage and records each event.
// Runs in the calling goroutine — launch with: go rec.Start(ctx, bus)
// Stops when ctx is cancelled.
func (r *Recorder) Start(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe(eventbus.TopicLLMUsage)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			payload, ok := evt.Payload.(Event)
			if !ok {
				continue
			}
			if err := r.RecordEvent(ctx, payload); err != nil {
				// Best-effort accounting: log and keep consuming.
				r.log.WithError(err).Warn("failed to record llm usage")
			}
		}
	}
}

// RecordEvent converts one stream's character counts into token estimates
// and persists the row.
func (r *Recorder) RecordEvent(ctx context.Context, evt Event) error {
	rec := Record{
		ID:             uuid.NewV7().String(),
		WorkspaceID:    evt.WorkspaceID,
		UserID:         evt.UserID,
		ConfigID:       evt.ConfigID,
		ConfigName:     evt.ConfigName,
		Provider:       evt.Provider,
		PromptTokens:   estimateTokens(evt.PromptChars),
		ResponseTokens: estimateTokens(evt.ResponseChars),
		CreatedAt:      evt.At,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.EstimatedCost = estimateCost(rec.PromptTokens+rec.ResponseTokens, evt.CostPerMillionTokens)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_record (
			id, workspace_id, user_id, config_id, config_name, provider,
			prompt_tokens, response_tokens, estimated_cost, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.WorkspaceID,
		rec.UserID,
		rec.ConfigID,
		rec.ConfigName,
		rec.Provider,
		rec.PromptTokens,
		rec.ResponseTokens,
		rec.EstimatedCost,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// List returns a workspace's usage rows, newest first.
func (r *Recorder) List(ctx context.Context, workspaceID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, config_id, config_name, provider,
		       prompt_tokens, response_tokens, estimated_cost, created_at
		FROM usage_record
		WHERE workspace_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.WorkspaceID,
			&rec.UserID,
			&rec.ConfigID,
			&rec.ConfigName,
			&rec.Provider,
			&rec.PromptTokens,
			&rec.ResponseTokens,
			&rec.EstimatedCost,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summarize aggregates all usage for a workspace.
func (r *Recorder) Summarize(ctx context.Context, workspaceID string) (*Summary, error) {
	sum := Summary{WorkspaceID: workspaceID}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(response_tokens), 0),
		       COALESCE(SUM(estimated_cost), 0)
		FROM usage_record
		WHERE workspace_id = ?
	`, workspaceID).Scan(&sum.Streams, &sum.PromptTokens, &sum.ResponseTokens, &sum.EstimatedCost)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func estimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

func estimateCost(tokens int, costPerMillion float64) float64 {
	return float64(tokens) / 1_000_000 * costPerMillion
}
