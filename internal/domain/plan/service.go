package plan

import (
	"context"
	"fmt"

	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/infra/llm"
	"github.com/planpilot/planpilot/internal/infra/workitems"
)

// ConfigSource resolves the workspace's stored LLM configs.
type ConfigSource interface {
	Get(ctx context.Context, workspaceID, id string) (*settings.Config, error)
	Default(ctx context.Context, workspaceID string) (*settings.Config, error)
}

// Prompter is the single-turn streaming capability the service consumes.
type Prompter interface {
	StreamPrompt(ctx context.Context, cfg llm.ProviderConfig, prompt string, history []llm.Message, cb llm.StreamCallbacks)
}

// WorkItemClient is the subset of the platform client plan application needs.
type WorkItemClient interface {
	Get(ctx context.Context, id int) (*workitems.WorkItem, error)
	Create(ctx context.Context, in workitems.CreateWorkItemInput) (*workitems.WorkItem, error)
}

// Service generates plans from a work-item goal and applies accepted plans.
type Service struct {
	configs ConfigSource
	llm     Prompter
	items   WorkItemClient
}

func NewService(configs ConfigSource, prompter Prompter, items WorkItemClient) *Service {
	return &Service{configs: configs, llm: prompter, items: items}
}

type GenerateInput struct {
	WorkspaceID string
	ConfigID    string // empty selects the workspace default
	ParentID    int    // 0 plans without work-item context
	Goal        string
}

// GenerateResult carries the parsed plan plus the raw model output, so the
// panel can show what the model actually said when parsing fails downstream.
type GenerateResult struct {
	Plan *Plan  `json:"plan"`
	Raw  string `json:"raw"`
}

// Generate runs one full prompt-to-plan turn and blocks until the model
// finishes. Streaming display is the chat endpoint's job; plan generation
// only needs the complete text.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	cfg, err := s.resolveConfig(ctx, in)
	if err != nil {
		return nil, err
	}

	var parent *workitems.WorkItem
	if in.ParentID != 0 {
		parent, err = s.items.Get(ctx, in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("load parent work item: %w", err)
		}
	}

	prompt, history := BuildPrompt(parent, in.Goal)

	type outcome struct {
		full string
		err  error
	}
	done := make(chan outcome, 1)
	s.llm.StreamPrompt(ctx, cfg.ProviderConfig(), prompt, history, llm.StreamCallbacks{
		OnComplete: func(full string) { done <- outcome{full: full} },
		OnError:    func(err error) { done <- outcome{err: err} },
	})

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		p, parseErr := Parse(out.full)
		if parseErr != nil {
			return &GenerateResult{Raw: out.full}, parseErr
		}
		return &GenerateResult{Plan: p, Raw: out.full}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Apply creates the plan's items as children of parentID, walking the tree
// depth-first so every child is parented under its freshly created parent.
// Returns the created items in creation order.
func (s *Service) Apply(ctx context.Context, parentID int, p *Plan) ([]workitems.WorkItem, error) {
	if p == nil || len(p.Items) == 0 {
		return nil, ErrEmptyPlan
	}
	if err := validateItems(p.Items); err != nil {
		return nil, err
	}

	created := make([]workitems.WorkItem, 0)
	if err := s.applyItems(ctx, parentID, p.Items, &created); err != nil {
		return created, err
	}
	return created, nil
}

func (s *Service) applyItems(ctx context.Context, parentID int, items []Item, created *[]workitems.WorkItem) error {
	for _, item := range items {
		made, err := s.items.Create(ctx, workitems.CreateWorkItemInput{
			Type:        item.Type,
			Title:       item.Title,
			Description: item.Description,
			ParentID:    parentID,
		})
		if err != nil {
			return fmt.Errorf("create %s %q: %w", item.Type, item.Title, err)
		}
		*created = append(*created, *made)

		if err := s.applyItems(ctx, made.ID, item.Children, created); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolveConfig(ctx context.Context, in GenerateInput) (*settings.Config, error) {
	if in.ConfigID != "" {
		return s.configs.Get(ctx, in.WorkspaceID, in.ConfigID)
	}
	return s.configs.Default(ctx, in.WorkspaceID)
}
