// Package settings persists per-workspace LLM endpoint configurations. A
// workspace holds zero or more configs and at most one default; the default
// is what a chat turn uses when the caller doesn't name a config explicitly.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planpilot/planpilot/internal/infra/llm"
	"github.com/planpilot/planpilot/pkg/uuid"
)

var (
	ErrConfigNotFound  = errors.New("llm config not found")
	ErrNoDefaultConfig = errors.New("workspace has no default llm config")
	ErrNameRequired    = errors.New("llm config: name is required")
)

// Config is one stored LLM endpoint: provider, credentials and generation
// parameters, scoped to a workspace.
type Config struct {
	ID                   string
	WorkspaceID          string
	Name                 string
	Provider             llm.Provider
	APIURL               string
	APIToken             string
	Temperature          float64
	MaxTokens            int
	CostPerMillionTokens float64
	IsDefault            bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ProviderConfig converts the stored row into the immutable per-request
// config the streaming layer consumes.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		ID:                   c.ID,
		Name:                 c.Name,
		Provider:             c.Provider,
		APIURL:               c.APIURL,
		APIToken:             c.APIToken,
		Temperature:          c.Temperature,
		MaxTokens:            c.MaxTokens,
		CostPerMillionTokens: c.CostPerMillionTokens,
		IsDefault:            c.IsDefault,
	}
}

// MaskToken reduces a stored API token to its last four characters for
// display. Tokens never leave the service unmasked through list/read
// responses.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

type CreateConfigInput struct {
	WorkspaceID          string
	Name                 string
	Provider             llm.Provider
	APIURL               string
	APIToken             string
	Temperature          float64
	MaxTokens            int
	CostPerMillionTokens float64
	IsDefault            bool
}

type UpdateConfigInput struct {
	WorkspaceID          string
	ID                   string
	Name                 *string
	APIURL               *string
	APIToken             *string
	Temperature          *float64
	MaxTokens            *int
	CostPerMillionTokens *float64
}

// Service is the sqlite-backed config store.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create validates and stores a new config. The first config of a workspace
// always becomes the default; an explicit IsDefault displaces the previous
// default atomically.
func (s *Service) Create(ctx context.Context, in CreateConfigInput) (*Config, error) {
	candidate := llm.ProviderConfig{
		Provider: in.Provider,
		APIURL:   strings.TrimSpace(in.APIURL),
		APIToken: strings.TrimSpace(in.APIToken),
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrNameRequired
	}

	count, err := s.countConfigs(ctx, in.WorkspaceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := &Config{
		ID:                   uuid.NewV7().String(),
		WorkspaceID:          in.WorkspaceID,
		Name:                 strings.TrimSpace(in.Name),
		Provider:             in.Provider,
		APIURL:               candidate.APIURL,
		APIToken:             candidate.APIToken,
		Temperature:          in.Temperature,
		MaxTokens:            in.MaxTokens,
		CostPerMillionTokens: in.CostPerMillionTokens,
		IsDefault:            in.IsDefault || count == 0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if item.IsDefault {
		if err := clearDefaultTx(ctx, tx, in.WorkspaceID); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO llm_config (
			id, workspace_id, name, provider, api_url, api_token,
			temperature, max_tokens, cost_per_million_tokens, is_default,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.WorkspaceID,
		item.Name,
		string(item.Provider),
		item.APIURL,
		item.APIToken,
		item.Temperature,
		item.MaxTokens,
		item.CostPerMillionTokens,
		boolToInt(item.IsDefault),
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

// Update applies the non-nil fields of in to an existing config.
func (s *Service) Update(ctx context.Context, in UpdateConfigInput) (*Config, error) {
	item, err := s.Get(ctx, in.WorkspaceID, in.ID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, ErrNameRequired
		}
		item.Name = strings.TrimSpace(*in.Name)
	}
	if in.APIURL != nil {
		item.APIURL = strings.TrimSpace(*in.APIURL)
	}
	if in.APIToken != nil {
		item.APIToken = strings.TrimSpace(*in.APIToken)
	}
	if in.Temperature != nil {
		item.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		item.MaxTokens = *in.MaxTokens
	}
	if in.CostPerMillionTokens != nil {
		item.CostPerMillionTokens = *in.CostPerMillionTokens
	}
	if err := item.ProviderConfig().Validate(); err != nil {
		return nil, err
	}
	item.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE llm_config
		SET name = ?, api_url = ?, api_token = ?, temperature = ?,
		    max_tokens = ?, cost_per_million_tokens = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?
	`,
		item.Name,
		item.APIURL,
		item.APIToken,
		item.Temperature,
		item.MaxTokens,
		item.CostPerMillionTokens,
		item.UpdatedAt,
		in.WorkspaceID,
		in.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update llm config: %w", err)
	}
	return item, nil
}

// SetDefault makes config id the workspace default, displacing any prior one.
func (s *Service) SetDefault(ctx context.Context, workspaceID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := clearDefaultTx(ctx, tx, workspaceID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE llm_config SET is_default = 1, updated_at = ?
		WHERE workspace_id = ? AND id = ?
	`, time.Now().UTC(), workspaceID, id)
	if err != nil {
		return fmt.Errorf("failed to set default llm config: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConfigNotFound
	}

	return tx.Commit()
}

// Delete removes a config. Deleting the default leaves the workspace without
// one until the caller promotes another.
func (s *Service) Delete(ctx context.Context, workspaceID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM llm_config WHERE workspace_id = ? AND id = ?
	`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete llm config: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (s *Service) Get(ctx context.Context, workspaceID, id string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, provider, api_url, api_token,
		       temperature, max_tokens, cost_per_million_tokens, is_default,
		       created_at, updated_at
		FROM llm_config
		WHERE workspace_id = ? AND id = ?
		LIMIT 1
	`, workspaceID, id)

	item, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Default returns the workspace's default config.
func (s *Service) Default(ctx context.Context, workspaceID string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, provider, api_url, api_token,
		       temperature, max_tokens, cost_per_million_tokens, is_default,
		       created_at, updated_at
		FROM llm_config
		WHERE workspace_id = ? AND is_default = 1
		LIMIT 1
	`, workspaceID)

	item, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDefaultConfig
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]*Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, provider, api_url, api_token,
		       temperature, max_tokens, cost_per_million_tokens, is_default,
		       created_at, updated_at
		FROM llm_config
		WHERE workspace_id = ?
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Config, 0)
	for rows.Next() {
		item, scanErr := scanConfig(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) countConfigs(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM llm_config WHERE workspace_id = ?
	`, workspaceID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func clearDefaultTx(ctx context.Context, tx *sql.Tx, workspaceID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE llm_config SET is_default = 0 WHERE workspace_id = ? AND is_default = 1
	`, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to clear default llm config: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

type configScanner interface {
	Scan(dest ...any) error
}

func scanConfig(scan configScanner) (*Config, error) {
	var (
		item        Config
		providerRaw string
		isDefault   int
	)

	if err := scan.Scan(
		&item.ID,
		&item.WorkspaceID,
		&item.Name,
		&providerRaw,
		&item.APIURL,
		&item.APIToken,
		&item.Temperature,
		&item.MaxTokens,
		&item.CostPerMillionTokens,
		&isDefault,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.Provider = llm.Provider(providerRaw)
	item.IsDefault = isDefault == 1
	return &item, nil
}
