package settings

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/planpilot/planpilot/internal/infra/llm"
	"github.com/planpilot/planpilot/internal/infra/sqlite"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("sqlite.NewDB error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp error = %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO workspace (id, name, slug, created_at, updated_at)
		VALUES ('ws-1', 'Test', 'test', datetime('now'), datetime('now'))
	`); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	return NewService(db), db
}

func validInput() CreateConfigInput {
	return CreateConfigInput{
		WorkspaceID:          "ws-1",
		Name:                 "team openai",
		Provider:             llm.ProviderOpenAI,
		APIURL:               "https://api.openai.com",
		APIToken:             "sk-test-1234",
		Temperature:          0.2,
		MaxTokens:            2048,
		CostPerMillionTokens: 10,
	}
}

func TestCreate_FirstConfigBecomesDefault(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if !created.IsDefault {
		t.Error("first config of a workspace must become the default")
	}

	got, err := svc.Default(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("Default error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("Default returned %q; want %q", got.ID, created.ID)
	}
}

func TestCreate_NewDefaultDisplacesOld(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	in := validInput()
	in.Name = "gemini backup"
	in.Provider = llm.ProviderGemini
	in.APIURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent"
	in.IsDefault = true
	second, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	def, err := svc.Default(ctx, "ws-1")
	if err != nil {
		t.Fatalf("Default error = %v", err)
	}
	if def.ID != second.ID {
		t.Errorf("default = %q; want %q", def.ID, second.ID)
	}

	old, err := svc.Get(ctx, "ws-1", first.ID)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if old.IsDefault {
		t.Error("previous default was not cleared")
	}
}

func TestCreate_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	tests := []struct {
		name    string
		mutate  func(*CreateConfigInput)
		wantErr error
	}{
		{"missing token", func(in *CreateConfigInput) { in.APIToken = "" }, llm.ErrMissingAPIToken},
		{"missing url", func(in *CreateConfigInput) { in.APIURL = " " }, llm.ErrMissingAPIURL},
		{"unknown provider", func(in *CreateConfigInput) { in.Provider = "mistral" }, llm.ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			if _, err := svc.Create(context.Background(), in); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdate_AppliesPartialFields(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	newName := "renamed"
	newTemp := 0.9
	updated, err := svc.Update(ctx, UpdateConfigInput{
		WorkspaceID: "ws-1",
		ID:          created.ID,
		Name:        &newName,
		Temperature: &newTemp,
	})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if updated.Name != "renamed" || updated.Temperature != 0.9 {
		t.Errorf("updated = %+v", updated)
	}
	if updated.APIToken != created.APIToken {
		t.Error("untouched fields must be preserved")
	}
}

func TestSetDefault(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Create(ctx, validInput())
	in := validInput()
	in.Name = "second"
	second, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if err := svc.SetDefault(ctx, "ws-1", second.ID); err != nil {
		t.Fatalf("SetDefault error = %v", err)
	}

	def, err := svc.Default(ctx, "ws-1")
	if err != nil {
		t.Fatalf("Default error = %v", err)
	}
	if def.ID != second.ID {
		t.Errorf("default = %q; want %q", def.ID, second.ID)
	}
	_ = first

	if err := svc.SetDefault(ctx, "ws-1", "nope"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("SetDefault unknown id error = %v; want ErrConfigNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, _ := svc.Create(ctx, validInput())
	if err := svc.Delete(ctx, "ws-1", created.ID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if _, err := svc.Get(ctx, "ws-1", created.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Get after delete error = %v; want ErrConfigNotFound", err)
	}
	if err := svc.Delete(ctx, "ws-1", created.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("second Delete error = %v; want ErrConfigNotFound", err)
	}
}

func TestList_ScopedToWorkspace(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()

	if _, err := db.Exec(`
		INSERT INTO workspace (id, name, slug, created_at, updated_at)
		VALUES ('ws-2', 'Other', 'other', datetime('now'), datetime('now'))
	`); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}

	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	other := validInput()
	other.WorkspaceID = "ws-2"
	if _, err := svc.Create(ctx, other); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	got, err := svc.List(ctx, "ws-1")
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(got) != 1 || got[0].WorkspaceID != "ws-1" {
		t.Errorf("List returned %d configs for ws-1", len(got))
	}
}

func TestMaskToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token string
		want  string
	}{
		{"sk-test-1234", "****1234"},
		{"abcd", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q) = %q; want %q", tt.token, got, tt.want)
		}
	}
}
