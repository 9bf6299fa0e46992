package sqlite_test

import (
	"database/sql"
	"testing"

	"github.com/planpilot/planpilot/internal/infra/sqlite"
)

func TestMigrate_RunsAllMigrations(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v; want nil", err)
	}

	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM schema_migrations")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("SELECT COUNT(*) FROM schema_migrations error = %v", err)
	}

	if count == 0 {
		t.Error("schema_migrations has 0 rows after MigrateUp; want > 0")
	}
}

// Re-running on an already-migrated DB must be safe.
func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() first run error = %v; want nil", err)
	}

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() second run error = %v; want nil (idempotent)", err)
	}
}

func TestMigrate_TablesCreated(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	for _, table := range []string{"workspace", "user_account", "llm_config", "usage_record"} {
		assertTableExists(t, db, table)
	}
}

// Inserting a config for a non-existent workspace must fail.
func TestMigrate_ForeignKeyConstraintEnforced(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO llm_config (id, workspace_id, name, provider, api_url, api_token, created_at, updated_at)
		VALUES ('cfg-1', 'nonexistent-workspace', 'test', 'openai', 'https://api.openai.com', 'sk-x', datetime('now'), datetime('now'))
	`)

	if err == nil {
		t.Error("INSERT with non-existent workspace_id succeeded; want FK constraint error")
	}
}

// The partial unique index permits at most one default config per workspace.
func TestMigrate_SingleDefaultConfigPerWorkspace(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	mustExec(t, db, `
		INSERT INTO workspace (id, name, slug, created_at, updated_at)
		VALUES ('ws-1', 'Test', 'test', datetime('now'), datetime('now'))
	`)
	mustExec(t, db, `
		INSERT INTO llm_config (id, workspace_id, name, provider, api_url, api_token, is_default, created_at, updated_at)
		VALUES ('cfg-1', 'ws-1', 'a', 'openai', 'https://api.openai.com', 'sk-a', 1, datetime('now'), datetime('now'))
	`)

	_, err := db.Exec(`
		INSERT INTO llm_config (id, workspace_id, name, provider, api_url, api_token, is_default, created_at, updated_at)
		VALUES ('cfg-2', 'ws-1', 'b', 'openai', 'https://api.openai.com', 'sk-b', 1, datetime('now'), datetime('now'))
	`)
	if err == nil {
		t.Error("second default config accepted; want unique index violation")
	}
}

func TestMigrationVersion(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)

	version, err := sqlite.MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion() before migrate error = %v", err)
	}
	if version != 0 {
		t.Errorf("version before migrate = %d; want 0", version)
	}

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	version, err = sqlite.MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion() after migrate error = %v", err)
	}
	if version < 1 {
		t.Errorf("version after migrate = %d; want >= 1", version)
	}
}

// --- helpers ---

func assertTableExists(t *testing.T, db *sql.DB, table string) {
	t.Helper()
	var name string
	row := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
	if err := row.Scan(&name); err != nil {
		t.Errorf("table %q does not exist: %v", table, err)
	}
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v\n%s", err, query)
	}
}
