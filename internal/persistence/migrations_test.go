package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/config"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_indexes.sql", "001_init.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "001_init.sql" || files[1] != "002_indexes.sql" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestRepoMigrationsPresent(t *testing.T) {
	files, err := migrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected at least one migration in the repository")
	}
}

func TestRunMigrationsWithoutPool(t *testing.T) {
	if err := RunMigrations(context.Background(), nil, "does-not-matter", zap.NewNop()); err != nil {
		t.Fatalf("nil pool should skip: %v", err)
	}
}

func TestNewPostgresRequiresDSN(t *testing.T) {
	if _, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop()); err != ErrNoDSN {
		t.Fatalf("expected ErrNoDSN, got %v", err)
	}
}
