package runtime

import (
	"context"
	"testing"

	"github.com/stride-app/backend/internal/config"
)

func TestNewApplicationInMemory(t *testing.T) {
	t.Setenv("STRIDE_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("STRIDE_DB_DSN", "")
	t.Setenv("STRIDE_REDIS_ADDR", "")

	app, err := NewApplication()
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if app.db != nil {
		t.Fatalf("expected no database connection without a DSN")
	}

	profile, err := app.app.Users.Register(context.Background(), "boot@example.com", "correct horse", "Boot")
	if err != nil {
		t.Fatalf("register through wired services: %v", err)
	}
	if profile.Tier != "free" {
		t.Fatalf("expected free tier, got %s", profile.Tier)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestOpenDatabaseRequiresDriver(t *testing.T) {
	if _, err := openDatabase(config.DatabaseConfig{DSN: "postgres://localhost/stride"}); err == nil {
		t.Fatalf("expected error for missing driver")
	}
}
