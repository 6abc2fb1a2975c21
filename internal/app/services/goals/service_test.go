package goals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/internal/app/storage/memory"
)

func TestGoalLifecycle(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	target := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	g, err := svc.Create(ctx, "u1", "Run a marathon", "26.2 miles", "fitness", &target)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.ID == "" || g.Archived {
		t.Fatalf("unexpected goal state: %+v", g)
	}

	title := "Run a half marathon"
	g, err = svc.Update(ctx, "u1", g.ID, &title, nil, nil, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if g.Title != title || g.Description != "26.2 miles" {
		t.Fatalf("partial update wrong: %+v", g)
	}

	g, err = svc.SetArchived(ctx, "u1", g.ID, true)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !g.Archived {
		t.Fatal("expected archived")
	}

	visible, err := svc.List(ctx, "u1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("archived goal should be hidden, got %d", len(visible))
	}
	all, err := svc.List(ctx, "u1", true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 goal, got %d", len(all))
	}

	if err := svc.Delete(ctx, "u1", g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "u1", g.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestGoalOwnership(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	g, err := svc.Create(ctx, "owner", "Learn Spanish", "", "learning", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get(ctx, "intruder", g.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-user get should be not found, got %v", err)
	}
	if _, err := svc.Update(ctx, "intruder", g.ID, nil, nil, nil, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-user update should be not found, got %v", err)
	}
	if err := svc.Delete(ctx, "intruder", g.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-user delete should be not found, got %v", err)
	}

	// Owner still sees it.
	if _, err := svc.Get(ctx, "owner", g.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", "title", "", "", nil); err == nil {
		t.Fatal("expected missing user to fail")
	}
	if _, err := svc.Create(ctx, "u1", "   ", "", "", nil); err == nil {
		t.Fatal("expected blank title to fail")
	}
}
