package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/storage"
)

func TestChatCountingHonoursCreatedAt(t *testing.T) {
	store := New()
	ctx := context.Background()

	weekStart := time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.CreateChat(ctx, chat.Chat{
			UserID:    "u1",
			Prompt:    "p",
			CreatedAt: weekStart.Add(time.Duration(i) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("create chat: %v", err)
		}
	}
	// One row from the previous week must not count.
	if _, err := store.CreateChat(ctx, chat.Chat{UserID: "u1", Prompt: "old", CreatedAt: weekStart.Add(-time.Hour)}); err != nil {
		t.Fatalf("create old chat: %v", err)
	}

	count, err := store.CountChatsSince(ctx, "u1", weekStart)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 chats since week start, got %d", count)
	}

	// Boundary row at exactly the week start counts.
	if _, err := store.CreateChat(ctx, chat.Chat{UserID: "u1", Prompt: "boundary", CreatedAt: weekStart}); err != nil {
		t.Fatalf("create boundary chat: %v", err)
	}
	count, _ = store.CountChatsSince(ctx, "u1", weekStart)
	if count != 4 {
		t.Fatalf("expected boundary row to count, got %d", count)
	}
}

func TestDeleteChatsBefore(t *testing.T) {
	store := New()
	ctx := context.Background()

	now := time.Now().UTC()
	for _, age := range []time.Duration{0, 24 * time.Hour, 30 * 24 * time.Hour, 60 * 24 * time.Hour} {
		if _, err := store.CreateChat(ctx, chat.Chat{UserID: "u1", Prompt: "p", CreatedAt: now.Add(-age)}); err != nil {
			t.Fatalf("create chat: %v", err)
		}
	}

	removed, err := store.DeleteChatsBefore(ctx, now.Add(-28*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 purged, got %d", removed)
	}

	remaining, _ := store.ListChats(ctx, "u1", 0)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(remaining))
	}
}

func TestTaskDayAggregates(t *testing.T) {
	store := New()
	ctx := context.Background()

	day := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	mk := func(userID string, done bool, at time.Time) {
		t.Helper()
		doneAt := at.Add(18 * time.Hour)
		tk := task.Task{UserID: userID, Title: "t", ScheduledOn: at, Done: done}
		if done {
			tk.DoneAt = &doneAt
		}
		if _, err := store.CreateTask(ctx, tk); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	mk("u1", true, day)
	mk("u1", false, day)
	mk("u1", false, day.AddDate(0, 0, 1))
	mk("u2", false, day)

	scheduled, err := store.CountScheduled(ctx, "u1", day.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("count scheduled: %v", err)
	}
	if scheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %d", scheduled)
	}

	done, err := store.CountDone(ctx, "u1", day)
	if err != nil {
		t.Fatalf("count done: %v", err)
	}
	if done != 1 {
		t.Fatalf("expected 1 done, got %d", done)
	}

	users, err := store.ListUsersScheduledOn(ctx, day)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("unexpected users: %v", users)
	}
}

func TestProfileEmailUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateProfile(ctx, user.Profile{Email: "Dana@Example.com", Tier: user.TierFree}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if _, err := store.CreateProfile(ctx, user.Profile{Email: "dana@example.com", Tier: user.TierFree}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	p, err := store.GetProfileByEmail(ctx, "DANA@example.com")
	if err != nil {
		t.Fatalf("lookup by email: %v", err)
	}
	if p.Email != "dana@example.com" {
		t.Fatalf("expected normalised email, got %q", p.Email)
	}
}

func TestNotFoundSentinel(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetProfile(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetStreak(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetSubscriptionByUser(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
