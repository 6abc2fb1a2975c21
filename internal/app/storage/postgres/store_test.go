package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/domain/user"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)

	ctx := context.Background()
	profile, err := store.CreateProfile(ctx, user.Profile{Email: "it@example.com", DisplayName: "IT", Tier: user.TierFree})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	g, err := store.CreateGoal(ctx, goal.Goal{UserID: profile.ID, Title: "run a 10k"})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	day := task.Day(time.Now())
	if _, err := store.CreateTask(ctx, task.Task{UserID: profile.ID, GoalID: g.ID, Title: "easy run", ScheduledOn: day}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := store.CreateChat(ctx, chat.Chat{UserID: profile.ID, Prompt: "plan my week", Reply: "ok"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestCountChatsSinceQuery(t *testing.T) {
	store, mock := newMockStore(t)

	weekStart := time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM app_chats WHERE user_id = \$1 AND created_at >= \$2`).
		WithArgs("user-1", weekStart).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	count, err := store.CountChatsSince(context.Background(), "user-1", weekStart)
	if err != nil {
		t.Fatalf("count chats: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected 10, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteChatsBeforeQuery(t *testing.T) {
	store, mock := newMockStore(t)

	cutoff := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM app_chats WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := store.DeleteChatsBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("delete chats: %v", err)
	}
	if removed != 7 {
		t.Fatalf("expected 7 removed, got %d", removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountScheduledQuery(t *testing.T) {
	store, mock := newMockStore(t)

	day := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM app_tasks WHERE user_id = \$1 AND scheduled_on = \$2`).
		WithArgs("user-1", day).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountScheduled(context.Background(), "user-1", day.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("count scheduled: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
