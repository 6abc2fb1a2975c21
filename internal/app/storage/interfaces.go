package storage

import (
	"context"
	"errors"
	"time"

	"github.com/stride-app/backend/internal/app/domain/billing"
	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/streak"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/domain/user"
)

// ErrNotFound is returned by every store when the requested row does not
// exist, regardless of backend.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness rule, such as
// registering an email twice.
var ErrConflict = errors.New("conflict")

// ProfileStore persists user profiles.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p user.Profile) (user.Profile, error)
	UpdateProfile(ctx context.Context, p user.Profile) (user.Profile, error)
	GetProfile(ctx context.Context, id string) (user.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (user.Profile, error)
	ListProfiles(ctx context.Context) ([]user.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
}

// GoalStore persists goals.
type GoalStore interface {
	CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error)
	UpdateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error)
	GetGoal(ctx context.Context, id string) (goal.Goal, error)
	ListGoals(ctx context.Context, userID string, includeArchived bool) ([]goal.Goal, error)
	DeleteGoal(ctx context.Context, id string) error
}

// TaskStore persists tasks and answers the per-day aggregates the streak rule
// is defined over.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context, userID string, from, to time.Time) ([]task.Task, error)
	DeleteTask(ctx context.Context, id string) error

	CountScheduled(ctx context.Context, userID string, day time.Time) (int, error)
	CountDone(ctx context.Context, userID string, day time.Time) (int, error)
	ListUsersScheduledOn(ctx context.Context, day time.Time) ([]string, error)
}

// ChatStore persists chat exchanges. Rows double as the weekly usage records,
// so the quota count and the retention purge operate on this table.
type ChatStore interface {
	CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error)
	ListChats(ctx context.Context, userID string, limit int) ([]chat.Chat, error)
	CountChatsSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteChatsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StreakStore persists per-user streak state.
type StreakStore interface {
	GetStreak(ctx context.Context, userID string) (streak.Streak, error)
	UpsertStreak(ctx context.Context, s streak.Streak) (streak.Streak, error)
}

// SubscriptionStore persists the verified subscription per user.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error)
	GetSubscriptionByUser(ctx context.Context, userID string) (billing.Subscription, error)
	ListSubscriptionsExpiring(ctx context.Context, before time.Time) ([]billing.Subscription, error)
}
