package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domainchat "github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/services/planner"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/internal/app/storage/memory"
)

func TestWeekStartUTC(t *testing.T) {
	sunday := time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"sunday midnight is its own week start", sunday, sunday},
		{"wednesday", time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC), sunday},
		{"saturday last second", time.Date(2025, time.January, 18, 23, 59, 59, 0, time.UTC), sunday},
		{"next sunday starts a new week", time.Date(2025, time.January, 19, 0, 0, 0, 0, time.UTC), time.Date(2025, time.January, 19, 0, 0, 0, 0, time.UTC)},
		{"zoned input converts to UTC first", time.Date(2025, time.January, 19, 1, 0, 0, 0, time.FixedZone("EET", 2*3600)), sunday},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeekStartUTC(tc.in); !got.Equal(tc.want) {
				t.Fatalf("WeekStartUTC(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func newChatFixture(t *testing.T, tier user.Tier) (*Service, *memory.Store, user.Profile) {
	t.Helper()
	store := memory.New()
	profile, err := store.CreateProfile(context.Background(), user.Profile{
		Email: fmt.Sprintf("%s@example.com", tier),
		Tier:  tier,
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	plan := planner.New(planner.Func(func(context.Context, string, string) (string, error) {
		return "Keep going.", nil
	}), nil)
	svc := New(store, store, store, plan, "test-model", nil)
	return svc, store, profile
}

func seedChats(t *testing.T, store *memory.Store, userID string, times ...time.Time) {
	t.Helper()
	for i, at := range times {
		_, err := store.CreateChat(context.Background(), domainchat.Chat{
			UserID:    userID,
			Prompt:    fmt.Sprintf("prompt %d", i),
			Reply:     "reply",
			CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("seed chat %d: %v", i, err)
		}
	}
}

// Ten chats through the week of Sunday 2025-01-12 lock the free tier out
// until the next Sunday 00:00 UTC.
func TestWeeklyQuotaEndToEnd(t *testing.T) {
	svc, store, profile := newChatFixture(t, user.TierFree)
	ctx := context.Background()

	weekStart := time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, 0, 10)
	for i := 0; i < 10; i++ {
		times = append(times, weekStart.Add(time.Duration(i*16)*time.Hour))
	}
	// First row lands exactly on the boundary and still counts.
	seedChats(t, store, profile.ID, times...)

	svc.now = func() time.Time { return time.Date(2025, time.January, 18, 20, 0, 0, 0, time.UTC) }

	q, err := svc.Quota(ctx, profile.ID)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.CanCreate || q.Used != 10 {
		t.Fatalf("saturday quota = %+v, want used=10 can_create=false", q)
	}
	if !q.WeekStart.Equal(weekStart) {
		t.Fatalf("week start = %v", q.WeekStart)
	}

	if _, _, err := svc.Create(ctx, profile.ID, "", "one more?"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("11th create = %v, want ErrQuotaExceeded", err)
	}

	// Sunday 00:00 UTC starts a fresh week.
	svc.now = func() time.Time { return time.Date(2025, time.January, 19, 0, 0, 0, 0, time.UTC) }

	q, err = svc.Quota(ctx, profile.ID)
	if err != nil {
		t.Fatalf("sunday quota: %v", err)
	}
	if !q.CanCreate || q.Used != 0 {
		t.Fatalf("sunday quota = %+v, want used=0 can_create=true", q)
	}

	created, _, err := svc.Create(ctx, profile.ID, "", "new week")
	if err != nil {
		t.Fatalf("create in new week: %v", err)
	}
	if created.Reply != "Keep going." || created.Model != "test-model" {
		t.Fatalf("created chat = %+v", created)
	}
}

func TestQuotaIgnoresPreviousWeeks(t *testing.T) {
	svc, store, profile := newChatFixture(t, user.TierFree)
	ctx := context.Background()

	prevWeek := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, 0, 10)
	for i := 0; i < 10; i++ {
		times = append(times, prevWeek.Add(time.Duration(i*12)*time.Hour))
	}
	seedChats(t, store, profile.ID, times...)

	svc.now = func() time.Time { return time.Date(2025, time.January, 12, 8, 0, 0, 0, time.UTC) }

	q, err := svc.Quota(ctx, profile.ID)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if !q.CanCreate || q.Used != 0 {
		t.Fatalf("quota = %+v, want a clean slate", q)
	}
}

func TestPremiumBypassesQuota(t *testing.T) {
	svc, store, profile := newChatFixture(t, user.TierPremium)
	ctx := context.Background()

	weekStart := time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, 0, 12)
	for i := 0; i < 12; i++ {
		times = append(times, weekStart.Add(time.Duration(i)*time.Hour))
	}
	seedChats(t, store, profile.ID, times...)

	svc.now = func() time.Time { return time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC) }

	q, err := svc.Quota(ctx, profile.ID)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if !q.CanCreate || !q.Unlimited {
		t.Fatalf("premium quota = %+v", q)
	}
	if q.Used != 12 {
		t.Fatalf("usage still reported for premium, got %d", q.Used)
	}

	if _, _, err := svc.Create(ctx, profile.ID, "", "thirteenth"); err != nil {
		t.Fatalf("premium create: %v", err)
	}
}

func TestFailedPlanConsumesNoQuota(t *testing.T) {
	store := memory.New()
	profile, err := store.CreateProfile(context.Background(), user.Profile{Email: "f@example.com", Tier: user.TierFree})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	boom := errors.New("upstream down")
	failing := planner.New(planner.Func(func(context.Context, string, string) (string, error) {
		return "", boom
	}), nil)
	svc := New(store, store, store, failing, "test-model", nil)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, profile.ID, "", "hello"); !errors.Is(err, boom) {
		t.Fatalf("create = %v, want planner error", err)
	}

	q, err := svc.Quota(ctx, profile.ID)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.Used != 0 {
		t.Fatalf("failed call consumed quota: used = %d", q.Used)
	}
}

func TestCreateChecksGoalOwnership(t *testing.T) {
	svc, store, profile := newChatFixture(t, user.TierFree)
	ctx := context.Background()

	mine, err := store.CreateGoal(ctx, goal.Goal{UserID: profile.ID, Title: "Mine"})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	foreign, err := store.CreateGoal(ctx, goal.Goal{UserID: "someone-else", Title: "Theirs"})
	if err != nil {
		t.Fatalf("create foreign goal: %v", err)
	}

	if _, _, err := svc.Create(ctx, profile.ID, mine.ID, "about my goal"); err != nil {
		t.Fatalf("create with own goal: %v", err)
	}
	if _, _, err := svc.Create(ctx, profile.ID, foreign.ID, "about theirs"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign goal should be not found, got %v", err)
	}
}

func TestCreateRequiresPrompt(t *testing.T) {
	svc, _, profile := newChatFixture(t, user.TierFree)
	if _, _, err := svc.Create(context.Background(), profile.ID, "", "   "); err == nil {
		t.Fatal("expected empty prompt to fail")
	}
}

func TestPurgeDropsChatsPastRetention(t *testing.T) {
	svc, store, profile := newChatFixture(t, user.TierFree)
	ctx := context.Background()

	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	seedChats(t, store, profile.ID,
		now.AddDate(0, 0, -40),
		now.AddDate(0, 0, -29),
		now.AddDate(0, 0, -27),
		now.AddDate(0, 0, -1),
	)

	purged, err := svc.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}

	remaining, err := svc.List(ctx, profile.ID, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
}
