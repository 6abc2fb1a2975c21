package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/internal/app/services/planner"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/internal/platform/cache"
	"github.com/stride-app/backend/pkg/logger"
)

const (
	// FreeWeeklyLimit is how many chats a free-tier user gets per week.
	FreeWeeklyLimit = 10

	// RetentionWeeks is how long chat history is kept.
	RetentionWeeks = 4

	denyKeyPrefix = "stride:chat:deny:"
)

// ErrQuotaExceeded is returned when a free-tier user has used up the week.
var ErrQuotaExceeded = errors.New("weekly chat limit reached")

// WeekStartUTC returns the Sunday 00:00:00 UTC that starts t's week. Weeks
// run Sunday to Saturday in UTC regardless of the caller's zone.
func WeekStartUTC(t time.Time) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// Service answers chat prompts and enforces the weekly free-tier quota. Each
// exchange is stored as one row; those rows are the usage records the quota
// counts and the retention job purges.
type Service struct {
	chats    storage.ChatStore
	profiles storage.ProfileStore
	goals    storage.GoalStore
	planner  *planner.Service
	cache    *cache.Cache
	model    string
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a chat service. model labels stored replies.
func New(chats storage.ChatStore, profiles storage.ProfileStore, goals storage.GoalStore, plan *planner.Service, model string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	if plan == nil {
		plan = planner.New(nil, log)
	}
	if model == "" {
		model = "static"
	}
	return &Service{
		chats:    chats,
		profiles: profiles,
		goals:    goals,
		planner:  plan,
		model:    model,
		log:      log,
		now:      time.Now,
	}
}

// AttachCache wires an optional deny-marker cache. Without it every quota
// check counts rows, which stays correct, just slower.
func (s *Service) AttachCache(c *cache.Cache) { s.cache = c }

// Quota reports the caller's position against the weekly limit.
func (s *Service) Quota(ctx context.Context, userID string) (chat.Quota, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return chat.Quota{}, err
	}
	return s.quotaFor(ctx, profile, s.now().UTC())
}

func (s *Service) quotaFor(ctx context.Context, profile user.Profile, now time.Time) (chat.Quota, error) {
	weekStart := WeekStartUTC(now)
	q := chat.Quota{
		Limit:     FreeWeeklyLimit,
		Unlimited: profile.Tier.Unlimited(),
		WeekStart: weekStart,
		ResetsAt:  weekStart.AddDate(0, 0, 7),
	}

	if q.Unlimited {
		used, err := s.chats.CountChatsSince(ctx, profile.ID, weekStart)
		if err != nil {
			return chat.Quota{}, err
		}
		q.Used = used
		q.CanCreate = true
		return q, nil
	}

	denyKey := denyKeyPrefix + profile.ID + ":" + weekStart.Format("2006-01-02")
	if _, hit, err := s.cache.Get(ctx, denyKey); err == nil && hit {
		q.Used = FreeWeeklyLimit
		q.CanCreate = false
		return q, nil
	}

	used, err := s.chats.CountChatsSince(ctx, profile.ID, weekStart)
	if err != nil {
		return chat.Quota{}, err
	}
	q.Used = used
	q.CanCreate = used < FreeWeeklyLimit

	if !q.CanCreate {
		// Marker written only after an authoritative count; it expires with
		// the week.
		if err := s.cache.Set(ctx, denyKey, "1", q.ResetsAt.Sub(now)); err != nil {
			s.log.WithError(err).Debug("write quota deny marker")
		}
	}
	return q, nil
}

// Create answers a prompt and records the exchange. A denied quota returns
// ErrQuotaExceeded before anything is sent upstream, and a failed upstream
// call stores nothing, so failures never consume quota.
func (s *Service) Create(ctx context.Context, userID, goalID, prompt string) (chat.Chat, []string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return chat.Chat{}, nil, fmt.Errorf("prompt is required")
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return chat.Chat{}, nil, err
	}

	quota, err := s.quotaFor(ctx, profile, s.now().UTC())
	if err != nil {
		return chat.Chat{}, nil, err
	}
	if !quota.CanCreate {
		metrics.RecordChatRequest("quota_denied")
		s.log.WithField("user_id", userID).
			WithField("used", quota.Used).
			Info("chat denied by weekly quota")
		return chat.Chat{}, nil, ErrQuotaExceeded
	}

	var goalCtx *goal.Goal
	if goalID != "" {
		g, err := s.goals.GetGoal(ctx, goalID)
		if err != nil {
			return chat.Chat{}, nil, err
		}
		if g.UserID != userID {
			return chat.Chat{}, nil, fmt.Errorf("goal %s: %w", goalID, storage.ErrNotFound)
		}
		goalCtx = &g
	}

	reply, tasks, err := s.planner.Plan(ctx, profile, goalCtx, prompt)
	if err != nil {
		metrics.RecordChatRequest("planner_error")
		return chat.Chat{}, nil, fmt.Errorf("plan reply: %w", err)
	}

	created, err := s.chats.CreateChat(ctx, chat.Chat{
		UserID: userID,
		GoalID: goalID,
		Prompt: prompt,
		Reply:  reply,
		Model:  s.model,
	})
	if err != nil {
		return chat.Chat{}, nil, err
	}

	metrics.RecordChatRequest("created")
	s.log.WithField("chat_id", created.ID).
		WithField("user_id", userID).
		WithField("used", quota.Used+1).
		Info("chat created")
	return created, tasks, nil
}

// List returns the user's most recent chats, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]chat.Chat, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.chats.ListChats(ctx, userID, limit)
}

// Purge removes chats older than the retention window and returns how many
// rows went away. The weekly job calls this at the quota boundary.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -7*RetentionWeeks)
	purged, err := s.chats.DeleteChatsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.WithField("purged", purged).
			WithField("cutoff", cutoff.Format(time.RFC3339)).
			Info("chat history purged")
	}
	return purged, nil
}
