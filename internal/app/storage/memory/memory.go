package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stride-app/backend/internal/app/domain/billing"
	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/streak"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	profiles        map[string]user.Profile
	profilesByEmail map[string]string
	goals           map[string]goal.Goal
	tasks           map[string]task.Task
	chats           map[string]chat.Chat
	streaks         map[string]streak.Streak
	subscriptions   map[string]billing.Subscription
}

var _ storage.ProfileStore = (*Store)(nil)
var _ storage.GoalStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)
var _ storage.StreakStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		profiles:        make(map[string]user.Profile),
		profilesByEmail: make(map[string]string),
		goals:           make(map[string]goal.Goal),
		tasks:           make(map[string]task.Task),
		chats:           make(map[string]chat.Chat),
		streaks:         make(map[string]streak.Streak),
		subscriptions:   make(map[string]billing.Subscription),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// ProfileStore implementation -------------------------------------------------

func (s *Store) CreateProfile(_ context.Context, p user.Profile) (user.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.profiles[p.ID]; exists {
		return user.Profile{}, fmt.Errorf("profile %s already exists", p.ID)
	}

	emailKey := strings.ToLower(strings.TrimSpace(p.Email))
	if emailKey == "" {
		return user.Profile{}, fmt.Errorf("profile email required")
	}
	if _, exists := s.profilesByEmail[emailKey]; exists {
		return user.Profile{}, fmt.Errorf("email %s already registered: %w", p.Email, storage.ErrConflict)
	}

	now := time.Now().UTC()
	p.Email = emailKey
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Preferences = cloneMap(p.Preferences)

	s.profiles[p.ID] = p
	s.profilesByEmail[emailKey] = p.ID
	return cloneProfile(p), nil
}

func (s *Store) UpdateProfile(_ context.Context, p user.Profile) (user.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.profiles[p.ID]
	if !ok {
		return user.Profile{}, fmt.Errorf("profile %s: %w", p.ID, storage.ErrNotFound)
	}

	emailKey := strings.ToLower(strings.TrimSpace(p.Email))
	if emailKey != original.Email {
		if existing, exists := s.profilesByEmail[emailKey]; exists && existing != p.ID {
			return user.Profile{}, fmt.Errorf("email %s already registered: %w", p.Email, storage.ErrConflict)
		}
		delete(s.profilesByEmail, original.Email)
		s.profilesByEmail[emailKey] = p.ID
	}

	p.Email = emailKey
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.Preferences = cloneMap(p.Preferences)

	s.profiles[p.ID] = p
	return cloneProfile(p), nil
}

func (s *Store) GetProfile(_ context.Context, id string) (user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return user.Profile{}, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	return cloneProfile(p), nil
}

func (s *Store) GetProfileByEmail(_ context.Context, email string) (user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.profilesByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.Profile{}, fmt.Errorf("profile %s: %w", email, storage.ErrNotFound)
	}
	return cloneProfile(s.profiles[id]), nil
}

func (s *Store) ListProfiles(_ context.Context) ([]user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, cloneProfile(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	delete(s.profilesByEmail, p.Email)
	delete(s.profiles, id)
	return nil
}

// GoalStore implementation ----------------------------------------------------

func (s *Store) CreateGoal(_ context.Context, g goal.Goal) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = s.nextIDLocked()
	} else if _, exists := s.goals[g.ID]; exists {
		return goal.Goal{}, fmt.Errorf("goal %s already exists", g.ID)
	}

	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	g.TargetDate = cloneTimePtr(g.TargetDate)

	s.goals[g.ID] = g
	return cloneGoal(g), nil
}

func (s *Store) UpdateGoal(_ context.Context, g goal.Goal) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.goals[g.ID]
	if !ok {
		return goal.Goal{}, fmt.Errorf("goal %s: %w", g.ID, storage.ErrNotFound)
	}

	g.CreatedAt = original.CreatedAt
	g.UpdatedAt = time.Now().UTC()
	g.TargetDate = cloneTimePtr(g.TargetDate)

	s.goals[g.ID] = g
	return cloneGoal(g), nil
}

func (s *Store) GetGoal(_ context.Context, id string) (goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.goals[id]
	if !ok {
		return goal.Goal{}, fmt.Errorf("goal %s: %w", id, storage.ErrNotFound)
	}
	return cloneGoal(g), nil
}

func (s *Store) ListGoals(_ context.Context, userID string, includeArchived bool) ([]goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]goal.Goal, 0)
	for _, g := range s.goals {
		if userID != "" && g.UserID != userID {
			continue
		}
		if g.Archived && !includeArchived {
			continue
		}
		result = append(result, cloneGoal(g))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteGoal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[id]; !ok {
		return fmt.Errorf("goal %s: %w", id, storage.ErrNotFound)
	}
	delete(s.goals, id)
	return nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}

	now := time.Now().UTC()
	t.ScheduledOn = task.Day(t.ScheduledOn)
	t.CreatedAt = now
	t.UpdatedAt = now
	t.DoneAt = cloneTimePtr(t.DoneAt)

	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (s *Store) UpdateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tasks[t.ID]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", t.ID, storage.ErrNotFound)
	}

	t.ScheduledOn = task.Day(t.ScheduledOn)
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	t.DoneAt = cloneTimePtr(t.DoneAt)

	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return cloneTask(t), nil
}

func (s *Store) ListTasks(_ context.Context, userID string, from, to time.Time) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fromDay, toDay := task.Day(from), task.Day(to)
	result := make([]task.Task, 0)
	for _, t := range s.tasks {
		if userID != "" && t.UserID != userID {
			continue
		}
		if !from.IsZero() && t.ScheduledOn.Before(fromDay) {
			continue
		}
		if !to.IsZero() && t.ScheduledOn.After(toDay) {
			continue
		}
		result = append(result, cloneTask(t))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ScheduledOn.Equal(result[j].ScheduledOn) {
			return result[i].ScheduledOn.Before(result[j].ScheduledOn)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) CountScheduled(_ context.Context, userID string, day time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayKey := task.Day(day)
	count := 0
	for _, t := range s.tasks {
		if t.UserID == userID && t.ScheduledOn.Equal(dayKey) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountDone(_ context.Context, userID string, day time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayKey := task.Day(day)
	count := 0
	for _, t := range s.tasks {
		if t.UserID == userID && t.Done && t.ScheduledOn.Equal(dayKey) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListUsersScheduledOn(_ context.Context, day time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayKey := task.Day(day)
	seen := make(map[string]struct{})
	for _, t := range s.tasks {
		if t.ScheduledOn.Equal(dayKey) {
			seen[t.UserID] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

// ChatStore implementation ----------------------------------------------------

func (s *Store) CreateChat(_ context.Context, c chat.Chat) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.chats[c.ID]; exists {
		return chat.Chat{}, fmt.Errorf("chat %s already exists", c.ID)
	}

	// A caller-supplied timestamp is honoured so usage history can be
	// reconstructed; the quota week is computed from this field.
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.chats[c.ID] = c
	return c, nil
}

func (s *Store) ListChats(_ context.Context, userID string, limit int) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]chat.Chat, 0)
	for _, c := range s.chats {
		if userID == "" || c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountChatsSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.chats {
		if c.UserID == userID && !c.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteChatsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, c := range s.chats {
		if c.CreatedAt.Before(cutoff) {
			delete(s.chats, id)
			removed++
		}
	}
	return removed, nil
}

// StreakStore implementation --------------------------------------------------

func (s *Store) GetStreak(_ context.Context, userID string) (streak.Streak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streaks[userID]
	if !ok {
		return streak.Streak{}, fmt.Errorf("streak for %s: %w", userID, storage.ErrNotFound)
	}
	return cloneStreak(st), nil
}

func (s *Store) UpsertStreak(_ context.Context, st streak.Streak) (streak.Streak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.UserID == "" {
		return streak.Streak{}, fmt.Errorf("streak user id required")
	}
	st.LastCountedDay = cloneTimePtr(st.LastCountedDay)
	st.UpdatedAt = time.Now().UTC()
	s.streaks[st.UserID] = st
	return cloneStreak(st), nil
}

// SubscriptionStore implementation --------------------------------------------

func (s *Store) UpsertSubscription(_ context.Context, sub billing.Subscription) (billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.UserID == "" {
		return billing.Subscription{}, fmt.Errorf("subscription user id required")
	}

	now := time.Now().UTC()
	if existing, ok := s.subscriptions[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		if sub.ID == "" {
			sub.ID = s.nextIDLocked()
		}
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	s.subscriptions[sub.UserID] = sub
	return sub, nil
}

func (s *Store) GetSubscriptionByUser(_ context.Context, userID string) (billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return billing.Subscription{}, fmt.Errorf("subscription for %s: %w", userID, storage.ErrNotFound)
	}
	return sub, nil
}

func (s *Store) ListSubscriptionsExpiring(_ context.Context, before time.Time) ([]billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]billing.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Active && sub.ExpiresAt.Before(before) {
			result = append(result, sub)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

// Clone helpers ----------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneProfile(p user.Profile) user.Profile {
	p.Preferences = cloneMap(p.Preferences)
	return p
}

func cloneGoal(g goal.Goal) goal.Goal {
	g.TargetDate = cloneTimePtr(g.TargetDate)
	return g
}

func cloneTask(t task.Task) task.Task {
	t.DoneAt = cloneTimePtr(t.DoneAt)
	return t
}

func cloneStreak(st streak.Streak) streak.Streak {
	st.LastCountedDay = cloneTimePtr(st.LastCountedDay)
	return st
}
