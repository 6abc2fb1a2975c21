package goals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/pkg/logger"
)

// Service manages long-term goals. Every operation is scoped to the owning
// user; lookups of another user's goal report ErrNotFound rather than
// revealing the goal exists.
type Service struct {
	store storage.GoalStore
	log   *logger.Logger
}

// New constructs a goals service.
func New(store storage.GoalStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("goals")
	}
	return &Service{store: store, log: log}
}

// Create registers a goal for the user.
func (s *Service) Create(ctx context.Context, userID, title, description, category string, targetDate *time.Time) (goal.Goal, error) {
	userID = strings.TrimSpace(userID)
	title = strings.TrimSpace(title)

	if userID == "" {
		return goal.Goal{}, fmt.Errorf("user_id is required")
	}
	if title == "" {
		return goal.Goal{}, fmt.Errorf("title is required")
	}

	g := goal.Goal{
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Category:    strings.TrimSpace(category),
	}
	if targetDate != nil {
		utc := targetDate.UTC()
		g.TargetDate = &utc
	}

	g, err := s.store.CreateGoal(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	s.log.WithField("goal_id", g.ID).
		WithField("user_id", userID).
		Info("goal created")
	return g, nil
}

// Get returns the user's goal by ID.
func (s *Service) Get(ctx context.Context, userID, goalID string) (goal.Goal, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return goal.Goal{}, err
	}
	if g.UserID != userID {
		return goal.Goal{}, fmt.Errorf("goal %s: %w", goalID, storage.ErrNotFound)
	}
	return g, nil
}

// List returns the user's goals, hiding archived ones unless asked.
func (s *Service) List(ctx context.Context, userID string, includeArchived bool) ([]goal.Goal, error) {
	return s.store.ListGoals(ctx, userID, includeArchived)
}

// Update applies the supplied changes. Nil fields are left alone.
func (s *Service) Update(ctx context.Context, userID, goalID string, title, description, category *string, targetDate *time.Time) (goal.Goal, error) {
	g, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return goal.Goal{}, err
	}

	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return goal.Goal{}, fmt.Errorf("title cannot be empty")
		}
		g.Title = trimmed
	}
	if description != nil {
		g.Description = strings.TrimSpace(*description)
	}
	if category != nil {
		g.Category = strings.TrimSpace(*category)
	}
	if targetDate != nil {
		utc := targetDate.UTC()
		g.TargetDate = &utc
	}

	g, err = s.store.UpdateGoal(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	s.log.WithField("goal_id", g.ID).
		WithField("user_id", userID).
		Info("goal updated")
	return g, nil
}

// SetArchived toggles the archived flag.
func (s *Service) SetArchived(ctx context.Context, userID, goalID string, archived bool) (goal.Goal, error) {
	g, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return goal.Goal{}, err
	}
	if g.Archived == archived {
		return g, nil
	}

	g.Archived = archived
	g, err = s.store.UpdateGoal(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	s.log.WithField("goal_id", g.ID).
		WithField("user_id", userID).
		WithField("archived", archived).
		Info("goal archive state changed")
	return g, nil
}

// Delete removes the user's goal. Tasks linked to it keep their history with
// the link cleared by the store.
func (s *Service) Delete(ctx context.Context, userID, goalID string) error {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return err
	}
	if err := s.store.DeleteGoal(ctx, goalID); err != nil {
		return err
	}
	s.log.WithField("goal_id", goalID).
		WithField("user_id", userID).
		Info("goal deleted")
	return nil
}
